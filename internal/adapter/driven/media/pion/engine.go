package pion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Wyydra/meshcall/internal/core/domain"
	"github.com/Wyydra/meshcall/internal/core/port"
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrUnsupportedTrack = errors.New("track cannot be sent by this engine")

// Track is a local track backed by a pion TrackLocal.
type Track interface {
	port.LocalTrack
	Local() webrtc.TrackLocal
}

type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

type Config struct {
	ICEServers []ICEServer
	// ICE agent timeouts. Zero keeps the pion defaults.
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
	// PLIInterval is how often a keyframe is requested from remote video.
	PLIInterval time.Duration
}

type Option func(*Engine)

// WithCodecs replaces the default codec registration, for example to
// register exactly the codecs a capture pipeline encodes.
func WithCodecs(register func(*webrtc.MediaEngine) error) Option {
	return func(e *Engine) { e.registerCodecs = register }
}

// Engine creates pion peer connections that share one API instance.
type Engine struct {
	cfg            Config
	registerCodecs func(*webrtc.MediaEngine) error
	api            *webrtc.API
}

func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg: cfg,
		registerCodecs: func(m *webrtc.MediaEngine) error {
			return m.RegisterDefaultCodecs()
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.PLIInterval <= 0 {
		e.cfg.PLIInterval = 3 * time.Second
	}

	m := &webrtc.MediaEngine{}
	if err := e.registerCodecs(m); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	if cfg.DisconnectedTimeout > 0 || cfg.FailedTimeout > 0 || cfg.KeepAliveInterval > 0 {
		se.SetICETimeouts(cfg.DisconnectedTimeout, cfg.FailedTimeout, cfg.KeepAliveInterval)
	}

	e.api = webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)
	return e, nil
}

func (e *Engine) configuration() webrtc.Configuration {
	servers := make([]webrtc.ICEServer, 0, len(e.cfg.ICEServers))
	for _, s := range e.cfg.ICEServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return webrtc.Configuration{ICEServers: servers}
}

func (e *Engine) NewConnection(peer domain.PeerID, handlers port.ConnectionHandlers) (port.Connection, error) {
	pc, err := e.api.NewPeerConnection(e.configuration())
	if err != nil {
		return nil, err
	}

	c := &Connection{
		peer:        peer,
		pc:          pc,
		pliInterval: e.cfg.PLIInterval,
		done:        make(chan struct{}),
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if candidate == nil || handlers.OnICECandidate == nil {
			return
		}
		handlers.OnICECandidate(fromICEInit(candidate.ToJSON()))
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug().Str("peer", peer.String()).Str("state", state.String()).Msg("Peer connection state")
		if handlers.OnStateChange != nil {
			handlers.OnStateChange(connectionState(state))
		}
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Debug().
			Str("peer", peer.String()).
			Str("kind", remote.Kind().String()).
			Str("stream", remote.StreamID()).
			Msg("Received remote track")

		go c.drain(remote)
		if remote.Kind() == webrtc.RTPCodecTypeVideo {
			go c.requestKeyframes(remote)
		}
		if handlers.OnRemoteStream != nil {
			handlers.OnRemoteStream(remoteStream{track: remote})
		}
	})

	return c, nil
}

// Connection wraps one pion PeerConnection.
type Connection struct {
	peer        domain.PeerID
	pc          *webrtc.PeerConnection
	pliInterval time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

func (c *Connection) AddTrack(track port.LocalTrack) (port.Sender, error) {
	t, ok := track.(Track)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedTrack, track)
	}
	rtpSender, err := c.pc.AddTrack(t.Local())
	if err != nil {
		return nil, err
	}
	go drainRTCP(rtpSender)
	return &Sender{rtp: rtpSender, track: t}, nil
}

func (c *Connection) AddRecvOnly(kind domain.MediaKind) error {
	_, err := c.pc.AddTransceiverFromKind(codecType(kind), webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	return err
}

func (c *Connection) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return domain.SessionDescription{}, err
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	return fromSessionDescription(offer), nil
}

func (c *Connection) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return domain.SessionDescription{}, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	return fromSessionDescription(answer), nil
}

func (c *Connection) SetLocalDescription(ctx context.Context, desc domain.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.pc.SetLocalDescription(toSessionDescription(desc))
}

func (c *Connection) SetRemoteDescription(ctx context.Context, desc domain.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.pc.SetRemoteDescription(toSessionDescription(desc))
}

func (c *Connection) AddICECandidate(ctx context.Context, candidate domain.ICECandidate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.pc.AddICECandidate(toICEInit(candidate))
}

func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.pc.Close()
	})
	return err
}

// drain consumes remote RTP so the receive buffers never fill up.
func (c *Connection) drain(remote *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := remote.Read(buf); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Str("peer", c.peer.String()).Msg("Remote track read stopped")
			}
			return
		}
	}
}

// requestKeyframes sends a PLI right away and then periodically until the
// connection closes.
func (c *Connection) requestKeyframes(remote *webrtc.TrackRemote) {
	sendPLI := func() error {
		return c.pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(remote.SSRC())},
		})
	}
	if err := sendPLI(); err != nil {
		return
	}

	ticker := time.NewTicker(c.pliInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := sendPLI(); err != nil {
				return
			}
		}
	}
}

// drainRTCP reads RTCP for a sender so interceptors such as NACK keep working.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// Sender is the outbound slot of one local track.
type Sender struct {
	mu    sync.Mutex
	rtp   *webrtc.RTPSender
	track Track
}

func (s *Sender) Track() port.LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *Sender) ReplaceTrack(track port.LocalTrack) error {
	t, ok := track.(Track)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnsupportedTrack, track)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rtp.ReplaceTrack(t.Local()); err != nil {
		return err
	}
	s.track = t
	return nil
}

type remoteStream struct {
	track *webrtc.TrackRemote
}

func (r remoteStream) StreamID() string       { return r.track.StreamID() }
func (r remoteStream) TrackID() string        { return r.track.ID() }
func (r remoteStream) Kind() domain.MediaKind { return mediaKind(r.track.Kind()) }
