package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Wyydra/meshcall/internal/core/domain"
	"github.com/Wyydra/meshcall/internal/core/port"
	"github.com/rs/zerolog"
)

type Option func(*CallService)

func WithMetrics(m port.CallMetrics) Option {
	return func(s *CallService) { s.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *CallService) { s.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *CallService) { s.now = now }
}

// CallService coordinates one mesh call for the local participant. It owns
// the roster, one PeerLink per remote participant and the local media.
//
// All state is confined to the goroutine running Run. Commands, inbound
// signaling and media engine callbacks are queued to that goroutine and
// handled one at a time.
type CallService struct {
	self    domain.PeerID
	channel port.SignalingChannel
	engine  port.MediaEngine
	sink    port.RenderSink
	metrics port.CallMetrics
	log     zerolog.Logger
	now     func() time.Time

	inbox *mailbox
	done  chan struct{}

	status domain.CallStatus
	roster *Roster
	peers  map[domain.PeerID]*PeerLink
	media  *MediaController
	// epoch changes on every join and leave; off-loop results carrying an
	// older epoch are discarded.
	epoch        uint64
	joinedRoom   bool
	sharePending bool
}

func NewCallService(self domain.PeerID, channel port.SignalingChannel, engine port.MediaEngine, capturer port.MediaCapturer, sink port.RenderSink, opts ...Option) *CallService {
	s := &CallService{
		self:    self,
		channel: channel,
		engine:  engine,
		sink:    sink,
		metrics: port.NopMetrics{},
		log:     zerolog.Nop(),
		now:     time.Now,
		inbox:   newMailbox(),
		done:    make(chan struct{}),
		peers:   make(map[domain.PeerID]*PeerLink),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("self", self.String()).Logger()
	s.roster = NewRoster(s.now)
	s.media = NewMediaController(capturer, s.metrics, s.log)
	return s
}

// Run processes events until ctx is cancelled, then leaves the call.
func (s *CallService) Run(ctx context.Context) error {
	events, cancel := s.channel.Subscribe()
	defer cancel()
	defer close(s.done)

	go s.pump(ctx, events)

	s.log.Info().Msg("Call service started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Stopping call service")
			if err := s.leave(context.Background()); err != nil {
				s.log.Warn().Err(err).Msg("Leave on shutdown failed")
			}
			return nil

		case <-s.inbox.notify:
			for _, j := range s.inbox.drain() {
				j(ctx)
			}
		}
	}
}

func (s *CallService) pump(ctx context.Context, events <-chan port.ChannelEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.inbox.push(func(ctx context.Context) { s.handleEvent(ctx, ev) })
		}
	}
}

// do runs fn on the service goroutine and waits for its result.
func (s *CallService) do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := ask(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

type result[T any] struct {
	value T
	err   error
}

// ask runs fn on the service goroutine and returns its value.
func ask[T any](ctx context.Context, s *CallService, fn func(ctx context.Context) (T, error)) (T, error) {
	reply := make(chan result[T], 1)
	s.inbox.push(func(loopCtx context.Context) {
		v, err := fn(loopCtx)
		reply <- result[T]{value: v, err: err}
	})

	select {
	case r := <-reply:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case <-s.done:
		var zero T
		return zero, domain.ErrStopped
	}
}

func (s *CallService) wait(ctx context.Context, reply <-chan error) error {
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return domain.ErrStopped
	}
}

func (s *CallService) send(ctx context.Context, msg domain.Message) error {
	if err := s.channel.Send(ctx, msg); err != nil {
		return err
	}
	s.metrics.SignalSent(msg.Type())
	return nil
}

// Join acquires local media and enters the call. It returns once the
// join_room message has been queued; the roster fills in asynchronously.
func (s *CallService) Join(ctx context.Context) error {
	reply := make(chan error, 1)
	s.inbox.push(func(loopCtx context.Context) { s.beginJoin(loopCtx, reply) })
	return s.wait(ctx, reply)
}

func (s *CallService) beginJoin(ctx context.Context, reply chan<- error) {
	if s.status != domain.StatusIdle {
		reply <- domain.ErrCallInProgress
		return
	}
	s.status = domain.StatusJoining
	s.epoch++
	epoch := s.epoch
	s.log.Info().Msg("Joining call")

	go func() {
		stream, err := s.media.Acquire(ctx)
		select {
		case <-s.done:
			releaseStream(stream)
			return
		default:
		}
		s.inbox.push(func(ctx context.Context) { s.finishJoin(ctx, epoch, stream, err, reply) })
	}()
}

func (s *CallService) finishJoin(ctx context.Context, epoch uint64, stream port.LocalStream, err error, reply chan<- error) {
	if epoch != s.epoch || s.status != domain.StatusJoining {
		releaseStream(stream)
		reply <- domain.ErrJoinCancelled
		return
	}
	if err != nil {
		s.status = domain.StatusIdle
		s.log.Warn().Err(err).Msg("Could not acquire local media")
		if isMediaFailure(err) {
			s.sink.OnSystemNotice(domain.Notice{Level: domain.NoticeWarning, Text: "Camera or microphone unavailable, check permissions"})
		}
		reply <- err
		return
	}

	state := s.media.Install(stream)
	if err := s.send(ctx, domain.JoinRoom{}); err != nil {
		s.media.StopAll()
		s.media.Reset()
		s.status = domain.StatusIdle
		s.log.Error().Err(err).Msg("Failed to send join_room")
		reply <- fmt.Errorf("join room: %w", err)
		return
	}

	s.joinedRoom = true
	s.status = domain.StatusInCall
	s.roster.Add(s.self)
	s.sink.OnParticipantAdded(s.self)
	s.sink.OnLocalMediaStateChanged(state)
	s.log.Info().Msg("Joined call")
	reply <- nil
}

// Leave tears the call down. It is safe in any state and idempotent.
func (s *CallService) Leave(ctx context.Context) error {
	return s.do(ctx, s.leave)
}

func (s *CallService) leave(ctx context.Context) error {
	if s.status == domain.StatusIdle {
		return nil
	}
	s.log.Info().Str("from", s.status.String()).Msg("Leaving call")
	s.status = domain.StatusLeaving
	s.epoch++
	s.sharePending = false

	for _, id := range s.sortedPeers() {
		s.peers[id].Close(domain.ReasonLocalLeave)
		delete(s.peers, id)
	}
	s.media.StopAll()
	for _, id := range s.roster.Clear() {
		s.sink.OnParticipantRemoved(id)
	}

	var err error
	if s.joinedRoom {
		s.joinedRoom = false
		if err = s.send(ctx, domain.LeaveRoom{}); err != nil {
			s.log.Warn().Err(err).Msg("Failed to send leave_room")
			err = fmt.Errorf("leave room: %w", err)
		}
	}

	state := s.media.Reset()
	s.status = domain.StatusIdle
	s.sink.OnLocalMediaStateChanged(state)
	return err
}

func (s *CallService) ToggleMic(ctx context.Context) (domain.MediaState, error) {
	return s.toggle(ctx, (*MediaController).ToggleMic)
}

func (s *CallService) ToggleCam(ctx context.Context) (domain.MediaState, error) {
	return s.toggle(ctx, (*MediaController).ToggleCam)
}

func (s *CallService) toggle(ctx context.Context, flip func(*MediaController) domain.MediaState) (domain.MediaState, error) {
	return ask(ctx, s, func(ctx context.Context) (domain.MediaState, error) {
		if s.status != domain.StatusInCall {
			return domain.MediaState{}, domain.ErrNotInCall
		}
		state := flip(s.media)
		s.sink.OnLocalMediaStateChanged(state)
		return state, nil
	})
}

// ShareScreen replaces the outbound video of every peer with a screen
// capture. The camera comes back when the capture ends.
func (s *CallService) ShareScreen(ctx context.Context) error {
	reply := make(chan error, 1)
	s.inbox.push(func(loopCtx context.Context) { s.beginShare(loopCtx, reply) })
	return s.wait(ctx, reply)
}

func (s *CallService) beginShare(ctx context.Context, reply chan<- error) {
	switch {
	case s.status != domain.StatusInCall:
		reply <- domain.ErrNotInCall
		return
	case s.media.Sharing():
		reply <- nil
		return
	case s.sharePending:
		reply <- domain.ErrSharePending
		return
	case !s.media.HasCameraVideo():
		reply <- domain.ErrNoVideoTrack
		return
	}
	s.sharePending = true
	epoch := s.epoch

	go func() {
		track, err := s.media.AcquireDisplay(ctx)
		select {
		case <-s.done:
			if track != nil {
				track.Stop()
			}
			return
		default:
		}
		s.inbox.push(func(ctx context.Context) { s.finishShare(ctx, epoch, track, err, reply) })
	}()
}

func (s *CallService) finishShare(ctx context.Context, epoch uint64, track port.LocalTrack, err error, reply chan<- error) {
	if epoch != s.epoch || s.status != domain.StatusInCall {
		if track != nil {
			track.Stop()
		}
		reply <- domain.ErrNotInCall
		return
	}
	s.sharePending = false
	if err != nil {
		s.log.Warn().Err(err).Msg("Screen capture unavailable")
		s.sink.OnSystemNotice(domain.Notice{Level: domain.NoticeWarning, Text: "Screen sharing could not start"})
		reply <- err
		return
	}

	id, failed := s.media.BeginShare(track, s.videoSlots())
	s.failPeers(failed)
	track.OnEnded(func() {
		s.inbox.push(func(ctx context.Context) { s.endShare(ctx, id) })
	})
	s.sink.OnLocalMediaStateChanged(s.media.State())
	reply <- nil
}

// StopScreenShare ends the running screen share, if any.
func (s *CallService) StopScreenShare(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) error {
		if s.media.Sharing() {
			s.endShare(ctx, s.media.ShareID())
		}
		return nil
	})
}

func (s *CallService) endShare(ctx context.Context, id uint64) {
	restored, failed := s.media.EndShare(id, s.videoSlots())
	if !restored {
		return
	}
	s.failPeers(failed)
	s.sink.OnLocalMediaStateChanged(s.media.State())
}

func (s *CallService) videoSlots() []videoSlot {
	slots := make([]videoSlot, 0, len(s.peers))
	for _, id := range s.sortedPeers() {
		if sender := s.peers[id].VideoSender(); sender != nil {
			slots = append(slots, videoSlot{peer: id, sender: sender})
		}
	}
	return slots
}

// HandleMessage processes one inbound signaling message and returns once it
// has been handled.
func (s *CallService) HandleMessage(ctx context.Context, msg domain.Message) error {
	return s.do(ctx, func(ctx context.Context) error {
		s.dispatch(ctx, msg)
		return nil
	})
}

func (s *CallService) handleEvent(ctx context.Context, ev port.ChannelEvent) {
	if ev.Message != nil {
		s.dispatch(ctx, ev.Message)
		return
	}

	switch ev.State {
	case port.ChannelConnected:
		s.log.Info().Msg("Signaling connected")
	case port.ChannelDisconnected:
		s.log.Warn().Err(ev.Err).Msg("Signaling disconnected")
		if s.status == domain.StatusInCall {
			s.sink.OnSystemNotice(domain.Notice{
				Level: domain.NoticeError,
				Text:  "Connection to the server was lost. Leave and rejoin the call to recover.",
			})
		}
	}
}

func (s *CallService) dispatch(ctx context.Context, msg domain.Message) {
	s.metrics.SignalReceived(msg.Type())

	switch m := msg.(type) {
	case domain.RoomUsers:
		s.onRoomUsers(ctx, m)
	case domain.UserJoined:
		s.onUserJoined(ctx, m)
	case domain.UserLeft:
		s.removePeer(m.Username, domain.ReasonPeerLeft)
	case domain.Offer:
		s.onOffer(ctx, m)
	case domain.Answer:
		s.onAnswer(ctx, m)
	case domain.ICE:
		s.onICE(ctx, m)
	case domain.JoinRoom, domain.LeaveRoom:
		s.log.Debug().Str("type", string(msg.Type())).Msg("Ignoring outbound-only message")
	default:
		s.log.Warn().Str("type", string(msg.Type())).Msg("Unhandled message type")
	}
}

func (s *CallService) onRoomUsers(ctx context.Context, m domain.RoomUsers) {
	if s.status != domain.StatusInCall {
		s.log.Debug().Msg("Ignoring room_users outside of a call")
		return
	}
	for _, id := range m.Users {
		if id == "" || id == s.self {
			continue
		}
		if s.roster.Add(id) {
			s.sink.OnParticipantAdded(id)
		}
		if _, ok := s.peers[id]; ok {
			continue
		}
		role := domain.RoleFor(s.self, id, domain.DiscoveredInSnapshot)
		if link, err := s.openLink(ctx, id, role); err != nil {
			s.failPeer(id, link, err)
		}
	}
}

func (s *CallService) onUserJoined(ctx context.Context, m domain.UserJoined) {
	id := m.Username
	if s.status != domain.StatusInCall || id == "" || id == s.self {
		return
	}
	if s.roster.Add(id) {
		s.sink.OnParticipantAdded(id)
	}
	if _, ok := s.peers[id]; ok {
		return
	}
	// The newcomer offers; this link only waits for that offer.
	role := domain.RoleFor(s.self, id, domain.DiscoveredOnJoin)
	if link, err := s.openLink(ctx, id, role); err != nil {
		s.failPeer(id, link, err)
	}
}

func (s *CallService) onOffer(ctx context.Context, m domain.Offer) {
	from := m.Peer
	if s.status != domain.StatusInCall || from == "" || from == s.self {
		s.metrics.StaleSignalDropped(m.Type())
		s.log.Debug().Str("from", from.String()).Msg("Dropping offer outside of a call")
		return
	}

	link, ok := s.peers[from]
	if ok {
		switch {
		case link.State() == domain.StateOfferSent && domain.KeepsOfferInGlare(s.self, from):
			s.log.Info().Str("peer", from.String()).Msg("Offer glare, keeping local offer")
			return
		case link.State() != domain.StateNew:
			s.log.Info().Str("peer", from.String()).Str("state", link.State().String()).Msg("Restarting negotiation on remote offer")
			link.Close(domain.ReasonReplaced)
			delete(s.peers, from)
			ok = false
		}
	}

	if s.roster.Add(from) {
		s.sink.OnParticipantAdded(from)
	}
	if !ok {
		var err error
		link, err = s.openLink(ctx, from, domain.RoleFor(s.self, from, domain.DiscoveredByOffer))
		if err != nil {
			s.failPeer(from, link, err)
			return
		}
	}
	if err := link.HandleOffer(ctx, m.Description); err != nil {
		s.failPeer(from, link, err)
	}
}

func (s *CallService) onAnswer(ctx context.Context, m domain.Answer) {
	link, ok := s.peers[m.Peer]
	if !ok {
		s.metrics.StaleSignalDropped(m.Type())
		s.log.Debug().Str("from", m.Peer.String()).Msg("Dropping answer for unknown peer")
		return
	}
	if err := link.HandleAnswer(ctx, m.Description); err != nil {
		s.failPeer(m.Peer, link, err)
	}
}

func (s *CallService) onICE(ctx context.Context, m domain.ICE) {
	link, ok := s.peers[m.Peer]
	if !ok {
		s.metrics.StaleSignalDropped(m.Type())
		s.log.Debug().Str("from", m.Peer.String()).Msg("Dropping candidate for unknown peer")
		return
	}
	if err := link.AddRemoteCandidate(ctx, m.Candidate); err != nil {
		s.log.Warn().Err(err).Str("peer", m.Peer.String()).Msg("Failed to add ICE candidate")
	}
}

// openLink creates a peer link with local media attached and starts it. On
// error the returned link, if any, still needs to be failed.
func (s *CallService) openLink(ctx context.Context, peer domain.PeerID, role domain.Role) (*PeerLink, error) {
	link := newPeerLink(peer, role, s.send, s.metrics, s.log)

	conn, err := s.engine.NewConnection(peer, port.ConnectionHandlers{
		OnICECandidate: func(c domain.ICECandidate) {
			s.inbox.push(func(ctx context.Context) { s.onLocalCandidate(ctx, link, c) })
		},
		OnRemoteStream: func(rs port.RemoteStream) {
			s.inbox.push(func(ctx context.Context) { s.onRemoteStream(link, rs) })
		},
		OnStateChange: func(state domain.ConnectionState) {
			s.inbox.push(func(ctx context.Context) { s.onConnectionState(link, state) })
		},
	})
	if err != nil {
		return nil, fmt.Errorf("new connection: %w", err)
	}

	// Counted before attaching so a failed attach still closes a counted link.
	s.metrics.PeerLinkOpened(role)
	video, err := s.media.Attach(conn)
	link.bind(conn, video)
	if err != nil {
		link.Close(domain.ReasonFailed)
		return nil, err
	}

	s.peers[peer] = link
	s.log.Info().Str("peer", peer.String()).Str("role", role.String()).Msg("Peer link opened")

	if err := link.Start(ctx); err != nil {
		return link, err
	}
	return link, nil
}

// current reports whether link is still the live link for its peer.
func (s *CallService) current(link *PeerLink) bool {
	return s.peers[link.Peer()] == link && link.State() != domain.StateClosed
}

func (s *CallService) onLocalCandidate(ctx context.Context, link *PeerLink, c domain.ICECandidate) {
	if !s.current(link) {
		return
	}
	if err := link.SendLocalCandidate(ctx, c); err != nil {
		s.log.Warn().Err(err).Str("peer", link.Peer().String()).Msg("Failed to send ICE candidate")
	}
}

func (s *CallService) onRemoteStream(link *PeerLink, rs port.RemoteStream) {
	if !s.current(link) {
		return
	}
	s.log.Info().Str("peer", link.Peer().String()).Str("kind", string(rs.Kind())).Msg("Remote track received")
	s.sink.OnRemoteStream(link.Peer(), rs)
}

func (s *CallService) onConnectionState(link *PeerLink, state domain.ConnectionState) {
	if !s.current(link) {
		return
	}
	s.log.Debug().Str("peer", link.Peer().String()).Str("state", state.String()).Msg("Connection state changed")
	if state.Terminal() {
		s.failPeer(link.Peer(), link, fmt.Errorf("connection %s", state))
	}
}

// failPeer handles a terminal failure of one peer exactly like user_left.
func (s *CallService) failPeer(id domain.PeerID, link *PeerLink, err error) {
	s.log.Warn().Err(err).Str("peer", id.String()).Msg("Peer connection failed")
	if link != nil && s.peers[id] != link {
		link.Close(domain.ReasonFailed)
		return
	}
	s.removePeer(id, domain.ReasonFailed)
}

func (s *CallService) failPeers(ids []domain.PeerID) {
	for _, id := range ids {
		s.failPeer(id, s.peers[id], fmt.Errorf("video track replacement failed"))
	}
}

func (s *CallService) removePeer(id domain.PeerID, reason domain.CloseReason) {
	if link, ok := s.peers[id]; ok {
		link.Close(reason)
		delete(s.peers, id)
	}
	if id != s.self && s.roster.Remove(id) {
		s.sink.OnParticipantRemoved(id)
	}
}

func (s *CallService) sortedPeers() []domain.PeerID {
	ids := make([]domain.PeerID, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}

type PeerSnapshot struct {
	ID                domain.PeerID           `json:"id"`
	Role              domain.Role             `json:"role"`
	State             domain.NegotiationState `json:"state"`
	PendingCandidates int                     `json:"pending_candidates"`
}

type Snapshot struct {
	Self    domain.PeerID        `json:"self"`
	Status  domain.CallStatus    `json:"status"`
	Roster  []domain.Participant `json:"roster"`
	Peers   []PeerSnapshot       `json:"peers"`
	Media   domain.MediaState    `json:"media"`
	Sharing bool                 `json:"sharing"`
}

// Snapshot returns a consistent view of the call.
func (s *CallService) Snapshot(ctx context.Context) (Snapshot, error) {
	return ask(ctx, s, func(ctx context.Context) (Snapshot, error) {
		snap := Snapshot{
			Self:    s.self,
			Status:  s.status,
			Roster:  s.roster.Snapshot(),
			Peers:   make([]PeerSnapshot, 0, len(s.peers)),
			Media:   s.media.State(),
			Sharing: s.media.Sharing(),
		}
		for _, id := range s.sortedPeers() {
			link := s.peers[id]
			snap.Peers = append(snap.Peers, PeerSnapshot{
				ID:                id,
				Role:              link.Role(),
				State:             link.State(),
				PendingCandidates: link.PendingCandidates(),
			})
		}
		return snap, nil
	})
}
