package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/Wyydra/meshcall/internal/core/domain"
	"github.com/Wyydra/meshcall/internal/core/port"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Config struct {
	URL    string
	Header http.Header

	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	PongWait         time.Duration
	// SendBuffer is the number of encoded messages queued per connection.
	SendBuffer int
	// ReconnectDelay is the pause before redialing. Zero disables reconnects.
	ReconnectDelay time.Duration
	// Metrics counts dropped malformed frames. Nil disables counting.
	Metrics port.CallMetrics
}

func (c *Config) setDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.Metrics == nil {
		c.Metrics = port.NopMetrics{}
	}
}

// implements port.SignalingChannel
type Client struct {
	cfg    Config
	dialer *websocket.Dialer

	mu      sync.Mutex
	send    chan []byte // nil while disconnected
	closed  bool
	closing chan struct{}

	subMu   sync.Mutex
	subs    map[int]*subscriber
	nextSub int
}

func NewClient(cfg Config) *Client {
	cfg.setDefaults()
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		closing: make(chan struct{}),
		subs:    make(map[int]*subscriber),
	}
}

// Close stops accepting messages and lets the writer flush what is queued
// before the connection goes down. Run returns once the session ends.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.closing)
	if c.send != nil {
		close(c.send)
		c.send = nil
	}
	return nil
}

// Send queues msg on the current connection.
func (c *Client) Send(ctx context.Context, msg domain.Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.send == nil {
		return domain.ErrChannelClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		log.Warn().Str("type", string(msg.Type())).Msg("Signaling send buffer full, dropping message")
		return domain.ErrSendBufferFull
	}
}

func (c *Client) Subscribe() (<-chan port.ChannelEvent, func()) {
	s := newSubscriber()

	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = s
	c.subMu.Unlock()

	go s.run()

	var once sync.Once
	return s.out, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
			s.stop()
		})
	}
}

func (c *Client) publish(ev port.ChannelEvent) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, s := range c.subs {
		s.push(ev)
	}
}

// Run keeps a connection to the relay open until ctx is cancelled. Without
// a reconnect delay it returns after the first connection ends.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.session(ctx)
		if ctx.Err() != nil || c.isClosed() {
			return nil
		}
		if c.cfg.ReconnectDelay <= 0 {
			return err
		}

		log.Info().Dur("delay", c.cfg.ReconnectDelay).Msg("Reconnecting to signaling relay")
		select {
		case <-ctx.Done():
			return nil
		case <-c.closing:
			return nil
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// session dials once and serves the connection until it breaks.
func (c *Client) session(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		log.Warn().Err(err).Str("url", c.cfg.URL).Msg("Signaling dial failed")
		c.publish(port.ChannelEvent{State: port.ChannelDisconnected, Err: err})
		return err
	}

	send := make(chan []byte, c.cfg.SendBuffer)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.send = send
	c.mu.Unlock()

	log.Info().Str("url", c.cfg.URL).Msg("Signaling connected")
	c.publish(port.ChannelEvent{State: port.ChannelConnected})

	connCtx, cancel := context.WithCancel(ctx)
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		c.writePump(conn, send)
	}()

	err = c.readPump(conn)
	cancel()

	c.mu.Lock()
	// Close may already have closed the queue to flush it.
	if c.send == send {
		c.send = nil
		close(send)
	}
	closed := c.closed
	c.mu.Unlock()
	<-writeDone

	if ctx.Err() != nil || closed {
		err = nil
	}
	log.Info().Err(err).Msg("Signaling disconnected")
	c.publish(port.ChannelEvent{State: port.ChannelDisconnected, Err: err})
	return err
}

func (c *Client) readPump(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		msg, err := Decode(data)
		if err != nil {
			if errors.Is(err, domain.ErrMalformedMessage) {
				c.cfg.Metrics.MalformedDropped()
				log.Warn().Err(err).Msg("Dropping malformed relay message")
				continue
			}
			return err
		}
		c.publish(port.ChannelEvent{Message: msg})
	}
}

func (c *Client) writePump(conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(c.cfg.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Msg("Failed to write signaling message")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// subscriber delivers events in order without ever blocking the publisher.
type subscriber struct {
	mu     sync.Mutex
	queue  []port.ChannelEvent
	notify chan struct{}
	done   chan struct{}
	out    chan port.ChannelEvent
}

func newSubscriber() *subscriber {
	return &subscriber{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan port.ChannelEvent),
	}
}

func (s *subscriber) push(ev port.ChannelEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	defer close(s.out)
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, ev := range batch {
			select {
			case s.out <- ev:
			case <-s.done:
				return
			}
		}

		select {
		case <-s.notify:
		case <-s.done:
			return
		}
	}
}

func (s *subscriber) stop() {
	close(s.done)
}
