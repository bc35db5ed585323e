package ws

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Wyydra/meshcall/internal/core/domain"
	"github.com/Wyydra/meshcall/internal/core/port"
	"github.com/rs/zerolog/log"
)

// Client is a UI connection that receives render events.
type Client interface {
	ID() string
	Send(ev domain.RenderEvent) error
	Close() error
}

// member tracks what a registered client has already seen.
type member struct {
	client  Client
	lastSeq uint64
}

// implements port.RenderSink
type Hub struct {
	self    domain.PeerID
	events  port.EventLog
	now     func() time.Time
	clients map[Client]*member

	broadcast  chan domain.RenderEvent
	register   chan Client
	unregister chan Client
	quit       chan struct{}

	// lagged is set when an event missed the broadcast channel; clients
	// then catch up from the backlog.
	lagged atomic.Bool
}

func NewHub(self domain.PeerID, events port.EventLog) *Hub {
	return &Hub{
		self:       self,
		events:     events,
		now:        time.Now,
		clients:    make(map[Client]*member),
		broadcast:  make(chan domain.RenderEvent, 256),
		register:   make(chan Client),
		unregister: make(chan Client),
		quit:       make(chan struct{}),
	}
}

func (h *Hub) OnParticipantAdded(id domain.PeerID) {
	if id == h.self {
		// A new call starts; late clients should not see the previous one.
		if err := h.events.Reset(context.Background()); err != nil {
			log.Error().Err(err).Msg("Failed to reset render backlog")
		}
	}
	h.publish(domain.RenderEvent{Kind: domain.EventParticipantAdded, Peer: id})
}

func (h *Hub) OnParticipantRemoved(id domain.PeerID) {
	h.publish(domain.RenderEvent{Kind: domain.EventParticipantRemoved, Peer: id})
}

func (h *Hub) OnRemoteStream(id domain.PeerID, stream port.RemoteStream) {
	h.publish(domain.RenderEvent{
		Kind: domain.EventRemoteStream,
		Peer: id,
		Stream: &domain.StreamInfo{
			StreamID: stream.StreamID(),
			TrackID:  stream.TrackID(),
			Kind:     stream.Kind(),
		},
	})
}

func (h *Hub) OnLocalMediaStateChanged(state domain.MediaState) {
	h.publish(domain.RenderEvent{Kind: domain.EventMediaState, Peer: h.self, Media: &state})
}

func (h *Hub) OnSystemNotice(notice domain.Notice) {
	h.publish(domain.RenderEvent{Kind: domain.EventNotice, Notice: &notice})
}

// publish stores ev and queues it for the clients without blocking.
func (h *Hub) publish(ev domain.RenderEvent) {
	ev.At = h.now()
	stored, err := h.events.Append(context.Background(), ev)
	if err != nil {
		log.Error().Err(err).Str("event", string(ev.Kind)).Msg("Failed to store render event")
		return
	}

	select {
	case h.broadcast <- stored:
	default:
		log.Warn().Str("event", string(ev.Kind)).Uint64("seq", stored.Seq).Msg("Broadcast channel full, clients will catch up from backlog")
		h.lagged.Store(true)
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			m := &member{client: client}
			h.clients[client] = m
			log.Info().Str("client_id", client.ID()).Msg("Client registered")
			h.replay(m)

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				log.Info().Str("client_id", client.ID()).Msg("Client unregistered")
			}

		case ev := <-h.broadcast:
			if h.lagged.Swap(false) {
				for _, m := range h.clients {
					h.replay(m)
				}
			}
			for client, m := range h.clients {
				h.deliver(client, m, ev)
			}
		}
	}
}

// replay sends the part of the backlog the client has not seen yet.
func (h *Hub) replay(m *member) {
	backlog, err := h.events.Since(context.Background(), m.lastSeq)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read render backlog")
		return
	}
	for _, ev := range backlog {
		if !h.deliver(m.client, m, ev) {
			return
		}
	}
}

// deliver sends ev unless the client has already seen it. A client that
// fails to receive is dropped.
func (h *Hub) deliver(client Client, m *member, ev domain.RenderEvent) bool {
	if ev.Seq <= m.lastSeq {
		return true
	}
	if err := client.Send(ev); err != nil {
		log.Error().Err(err).Str("client_id", client.ID()).Msg("Error sending event")
		client.Close()
		delete(h.clients, client)
		return false
	}
	m.lastSeq = ev.Seq
	return true
}

func (h *Hub) Register(c Client) {
	select {
	case h.register <- c:
	case <-h.quit:
	}
}

func (h *Hub) Unregister(c Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

func (h *Hub) Stop() {
	close(h.quit)
}
