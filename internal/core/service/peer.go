package service

import (
	"context"
	"fmt"

	"github.com/Wyydra/meshcall/internal/core/domain"
	"github.com/Wyydra/meshcall/internal/core/port"
	"github.com/rs/zerolog"
)

type sendFunc func(ctx context.Context, msg domain.Message) error

// PeerLink drives negotiation with one remote participant. It is not safe
// for concurrent use; the call service goroutine owns it.
type PeerLink struct {
	peer   domain.PeerID
	role   domain.Role
	state  domain.NegotiationState
	reason domain.CloseReason

	conn  port.Connection
	video port.Sender

	// Inbound candidates held until a remote description is applied.
	pending   []domain.ICECandidate
	remoteSet bool

	send    sendFunc
	metrics port.CallMetrics
	log     zerolog.Logger
}

func newPeerLink(peer domain.PeerID, role domain.Role, send sendFunc, metrics port.CallMetrics, log zerolog.Logger) *PeerLink {
	return &PeerLink{
		peer:    peer,
		role:    role,
		state:   domain.StateNew,
		send:    send,
		metrics: metrics,
		log:     log.With().Str("peer", peer.String()).Str("role", role.String()).Logger(),
	}
}

func (l *PeerLink) bind(conn port.Connection, video port.Sender) {
	l.conn = conn
	l.video = video
}

func (l *PeerLink) Peer() domain.PeerID             { return l.peer }
func (l *PeerLink) Role() domain.Role               { return l.role }
func (l *PeerLink) State() domain.NegotiationState  { return l.state }
func (l *PeerLink) CloseReason() domain.CloseReason { return l.reason }
func (l *PeerLink) PendingCandidates() int          { return len(l.pending) }
func (l *PeerLink) VideoSender() port.Sender        { return l.video }
func (l *PeerLink) closed() bool                    { return l.state == domain.StateClosed }

// Start sends the initial offer when this side is the caller.
func (l *PeerLink) Start(ctx context.Context) error {
	if l.role != domain.RoleCaller || l.state != domain.StateNew {
		return nil
	}

	offer, err := l.conn.CreateOffer(ctx)
	if l.closed() {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := l.conn.SetLocalDescription(ctx, offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	if l.closed() {
		return nil
	}
	if err := l.send(ctx, domain.Offer{Peer: l.peer, Description: offer}); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}

	l.state = domain.StateOfferSent
	l.log.Debug().Msg("Offer sent")
	return nil
}

// HandleOffer answers a remote offer. The link must still be New.
func (l *PeerLink) HandleOffer(ctx context.Context, offer domain.SessionDescription) error {
	if l.closed() {
		return nil
	}
	if l.state != domain.StateNew {
		l.log.Debug().Str("state", l.state.String()).Msg("Ignoring offer outside of new state")
		return nil
	}

	l.state = domain.StateOfferReceived
	if err := l.applyRemote(ctx, offer); err != nil {
		return err
	}

	answer, err := l.conn.CreateAnswer(ctx)
	if l.closed() {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := l.conn.SetLocalDescription(ctx, answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}
	if l.closed() {
		return nil
	}
	if err := l.send(ctx, domain.Answer{Peer: l.peer, Description: answer}); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}

	l.state = domain.StateStable
	l.metrics.NegotiationCompleted(l.role)
	l.log.Debug().Msg("Answer sent, negotiation stable")
	return nil
}

// HandleAnswer completes an offer we sent. Answers in any other state are
// stale and ignored.
func (l *PeerLink) HandleAnswer(ctx context.Context, answer domain.SessionDescription) error {
	if l.state != domain.StateOfferSent {
		l.log.Debug().Str("state", l.state.String()).Msg("Ignoring stale answer")
		return nil
	}
	if err := l.applyRemote(ctx, answer); err != nil {
		return err
	}
	if l.closed() {
		return nil
	}

	l.state = domain.StateStable
	l.metrics.NegotiationCompleted(l.role)
	l.log.Debug().Msg("Answer applied, negotiation stable")
	return nil
}

// AddRemoteCandidate applies c, or buffers it until a remote description
// exists.
func (l *PeerLink) AddRemoteCandidate(ctx context.Context, c domain.ICECandidate) error {
	if l.closed() {
		return nil
	}
	if !l.remoteSet {
		l.pending = append(l.pending, c)
		l.metrics.CandidatesBuffered(1)
		return nil
	}
	return l.conn.AddICECandidate(ctx, c)
}

// SendLocalCandidate forwards a locally gathered candidate whatever the
// negotiation state.
func (l *PeerLink) SendLocalCandidate(ctx context.Context, c domain.ICECandidate) error {
	if l.closed() {
		return nil
	}
	return l.send(ctx, domain.ICE{Peer: l.peer, Candidate: c})
}

func (l *PeerLink) applyRemote(ctx context.Context, desc domain.SessionDescription) error {
	if err := l.conn.SetRemoteDescription(ctx, desc); err != nil {
		return fmt.Errorf("set remote %s: %w", desc.Type, err)
	}
	l.remoteSet = true

	pending := l.pending
	l.pending = nil
	for _, c := range pending {
		if l.closed() {
			return nil
		}
		if err := l.conn.AddICECandidate(ctx, c); err != nil {
			l.log.Warn().Err(err).Msg("Failed to apply buffered candidate")
		}
	}
	if len(pending) > 0 {
		l.log.Debug().Int("count", len(pending)).Msg("Drained buffered candidates")
	}
	return nil
}

// Close releases the connection. It is idempotent; the first reason wins.
func (l *PeerLink) Close(reason domain.CloseReason) {
	if l.closed() {
		return
	}
	l.state = domain.StateClosed
	l.reason = reason
	l.pending = nil

	if l.conn != nil {
		if err := l.conn.Close(); err != nil {
			l.log.Debug().Err(err).Msg("Error closing connection")
		}
	}
	l.metrics.PeerLinkClosed(reason)
	l.log.Info().Str("reason", reason.String()).Msg("Peer link closed")
}
