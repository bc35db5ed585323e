package port

import (
	"context"

	"github.com/Wyydra/meshcall/internal/core/domain"
)

type ChannelState int

const (
	ChannelConnected ChannelState = iota
	ChannelDisconnected
)

func (s ChannelState) String() string {
	if s == ChannelConnected {
		return "connected"
	}
	return "disconnected"
}

// ChannelEvent is either an inbound message or a transport lifecycle change.
// Message is nil for lifecycle events.
type ChannelEvent struct {
	Message domain.Message
	State   ChannelState
	Err     error
}

// SignalingChannel is the message bus to the relay.
type SignalingChannel interface {
	// Send queues msg for delivery and returns without waiting for the
	// network. It fails with domain.ErrChannelClosed when the transport is down.
	Send(ctx context.Context, msg domain.Message) error
	// Subscribe returns a FIFO stream of inbound events. The stream outlives
	// reconnects; cancel releases it.
	Subscribe() (events <-chan ChannelEvent, cancel func())
}
