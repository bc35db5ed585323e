package port

import (
	"context"

	"github.com/Wyydra/meshcall/internal/core/domain"
)

// EventLog keeps the recent render events of the current call so late UI
// clients can catch up.
type EventLog interface {
	// Append stores ev and returns it with its sequence number set.
	Append(ctx context.Context, ev domain.RenderEvent) (domain.RenderEvent, error)
	// Since returns the stored events with a sequence number above seq.
	Since(ctx context.Context, seq uint64) ([]domain.RenderEvent, error)
	// Reset drops every stored event. Sequence numbers keep increasing.
	Reset(ctx context.Context) error
}
