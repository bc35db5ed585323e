package memory

import (
	"context"
	"sync"

	"github.com/Wyydra/meshcall/internal/core/domain"
)

// EventLog is a bounded in-memory port.EventLog. When full, the oldest
// event is dropped.
type EventLog struct {
	mu       sync.Mutex
	events   []domain.RenderEvent
	capacity int
	seq      uint64
}

func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = 512
	}
	return &EventLog{
		events:   make([]domain.RenderEvent, 0, capacity),
		capacity: capacity,
	}
}

func (l *EventLog) Append(ctx context.Context, ev domain.RenderEvent) (domain.RenderEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	ev.Seq = l.seq
	if len(l.events) == l.capacity {
		copy(l.events, l.events[1:])
		l.events = l.events[:len(l.events)-1]
	}
	l.events = append(l.events, ev)
	return ev, nil
}

func (l *EventLog) Since(ctx context.Context, seq uint64) ([]domain.RenderEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []domain.RenderEvent
	for _, ev := range l.events {
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (l *EventLog) Reset(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = l.events[:0]
	return nil
}
