package memory

import (
	"context"
	"testing"

	"github.com/Wyydra/meshcall/internal/core/domain"
)

func TestEventLogSequence(t *testing.T) {
	ctx := context.Background()
	l := NewEventLog(8)

	for i := 0; i < 3; i++ {
		ev, err := l.Append(ctx, domain.RenderEvent{Kind: domain.EventParticipantAdded})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if ev.Seq != uint64(i+1) {
			t.Fatalf("seq = %d, want %d", ev.Seq, i+1)
		}
	}

	got, err := l.Since(ctx, 1)
	if err != nil {
		t.Fatalf("Since: %v", err)
	}
	if len(got) != 2 || got[0].Seq != 2 || got[1].Seq != 3 {
		t.Fatalf("Since(1) = %+v", got)
	}
}

func TestEventLogDropsOldest(t *testing.T) {
	ctx := context.Background()
	l := NewEventLog(2)

	for _, peer := range []domain.PeerID{"a", "b", "c"} {
		if _, err := l.Append(ctx, domain.RenderEvent{Kind: domain.EventParticipantAdded, Peer: peer}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, _ := l.Since(ctx, 0)
	if len(got) != 2 || got[0].Peer != "b" || got[1].Peer != "c" {
		t.Fatalf("events = %+v, want b and c", got)
	}
}

func TestEventLogReset(t *testing.T) {
	ctx := context.Background()
	l := NewEventLog(4)
	_, _ = l.Append(ctx, domain.RenderEvent{Kind: domain.EventNotice})

	if err := l.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if got, _ := l.Since(ctx, 0); len(got) != 0 {
		t.Fatalf("events after Reset = %+v", got)
	}

	ev, _ := l.Append(ctx, domain.RenderEvent{Kind: domain.EventNotice})
	if ev.Seq != 2 {
		t.Errorf("seq after Reset = %d, want 2", ev.Seq)
	}
}
