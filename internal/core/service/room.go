package service

import (
	"sort"
	"time"

	"github.com/Wyydra/meshcall/internal/core/domain"
)

// Roster is the set of participants in the call, local user included.
// It is owned by the call service goroutine.
type Roster struct {
	members map[domain.PeerID]domain.Participant
	now     func() time.Time
}

func NewRoster(now func() time.Time) *Roster {
	if now == nil {
		now = time.Now
	}
	return &Roster{
		members: make(map[domain.PeerID]domain.Participant),
		now:     now,
	}
}

// Add inserts id and reports whether it was new.
func (r *Roster) Add(id domain.PeerID) bool {
	if _, ok := r.members[id]; ok {
		return false
	}
	r.members[id] = domain.Participant{ID: id, JoinedAt: r.now()}
	return true
}

// Remove deletes id and reports whether it was present.
func (r *Roster) Remove(id domain.PeerID) bool {
	if _, ok := r.members[id]; !ok {
		return false
	}
	delete(r.members, id)
	return true
}

func (r *Roster) Has(id domain.PeerID) bool {
	_, ok := r.members[id]
	return ok
}

func (r *Roster) Len() int {
	return len(r.members)
}

// Clear empties the roster and returns the removed IDs in join order.
func (r *Roster) Clear() []domain.PeerID {
	members := r.Snapshot()
	ids := make([]domain.PeerID, 0, len(members))
	for _, p := range members {
		ids = append(ids, p.ID)
	}
	r.members = make(map[domain.PeerID]domain.Participant)
	return ids
}

// Snapshot returns participants ordered by join time, then identity.
func (r *Roster) Snapshot() []domain.Participant {
	out := make([]domain.Participant, 0, len(r.members))
	for _, p := range r.members {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ID.Less(out[j].ID)
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}
