package events

import (
	"sync"

	"carpool/internal/modules/trip"
	"carpool/internal/types"
)

// StateView is a consumer-side picture of trips built from a subscription
// feed. Delivery is at least once, so Apply ignores anything not newer
// than what the view already holds. Version decides; UpdatedAt breaks the
// tie for equal versions.
type StateView struct {
	mu    sync.Mutex
	trips map[types.ID]*trip.Request
}

func NewStateView() *StateView {
	return &StateView{trips: make(map[types.ID]*trip.Request)}
}

// Apply merges one snapshot entry or delta. It reports whether the view
// changed; a duplicate or stale delivery returns false.
func (v *StateView) Apply(r *trip.Request) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	cur, ok := v.trips[r.ID]
	if ok {
		if r.Version < cur.Version {
			return false
		}
		if r.Version == cur.Version && !r.UpdatedAt.After(cur.UpdatedAt) {
			return false
		}
	}
	v.trips[r.ID] = r.Clone()
	return true
}

func (v *StateView) Get(id types.ID) (*trip.Request, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	r, ok := v.trips[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

func (v *StateView) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.trips)
}
