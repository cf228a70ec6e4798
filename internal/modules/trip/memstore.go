// README: In-memory trip repository; used by unit tests and local runs
// without Postgres. Guarded updates take the lock for the whole
// check-and-write, giving the same conditional-write semantics as the SQL
// store.
package trip

import (
	"context"
	"sync"
	"time"

	"carpool/internal/types"
)

type MemoryStore struct {
	mu     sync.Mutex
	trips  map[types.ID]*Request
	events []*Event
	nextEv int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{trips: make(map[types.ID]*Request)}
}

func (m *MemoryStore) Create(ctx context.Context, r *Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trips[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id types.ID) (*Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) UpdateGuarded(ctx context.Context, id types.ID, from Status, version int, to Status, mut Mutation) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.trips[id]
	if !ok || r.Status != from || r.Version != version {
		return false, nil
	}

	r.Status = to
	r.Version++
	r.UpdatedAt = time.Now()
	if mut.DriverID != nil {
		d := *mut.DriverID
		r.DriverID = &d
	}
	if mut.DriverName != nil {
		n := *mut.DriverName
		r.DriverName = &n
	}
	if mut.PaymentRef != nil {
		p := *mut.PaymentRef
		r.PaymentRef = &p
	}
	if mut.SeatsTaken != nil {
		r.SeatsTaken = *mut.SeatsTaken
	}
	if mut.AddRider != nil {
		r.Riders = append(r.Riders, *mut.AddRider)
	}
	if mut.CancelReason != nil {
		c := *mut.CancelReason
		r.CancelReason = &c
	}
	return true, nil
}

func (m *MemoryStore) List(ctx context.Context, f Filter) ([]*Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Request
	for _, r := range m.trips {
		if f.Status != nil && r.Status != *f.Status {
			continue
		}
		out = append(out, r.Clone())
	}
	sortByCreation(out)
	return out, nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, e *Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextEv++
	cp := *e
	cp.ID = m.nextEv
	m.events = append(m.events, &cp)
	return nil
}

// ListEvents mirrors the SQL store's audit query.
func (m *MemoryStore) ListEvents(_ context.Context, tripID types.ID) ([]*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Event
	for _, e := range m.events {
		if e.TripID == tripID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// sortByCreation orders requests by CreatedAt, breaking ties by ID, matching
// the SQL store's ORDER BY.
func sortByCreation(reqs []*Request) {
	for i := 1; i < len(reqs); i++ {
		key := reqs[i]
		j := i - 1
		for j >= 0 && laterCreated(reqs[j], key) {
			reqs[j+1] = reqs[j]
			j--
		}
		reqs[j+1] = key
	}
}

func laterCreated(a, b *Request) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID > b.ID
	}
	return a.CreatedAt.After(b.CreatedAt)
}
