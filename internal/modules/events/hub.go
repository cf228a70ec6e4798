// README: In-process broadcast hub for trip changes. Subscribers get a
// snapshot of current trips first, then live deltas in commit order.
package events

import (
	"context"
	"log"
	"sync"

	"carpool/internal/modules/trip"
	"carpool/internal/types"
)

// subBuffer bounds how far a subscriber may fall behind before it is
// dropped. A dropped subscriber re-subscribes and gets a fresh snapshot.
const subBuffer = 64

// Filter restricts what a subscription receives. Zero values match
// everything.
type Filter struct {
	TripID types.ID
	Status trip.Status
}

func (f Filter) matches(r *trip.Request) bool {
	if f.TripID != "" && r.ID != f.TripID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}

// Subscription is a live feed of trip changes. C is closed when the
// subscription ends, either by Cancel or because the consumer fell too
// far behind.
type Subscription struct {
	C      <-chan *trip.Request
	ch     chan *trip.Request
	filter Filter
	hub    *Hub
	once   sync.Once
}

// Cancel detaches the subscription and closes C. Safe to call more than
// once.
func (s *Subscription) Cancel() {
	s.hub.remove(s)
	s.closeOnce()
}

func (s *Subscription) closeOnce() {
	s.once.Do(func() { close(s.ch) })
}

// SnapshotFunc supplies the current set of trips for new subscribers.
type SnapshotFunc func(ctx context.Context) ([]*trip.Request, error)

// Hub fans committed trip changes out to subscribers.
type Hub struct {
	mu       sync.Mutex
	subs     map[*Subscription]struct{}
	snapshot SnapshotFunc
	closed   bool
}

func NewHub(snapshot SnapshotFunc) *Hub {
	return &Hub{
		subs:     make(map[*Subscription]struct{}),
		snapshot: snapshot,
	}
}

// Subscribe registers a consumer. The snapshot is queued onto the channel
// before any delta, and deltas for a given trip arrive in the order their
// writes committed. Delivery is at least once; consumers must treat an
// already-seen version as a no-op.
func (h *Hub) Subscribe(ctx context.Context, f Filter) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, context.Canceled
	}

	var snap []*trip.Request
	if h.snapshot != nil {
		var err error
		snap, err = h.snapshot(ctx)
		if err != nil {
			return nil, err
		}
	}

	sub := &Subscription{
		ch:     make(chan *trip.Request, subBuffer),
		filter: f,
	}
	sub.C = sub.ch
	sub.hub = h
	for _, r := range snap {
		if !f.matches(r) {
			continue
		}
		select {
		case sub.ch <- r:
		default:
			// Snapshot larger than the buffer; the consumer has not even
			// started reading yet, so reject rather than block.
			return nil, context.DeadlineExceeded
		}
	}
	h.subs[sub] = struct{}{}
	return sub, nil
}

// Publish delivers a committed trip change to every matching subscriber.
// Publishers never block: a subscriber whose buffer is full is dropped.
func (h *Hub) Publish(r *trip.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for sub := range h.subs {
		if !sub.filter.matches(r) {
			continue
		}
		select {
		case sub.ch <- r:
		default:
			log.Printf("[events] dropping slow subscriber trip=%s", r.ID)
			delete(h.subs, sub)
			sub.closeOnce()
		}
	}
}

// Count reports how many subscriptions are active.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close drops every subscriber and rejects future subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		sub.closeOnce()
	}
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, s)
}
