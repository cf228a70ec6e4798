// README: Trip request aggregate and status definitions.
package trip

import (
	"time"

	"carpool/internal/types"
)

type Status string

const (
	StatusNone            Status = "none"
	StatusOpen            Status = "open"
	StatusAccepted        Status = "accepted"
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusPaid            Status = "paid"
	StatusInProgress      Status = "in_progress"
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
)

// Request is the single system-of-record representation of a posted trip.
// All mutation goes through Service; handlers never write fields directly.
type Request struct {
	ID            types.ID
	PassengerID   types.ID
	PassengerName string
	Status        Status
	Origin        types.Place
	Destination   types.Place
	DepartureTime time.Time
	Headcount     int
	SeatsTotal    int
	SeatsTaken    int
	PricePerSeat  types.Money
	// TotalCost = PricePerSeat * Headcount, fixed at creation.
	TotalCost    types.Money
	DriverID     *types.ID
	DriverName   *string
	PaymentRef   *string
	Notes        string
	Riders       []types.ID
	CancelReason *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	// Version increments on every committed write; conditional updates are
	// keyed on it.
	Version int
}

// SeatsFree returns how many offered seats remain unclaimed.
func (r *Request) SeatsFree() int {
	return r.SeatsTotal - r.SeatsTaken
}

// HasRider reports whether the passenger already holds a seat on this trip.
func (r *Request) HasRider(id types.ID) bool {
	for _, rid := range r.Riders {
		if rid == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so stores can hand out snapshots safely.
func (r *Request) Clone() *Request {
	cp := *r
	if r.DriverID != nil {
		d := *r.DriverID
		cp.DriverID = &d
	}
	if r.DriverName != nil {
		n := *r.DriverName
		cp.DriverName = &n
	}
	if r.PaymentRef != nil {
		p := *r.PaymentRef
		cp.PaymentRef = &p
	}
	if r.CancelReason != nil {
		c := *r.CancelReason
		cp.CancelReason = &c
	}
	if r.Riders != nil {
		cp.Riders = append([]types.ID(nil), r.Riders...)
	}
	return &cp
}

type Event struct {
	ID         int64
	TripID     types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  string
	ActorID    *types.ID
	CreatedAt  time.Time
}

// AllowedTransitions represents the trip status flow (diagram) as code.
// Completed and Cancelled are terminal and have no outgoing edges.
var AllowedTransitions = map[Status][]Status{
	StatusOpen:            {StatusAccepted, StatusAwaitingPayment, StatusCancelled},
	StatusAccepted:        {StatusAwaitingPayment, StatusCancelled},
	StatusAwaitingPayment: {StatusPaid, StatusCancelled},
	StatusPaid:            {StatusInProgress, StatusCancelled},
	StatusInProgress:      {StatusCompleted},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status has no outgoing transitions.
func IsTerminal(s Status) bool {
	return len(AllowedTransitions[s]) == 0
}
