// README: Repository contract for trip requests; implemented by the Postgres
// store and the in-memory store.
package trip

import (
	"context"

	"carpool/internal/types"
)

// Mutation is the set of fields a guarded update may change alongside the
// status. Nil fields are left untouched.
type Mutation struct {
	DriverID     *types.ID
	DriverName   *string
	PaymentRef   *string
	SeatsTaken   *int
	AddRider     *types.ID
	CancelReason *string
}

// Filter narrows List results.
type Filter struct {
	Status *Status
}

// Repository is the single system of record for trip requests. All reads and
// writes funnel through it; there is no secondary cache.
type Repository interface {
	Create(ctx context.Context, r *Request) error
	Get(ctx context.Context, id types.ID) (*Request, error)
	// UpdateGuarded applies the status change and mutation iff the stored row
	// still carries the expected prior status and version. It reports false
	// without error when the guard fails (a concurrent writer won).
	UpdateGuarded(ctx context.Context, id types.ID, from Status, version int, to Status, mut Mutation) (bool, error)
	List(ctx context.Context, f Filter) ([]*Request, error)
	AppendEvent(ctx context.Context, e *Event) error
}
