// README: Matching candidates, list options, and driver pool records.
package matching

import (
	"time"

	"carpool/internal/modules/trip"
	"carpool/internal/types"
)

// Driver is a member of the location pool. Location is refreshed periodically
// while the driver is online or tracking an active trip.
type Driver struct {
	ID       types.ID
	Name     string
	Contact  string
	Rating   float64
	Position types.Point
	SeenAt   time.Time
}

// Candidate pairs an open trip request with its score for one driver query.
// Candidates are ephemeral and never persisted.
type Candidate struct {
	Request        *trip.Request
	Score          float64
	DistanceMeters float64
}

type SortKey string

const (
	SortByScore     SortKey = "score"
	SortByDeparture SortKey = "departureTime"
	SortByPrice     SortKey = "price"
	SortByDistance  SortKey = "distance"
	SortBySeatCount SortKey = "seatCount"
)

// ListOptions carries the client query parameters for a candidate listing.
type ListOptions struct {
	// RadiusMeters of 0 falls back to the configured default; any value is
	// clamped to [0, max].
	RadiusMeters float64
	// TargetTime is the departure time the driver is searching around; zero
	// means now.
	TargetTime time.Time
	// MaxPricePerSeat of 0 disables the price filter and score component.
	MaxPricePerSeat int64
	SortKey         SortKey
}

const (
	// notifyCount is how many nearby drivers are pushed a new open trip.
	notifyCount = 5
	// listRetries and listBackoff bound the retry loop around transient
	// store failures on the read path. Transition paths never retry.
	listRetries = 3
	listBackoff = 50 * time.Millisecond
)
