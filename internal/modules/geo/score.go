package geo

import (
	"math"
	"time"
)

// Score weights. The base keeps every in-radius candidate positive so the
// weighted components only reorder, never exclude.
const (
	scoreBase       = 100.0
	weightProximity = 40.0
	weightTime      = 30.0
	weightPrice     = 20.0
	weightSeats     = 10.0

	// timeDecayPerHour is how many points of the time component are lost per
	// hour of difference between candidate departure and the target time.
	timeDecayPerHour = 5.0
)

// ScoreInput describes one candidate trip request.
type ScoreInput struct {
	DistanceMeters float64
	DepartureTime  time.Time
	PricePerSeat   int64
	SeatsTotal     int
	SeatsFree      int
}

// ScoreContext describes the searching driver's constraints.
type ScoreContext struct {
	SearchRadiusMeters float64
	TargetTime         time.Time
	// MaxPricePerSeat of 0 means the caller expressed no price ceiling and
	// the price component is skipped.
	MaxPricePerSeat int64
}

// Score ranks a candidate for a driver. Base 100, plus:
//   - proximity: full weight at zero distance, linear falloff to 0 at the
//     search radius;
//   - time proximity: loses timeDecayPerHour points per hour of departure
//     difference, floored at 0;
//   - price fit: applied only when the price is at or under the caller's
//     ceiling, proportional to how far below the ceiling it sits;
//   - seat availability: proportional to the free-seat ratio.
func Score(in ScoreInput, ctx ScoreContext) float64 {
	s := scoreBase

	if ctx.SearchRadiusMeters > 0 {
		p := 1 - in.DistanceMeters/ctx.SearchRadiusMeters
		if p < 0 {
			p = 0
		}
		s += weightProximity * p
	}

	hours := math.Abs(in.DepartureTime.Sub(ctx.TargetTime).Hours())
	t := weightTime - timeDecayPerHour*hours
	if t < 0 {
		t = 0
	}
	s += t

	if ctx.MaxPricePerSeat > 0 && in.PricePerSeat <= ctx.MaxPricePerSeat {
		s += weightPrice * float64(ctx.MaxPricePerSeat-in.PricePerSeat) / float64(ctx.MaxPricePerSeat)
	}

	if in.SeatsTotal > 0 {
		s += weightSeats * float64(in.SeatsFree) / float64(in.SeatsTotal)
	}

	return s
}
