// Package geo contains pure geographic and temporal matching helpers.
package geo

import (
	"math"
	"time"

	"carpool/internal/types"
)

const earthRadiusMeters = 6371000.0

// DefaultWindow is the departure-time window applied when callers do not
// supply one.
const DefaultWindow = 10 * time.Minute

// Distance returns the great-circle distance in meters between two points
// specified in decimal degrees.
func Distance(a, b types.Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusMeters * c
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// WithinRadius reports whether p lies within radiusMeters of center.
func WithinRadius(p, center types.Point, radiusMeters float64) bool {
	return Distance(p, center) <= radiusMeters
}

// WithinTimeWindow reports whether candidate falls within the window around
// target. The boundary is inclusive: a candidate exactly window away matches.
func WithinTimeWindow(candidate, target time.Time, window time.Duration) bool {
	d := candidate.Sub(target)
	if d < 0 {
		d = -d
	}
	return d <= window
}

// SortByDistance performs an insertion sort (fine for small N) on any slice
// where each element exposes a distance via the accessor function.
func SortByDistance[T any](items []T, dist func(T) float64) {
	for i := 1; i < len(items); i++ {
		key := items[i]
		j := i - 1
		for j >= 0 && dist(items[j]) > dist(key) {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = key
	}
}
