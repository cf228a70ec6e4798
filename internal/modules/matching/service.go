// README: Matching service combines the geo scoring functions with the trip
// repository into ranked, filtered candidate lists, and dispatches new open
// trips to nearby drivers.
package matching

import (
	"context"
	"log"
	"strings"
	"time"

	"carpool/internal/config"
	"carpool/internal/modules/geo"
	"carpool/internal/modules/trip"
	"carpool/internal/types"
)

// TripLister is the read side of the trip repository.
type TripLister interface {
	List(ctx context.Context, f trip.Filter) ([]*trip.Request, error)
}

// DriverStore is the driver location pool (Redis GEO in production).
type DriverStore interface {
	UpsertLocation(ctx context.Context, d Driver) error
	RemoveDriver(ctx context.Context, id types.ID) error
	NearbyDrivers(ctx context.Context, p types.Point, radiusMeters float64) ([]types.ID, error)
	RecordDispatch(ctx context.Context, tripID types.ID, driverIDs []types.ID) error
	GetDispatchedAt(ctx context.Context, tripID types.ID) (time.Time, bool, error)
}

type Service struct {
	trips    TripLister
	drivers  DriverStore
	notifier trip.Notifier
	cfg      config.MatchingConfig
}

func NewService(trips TripLister, drivers DriverStore, cfg config.MatchingConfig) *Service {
	return &Service{trips: trips, drivers: drivers, cfg: cfg}
}

// SetNotifier installs the push sink used when dispatching new trips.
func (s *Service) SetNotifier(n trip.Notifier) { s.notifier = n }

// ListOpenRequests returns open trips within the (clamped) radius of the
// driver's location, ranked by the requested sort key. Requests outside the
// radius are excluded, not merely down-ranked. Requests above the caller's
// price ceiling still appear; the ceiling only shapes the price score
// component.
func (s *Service) ListOpenRequests(ctx context.Context, driverLoc types.Point, opts ListOptions) ([]Candidate, error) {
	radius := s.clampRadius(opts.RadiusMeters)
	target := opts.TargetTime
	if target.IsZero() {
		target = time.Now()
	}

	open, err := s.listOpenWithRetry(ctx)
	if err != nil {
		return nil, err
	}

	scoreCtx := geo.ScoreContext{
		SearchRadiusMeters: radius,
		TargetTime:         target,
		MaxPricePerSeat:    opts.MaxPricePerSeat,
	}

	var out []Candidate
	for _, r := range open {
		d := geo.Distance(driverLoc, r.Origin.Point)
		if d > radius {
			continue
		}
		out = append(out, Candidate{
			Request:        r,
			DistanceMeters: d,
			Score: geo.Score(geo.ScoreInput{
				DistanceMeters: d,
				DepartureTime:  r.DepartureTime,
				PricePerSeat:   r.PricePerSeat.Amount,
				SeatsTotal:     r.SeatsTotal,
				SeatsFree:      r.SeatsFree(),
			}, scoreCtx),
		})
	}

	sortCandidates(out, opts.SortKey)
	return out, nil
}

// FilterByDepartureWindow keeps requests whose departure falls within the
// inclusive window around target. A zero window uses the configured default.
func (s *Service) FilterByDepartureWindow(reqs []Candidate, target time.Time, window time.Duration) []Candidate {
	if window == 0 {
		window = time.Duration(s.cfg.WindowMinutes) * time.Minute
	}
	out := make([]Candidate, 0, len(reqs))
	for _, c := range reqs {
		if geo.WithinTimeWindow(c.Request.DepartureTime, target, window) {
			out = append(out, c)
		}
	}
	return out
}

// Search returns open requests matching the keyword case-insensitively in
// origin, destination, passenger name, or notes. It is a derived view and
// does not reorder or mutate the ranked state.
func (s *Service) Search(ctx context.Context, keyword string) ([]*trip.Request, error) {
	open, err := s.listOpenWithRetry(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(keyword)
	var out []*trip.Request
	for _, r := range open {
		if matchesKeyword(r, needle) {
			out = append(out, r)
		}
	}
	return out, nil
}

func matchesKeyword(r *trip.Request, needle string) bool {
	for _, hay := range []string{r.Origin.Name, r.Destination.Name, r.PassengerName, r.Notes} {
		if strings.Contains(strings.ToLower(hay), needle) {
			return true
		}
	}
	return false
}

// DispatchNewTrip notifies the closest drivers about a freshly opened trip.
// Dispatch happens at most once per trip.
func (s *Service) DispatchNewTrip(ctx context.Context, r *trip.Request) error {
	if _, dispatched, err := s.drivers.GetDispatchedAt(ctx, r.ID); err != nil {
		return err
	} else if dispatched {
		return nil
	}

	ids, err := s.drivers.NearbyDrivers(ctx, r.Origin.Point, s.cfg.DefaultRadiusMeters)
	if err != nil {
		return err
	}
	if len(ids) > notifyCount {
		ids = ids[:notifyCount]
	}

	if s.notifier != nil {
		summary := r.Origin.Name + " -> " + r.Destination.Name
		for _, d := range ids {
			if err := s.notifier.NotifyTransition(ctx, d, "trip_posted", r.ID, summary); err != nil {
				log.Printf("[matching] notify driver %s failed trip=%s: %v", d, r.ID, err)
			}
		}
	}

	return s.drivers.RecordDispatch(ctx, r.ID, ids)
}

// UpsertDriverLocation refreshes a driver's position in the pool.
func (s *Service) UpsertDriverLocation(ctx context.Context, d Driver) error {
	d.SeenAt = time.Now()
	return s.drivers.UpsertLocation(ctx, d)
}

// NearbyDrivers lists driver ids within radiusMeters of p, closest first.
func (s *Service) NearbyDrivers(ctx context.Context, p types.Point, radiusMeters float64) ([]types.ID, error) {
	return s.drivers.NearbyDrivers(ctx, p, s.clampRadius(radiusMeters))
}

func (s *Service) clampRadius(r float64) float64 {
	if r == 0 {
		r = s.cfg.DefaultRadiusMeters
	}
	if r < 0 {
		return 0
	}
	if r > s.cfg.MaxRadiusMeters {
		return s.cfg.MaxRadiusMeters
	}
	return r
}

// listOpenWithRetry retries transient store failures with a short backoff.
// Only this read path retries; state transitions surface failures verbatim.
func (s *Service) listOpenWithRetry(ctx context.Context) ([]*trip.Request, error) {
	open := trip.StatusOpen
	var lastErr error
	backoff := listBackoff
	for attempt := 0; attempt < listRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		reqs, err := s.trips.List(ctx, trip.Filter{Status: &open})
		if err == nil {
			return reqs, nil
		}
		lastErr = err
		log.Printf("[matching] list open trips attempt %d failed: %v", attempt+1, err)
	}
	return nil, lastErr
}

// sortCandidates orders by the sort key, then by earlier departure, then by
// creation order so rankings are deterministic.
func sortCandidates(cs []Candidate, key SortKey) {
	less := func(a, b Candidate) bool {
		if p, done := primaryLess(a, b, key); done {
			return p
		}
		if !a.Request.DepartureTime.Equal(b.Request.DepartureTime) {
			return a.Request.DepartureTime.Before(b.Request.DepartureTime)
		}
		if !a.Request.CreatedAt.Equal(b.Request.CreatedAt) {
			return a.Request.CreatedAt.Before(b.Request.CreatedAt)
		}
		return a.Request.ID < b.Request.ID
	}

	// Insertion sort keeps ties stable and is fine for small N.
	for i := 1; i < len(cs); i++ {
		cur := cs[i]
		j := i - 1
		for j >= 0 && less(cur, cs[j]) {
			cs[j+1] = cs[j]
			j--
		}
		cs[j+1] = cur
	}
}

// primaryLess compares on the sort key alone; done is false when the pair is
// tied and the deterministic tie-break should decide.
func primaryLess(a, b Candidate, key SortKey) (less, done bool) {
	switch key {
	case SortByDeparture:
		if a.Request.DepartureTime.Equal(b.Request.DepartureTime) {
			return false, false
		}
		return a.Request.DepartureTime.Before(b.Request.DepartureTime), true
	case SortByPrice:
		if a.Request.PricePerSeat.Amount == b.Request.PricePerSeat.Amount {
			return false, false
		}
		return a.Request.PricePerSeat.Amount < b.Request.PricePerSeat.Amount, true
	case SortByDistance:
		if a.DistanceMeters == b.DistanceMeters {
			return false, false
		}
		return a.DistanceMeters < b.DistanceMeters, true
	case SortBySeatCount:
		if a.Request.SeatsFree() == b.Request.SeatsFree() {
			return false, false
		}
		return a.Request.SeatsFree() > b.Request.SeatsFree(), true
	default: // SortByScore
		if a.Score == b.Score {
			return false, false
		}
		return a.Score > b.Score, true
	}
}
