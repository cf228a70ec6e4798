// README: Driver location pool backed by Redis GEO and sets.
package matching

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"carpool/internal/types"
)

const (
	driverGeoKey       = "matching:drivers"
	driverMetaPrefix   = "matching:driver:%s"
	dispatchKeyPrefix  = "matching:trip:%s:dispatched_at"
	notifiedKeyPrefix  = "matching:trip:%s:notified"
	// TTL for dispatch bookkeeping (trips resolve well within 7 days).
	keyTTL = 7 * 24 * time.Hour
)

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

func (s *Store) UpsertLocation(ctx context.Context, d Driver) error {
	pipe := s.redis.Pipeline()
	pipe.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
		Name:      string(d.ID),
		Longitude: d.Position.Lng,
		Latitude:  d.Position.Lat,
	})
	pipe.HSet(ctx, driverMetaKey(d.ID), map[string]interface{}{
		"name":    d.Name,
		"contact": d.Contact,
		"rating":  strconv.FormatFloat(d.Rating, 'f', 2, 64),
		"seen_at": d.SeenAt.UTC().Format(time.RFC3339),
	})
	pipe.Expire(ctx, driverMetaKey(d.ID), keyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) RemoveDriver(ctx context.Context, id types.ID) error {
	pipe := s.redis.Pipeline()
	pipe.ZRem(ctx, driverGeoKey, string(id))
	pipe.Del(ctx, driverMetaKey(id))
	_, err := pipe.Exec(ctx)
	return err
}

// NearbyDrivers returns driver ids within radiusMeters of p, closest first.
func (s *Store) NearbyDrivers(ctx context.Context, p types.Point, radiusMeters float64) ([]types.ID, error) {
	results, err := s.redis.GeoSearch(ctx, driverGeoKey, &redis.GeoSearchQuery{
		Longitude:  p.Lng,
		Latitude:   p.Lat,
		Radius:     radiusMeters,
		RadiusUnit: "m",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(results))
	for i, r := range results {
		ids[i] = types.ID(r)
	}
	return ids, nil
}

// GetDriver loads pool metadata for one driver.
func (s *Store) GetDriver(ctx context.Context, id types.ID) (Driver, bool, error) {
	vals, err := s.redis.HGetAll(ctx, driverMetaKey(id)).Result()
	if err != nil {
		return Driver{}, false, err
	}
	if len(vals) == 0 {
		return Driver{}, false, nil
	}
	d := Driver{ID: id, Name: vals["name"], Contact: vals["contact"]}
	if r, err := strconv.ParseFloat(vals["rating"], 64); err == nil {
		d.Rating = r
	}
	if t, err := time.Parse(time.RFC3339, vals["seen_at"]); err == nil {
		d.SeenAt = t
	}
	return d, true, nil
}

// RecordDispatch records the dispatch timestamp and the set of notified
// drivers for a trip.
func (s *Store) RecordDispatch(ctx context.Context, tripID types.ID, driverIDs []types.ID) error {
	pipe := s.redis.Pipeline()
	pipe.Set(ctx, dispatchedAtKey(tripID), time.Now().UTC().Format(time.RFC3339), keyTTL)
	if len(driverIDs) > 0 {
		members := make([]interface{}, len(driverIDs))
		for i, d := range driverIDs {
			members[i] = string(d)
		}
		pipe.SAdd(ctx, notifiedKey(tripID), members...)
		pipe.Expire(ctx, notifiedKey(tripID), keyTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// GetDispatchedAt returns when the trip was first dispatched, and whether it
// has been dispatched at all.
func (s *Store) GetDispatchedAt(ctx context.Context, tripID types.ID) (time.Time, bool, error) {
	val, err := s.redis.Get(ctx, dispatchedAtKey(tripID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func driverMetaKey(id types.ID) string {
	return fmt.Sprintf(driverMetaPrefix, string(id))
}

func dispatchedAtKey(tripID types.ID) string {
	return fmt.Sprintf(dispatchKeyPrefix, string(tripID))
}

func notifiedKey(tripID types.ID) string {
	return fmt.Sprintf(notifiedKeyPrefix, string(tripID))
}
