// README: Driver presence store backed by Redis GEO and per-driver hashes.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cast"

	"savora/internal/types"
)

const (
	driverGeoKey    = "presence:drivers"
	driverKeyPrefix = "presence:driver:%s"
	// Presence hashes expire on their own well after the stale threshold;
	// the GEO member is removed explicitly when a driver goes offline.
	presenceTTL = 24 * time.Hour
)

// RedisStore holds driver positions in a GEO set and per-driver attributes
// (availability, verification, rating, last update) in hashes. It implements
// PresenceSource for the selector and the write side for the realtime hub.
type RedisStore struct {
	redis *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{redis: rdb}
}

var _ PresenceSource = (*RedisStore)(nil)

// UpsertLocation records a driver's reported position and refreshes the
// last-update timestamp.
func (s *RedisStore) UpsertLocation(ctx context.Context, id types.ID, pos types.Point, headingDeg *float64, at time.Time) error {
	pipe := s.redis.Pipeline()
	pipe.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
		Name:      string(id),
		Longitude: pos.Lng,
		Latitude:  pos.Lat,
	})
	fields := map[string]any{
		"lat":        pos.Lat,
		"lng":        pos.Lng,
		"updated_at": at.UTC().Format(time.RFC3339Nano),
	}
	if headingDeg != nil {
		fields["heading_deg"] = *headingDeg
	}
	key := driverKey(id)
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, presenceTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// SetAvailable toggles a driver online or offline for dispatch. Going
// offline removes the GEO member so radius queries skip the driver entirely.
func (s *RedisStore) SetAvailable(ctx context.Context, id types.ID, available bool) error {
	pipe := s.redis.Pipeline()
	pipe.HSet(ctx, driverKey(id), "available", available)
	if !available {
		pipe.ZRem(ctx, driverGeoKey, string(id))
	}
	_, err := pipe.Exec(ctx)
	return err
}

// SetProfile records the slow-changing dispatch attributes resolved from the
// driver record (verification, rating).
func (s *RedisStore) SetProfile(ctx context.Context, id types.ID, verified bool, rating float64) error {
	return s.redis.HSet(ctx, driverKey(id), map[string]any{
		"verified": verified,
		"rating":   rating,
	}).Err()
}

func (s *RedisStore) Near(ctx context.Context, origin types.Point, radiusKm float64) ([]Presence, error) {
	locs, err := s.redis.GeoSearchLocation(ctx, driverGeoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  origin.Lng,
			Latitude:   origin.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("geo search: %w", err)
	}

	out := make([]Presence, 0, len(locs))
	for _, loc := range locs {
		p, err := s.loadPresence(ctx, types.ID(loc.Name))
		if err != nil {
			return nil, err
		}
		p.Position = types.Point{Lat: loc.Latitude, Lng: loc.Longitude}
		out = append(out, p)
	}
	return out, nil
}

// Distance recomputes great-circle distance locally; the GEO query already
// sorted by it but the selector re-ranks after filtering.
func (s *RedisStore) Distance(origin types.Point, p Presence) float64 {
	return haversineKm(origin.Lat, origin.Lng, p.Position.Lat, p.Position.Lng)
}

func (s *RedisStore) loadPresence(ctx context.Context, id types.ID) (Presence, error) {
	vals, err := s.redis.HGetAll(ctx, driverKey(id)).Result()
	if err != nil {
		return Presence{}, fmt.Errorf("presence hash %s: %w", id, err)
	}

	p := Presence{
		DriverID:    id,
		IsAvailable: cast.ToBool(vals["available"]),
		IsVerified:  cast.ToBool(vals["verified"]),
		Rating:      cast.ToFloat64(vals["rating"]),
	}
	if ts, ok := vals["updated_at"]; ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			p.LastUpdateAt = t
		}
	}
	if h, ok := vals["heading_deg"]; ok {
		deg := cast.ToFloat64(h)
		p.HeadingDeg = &deg
	}
	return p, nil
}

func driverKey(id types.ID) string {
	return fmt.Sprintf(driverKeyPrefix, string(id))
}
