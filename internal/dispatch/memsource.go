// README: In-memory presence source for tests and single-node development.
package dispatch

import (
	"context"
	"sync"
	"time"

	"savora/internal/types"
)

// MemSource keeps presence in a mutex-guarded map and answers radius queries
// by brute-force haversine. Query counts are tracked so tests can assert the
// selector's radius-expansion behavior.
type MemSource struct {
	mu      sync.Mutex
	drivers map[types.ID]Presence

	// Queries records the radius of every Near call, in order.
	Queries []float64
}

func NewMemSource() *MemSource {
	return &MemSource{drivers: make(map[types.ID]Presence)}
}

var _ PresenceSource = (*MemSource)(nil)

func (s *MemSource) Set(p Presence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drivers[p.DriverID] = p
}

// Get returns the stored presence for a driver, if any.
func (s *MemSource) Get(id types.ID) (Presence, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.drivers[id]
	return p, ok
}

func (s *MemSource) UpsertLocation(ctx context.Context, id types.ID, pos types.Point, headingDeg *float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.drivers[id]
	p.DriverID = id
	p.Position = pos
	p.HeadingDeg = headingDeg
	p.LastUpdateAt = at
	s.drivers[id] = p
	return nil
}

func (s *MemSource) SetAvailable(ctx context.Context, id types.ID, available bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.drivers[id]
	p.DriverID = id
	p.IsAvailable = available
	s.drivers[id] = p
	return nil
}

func (s *MemSource) Near(ctx context.Context, origin types.Point, radiusKm float64) ([]Presence, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Queries = append(s.Queries, radiusKm)

	var out []Presence
	for _, p := range s.drivers {
		if s.dist(origin, p) <= radiusKm {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemSource) Distance(origin types.Point, p Presence) float64 {
	return s.dist(origin, p)
}

func (s *MemSource) dist(origin types.Point, p Presence) float64 {
	return haversineKm(origin.Lat, origin.Lng, p.Position.Lat, p.Position.Lng)
}
