// README: Candidate selection with expanding radius over the presence source.
package dispatch

import (
	"context"
	"sort"
	"time"

	"savora/internal/types"
)

// PresenceSource answers radius queries against live driver presence.
// Near must return drivers within radiusKm of origin together with their
// distance; it does not filter availability, verification or staleness —
// the selector does.
type PresenceSource interface {
	Near(ctx context.Context, origin types.Point, radiusKm float64) ([]Presence, error)
	Distance(origin types.Point, p Presence) float64
}

type Selector struct {
	source         PresenceSource
	staleThreshold time.Duration
	queryTimeout   time.Duration
	now            func() time.Time
}

func NewSelector(source PresenceSource, staleThreshold, queryTimeout time.Duration) *Selector {
	return &Selector{
		source:         source,
		staleThreshold: staleThreshold,
		queryTimeout:   queryTimeout,
		now:            time.Now,
	}
}

// SelectCandidates returns available, verified, fresh drivers near the pickup
// point, sorted by distance ascending with rating-desc then id-asc
// tie-breaks. The radius doubles (capped at MaxRadiusKm) until MinCandidates
// are found. An empty list is a valid "no drivers" result: timeouts and
// query failures collapse into it, the caller owns retry policy.
func (s *Selector) SelectCandidates(ctx context.Context, pickup types.Point, p Params) []Candidate {
	radius := p.InitialRadiusKm
	// A non-positive starting radius would never grow by doubling; fall back
	// to a single query at the cap.
	if radius <= 0 {
		radius = p.MaxRadiusKm
	}

	for {
		found, err := s.query(ctx, pickup, radius)
		if err != nil {
			return []Candidate{}
		}
		if len(found) >= p.MinCandidates || radius >= p.MaxRadiusKm {
			return truncate(rank(found), p.Limit)
		}
		radius = min(radius*2, p.MaxRadiusKm)
	}
}

func (s *Selector) query(ctx context.Context, pickup types.Point, radiusKm float64) ([]Candidate, error) {
	qctx := ctx
	if s.queryTimeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()
	}

	presences, err := s.source.Near(qctx, pickup, radiusKm)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]Candidate, 0, len(presences))
	for _, pr := range presences {
		if !pr.IsAvailable || !pr.IsVerified || pr.Stale(now, s.staleThreshold) {
			continue
		}
		out = append(out, Candidate{
			DriverID:   pr.DriverID,
			DistanceKm: s.source.Distance(pickup, pr),
			Rating:     pr.Rating,
		})
	}
	return out, nil
}

func rank(cs []Candidate) []Candidate {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].DistanceKm != cs[j].DistanceKm {
			return cs[i].DistanceKm < cs[j].DistanceKm
		}
		if cs[i].Rating != cs[j].Rating {
			return cs[i].Rating > cs[j].Rating
		}
		return cs[i].DriverID < cs[j].DriverID
	})
	return cs
}

func truncate(cs []Candidate, limit int) []Candidate {
	if limit > 0 && len(cs) > limit {
		return cs[:limit]
	}
	return cs
}
