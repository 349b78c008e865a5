// README: Driver presence and dispatch candidate projections.
package dispatch

import (
	"time"

	"savora/internal/types"
)

// Presence is a driver's last reported state. Mutated only by the driver's
// own location messages or explicit online/offline toggles.
type Presence struct {
	DriverID     types.ID
	Position     types.Point
	HeadingDeg   *float64
	IsAvailable  bool
	IsVerified   bool
	Rating       float64
	LastUpdateAt time.Time
}

// Stale reports whether the presence is too old to be dispatched.
func (p Presence) Stale(now time.Time, threshold time.Duration) bool {
	return now.Sub(p.LastUpdateAt) > threshold
}

// Candidate is a per-request projection; it is never persisted.
type Candidate struct {
	DriverID   types.ID
	DistanceKm float64
	Rating     float64
}

// Params tunes one candidate-selection request.
type Params struct {
	Limit           int
	InitialRadiusKm float64
	MaxRadiusKm     float64
	MinCandidates   int
}
