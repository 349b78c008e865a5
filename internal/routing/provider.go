// README: Routing provider abstraction; all providers normalize to one shape.
package routing

import (
	"context"
	"errors"

	"savora/internal/types"
)

var ErrNoRoute = errors.New("no route found")

// Leg is the normalized result every provider maps its response onto.
type Leg struct {
	DistanceMeters  float64
	DurationSeconds float64
}

// Provider computes driving distance/duration between two points.
type Provider interface {
	Name() string
	Route(ctx context.Context, from, to types.Point) (Leg, error)
}
