// README: Google Maps routing provider via the official client.
package routing

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"

	"savora/internal/types"
)

type Google struct {
	client *maps.Client
}

func NewGoogle(apiKey string) (*Google, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("maps client: %w", err)
	}
	return &Google{client: client}, nil
}

var _ Provider = (*Google)(nil)

func (p *Google) Name() string { return "google" }

func (p *Google) Route(ctx context.Context, from, to types.Point) (Leg, error) {
	r := &maps.DirectionsRequest{
		Origin:      fmt.Sprintf("%f,%f", from.Lat, from.Lng),
		Destination: fmt.Sprintf("%f,%f", to.Lat, to.Lng),
		Mode:        maps.TravelModeDriving,
	}

	routes, _, err := p.client.Directions(ctx, r)
	if err != nil {
		return Leg{}, fmt.Errorf("google directions: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return Leg{}, ErrNoRoute
	}

	leg := routes[0].Legs[0]
	return Leg{
		DistanceMeters:  float64(leg.Distance.Meters),
		DurationSeconds: leg.Duration.Seconds(),
	}, nil
}
