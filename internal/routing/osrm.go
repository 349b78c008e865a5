// README: OSRM routing provider (default).
package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"savora/internal/types"
)

type OSRM struct {
	baseURL string
	client  *http.Client
}

func NewOSRM(baseURL string) *OSRM {
	return &OSRM{baseURL: baseURL, client: http.DefaultClient}
}

var _ Provider = (*OSRM)(nil)

func (p *OSRM) Name() string { return "osrm" }

type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
	} `json:"routes"`
}

func (p *OSRM) Route(ctx context.Context, from, to types.Point) (Leg, error) {
	url := fmt.Sprintf("%s/route/v1/driving/%f,%f;%f,%f?overview=false",
		p.baseURL, from.Lng, from.Lat, to.Lng, to.Lat)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Leg{}, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return Leg{}, fmt.Errorf("osrm request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Leg{}, fmt.Errorf("osrm status %d", resp.StatusCode)
	}

	var body osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Leg{}, fmt.Errorf("osrm decode: %w", err)
	}
	if body.Code != "Ok" || len(body.Routes) == 0 {
		return Leg{}, ErrNoRoute
	}

	return Leg{
		DistanceMeters:  body.Routes[0].Distance,
		DurationSeconds: body.Routes[0].Duration,
	}, nil
}
