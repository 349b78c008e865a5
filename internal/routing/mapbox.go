// README: Mapbox Directions routing provider.
package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"savora/internal/types"
)

type Mapbox struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewMapbox(baseURL, token string) *Mapbox {
	return &Mapbox{baseURL: baseURL, token: token, client: http.DefaultClient}
}

var _ Provider = (*Mapbox)(nil)

func (p *Mapbox) Name() string { return "mapbox" }

type mapboxResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
	} `json:"routes"`
}

func (p *Mapbox) Route(ctx context.Context, from, to types.Point) (Leg, error) {
	u := fmt.Sprintf("%s/directions/v5/mapbox/driving/%f,%f;%f,%f?overview=false&access_token=%s",
		p.baseURL, from.Lng, from.Lat, to.Lng, to.Lat, url.QueryEscape(p.token))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Leg{}, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return Leg{}, fmt.Errorf("mapbox request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Leg{}, fmt.Errorf("mapbox status %d", resp.StatusCode)
	}

	var body mapboxResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Leg{}, fmt.Errorf("mapbox decode: %w", err)
	}
	if body.Code != "Ok" || len(body.Routes) == 0 {
		return Leg{}, ErrNoRoute
	}

	return Leg{
		DistanceMeters:  body.Routes[0].Distance,
		DurationSeconds: body.Routes[0].Duration,
	}, nil
}
