// README: Candidate selector tests (filtering, ranking, radius expansion).
package dispatch

import (
	"context"
	"math"
	"testing"
	"time"

	"savora/internal/types"
)

var pickup = types.Point{Lat: 43.2200, Lng: -79.7600}

const staleThreshold = 5 * time.Minute

// driverAt places an available, verified driver roughly km kilometres east of
// the pickup point. One degree of longitude at this latitude is ~81 km.
func driverAt(id types.ID, km, rating float64, updatedAt time.Time) Presence {
	return Presence{
		DriverID:     id,
		Position:     types.Point{Lat: pickup.Lat, Lng: pickup.Lng + km/81.0},
		IsAvailable:  true,
		IsVerified:   true,
		Rating:       rating,
		LastUpdateAt: updatedAt,
	}
}

func TestSelectCandidatesFiltering(t *testing.T) {
	now := time.Now()
	src := NewMemSource()

	fresh := driverAt("d_fresh", 1, 4.8, now)
	src.Set(fresh)

	stale := driverAt("d_stale", 1, 5.0, now.Add(-staleThreshold-time.Minute))
	src.Set(stale)

	busy := driverAt("d_busy", 1, 5.0, now)
	busy.IsAvailable = false
	src.Set(busy)

	unverified := driverAt("d_unverified", 1, 5.0, now)
	unverified.IsVerified = false
	src.Set(unverified)

	sel := NewSelector(src, staleThreshold, time.Second)
	got := sel.SelectCandidates(context.Background(), pickup, Params{
		Limit: 5, InitialRadiusKm: 2, MaxRadiusKm: 10, MinCandidates: 1,
	})

	if len(got) != 1 || got[0].DriverID != "d_fresh" {
		t.Fatalf("expected only d_fresh, got %v", got)
	}
}

func TestSelectCandidatesRanking(t *testing.T) {
	now := time.Now()
	src := NewMemSource()
	src.Set(driverAt("d_far", 5, 5.0, now))
	src.Set(driverAt("d_near", 1, 3.0, now))
	src.Set(driverAt("d_mid", 3, 4.0, now))

	sel := NewSelector(src, staleThreshold, time.Second)
	got := sel.SelectCandidates(context.Background(), pickup, Params{
		Limit: 5, InitialRadiusKm: 10, MaxRadiusKm: 10, MinCandidates: 1,
	})

	if len(got) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(got))
	}
	order := []types.ID{"d_near", "d_mid", "d_far"}
	for i, want := range order {
		if got[i].DriverID != want {
			t.Errorf("position %d: got %s, want %s", i, got[i].DriverID, want)
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i].DistanceKm < got[i-1].DistanceKm {
			t.Errorf("distance not ascending at %d: %f < %f", i, got[i].DistanceKm, got[i-1].DistanceKm)
		}
	}
}

func TestSelectCandidatesTieBreaks(t *testing.T) {
	now := time.Now()
	src := NewMemSource()
	// Same position, different ratings: higher rating first.
	src.Set(driverAt("d_b", 1, 4.0, now))
	src.Set(driverAt("d_a", 1, 5.0, now))
	// Same position and rating: id ascending for determinism.
	src.Set(driverAt("d_z", 1, 5.0, now))

	sel := NewSelector(src, staleThreshold, time.Second)
	got := sel.SelectCandidates(context.Background(), pickup, Params{
		Limit: 5, InitialRadiusKm: 10, MaxRadiusKm: 10, MinCandidates: 1,
	})

	order := []types.ID{"d_a", "d_z", "d_b"}
	if len(got) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(got))
	}
	for i, want := range order {
		if got[i].DriverID != want {
			t.Errorf("position %d: got %s, want %s", i, got[i].DriverID, want)
		}
	}
}

// TestRadiusExpansion mirrors the documented scenario: with only one driver
// within 2km and four within 8km, selection with minCandidates=3 expands the
// radius and returns the four drivers sorted by distance.
func TestRadiusExpansion(t *testing.T) {
	now := time.Now()
	src := NewMemSource()
	src.Set(driverAt("d1", 1.5, 4.5, now))
	src.Set(driverAt("d2", 5.0, 4.5, now))
	src.Set(driverAt("d3", 6.0, 4.5, now))
	src.Set(driverAt("d4", 7.5, 4.5, now))

	sel := NewSelector(src, staleThreshold, time.Second)
	got := sel.SelectCandidates(context.Background(), pickup, Params{
		Limit: 5, InitialRadiusKm: 2, MaxRadiusKm: 10, MinCandidates: 3,
	})

	if len(got) != 4 {
		t.Fatalf("expected 4 candidates after expansion, got %d", len(got))
	}
	order := []types.ID{"d1", "d2", "d3", "d4"}
	for i, want := range order {
		if got[i].DriverID != want {
			t.Errorf("position %d: got %s, want %s", i, got[i].DriverID, want)
		}
	}

	// Each retry must widen the radius strictly, capped at the max.
	if len(src.Queries) < 2 {
		t.Fatalf("expected at least 2 presence queries, got %d", len(src.Queries))
	}
	for i := 1; i < len(src.Queries); i++ {
		if src.Queries[i] <= src.Queries[i-1] {
			t.Errorf("radius did not grow: %v", src.Queries)
		}
		if src.Queries[i] > 10 {
			t.Errorf("radius exceeded max: %v", src.Queries)
		}
	}
}

func TestSelectCandidatesEmpty(t *testing.T) {
	sel := NewSelector(NewMemSource(), staleThreshold, time.Second)
	got := sel.SelectCandidates(context.Background(), pickup, Params{
		Limit: 5, InitialRadiusKm: 2, MaxRadiusKm: 10, MinCandidates: 3,
	})
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty (non-nil) result, got %v", got)
	}
}

// A zero starting radius must not loop forever; it collapses to one query at
// the maximum radius.
func TestSelectCandidatesZeroInitialRadius(t *testing.T) {
	now := time.Now()
	src := NewMemSource()
	src.Set(driverAt("d1", 4, 4.5, now))

	sel := NewSelector(src, staleThreshold, time.Second)
	got := sel.SelectCandidates(context.Background(), pickup, Params{
		Limit: 5, InitialRadiusKm: 0, MaxRadiusKm: 10, MinCandidates: 3,
	})

	if len(got) != 1 || got[0].DriverID != "d1" {
		t.Fatalf("expected the single driver at max radius, got %v", got)
	}
	if len(src.Queries) != 1 || src.Queries[0] != 10 {
		t.Fatalf("expected one query at the max radius, got %v", src.Queries)
	}

	// Degenerate config with both radii zero still terminates, empty result.
	empty := sel.SelectCandidates(context.Background(), pickup, Params{
		Limit: 5, InitialRadiusKm: 0, MaxRadiusKm: 0, MinCandidates: 3,
	})
	if len(empty) != 0 {
		t.Fatalf("expected empty result, got %v", empty)
	}
}

func TestSelectCandidatesLimit(t *testing.T) {
	now := time.Now()
	src := NewMemSource()
	for i, km := range []float64{1, 2, 3, 4, 5, 6} {
		src.Set(driverAt(types.ID('a'+rune(i)), km, 4.0, now))
	}

	sel := NewSelector(src, staleThreshold, time.Second)
	got := sel.SelectCandidates(context.Background(), pickup, Params{
		Limit: 3, InitialRadiusKm: 10, MaxRadiusKm: 10, MinCandidates: 1,
	})
	if len(got) != 3 {
		t.Fatalf("expected truncation to 3, got %d", len(got))
	}
}

// blockedSource hangs until the context expires, simulating a slow geo query.
type blockedSource struct{}

func (blockedSource) Near(ctx context.Context, _ types.Point, _ float64) ([]Presence, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockedSource) Distance(_ types.Point, _ Presence) float64 { return 0 }

func TestSelectCandidatesTimeout(t *testing.T) {
	sel := NewSelector(blockedSource{}, staleThreshold, 10*time.Millisecond)

	start := time.Now()
	got := sel.SelectCandidates(context.Background(), pickup, Params{
		Limit: 5, InitialRadiusKm: 2, MaxRadiusKm: 10, MinCandidates: 3,
	})
	if len(got) != 0 {
		t.Fatalf("expected empty result on timeout, got %v", got)
	}
	if time.Since(start) > time.Second {
		t.Fatal("selector hung past its query timeout")
	}
}

func TestHaversineKm(t *testing.T) {
	tests := []struct {
		name       string
		a, b       types.Point
		wantKm     float64
		tolerance  float64
	}{
		{
			name:      "same point",
			a:         pickup,
			b:         pickup,
			wantKm:    0,
			tolerance: 0.001,
		},
		{
			name:      "Stoney Creek to downtown Hamilton (~6km)",
			a:         types.Point{Lat: 43.2200, Lng: -79.7600},
			b:         types.Point{Lat: 43.2557, Lng: -79.8711},
			wantKm:    9.8,
			tolerance: 1.5,
		},
		{
			name:      "Toronto to Montreal (~504km)",
			a:         types.Point{Lat: 43.6532, Lng: -79.3832},
			b:         types.Point{Lat: 45.5019, Lng: -73.5674},
			wantKm:    504,
			tolerance: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := haversineKm(tt.a.Lat, tt.a.Lng, tt.b.Lat, tt.b.Lng)
			if math.Abs(got-tt.wantKm) > tt.tolerance {
				t.Errorf("haversineKm() = %f, want %f (±%f)", got, tt.wantKm, tt.tolerance)
			}
		})
	}
}
