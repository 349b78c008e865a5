// README: Background ETA refresh for in-transit orders.
package eta

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"savora/internal/notify"
	"savora/internal/types"
)

// Publisher hands fresh estimates to the notification router.
type Publisher interface {
	Publish(ev notify.Event)
}

type tracked struct {
	pickup    types.Point
	delivery  types.Point
	driverPos *types.Point // last position that produced an estimate
}

// Refresher re-estimates tracked in-transit orders on a fixed interval, and
// immediately when the driver has moved beyond the movement threshold since
// the last estimate. Estimation failures are logged and the broadcast is
// suppressed until the next trigger.
type Refresher struct {
	logger     *slog.Logger
	estimator  *Estimator
	publisher  Publisher
	interval   time.Duration
	movementKm float64

	mu     sync.Mutex
	orders map[types.ID]*tracked
}

func NewRefresher(logger *slog.Logger, estimator *Estimator, publisher Publisher, interval time.Duration, movementKm float64) *Refresher {
	return &Refresher{
		logger:     logger.With(slog.String("component", "eta_refresher")),
		estimator:  estimator,
		publisher:  publisher,
		interval:   interval,
		movementKm: movementKm,
		orders:     make(map[types.ID]*tracked),
	}
}

// Track starts refreshing an order; call when it enters in_transit.
func (r *Refresher) Track(orderID types.ID, pickup, delivery types.Point) {
	r.mu.Lock()
	r.orders[orderID] = &tracked{pickup: pickup, delivery: delivery}
	r.mu.Unlock()
}

// Untrack stops refreshing an order; call on delivered or any terminal state.
func (r *Refresher) Untrack(orderID types.ID) {
	r.mu.Lock()
	delete(r.orders, orderID)
	r.mu.Unlock()
}

// ObserveDriverLocation is wired as the notification router's location hook.
// A move beyond the threshold triggers an immediate re-estimate.
func (r *Refresher) ObserveDriverLocation(orderID, _ types.ID, pos types.Point) {
	r.mu.Lock()
	t, ok := r.orders[orderID]
	if !ok {
		r.mu.Unlock()
		return
	}
	moved := t.driverPos == nil ||
		distanceKm(*t.driverPos, pos) > r.movementKm
	if moved {
		p := pos
		t.driverPos = &p
	}
	r.mu.Unlock()

	if moved {
		r.refresh(context.Background(), orderID)
	}
}

// Run refreshes every tracked order on the configured interval.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range r.trackedIDs() {
				r.refresh(ctx, id)
			}
		}
	}
}

func (r *Refresher) trackedIDs() []types.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.ID, 0, len(r.orders))
	for id := range r.orders {
		out = append(out, id)
	}
	return out
}

// refresh estimates from the driver's last known position (or pickup before
// the first report) to the delivery point and publishes the result.
func (r *Refresher) refresh(ctx context.Context, orderID types.ID) {
	r.mu.Lock()
	t, ok := r.orders[orderID]
	if !ok {
		r.mu.Unlock()
		return
	}
	from := t.pickup
	if t.driverPos != nil {
		from = *t.driverPos
	}
	to := t.delivery
	r.mu.Unlock()

	est, err := r.estimator.Estimate(ctx, from, to)
	if err != nil {
		r.logger.Warn("eta refresh failed, suppressing broadcast",
			slog.String("orderID", string(orderID)), slog.Any("error", err))
		return
	}
	r.publisher.Publish(notify.ETAUpdated(orderID, est.ETAMinutes, time.Now().UTC()))
}

const earthRadiusKm = 6371.0

func distanceKm(a, b types.Point) float64 {
	lat1 := a.Lat * math.Pi / 180.0
	lat2 := b.Lat * math.Pi / 180.0
	dlat := (b.Lat - a.Lat) * math.Pi / 180.0
	dlng := (b.Lng - a.Lng) * math.Pi / 180.0
	h := math.Sin(dlat/2)*math.Sin(dlat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlng/2)*math.Sin(dlng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
