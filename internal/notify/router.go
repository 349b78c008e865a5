// README: Notification router; serializes fan-out of domain events to rooms.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"savora/internal/order"
	"savora/internal/types"
	"savora/internal/wire"
)

// Broadcaster delivers a framed message to every member of a room.
// The in-memory registry implements it; a broker-backed implementation can
// replace it for multi-node fan-out.
type Broadcaster interface {
	Broadcast(room types.RoomKey, message []byte) int
}

// OrderSource resolves current order records for location validation.
type OrderSource interface {
	Get(ctx context.Context, id types.ID) (*order.Order, error)
}

// Router consumes domain events from a single queue and pushes them to the
// right rooms. One consumer goroutine drains the queue, so broadcasts for
// the same order are delivered in the order the state machine accepted them.
type Router struct {
	logger *slog.Logger
	b      Broadcaster
	orders OrderSource

	events chan Event

	mu      sync.Mutex
	lastLoc map[types.ID]time.Time // per-order newest driver location seen

	// OnDriverLocation is invoked after a validated driver location event,
	// letting the ETA refresher observe movement. Optional.
	OnDriverLocation func(orderID, driverID types.ID, pos types.Point)
}

func NewRouter(logger *slog.Logger, b Broadcaster, orders OrderSource) *Router {
	return &Router{
		logger:  logger.With(slog.String("component", "notify_router")),
		b:       b,
		orders:  orders,
		events:  make(chan Event, 1024),
		lastLoc: make(map[types.ID]time.Time),
	}
}

// Publish enqueues an event for fan-out. Best-effort fire-and-forget: when
// the queue is full the event is dropped and logged rather than blocking
// the caller.
func (r *Router) Publish(ev Event) {
	select {
	case r.events <- ev:
	default:
		r.logger.Warn("event queue full, dropping event",
			slog.String("kind", string(ev.Kind)),
			slog.String("orderID", string(ev.OrderID)))
	}
}

// Run drains the queue until the context is cancelled.
func (r *Router) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.events:
			r.dispatch(ctx, ev)
		}
	}
}

// dispatch is the event→room table. A room with zero members is a silent
// no-op; recipients never acknowledge.
func (r *Router) dispatch(ctx context.Context, ev Event) {
	switch ev.Kind {
	case KindOrderCreated:
		r.b.Broadcast(types.UserRoom(ev.ChefID), wire.Marshal("order:new", ev.Summary))

	case KindStatusChanged:
		r.b.Broadcast(types.OrderRoom(ev.OrderID), wire.Marshal("order:status_update", statusUpdatePayload{
			OrderID:    ev.OrderID,
			Status:     string(ev.Status),
			OccurredAt: ev.OccurredAt,
			Metadata:   ev.Metadata,
		}))

	case KindDriverAssigned:
		r.b.Broadcast(types.UserRoom(ev.DriverID), wire.Marshal("driver:new_assignment", ev.Summary))

	case KindDriverLocation:
		// Location validation reads the order store and the hook may call a
		// routing provider; neither may stall delivery of other orders'
		// broadcasts, so this kind leaves the consumer goroutine. Per-order
		// location ordering stays approximately-most-recent-wins via the
		// occurredAt watermark.
		go r.dispatchDriverLocation(ctx, ev)

	case KindETAUpdated:
		r.b.Broadcast(types.OrderRoom(ev.OrderID), wire.Marshal("order:eta_update", etaUpdatePayload{
			OrderID:    ev.OrderID,
			ETAMinutes: ev.ETAMinutes,
			OccurredAt: ev.OccurredAt,
		}))

	default:
		r.logger.Warn("unknown event kind", slog.String("kind", string(ev.Kind)))
	}
}

// dispatchDriverLocation forwards a location to the order room only when the
// sender is the order's assigned driver, discarding out-of-order reports.
func (r *Router) dispatchDriverLocation(ctx context.Context, ev Event) {
	o, err := r.orders.Get(ctx, ev.OrderID)
	if err != nil {
		r.logger.Warn("location for unknown order",
			slog.String("orderID", string(ev.OrderID)), slog.Any("error", err))
		return
	}
	if o.DriverID == nil || *o.DriverID != ev.DriverID {
		r.logger.Warn("location from non-assigned driver",
			slog.String("orderID", string(ev.OrderID)),
			slog.String("driverID", string(ev.DriverID)))
		return
	}

	// Approximately most-recent wins: a report older than the newest already
	// delivered for this order is dropped.
	r.mu.Lock()
	if last, ok := r.lastLoc[ev.OrderID]; ok && ev.OccurredAt.Before(last) {
		r.mu.Unlock()
		return
	}
	r.lastLoc[ev.OrderID] = ev.OccurredAt
	r.mu.Unlock()

	r.b.Broadcast(types.OrderRoom(ev.OrderID), wire.Marshal("driver:location_update", locationUpdatePayload{
		DriverID:   ev.DriverID,
		Lat:        ev.Location.Lat,
		Lng:        ev.Location.Lng,
		OccurredAt: ev.OccurredAt,
	}))

	if r.OnDriverLocation != nil {
		r.OnDriverLocation(ev.OrderID, ev.DriverID, *ev.Location)
	}
}

// Forget drops per-order routing state once an order reaches a terminal
// status.
func (r *Router) Forget(orderID types.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lastLoc, orderID)
}

type statusUpdatePayload struct {
	OrderID    types.ID          `json:"orderId"`
	Status     string            `json:"status"`
	OccurredAt time.Time         `json:"occurredAt"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type locationUpdatePayload struct {
	DriverID   types.ID  `json:"driverId"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	OccurredAt time.Time `json:"occurredAt"`
}

type etaUpdatePayload struct {
	OrderID    types.ID  `json:"orderId"`
	ETAMinutes int       `json:"etaMinutes"`
	OccurredAt time.Time `json:"occurredAt"`
}
