// README: Notification router tests (dispatch table, location validation, ordering).
package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"savora/internal/order"
	"savora/internal/types"
	"savora/internal/wire"
)

type broadcastRecord struct {
	Room    types.RoomKey
	Event   string
	Payload json.RawMessage
}

type fakeBroadcaster struct {
	mu       sync.Mutex
	records  []broadcastRecord
	notifyCh chan struct{}
}

func (f *fakeBroadcaster) Broadcast(room types.RoomKey, message []byte) int {
	var env wire.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		panic("broadcast of unframed message: " + err.Error())
	}
	f.mu.Lock()
	f.records = append(f.records, broadcastRecord{Room: room, Event: env.Event, Payload: env.Payload})
	f.mu.Unlock()
	if f.notifyCh != nil {
		f.notifyCh <- struct{}{}
	}
	return 1
}

func (f *fakeBroadcaster) all() []broadcastRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]broadcastRecord(nil), f.records...)
}

func newRouterFixture(t *testing.T) (*Router, *fakeBroadcaster, *order.MemStore) {
	t.Helper()
	store := order.NewMemStore()
	b := &fakeBroadcaster{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(logger, b, order.NewService(store)), b, store
}

func seedAssigned(store *order.MemStore, driverID types.ID) *order.Order {
	o := &order.Order{
		ID:         "ord-1",
		CustomerID: "cust-1",
		ChefID:     "chef-1",
		DriverID:   &driverID,
		Status:     order.StatusInTransit,
	}
	store.Put(o)
	return o
}

func TestOrderCreatedTargetsChef(t *testing.T) {
	r, b, store := newRouterFixture(t)
	o := &order.Order{ID: "ord-1", CustomerID: "cust-1", ChefID: "chef-1", Status: order.StatusPending}
	store.Put(o)

	r.dispatch(context.Background(), OrderCreated(o))

	recs := b.all()
	if len(recs) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(recs))
	}
	if recs[0].Room != types.UserRoom("chef-1") {
		t.Errorf("room = %v, want chef's user room", recs[0].Room)
	}
	if recs[0].Event != "order:new" {
		t.Errorf("event = %q, want order:new", recs[0].Event)
	}
}

func TestStatusChangedTargetsOrderRoom(t *testing.T) {
	r, b, _ := newRouterFixture(t)

	r.dispatch(context.Background(), StatusChanged(&order.StatusEvent{
		OrderID:    "ord-1",
		FromStatus: order.StatusPreparing,
		ToStatus:   order.StatusReadyForPickup,
		OccurredAt: time.Now().UTC(),
	}))

	recs := b.all()
	if len(recs) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(recs))
	}
	if recs[0].Room != types.OrderRoom("ord-1") {
		t.Errorf("room = %v, want order room", recs[0].Room)
	}
	if recs[0].Event != "order:status_update" {
		t.Errorf("event = %q, want order:status_update", recs[0].Event)
	}

	var payload struct {
		OrderID string `json:"orderId"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(recs[0].Payload, &payload); err != nil {
		t.Fatalf("payload decode: %v", err)
	}
	if payload.OrderID != "ord-1" || payload.Status != "ready_for_pickup" {
		t.Errorf("payload = %+v, want ord-1 / ready_for_pickup", payload)
	}
}

func TestDriverAssignedTargetsDriver(t *testing.T) {
	r, b, store := newRouterFixture(t)
	o := seedAssigned(store, "drv-1")

	r.dispatch(context.Background(), DriverAssigned(o, "drv-1"))

	recs := b.all()
	if len(recs) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(recs))
	}
	if recs[0].Room != types.UserRoom("drv-1") {
		t.Errorf("room = %v, want driver's user room", recs[0].Room)
	}
	if recs[0].Event != "driver:new_assignment" {
		t.Errorf("event = %q, want driver:new_assignment", recs[0].Event)
	}
}

func TestDriverLocationForwardedToOrderRoom(t *testing.T) {
	r, b, store := newRouterFixture(t)
	seedAssigned(store, "drv-1")

	var hooked []types.ID
	r.OnDriverLocation = func(orderID, _ types.ID, _ types.Point) {
		hooked = append(hooked, orderID)
	}

	pos := types.Point{Lat: 43.22, Lng: -79.76}
	r.dispatchDriverLocation(context.Background(), DriverLocation("ord-1", "drv-1", pos, time.Now().UTC()))

	recs := b.all()
	if len(recs) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(recs))
	}
	if recs[0].Room != types.OrderRoom("ord-1") || recs[0].Event != "driver:location_update" {
		t.Errorf("got %s to %v, want driver:location_update to order room", recs[0].Event, recs[0].Room)
	}
	if len(hooked) != 1 || hooked[0] != "ord-1" {
		t.Errorf("location hook calls = %v, want [ord-1]", hooked)
	}
}

func TestDriverLocationFromNonAssignedDriverDropped(t *testing.T) {
	r, b, store := newRouterFixture(t)
	seedAssigned(store, "drv-1")

	r.dispatchDriverLocation(context.Background(), DriverLocation("ord-1", "drv-2", types.Point{}, time.Now().UTC()))

	if len(b.all()) != 0 {
		t.Error("location from a non-assigned driver must not be broadcast")
	}
}

func TestDriverLocationForUnknownOrderDropped(t *testing.T) {
	r, b, _ := newRouterFixture(t)

	r.dispatchDriverLocation(context.Background(), DriverLocation("ghost", "drv-1", types.Point{}, time.Now().UTC()))

	if len(b.all()) != 0 {
		t.Error("location for an unknown order must not be broadcast")
	}
}

func TestDriverLocationStaleReportDropped(t *testing.T) {
	r, b, store := newRouterFixture(t)
	seedAssigned(store, "drv-1")

	now := time.Now().UTC()
	r.dispatchDriverLocation(context.Background(), DriverLocation("ord-1", "drv-1", types.Point{Lat: 1}, now))
	r.dispatchDriverLocation(context.Background(), DriverLocation("ord-1", "drv-1", types.Point{Lat: 2}, now.Add(-time.Second)))

	if got := len(b.all()); got != 1 {
		t.Errorf("broadcasts = %d, want 1 (stale report dropped)", got)
	}

	// Forget resets the watermark, so an old timestamp passes again after the
	// order leaves tracking.
	r.Forget("ord-1")
	r.dispatchDriverLocation(context.Background(), DriverLocation("ord-1", "drv-1", types.Point{Lat: 3}, now.Add(-time.Second)))
	if got := len(b.all()); got != 2 {
		t.Errorf("broadcasts after Forget = %d, want 2", got)
	}
}

func TestETAUpdatedTargetsOrderRoom(t *testing.T) {
	r, b, _ := newRouterFixture(t)

	r.dispatch(context.Background(), ETAUpdated("ord-1", 12, time.Now().UTC()))

	recs := b.all()
	if len(recs) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(recs))
	}
	if recs[0].Room != types.OrderRoom("ord-1") || recs[0].Event != "order:eta_update" {
		t.Errorf("got %s to %v, want order:eta_update to order room", recs[0].Event, recs[0].Room)
	}

	var payload struct {
		ETAMinutes int `json:"etaMinutes"`
	}
	if err := json.Unmarshal(recs[0].Payload, &payload); err != nil {
		t.Fatalf("payload decode: %v", err)
	}
	if payload.ETAMinutes != 12 {
		t.Errorf("etaMinutes = %d, want 12", payload.ETAMinutes)
	}
}

func TestRunDeliversInPublishOrder(t *testing.T) {
	store := order.NewMemStore()
	b := &fakeBroadcaster{notifyCh: make(chan struct{}, 16)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRouter(logger, b, order.NewService(store))

	statuses := []order.Status{
		order.StatusAccepted,
		order.StatusPreparing,
		order.StatusReadyForPickup,
	}
	for _, s := range statuses {
		r.Publish(StatusChanged(&order.StatusEvent{OrderID: "ord-1", ToStatus: s, OccurredAt: time.Now().UTC()}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	for range statuses {
		select {
		case <-b.notifyCh:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for broadcasts")
		}
	}

	recs := b.all()
	if len(recs) != len(statuses) {
		t.Fatalf("broadcasts = %d, want %d", len(recs), len(statuses))
	}
	for i, rec := range recs {
		var payload struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(rec.Payload, &payload); err != nil {
			t.Fatalf("payload decode: %v", err)
		}
		if payload.Status != string(statuses[i]) {
			t.Errorf("broadcast %d status = %q, want %q", i, payload.Status, statuses[i])
		}
	}
}

// A captive location hook (a routing provider timing out) must not delay
// broadcasts for unrelated orders queued behind the location event.
func TestLocationEventsDoNotStallOtherBroadcasts(t *testing.T) {
	store := order.NewMemStore()
	b := &fakeBroadcaster{notifyCh: make(chan struct{}, 16)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRouter(logger, b, order.NewService(store))
	seedAssigned(store, "drv-1")

	release := make(chan struct{})
	defer close(release)
	r.OnDriverLocation = func(types.ID, types.ID, types.Point) { <-release }

	r.Publish(DriverLocation("ord-1", "drv-1", types.Point{Lat: 43.22, Lng: -79.76}, time.Now().UTC()))
	r.Publish(StatusChanged(&order.StatusEvent{
		OrderID:    "ord-2",
		ToStatus:   order.StatusPreparing,
		OccurredAt: time.Now().UTC(),
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	// Both broadcasts must land while the hook is still blocked.
	for i := 0; i < 2; i++ {
		select {
		case <-b.notifyCh:
		case <-time.After(2 * time.Second):
			t.Fatal("broadcast stalled behind the location hook")
		}
	}

	var sawStatus bool
	for _, rec := range b.all() {
		if rec.Event == "order:status_update" && rec.Room == types.OrderRoom("ord-2") {
			sawStatus = true
		}
	}
	if !sawStatus {
		t.Fatal("unrelated order's status update was not delivered")
	}
}

func TestPublishDropsWhenQueueFull(t *testing.T) {
	r, _, _ := newRouterFixture(t)

	// No consumer running; overfill the queue and verify the caller never
	// blocks.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 2048; i++ {
			r.Publish(ETAUpdated("ord-1", i, time.Now().UTC()))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
}
