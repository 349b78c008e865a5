// README: Domain events consumed by the notification router.
package notify

import (
	"time"

	"savora/internal/order"
	"savora/internal/types"
)

type Kind string

const (
	KindOrderCreated   Kind = "order_created"
	KindStatusChanged  Kind = "status_changed"
	KindDriverAssigned Kind = "driver_assigned"
	KindDriverLocation Kind = "driver_location"
	KindETAUpdated     Kind = "eta_updated"
)

// Event is the unit placed on the router's queue. Exactly the fields for the
// event's kind are populated; the dispatch table decides target rooms.
type Event struct {
	Kind       Kind
	OrderID    types.ID
	OccurredAt time.Time

	// status_changed
	Status   order.Status
	Metadata map[string]string

	// order_created / driver_assigned
	ChefID   types.ID
	DriverID types.ID
	Summary  *OrderSummary

	// driver_location
	Location *types.Point

	// eta_updated
	ETAMinutes int
}

// OrderSummary is the payload pushed to the chef on order creation and to
// the driver on assignment.
type OrderSummary struct {
	OrderID          types.ID    `json:"orderId"`
	CustomerID       types.ID    `json:"customerId"`
	ChefID           types.ID    `json:"chefId"`
	Status           string      `json:"status"`
	PickupLocation   geoPoint    `json:"pickupLocation"`
	DeliveryLocation geoPoint    `json:"deliveryLocation"`
	CreatedAt        time.Time   `json:"createdAt"`
}

type geoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func Summarize(o *order.Order) *OrderSummary {
	return &OrderSummary{
		OrderID:          o.ID,
		CustomerID:       o.CustomerID,
		ChefID:           o.ChefID,
		Status:           string(o.Status),
		PickupLocation:   geoPoint{Lat: o.PickupLocation.Lat, Lng: o.PickupLocation.Lng},
		DeliveryLocation: geoPoint{Lat: o.DeliveryLocation.Lat, Lng: o.DeliveryLocation.Lng},
		CreatedAt:        o.CreatedAt,
	}
}

// OrderCreated targets the chef who has to accept the new order.
func OrderCreated(o *order.Order) Event {
	return Event{
		Kind:       KindOrderCreated,
		OrderID:    o.ID,
		ChefID:     o.ChefID,
		Summary:    Summarize(o),
		OccurredAt: time.Now().UTC(),
	}
}

// StatusChanged wraps an accepted state machine transition.
func StatusChanged(ev *order.StatusEvent) Event {
	return Event{
		Kind:       KindStatusChanged,
		OrderID:    ev.OrderID,
		Status:     ev.ToStatus,
		Metadata:   ev.Metadata,
		OccurredAt: ev.OccurredAt,
	}
}

// DriverAssigned targets the winning driver with the assignment details.
func DriverAssigned(o *order.Order, driverID types.ID) Event {
	return Event{
		Kind:       KindDriverAssigned,
		OrderID:    o.ID,
		DriverID:   driverID,
		Summary:    Summarize(o),
		OccurredAt: time.Now().UTC(),
	}
}

// DriverLocation carries a driver's reported position for an order room.
func DriverLocation(orderID, driverID types.ID, pos types.Point, occurredAt time.Time) Event {
	return Event{
		Kind:       KindDriverLocation,
		OrderID:    orderID,
		DriverID:   driverID,
		Location:   &pos,
		OccurredAt: occurredAt,
	}
}

// ETAUpdated carries a fresh delivery estimate for an order room.
func ETAUpdated(orderID types.ID, etaMinutes int, occurredAt time.Time) Event {
	return Event{
		Kind:       KindETAUpdated,
		OrderID:    orderID,
		ETAMinutes: etaMinutes,
		OccurredAt: occurredAt,
	}
}
