// README: Order aggregate and status definitions.
package order

import (
	"time"

	"savora/internal/types"
)

type Status string

const (
	StatusPending          Status = "pending"
	StatusPaymentConfirmed Status = "payment_confirmed"
	StatusAccepted         Status = "accepted"
	StatusPreparing        Status = "preparing"
	StatusReadyForPickup   Status = "ready_for_pickup"
	StatusAssignedToDriver Status = "assigned_to_driver"
	StatusPickedUp         Status = "picked_up"
	StatusInTransit        Status = "in_transit"
	StatusDelivered        Status = "delivered"
	StatusCompleted        Status = "completed"
	StatusCancelled        Status = "cancelled"
	StatusRefunded         Status = "refunded"
)

// Order mirrors the record owned by the external order service. This core
// references it for authorization and transition validation; it never owns
// the persisted row.
type Order struct {
	ID               types.ID
	CustomerID       types.ID
	ChefID           types.ID
	DriverID         *types.ID
	Status           Status
	StatusVersion    int
	PickupLocation   types.Point
	DeliveryLocation types.Point
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// StatusEvent is the unit broadcast by the notification router. It is never
// stored here; persistence belongs to the external datastore.
type StatusEvent struct {
	OrderID    types.ID
	FromStatus Status
	ToStatus   Status
	ActorID    types.ID
	OccurredAt time.Time
	Metadata   map[string]string
}

// AllowedTransitions represents the order state flow (diagram) as code.
// completed and refunded are terminal and have no entry.
var AllowedTransitions = map[Status][]Status{
	StatusPending:          {StatusAccepted, StatusCancelled},
	StatusPaymentConfirmed: {StatusAccepted, StatusCancelled},
	StatusAccepted:         {StatusPreparing, StatusCancelled},
	StatusPreparing:        {StatusReadyForPickup, StatusCancelled},
	StatusReadyForPickup:   {StatusAssignedToDriver, StatusCancelled},
	StatusAssignedToDriver: {StatusPickedUp, StatusCancelled},
	StatusPickedUp:         {StatusInTransit, StatusCancelled},
	StatusInTransit:        {StatusDelivered},
	StatusDelivered:        {StatusCompleted},
	StatusCancelled:        {StatusRefunded},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status has no outgoing transitions.
func Terminal(s Status) bool {
	return len(AllowedTransitions[s]) == 0
}

// CanView reports whether the principal may observe this order's realtime
// stream: its customer, its chef, its assigned driver, or staff.
func (o *Order) CanView(principalID types.ID, role types.Role) bool {
	if role.Staff() {
		return true
	}
	switch {
	case o.CustomerID == principalID:
		return true
	case o.ChefID == principalID:
		return true
	case o.DriverID != nil && *o.DriverID == principalID:
		return true
	}
	return false
}
