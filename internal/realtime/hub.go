// README: Connection manager; authenticates connections and routes inbound messages.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"savora/internal/auth"
	"savora/internal/notify"
	"savora/internal/order"
	"savora/internal/types"
	"savora/internal/wire"
)

// OrderSource resolves order records for subscription authorization.
type OrderSource interface {
	Get(ctx context.Context, id types.ID) (*order.Order, error)
}

// PresenceWriter is the write side of the driver presence store.
type PresenceWriter interface {
	UpsertLocation(ctx context.Context, id types.ID, pos types.Point, headingDeg *float64, at time.Time) error
	SetAvailable(ctx context.Context, id types.ID, available bool) error
}

// Publisher hands domain events to the notification router.
type Publisher interface {
	Publish(ev notify.Event)
}

type HubConfig struct {
	// LocationMinGap is the minimum interval between accepted location
	// reports per driver; faster senders are acknowledged but not forwarded.
	LocationMinGap time.Duration
}

// Hub implements the connection lifecycle: authentication, default room
// membership, inbound message handling, and cleanup on disconnect.
type Hub struct {
	logger        *slog.Logger
	registry      *Registry
	authenticator auth.Authenticator
	orders        OrderSource
	presence      PresenceWriter
	publisher     Publisher
	config        HubConfig

	mu       sync.Mutex
	lastSeen map[types.ID]time.Time // per-driver last accepted location report
}

func NewHub(logger *slog.Logger, registry *Registry, authenticator auth.Authenticator, orders OrderSource, presence PresenceWriter, publisher Publisher, config HubConfig) *Hub {
	return &Hub{
		logger:        logger.With(slog.String("component", "hub")),
		registry:      registry,
		authenticator: authenticator,
		orders:        orders,
		presence:      presence,
		publisher:     publisher,
		config:        config,
		lastSeen:      make(map[types.ID]time.Time),
	}
}

type connectedPayload struct {
	PrincipalID types.ID `json:"principalId"`
	Role        string   `json:"role"`
}

// Connect authenticates the handshake credential and, on success, registers
// the connection and joins its default rooms. On failure the client receives
// an error message and the connection is closed with no room membership.
func (h *Hub) Connect(link Link, token string) error {
	p, err := h.authenticator.Authenticate(token)
	if err != nil {
		link.Send(wire.Marshal("error", wire.ErrorPayload{Message: "authentication failed"}))
		link.Close(err)
		return err
	}

	h.registry.Register(link, p)
	h.registry.Join(link.ID(), types.UserRoom(p.ID))
	h.registry.Join(link.ID(), types.RoleRoom(p.Role))

	link.Send(wire.Marshal("connected", connectedPayload{PrincipalID: p.ID, Role: string(p.Role)}))
	return nil
}

// Disconnect removes the connection from every room and the registry.
func (h *Hub) Disconnect(connID uuid.UUID) {
	h.registry.Deregister(connID)
}

type subscribePayload struct {
	OrderID types.ID `json:"orderId"`
}

type locationPayload struct {
	Lat        float64  `json:"lat"`
	Lng        float64  `json:"lng"`
	OrderID    types.ID `json:"orderId,omitempty"`
	HeadingDeg *float64 `json:"headingDeg,omitempty"`
}

type availabilityPayload struct {
	Available bool `json:"available"`
}

type ackPayload struct {
	OrderID types.ID `json:"orderId"`
}

type locationAckPayload struct {
	OccurredAt time.Time `json:"occurredAt"`
}

// HandleMessage processes one inbound client message. Malformed or
// unauthorized messages produce an `error` reply and never take down the
// connection or the server.
func (h *Hub) HandleMessage(ctx context.Context, connID uuid.UUID, raw []byte) {
	c, ok := h.registry.Client(connID)
	if !ok {
		return
	}

	var env wire.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.Link.Send(wire.Marshal("error", wire.ErrorPayload{Message: "malformed message"}))
		return
	}

	switch env.Event {
	case "subscribe:order":
		h.handleSubscribe(ctx, c, env.Payload)
	case "unsubscribe:order":
		h.handleUnsubscribe(c, env.Payload)
	case "driver:location":
		h.handleDriverLocation(ctx, c, env.Payload)
	case "driver:availability":
		h.handleDriverAvailability(ctx, c, env.Payload)
	default:
		c.Link.Send(wire.Marshal("error", wire.ErrorPayload{Message: "unknown event: " + env.Event}))
	}
}

// handleSubscribe joins an order room after verifying the principal is the
// order's customer, chef, assigned driver, or staff.
func (h *Hub) handleSubscribe(ctx context.Context, c *Client, payload json.RawMessage) {
	var req subscribePayload
	if err := json.Unmarshal(payload, &req); err != nil || req.OrderID == "" {
		c.Link.Send(wire.Marshal("error", wire.ErrorPayload{Message: "malformed subscribe payload"}))
		return
	}

	if !c.Principal.Role.Staff() {
		o, err := h.orders.Get(ctx, req.OrderID)
		if err != nil || !o.CanView(c.Principal.ID, c.Principal.Role) {
			h.logger.Warn("unauthorized subscribe",
				slog.String("principalID", string(c.Principal.ID)),
				slog.String("orderID", string(req.OrderID)))
			c.Link.Send(wire.Marshal("error", wire.ErrorPayload{Message: "not authorized for this order"}))
			return
		}
	}

	h.registry.Join(c.ConnID, types.OrderRoom(req.OrderID))
	c.Link.Send(wire.Marshal("subscribed:order", ackPayload{OrderID: req.OrderID}))
}

func (h *Hub) handleUnsubscribe(c *Client, payload json.RawMessage) {
	var req subscribePayload
	if err := json.Unmarshal(payload, &req); err != nil || req.OrderID == "" {
		c.Link.Send(wire.Marshal("error", wire.ErrorPayload{Message: "malformed unsubscribe payload"}))
		return
	}

	h.registry.Leave(c.ConnID, types.OrderRoom(req.OrderID))
	c.Link.Send(wire.Marshal("unsubscribed:order", ackPayload{OrderID: req.OrderID}))
}

// handleDriverLocation records a driver position and forwards it to the
// order room via the notification router. Reports faster than the minimum
// gap are acknowledged but otherwise dropped.
func (h *Hub) handleDriverLocation(ctx context.Context, c *Client, payload json.RawMessage) {
	if c.Principal.Role != types.RoleDriver {
		c.Link.Send(wire.Marshal("error", wire.ErrorPayload{Message: "driver role required"}))
		return
	}

	var req locationPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		c.Link.Send(wire.Marshal("error", wire.ErrorPayload{Message: "malformed location payload"}))
		return
	}

	now := time.Now().UTC()
	if !h.acceptLocation(c.Principal.ID, now) {
		c.Link.Send(wire.Marshal("driver:location_acknowledged", locationAckPayload{OccurredAt: now}))
		return
	}

	pos := types.Point{Lat: req.Lat, Lng: req.Lng}
	if err := h.presence.UpsertLocation(ctx, c.Principal.ID, pos, req.HeadingDeg, now); err != nil {
		h.logger.Error("presence update failed",
			slog.String("driverID", string(c.Principal.ID)), slog.Any("error", err))
	}

	c.Link.Send(wire.Marshal("driver:location_acknowledged", locationAckPayload{OccurredAt: now}))

	if req.OrderID != "" {
		h.publisher.Publish(notify.DriverLocation(req.OrderID, c.Principal.ID, pos, now))
	}
}

func (h *Hub) handleDriverAvailability(ctx context.Context, c *Client, payload json.RawMessage) {
	if c.Principal.Role != types.RoleDriver {
		c.Link.Send(wire.Marshal("error", wire.ErrorPayload{Message: "driver role required"}))
		return
	}

	var req availabilityPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		c.Link.Send(wire.Marshal("error", wire.ErrorPayload{Message: "malformed availability payload"}))
		return
	}

	if err := h.presence.SetAvailable(ctx, c.Principal.ID, req.Available); err != nil {
		h.logger.Error("availability update failed",
			slog.String("driverID", string(c.Principal.ID)), slog.Any("error", err))
		c.Link.Send(wire.Marshal("error", wire.ErrorPayload{Message: "availability update failed"}))
		return
	}
	c.Link.Send(wire.Marshal("driver:availability_acknowledged", availabilityPayload{Available: req.Available}))
}

// acceptLocation enforces the per-driver minimum inter-report interval.
func (h *Hub) acceptLocation(driverID types.ID, now time.Time) bool {
	if h.config.LocationMinGap <= 0 {
		return true
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if last, ok := h.lastSeen[driverID]; ok && now.Sub(last) < h.config.LocationMinGap {
		return false
	}
	h.lastSeen[driverID] = now
	return true
}
