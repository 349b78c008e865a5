// README: HTTP surface; websocket upgrade and the internal callback API.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"savora/internal/config"
	"savora/internal/dispatch"
	"savora/internal/eta"
	"savora/internal/http/middleware"
	"savora/internal/notify"
	"savora/internal/order"
	"savora/internal/realtime"
	"savora/internal/transport"
	"savora/internal/types"
)

// ProfileWriter pushes slow-changing driver dispatch attributes into the
// presence store.
type ProfileWriter interface {
	SetProfile(ctx context.Context, id types.ID, verified bool, rating float64) error
}

type ServerDeps struct {
	Logger    *slog.Logger
	Hub       *realtime.Hub
	Orders    *order.Service
	Selector  *dispatch.Selector
	Publisher *notify.Router
	Refresher *eta.Refresher
	Profiles  ProfileWriter
	Config    config.Config
}

type Server struct {
	logger    *slog.Logger
	hub       *realtime.Hub
	orders    *order.Service
	selector  *dispatch.Selector
	publisher *notify.Router
	refresher *eta.Refresher
	profiles  ProfileWriter
	config    config.Config

	// connCtx is the base context for connection goroutines; cancelling it
	// drains every live websocket during shutdown.
	connCtx context.Context
	connWG  *sync.WaitGroup
}

func NewServer(connCtx context.Context, connWG *sync.WaitGroup, deps ServerDeps) *Server {
	return &Server{
		logger:    deps.Logger,
		hub:       deps.Hub,
		orders:    deps.Orders,
		selector:  deps.Selector,
		publisher: deps.Publisher,
		refresher: deps.Refresher,
		profiles:  deps.Profiles,
		config:    deps.Config,
		connCtx:   connCtx,
		connWG:    connWG,
	}
}

func (s *Server) Routes() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Recovery(s.logger), middleware.Logging(s.logger))

	r.GET("/ws", s.handleWS)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	internal := r.Group("/internal", middleware.ServiceAuth(s.config.Auth.ServiceToken))
	internal.POST("/orders", s.handleOrderCreated)
	internal.POST("/orders/:id/transition", s.handleTransition)
	internal.POST("/orders/:id/dispatch", s.handleDispatch)
	internal.PUT("/drivers/:id/profile", s.handleDriverProfile)

	return r
}

// handleWS upgrades the connection and hands it to the hub. The bearer
// credential comes from the Authorization header, or a token query param for
// browser clients that cannot set headers on websocket handshakes.
func (s *Server) handleWS(c *gin.Context) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if token == "" {
		token = c.Query("token")
	}

	ws, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", slog.Any("error", err))
		return
	}

	conn := transport.NewConn(s.connCtx, s.connWG, ws, transport.Config{
		ReadTimeout: s.config.Realtime.ReadTimeout,
	}, s.logger)
	conn.SetOnMessage(s.hub.HandleMessage)
	conn.SetOnClose(func(id uuid.UUID, _ error) {
		s.hub.Disconnect(id)
	})

	// Pumps start before authentication so the auth error message, if any,
	// reaches the client.
	conn.Run()
	if err := s.hub.Connect(conn, token); err != nil {
		return
	}
	<-conn.Done()
}

type orderCreatedRequest struct {
	OrderID types.ID `json:"orderId" binding:"required"`
}

// handleOrderCreated is called by the order service right after persisting a
// new order; the chef gets an order:new push.
func (s *Server) handleOrderCreated(c *gin.Context) {
	var req orderCreatedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "orderId is required"})
		return
	}

	o, err := s.orders.Get(c.Request.Context(), req.OrderID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}

	s.publisher.Publish(notify.OrderCreated(o))
	c.JSON(http.StatusAccepted, gin.H{"orderId": o.ID})
}

type transitionRequest struct {
	ToStatus string            `json:"toStatus" binding:"required"`
	ActorID  types.ID          `json:"actorId" binding:"required"`
	DriverID *types.ID         `json:"driverId,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// handleTransition runs the state machine for an order mutation and fans the
// accepted event out. Rejections carry the machine's reason and nothing is
// broadcast.
func (s *Server) handleTransition(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	orderID := types.ID(c.Param("id"))

	ev, err := s.orders.Transition(c.Request.Context(), order.TransitionCommand{
		OrderID:  orderID,
		ToStatus: order.Status(req.ToStatus),
		ActorID:  req.ActorID,
		DriverID: req.DriverID,
		Metadata: req.Metadata,
	})
	if err != nil {
		status, reason := transitionError(err)
		c.JSON(status, gin.H{"error": reason})
		return
	}

	// The status broadcast itself is published by the order service's
	// OnAccepted hook while the per-order lock is held.
	s.afterTransition(c.Request.Context(), ev)

	c.JSON(http.StatusOK, gin.H{
		"orderId":    ev.OrderID,
		"fromStatus": ev.FromStatus,
		"toStatus":   ev.ToStatus,
		"occurredAt": ev.OccurredAt,
	})
}

// afterTransition wires the side effects of specific transitions: the
// assignment push and the ETA refresh window.
func (s *Server) afterTransition(ctx context.Context, ev *order.StatusEvent) {
	switch ev.ToStatus {
	case order.StatusAssignedToDriver:
		o, err := s.orders.Get(ctx, ev.OrderID)
		if err != nil || o.DriverID == nil {
			return
		}
		s.publisher.Publish(notify.DriverAssigned(o, *o.DriverID))

	case order.StatusInTransit:
		o, err := s.orders.Get(ctx, ev.OrderID)
		if err != nil {
			return
		}
		s.refresher.Track(o.ID, o.PickupLocation, o.DeliveryLocation)

	case order.StatusDelivered, order.StatusCancelled:
		s.refresher.Untrack(ev.OrderID)
		s.publisher.Forget(ev.OrderID)
	}
}

func transitionError(err error) (int, string) {
	switch {
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound, "order not found"
	case errors.Is(err, order.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, order.ErrNoOp):
		return http.StatusUnprocessableEntity, "no_op"
	case errors.Is(err, order.ErrInvalidTransition):
		return http.StatusUnprocessableEntity, "invalid_transition"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

type driverProfileRequest struct {
	Verified bool    `json:"verified"`
	Rating   float64 `json:"rating"`
}

// handleDriverProfile syncs verification and rating from the driver record
// into the presence store, where the candidate selector reads them.
func (s *Server) handleDriverProfile(c *gin.Context) {
	var req driverProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	driverID := types.ID(c.Param("id"))

	if err := s.profiles.SetProfile(c.Request.Context(), driverID, req.Verified, req.Rating); err != nil {
		s.logger.Error("profile sync failed",
			slog.String("driverID", string(driverID)), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "profile sync failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"driverId": driverID})
}

type dispatchResponse struct {
	OrderID    types.ID             `json:"orderId"`
	Candidates []dispatch.Candidate `json:"candidates"`
	Notified   *types.ID            `json:"notified,omitempty"`
}

// handleDispatch selects nearby candidates for a ready order and notifies
// the best one. An empty candidate list is a valid result; the order service
// owns retry and backoff.
func (s *Server) handleDispatch(c *gin.Context) {
	orderID := types.ID(c.Param("id"))

	o, err := s.orders.Get(c.Request.Context(), orderID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	if o.Status != order.StatusReadyForPickup {
		c.JSON(http.StatusConflict, gin.H{"error": "order is not ready for pickup"})
		return
	}

	candidates := s.selector.SelectCandidates(c.Request.Context(), o.PickupLocation, dispatch.Params{
		Limit:           s.config.Dispatch.Limit,
		InitialRadiusKm: s.config.Dispatch.InitialRadiusKm,
		MaxRadiusKm:     s.config.Dispatch.MaxRadiusKm,
		MinCandidates:   s.config.Dispatch.MinCandidates,
	})

	resp := dispatchResponse{OrderID: orderID, Candidates: candidates}
	if len(candidates) > 0 {
		winner := candidates[0].DriverID
		s.publisher.Publish(notify.DriverAssigned(o, winner))
		resp.Notified = &winner
	}
	c.JSON(http.StatusOK, resp)
}
