// README: Order service validates state transitions against the external record.
package order

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"savora/internal/types"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrNoOp              = errors.New("no_op")
	ErrConflict          = errors.New("conflict")
)

// Storage abstracts the external order datastore. UpdateStatus must be a
// compare-and-set on (status, version) so concurrent transitions serialize;
// a lost race returns ok=false, surfaced as ErrConflict.
type Storage interface {
	Get(ctx context.Context, id types.ID) (*Order, error)
	UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, driverID *types.ID) (bool, error)
}

// EventAppender is implemented by stores that keep the transition audit log.
type EventAppender interface {
	AppendEvent(ctx context.Context, e *StatusEvent) error
}

type Service struct {
	store Storage

	// OnAccepted observes every accepted transition while the per-order lock
	// is still held, so the observation order within an order equals the
	// acceptance order. Optional; set it before serving traffic.
	OnAccepted func(ev *StatusEvent)

	// locks stripes per-order mutexes. Holding the stripe across the CAS and
	// OnAccepted keeps broadcast enqueue order equal to acceptance order.
	locks [64]sync.Mutex
}

func NewService(store Storage) *Service {
	return &Service{store: store}
}

func (s *Service) lockFor(id types.ID) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &s.locks[h.Sum32()%uint32(len(s.locks))]
}

type TransitionCommand struct {
	OrderID  types.ID
	ToStatus Status
	ActorID  types.ID
	Metadata map[string]string
	// DriverID is set only for ready_for_pickup → assigned_to_driver; the
	// driver is assigned exactly once and never reassigned here.
	DriverID *types.ID
}

// Transition validates and applies a status change. Accepted events reach
// the notification router through OnAccepted under the per-order lock; this
// core only validates and signals, durability is the order service's
// responsibility.
func (s *Service) Transition(ctx context.Context, cmd TransitionCommand) (*StatusEvent, error) {
	mu := s.lockFor(cmd.OrderID)
	mu.Lock()
	defer mu.Unlock()

	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if cmd.ToStatus == o.Status {
		return nil, ErrNoOp
	}
	if !CanTransition(o.Status, cmd.ToStatus) {
		return nil, ErrInvalidTransition
	}

	var driverID *types.ID
	if cmd.ToStatus == StatusAssignedToDriver {
		if o.DriverID != nil {
			// Exactly one driver per order; the state machine rejects the
			// transition path anyway, this guards the assignment itself.
			return nil, ErrInvalidTransition
		}
		driverID = cmd.DriverID
		if driverID == nil {
			id := cmd.ActorID
			driverID = &id
		}
	}

	ok, err := s.store.UpdateStatus(ctx, o.ID, o.Status, cmd.ToStatus, o.StatusVersion, driverID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}

	ev := &StatusEvent{
		OrderID:    o.ID,
		FromStatus: o.Status,
		ToStatus:   cmd.ToStatus,
		ActorID:    cmd.ActorID,
		OccurredAt: time.Now().UTC(),
		Metadata:   cmd.Metadata,
	}
	// Audit append is best effort; the accepted transition already happened.
	if a, ok := s.store.(EventAppender); ok {
		_ = a.AppendEvent(ctx, ev)
	}
	if s.OnAccepted != nil {
		s.OnAccepted(ev)
	}
	return ev, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	return s.store.Get(ctx, id)
}
