// README: In-memory order storage; unit-test stand-in for the external datastore.
package order

import (
	"context"
	"sync"
	"time"

	"savora/internal/types"
)

// MemStore implements Storage with a mutex-guarded map. The compare-and-set
// in UpdateStatus matches the Postgres store's semantics so concurrency tests
// exercise the same serialization contract.
type MemStore struct {
	mu     sync.Mutex
	orders map[types.ID]*Order
}

func NewMemStore() *MemStore {
	return &MemStore{orders: make(map[types.ID]*Order)}
}

var _ Storage = (*MemStore)(nil)

// Put seeds an order record.
func (s *MemStore) Put(o *Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.orders[o.ID] = &cp
}

func (s *MemStore) Get(ctx context.Context, id types.ID) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *MemStore) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, driverID *types.ID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return false, ErrNotFound
	}
	if o.Status != from || o.StatusVersion != version {
		return false, nil
	}
	o.Status = to
	o.StatusVersion++
	if driverID != nil && o.DriverID == nil {
		d := *driverID
		o.DriverID = &d
	}
	o.UpdatedAt = time.Now()
	return true, nil
}
