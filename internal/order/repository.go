// Package order provides the order store port and its in-memory
// implementation. Persistence engine design is out of scope; the port keeps
// the orchestration testable and swappable.
package order

import (
	"context"
	"sync"

	"github.com/resilient-commerce/orderflow/internal/order/domain"
)

// Repository persists orders. Update enforces optimistic concurrency: the
// order being committed must carry exactly the persisted version plus one,
// i.e. one state-machine mutation applied on top of the latest committed
// snapshot.
type Repository interface {
	Save(ctx context.Context, o *domain.Order) error
	Get(ctx context.Context, id string) (*domain.Order, error)
	Update(ctx context.Context, o *domain.Order) error
}

// MemoryRepository is a mutex-guarded map store. Orders are cloned on the
// way in and out so callers never alias persisted state.
type MemoryRepository struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orders: make(map[string]*domain.Order)}
}

func (r *MemoryRepository) Save(ctx context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[o.ID] = o.Clone()
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (r *MemoryRepository) Update(ctx context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[o.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if stored.Version != o.Version-1 {
		return &domain.ConcurrencyConflictError{
			OrderID:  o.ID,
			Expected: o.Version - 1,
			Actual:   stored.Version,
		}
	}
	r.orders[o.ID] = o.Clone()
	return nil
}
