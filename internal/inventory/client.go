// Package inventory is the external availability-check collaborator. The
// only surface the order core depends on is the Checker interface; the
// in-memory StockService stands in for the real service.
package inventory

import (
	"context"
	"sync"

	"github.com/resilient-commerce/orderflow/internal/order/domain"
)

// Checker answers whether every requested item is currently available.
type Checker interface {
	CheckAvailability(ctx context.Context, items []domain.OrderItem) (bool, error)
}

// StockService keeps stock levels in a mutex-guarded map.
type StockService struct {
	mu    sync.Mutex
	stock map[string]int
}

func NewStockService(initial map[string]int) *StockService {
	stock := make(map[string]int, len(initial))
	for id, qty := range initial {
		stock[id] = qty
	}
	return &StockService{stock: stock}
}

// SetStock replaces the level for one product.
func (s *StockService) SetStock(productID string, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stock[productID] = qty
}

// CheckAvailability returns false when any item is unknown or short. A false
// result is a business answer, not an error.
func (s *StockService) CheckAvailability(ctx context.Context, items []domain.OrderItem) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		available, ok := s.stock[it.ProductID]
		if !ok || available < it.Quantity {
			return false, nil
		}
	}
	return true, nil
}
