// Package app orchestrates the order core: input validation, the guarded
// inventory check, the state machine, the optimistic-concurrency commit and
// the outbox hand-off. All collaborators arrive through the constructor.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/resilient-commerce/orderflow/internal/inventory"
	"github.com/resilient-commerce/orderflow/internal/order"
	"github.com/resilient-commerce/orderflow/internal/order/domain"
	"github.com/resilient-commerce/orderflow/internal/outbox"
	"github.com/resilient-commerce/orderflow/internal/pkg/cache"
)

// Service drives the order lifecycle.
type Service struct {
	orders  order.Repository
	outbox  outbox.Repository
	checker inventory.Checker
	cache   cache.Cache
	idemTTL time.Duration
}

func NewService(orders order.Repository, ob outbox.Repository, checker inventory.Checker, c cache.Cache, idemTTL time.Duration) *Service {
	return &Service{
		orders:  orders,
		outbox:  ob,
		checker: checker,
		cache:   c,
		idemTTL: idemTTL,
	}
}

// CreateOrder validates the request and commits a PENDING order together
// with its order.created outbox row. A repeated idempotency key returns the
// previously created order instead of creating a second one.
func (s *Service) CreateOrder(ctx context.Context, customerID, idempotencyKey string, items []domain.OrderItem) (*domain.Order, error) {
	if idempotencyKey != "" {
		key := s.cache.GenerateKey("create", idempotencyKey)
		if id, err := s.cache.Get(ctx, key); err == nil && id != "" {
			return s.orders.Get(ctx, id)
		}
	}

	o, err := domain.NewOrder(customerID, items)
	if err != nil {
		return nil, err
	}

	ev, err := domain.NewEvent(domain.EventOrderCreated, o.ID, domain.CreatedPayload(o))
	if err != nil {
		return nil, err
	}

	if err := s.orders.Save(ctx, o); err != nil {
		return nil, fmt.Errorf("save order: %w", err)
	}
	if err := s.outbox.Append(ctx, outbox.NewRecord(ev)); err != nil {
		return nil, fmt.Errorf("append %s to outbox: %w", ev.EventName, err)
	}

	if idempotencyKey != "" {
		key := s.cache.GenerateKey("create", idempotencyKey)
		if err := s.cache.Set(ctx, key, o.ID, s.idemTTL); err != nil {
			slog.WarnContext(ctx, "failed to record idempotency key", "order_id", o.ID, "error", err)
		}
	}

	slog.InfoContext(ctx, "order created", "order_id", o.ID, "customer_id", customerID, "total", o.Total)
	return o, nil
}

// GetOrder loads one order.
func (s *Service) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return s.orders.Get(ctx, id)
}

// Confirm checks inventory through the breaker+retry guard, then drives
// PENDING → CONFIRMED. An unavailable item is a business rejection; a
// tripped breaker fails fast with a CircuitOpenError.
func (s *Service) Confirm(ctx context.Context, id string) (*domain.Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	available, err := s.checker.CheckAvailability(ctx, o.Items)
	if err != nil {
		return nil, fmt.Errorf("inventory check for order %s: %w", id, err)
	}
	if !available {
		return nil, &domain.InsufficientStockError{OrderID: id}
	}

	return s.mutate(ctx, id, domain.EventOrderConfirmed, (*domain.Order).Confirm)
}

// StartProcessing drives CONFIRMED → PROCESSING.
func (s *Service) StartProcessing(ctx context.Context, id string) (*domain.Order, error) {
	return s.mutate(ctx, id, domain.EventOrderProcessing, (*domain.Order).StartProcessing)
}

// Ship drives PROCESSING → SHIPPED.
func (s *Service) Ship(ctx context.Context, id string) (*domain.Order, error) {
	return s.mutate(ctx, id, domain.EventOrderShipped, (*domain.Order).Ship)
}

// Deliver drives SHIPPED → DELIVERED.
func (s *Service) Deliver(ctx context.Context, id string) (*domain.Order, error) {
	return s.mutate(ctx, id, domain.EventOrderDelivered, (*domain.Order).Deliver)
}

// Cancel cancels the order if its status still permits it.
func (s *Service) Cancel(ctx context.Context, id string) (*domain.Order, error) {
	return s.mutate(ctx, id, domain.EventOrderCancelled, (*domain.Order).Cancel)
}

// mutate runs one state-machine operation with a reload-and-retry on a
// version conflict, exactly once per user action. On commit it appends the
// transition event to the outbox.
func (s *Service) mutate(ctx context.Context, id, eventName string, op func(*domain.Order) (domain.Transition, error)) (*domain.Order, error) {
	const maxTries = 2

	for try := 1; ; try++ {
		o, err := s.orders.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		tr, err := op(o)
		if err != nil {
			return nil, err
		}

		if err := s.orders.Update(ctx, o); err != nil {
			var conflict *domain.ConcurrencyConflictError
			if errors.As(err, &conflict) && try < maxTries {
				slog.WarnContext(ctx, "version conflict, reloading order", "order_id", id, "try", try)
				continue
			}
			return nil, err
		}

		ev, err := domain.NewEvent(eventName, o.ID, domain.StatusChangedPayload{
			From:    tr.From,
			To:      tr.To,
			Version: o.Version,
		})
		if err != nil {
			return nil, err
		}
		if err := s.outbox.Append(ctx, outbox.NewRecord(ev)); err != nil {
			return nil, fmt.Errorf("append %s to outbox: %w", eventName, err)
		}

		slog.InfoContext(ctx, "order transitioned",
			"order_id", o.ID,
			"from", tr.From,
			"to", tr.To,
			"version", o.Version,
		)
		return o, nil
	}
}
