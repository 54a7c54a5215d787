package inventory

import (
	"context"
	"errors"

	"github.com/resilient-commerce/orderflow/internal/order/domain"
	"github.com/resilient-commerce/orderflow/internal/pkg/resilience"
)

// GuardedChecker wraps a Checker with the conventional breaker-outside,
// retry-inside composition and a per-call deadline. A tripped breaker
// rejects before any retry attempt is spent.
type GuardedChecker struct {
	next    Checker
	breaker *resilience.Breaker
	retry   resilience.RetryPolicy
	timeout timeoutFunc
}

type timeoutFunc func(ctx context.Context) (context.Context, context.CancelFunc)

// NewGuardedChecker guards next with breaker and retry. timeout bounds every
// individual downstream attempt; exceeding it counts as a breaker failure
// and is retried as transient.
func NewGuardedChecker(next Checker, breaker *resilience.Breaker, retry resilience.RetryPolicy, timeout func(context.Context) (context.Context, context.CancelFunc)) *GuardedChecker {
	return &GuardedChecker{
		next:    next,
		breaker: breaker,
		retry:   retry,
		timeout: timeout,
	}
}

// Breaker exposes the guarding breaker for the readiness probe.
func (g *GuardedChecker) Breaker() *resilience.Breaker { return g.breaker }

func (g *GuardedChecker) CheckAvailability(ctx context.Context, items []domain.OrderItem) (bool, error) {
	var available bool

	call := func(ctx context.Context) error {
		attemptCtx := ctx
		if g.timeout != nil {
			var cancel context.CancelFunc
			attemptCtx, cancel = g.timeout(ctx)
			defer cancel()
		}

		ok, err := g.next.CheckAvailability(attemptCtx, items)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return resilience.Transient(err)
			}
			return err
		}
		available = ok
		return nil
	}

	err := g.breaker.Do(ctx, func(ctx context.Context) error {
		return g.retry.Do(ctx, call)
	})
	if err != nil {
		return false, err
	}
	return available, nil
}
