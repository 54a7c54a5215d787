package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/resilient-commerce/orderflow/internal/inventory"
	"github.com/resilient-commerce/orderflow/internal/order"
	"github.com/resilient-commerce/orderflow/internal/order/domain"
	"github.com/resilient-commerce/orderflow/internal/outbox"
	"github.com/resilient-commerce/orderflow/internal/pkg/cache"
	"github.com/resilient-commerce/orderflow/internal/pkg/resilience"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// switchableChecker flips between healthy and transiently failing.
type switchableChecker struct {
	mu      sync.Mutex
	failing bool
	calls   int
}

func (c *switchableChecker) setFailing(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failing = v
}

func (c *switchableChecker) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *switchableChecker) CheckAvailability(ctx context.Context, items []domain.OrderItem) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.failing {
		return false, resilience.Transient(errors.New("inventory timeout"))
	}
	return true, nil
}

type fixture struct {
	svc     *Service
	orders  *order.MemoryRepository
	outbox  *outbox.MemoryRepository
	checker *switchableChecker
	breaker *resilience.Breaker
	clock   *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := newFakeClock()
	breaker := resilience.NewBreaker("inventory",
		resilience.WithFailureThreshold(3),
		resilience.WithResetTimeout(10*time.Second),
		resilience.WithClock(clock),
		resilience.WithIsFailure(func(err error) bool {
			return resilience.IsTransient(err) || errors.Is(err, context.DeadlineExceeded)
		}),
	)
	checker := &switchableChecker{}
	guarded := inventory.NewGuardedChecker(checker, breaker,
		resilience.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, Factor: 2}, nil)

	orders := order.NewMemoryRepository()
	ob := outbox.NewMemoryRepository()
	svc := NewService(orders, ob, guarded, cache.NewMemoryCache("test"), time.Minute)

	return &fixture{
		svc:     svc,
		orders:  orders,
		outbox:  ob,
		checker: checker,
		breaker: breaker,
		clock:   clock,
	}
}

func itemsA() []domain.OrderItem {
	return []domain.OrderItem{{ProductID: "A", Quantity: 2, UnitPrice: 10}}
}

func TestCreateOrderCommitsPendingWithOutboxEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.CreateOrder(ctx, "cust-1", "", itemsA())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if o.Total != 20 {
		t.Fatalf("expected total 20, got %v", o.Total)
	}
	if o.Status != domain.StatusPending || o.Version != 1 {
		t.Fatalf("expected PENDING v1, got %s v%d", o.Status, o.Version)
	}

	rows := f.outbox.All()
	if len(rows) != 1 || rows[0].EventName != domain.EventOrderCreated {
		t.Fatalf("expected one order.created outbox row, got %+v", rows)
	}
	if rows[0].OrderID != o.ID || rows[0].Status != outbox.StatusPending {
		t.Fatalf("outbox row mismatched: %+v", rows[0])
	}
}

func TestCreateOrderRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateOrder(context.Background(), "cust-1", "", nil)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(f.outbox.All()) != 0 {
		t.Fatalf("validation failure must not write the outbox")
	}
}

func TestCreateOrderIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateOrder(ctx, "cust-1", "key-1", itemsA())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := f.svc.CreateOrder(ctx, "cust-1", "key-1", itemsA())
	if err != nil {
		t.Fatalf("replayed create: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("idempotency key created a second order")
	}
	if len(f.outbox.All()) != 1 {
		t.Fatalf("replayed create must not append a second outbox row")
	}
}

func TestConfirmEmitsEventAndBumpsVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, _ := f.svc.CreateOrder(ctx, "cust-1", "", itemsA())
	confirmed, err := f.svc.Confirm(ctx, o.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != domain.StatusConfirmed || confirmed.Version != 2 {
		t.Fatalf("expected CONFIRMED v2, got %s v%d", confirmed.Status, confirmed.Version)
	}

	rows := f.outbox.All()
	if len(rows) != 2 || rows[1].EventName != domain.EventOrderConfirmed {
		t.Fatalf("expected order.confirmed appended, got %+v", rows)
	}
}

func TestConfirmInsufficientStockIsNotABreakerFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, _ := f.svc.CreateOrder(ctx, "cust-1", "", itemsA())

	// The checker answers, but the answer is "no stock".
	noStock := inventory.NewStockService(map[string]int{"A": 0})
	svc := NewService(f.orders, f.outbox, noStock, cache.NewMemoryCache("test"), time.Minute)
	_, err := svc.Confirm(ctx, o.ID)
	var stockErr *domain.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}

	fresh, _ := f.orders.Get(ctx, o.ID)
	if fresh.Status != domain.StatusPending || fresh.Version != 1 {
		t.Fatalf("rejected confirm must not mutate the order: %s v%d", fresh.Status, fresh.Version)
	}
}

func TestFullLifecycleEmitsOrderedEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, _ := f.svc.CreateOrder(ctx, "cust-1", "", itemsA())
	steps := []func(context.Context, string) (*domain.Order, error){
		f.svc.Confirm,
		f.svc.StartProcessing,
		f.svc.Ship,
		f.svc.Deliver,
	}
	for _, step := range steps {
		if _, err := step(ctx, o.ID); err != nil {
			t.Fatalf("lifecycle step: %v", err)
		}
	}

	want := []string{
		domain.EventOrderCreated,
		domain.EventOrderConfirmed,
		domain.EventOrderProcessing,
		domain.EventOrderShipped,
		domain.EventOrderDelivered,
	}
	rows := f.outbox.All()
	if len(rows) != len(want) {
		t.Fatalf("expected %d outbox rows, got %d", len(want), len(rows))
	}
	for i, name := range want {
		if rows[i].EventName != name {
			t.Fatalf("row %d: expected %s, got %s", i, name, rows[i].EventName)
		}
	}

	final, _ := f.orders.Get(ctx, o.ID)
	if final.Status != domain.StatusDelivered || final.Version != 5 {
		t.Fatalf("expected DELIVERED v5, got %s v%d", final.Status, final.Version)
	}

	if _, err := f.svc.Cancel(ctx, o.ID); err == nil {
		t.Fatalf("cancelling a delivered order must fail")
	}
}

// conflictOnceRepo injects one version conflict to exercise the
// reload-and-retry path.
type conflictOnceRepo struct {
	*order.MemoryRepository
	mu       sync.Mutex
	injected bool
}

func (r *conflictOnceRepo) Update(ctx context.Context, o *domain.Order) error {
	r.mu.Lock()
	if !r.injected {
		r.injected = true
		r.mu.Unlock()
		return &domain.ConcurrencyConflictError{OrderID: o.ID, Expected: o.Version - 1, Actual: o.Version}
	}
	r.mu.Unlock()
	return r.MemoryRepository.Update(ctx, o)
}

func TestMutateReloadsAndRetriesOnceOnConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	repo := &conflictOnceRepo{MemoryRepository: f.orders}
	svc := NewService(repo, f.outbox, f.checker, cache.NewMemoryCache("test"), time.Minute)

	o, _ := svc.CreateOrder(ctx, "cust-1", "", itemsA())
	confirmed, err := svc.Confirm(ctx, o.ID)
	if err != nil {
		t.Fatalf("expected conflict to be absorbed by one retry, got %v", err)
	}
	if confirmed.Status != domain.StatusConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", confirmed.Status)
	}
}

func TestEndToEndBreakerScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Create order with items [{A, 2, 10}]: total 20, PENDING.
	o, err := f.svc.CreateOrder(ctx, "cust-1", "", itemsA())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if o.Total != 20 || o.Status != domain.StatusPending {
		t.Fatalf("expected total 20 PENDING, got %v %s", o.Total, o.Status)
	}

	// Healthy confirm: CONFIRMED, version 2.
	confirmed, err := f.svc.Confirm(ctx, o.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != domain.StatusConfirmed || confirmed.Version != 2 {
		t.Fatalf("expected CONFIRMED v2, got %s v%d", confirmed.Status, confirmed.Version)
	}

	// Inventory starts failing: three consecutive transient failures open
	// the breaker.
	f.checker.setFailing(true)
	second, _ := f.svc.CreateOrder(ctx, "cust-2", "", itemsA())
	for i := 0; i < 3; i++ {
		if _, err := f.svc.Confirm(ctx, second.ID); err == nil {
			t.Fatalf("expected confirm %d to fail", i+1)
		}
	}
	if f.breaker.State() != resilience.StateOpen {
		t.Fatalf("expected breaker open after 3 failures, got %s", f.breaker.State())
	}

	// While open, confirms fail fast without touching inventory.
	callsBefore := f.checker.callCount()
	_, err = f.svc.Confirm(ctx, second.ID)
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected CircuitOpenError, got %v", err)
	}
	if f.checker.callCount() != callsBefore {
		t.Fatalf("inventory invoked while breaker open")
	}

	// After the reset timeout the probe goes through and the order confirms.
	f.checker.setFailing(false)
	f.clock.Advance(11 * time.Second)
	recovered, err := f.svc.Confirm(ctx, second.ID)
	if err != nil {
		t.Fatalf("confirm after recovery: %v", err)
	}
	if recovered.Status != domain.StatusConfirmed {
		t.Fatalf("expected CONFIRMED after recovery, got %s", recovered.Status)
	}
	if f.breaker.State() != resilience.StateClosed {
		t.Fatalf("expected breaker closed after probe success, got %s", f.breaker.State())
	}
}
