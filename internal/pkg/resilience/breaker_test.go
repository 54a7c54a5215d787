package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
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

var errBoom = errors.New("boom")

func failing(calls *int) func(context.Context) error {
	return func(context.Context) error {
		*calls++
		return errBoom
	}
}

func tripBreaker(t *testing.T, b *Breaker, failures int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < failures; i++ {
		if err := b.Do(ctx, func(context.Context) error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("expected downstream error, got %v", err)
		}
	}
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker("inventory", WithFailureThreshold(3), WithClock(newFakeClock()))

	tripBreaker(t, b, 2)
	if b.State() != StateClosed {
		t.Fatalf("expected closed after 2 failures, got %s", b.State())
	}

	tripBreaker(t, b, 1)
	if b.State() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %s", b.State())
	}
}

func TestOpenBreakerFailsFastWithoutInvokingDownstream(t *testing.T) {
	b := NewBreaker("inventory", WithFailureThreshold(3), WithClock(newFakeClock()))
	tripBreaker(t, b, 3)

	calls := 0
	err := b.Do(context.Background(), failing(&calls))
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	var coe *CircuitOpenError
	if !errors.As(err, &coe) || coe.Name != "inventory" {
		t.Fatalf("expected CircuitOpenError for inventory, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("downstream invoked %d times while open", calls)
	}
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	b := NewBreaker("inventory", WithFailureThreshold(3), WithClock(newFakeClock()))
	ctx := context.Background()

	tripBreaker(t, b, 2)
	if err := b.Do(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("success call: %v", err)
	}
	tripBreaker(t, b, 2)
	if b.State() != StateClosed {
		t.Fatalf("expected closed, counters should have reset")
	}
}

func TestHalfOpenProbeSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker("inventory",
		WithFailureThreshold(3),
		WithResetTimeout(30*time.Second),
		WithClock(clock),
	)
	tripBreaker(t, b, 3)

	clock.Advance(31 * time.Second)

	calls := 0
	err := b.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("probe call: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one probe, got %d", calls)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed after probe success, got %s", b.State())
	}
	if b.Counts() != 0 {
		t.Fatalf("expected counters reset, got %d", b.Counts())
	}
}

func TestHalfOpenProbeFailureReopensAndRestartsTimeout(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker("inventory",
		WithFailureThreshold(3),
		WithResetTimeout(30*time.Second),
		WithClock(clock),
	)
	tripBreaker(t, b, 3)

	clock.Advance(31 * time.Second)
	if err := b.Do(context.Background(), func(context.Context) error { return errBoom }); !errors.Is(err, errBoom) {
		t.Fatalf("expected probe failure, got %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected reopened, got %s", b.State())
	}

	// Timeout restarted: 20s later calls are still rejected.
	clock.Advance(20 * time.Second)
	calls := 0
	if err := b.Do(context.Background(), failing(&calls)); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("downstream invoked during restarted timeout")
	}
}

func TestHalfOpenAllowsSingleConcurrentProbe(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker("inventory",
		WithFailureThreshold(1),
		WithResetTimeout(time.Second),
		WithClock(clock),
	)
	tripBreaker(t, b, 1)
	clock.Advance(2 * time.Second)

	probeStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(context.Background(), func(context.Context) error {
			close(probeStarted)
			<-release
			return nil
		})
	}()

	<-probeStarted
	// A second caller while the probe is in flight is rejected.
	if err := b.Do(context.Background(), func(context.Context) error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected second caller rejected, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed after probe, got %s", b.State())
	}
}

func TestClassifierKeepsBusinessErrorsFromTripping(t *testing.T) {
	transientOnly := func(err error) bool { return IsTransient(err) }
	b := NewBreaker("inventory",
		WithFailureThreshold(1),
		WithIsFailure(transientOnly),
		WithClock(newFakeClock()),
	)

	businessErr := errors.New("item discontinued")
	if err := b.Do(context.Background(), func(context.Context) error { return businessErr }); !errors.Is(err, businessErr) {
		t.Fatalf("expected business error surfaced, got %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("business error tripped the breaker")
	}

	_ = b.Do(context.Background(), func(context.Context) error { return Transient(errBoom) })
	if b.State() != StateOpen {
		t.Fatalf("transient error should trip threshold=1 breaker")
	}
}

func TestOnStateChangeHook(t *testing.T) {
	var transitions []string
	b := NewBreaker("inventory",
		WithFailureThreshold(1),
		WithClock(newFakeClock()),
		OnStateChange(func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}),
	)
	tripBreaker(t, b, 1)
	if len(transitions) != 1 || transitions[0] != "closed->open" {
		t.Fatalf("unexpected transitions: %v", transitions)
	}
}
