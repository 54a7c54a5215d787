// Package resilience implements the circuit breaker and bounded-retry
// policies that guard calls to downstream dependencies.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the mode of a circuit breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen matches any *CircuitOpenError via errors.Is.
var ErrCircuitOpen = errors.New("circuit open")

// CircuitOpenError is returned when a call is rejected because the breaker
// judged the dependency unhealthy. The downstream is never invoked.
type CircuitOpenError struct {
	Name string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit %q open: calls rejected", e.Name)
}

func (e *CircuitOpenError) Is(target error) bool { return target == ErrCircuitOpen }

// Clock abstracts time.Now so breaker timeouts can be driven in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Breaker guards one logical downstream dependency. All state lives behind a
// single mutex; instances are shared across request flows and are safe for
// concurrent use.
type Breaker struct {
	name string

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool

	failureThreshold int
	resetTimeout     time.Duration
	clock            Clock
	isFailure        func(error) bool
	onStateChange    func(name string, from, to State)
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithFailureThreshold sets how many consecutive classified failures trip
// the breaker open.
func WithFailureThreshold(n int) BreakerOption {
	return func(b *Breaker) { b.failureThreshold = n }
}

// WithResetTimeout sets how long the breaker stays open before allowing a
// probe call.
func WithResetTimeout(d time.Duration) BreakerOption {
	return func(b *Breaker) { b.resetTimeout = d }
}

// WithClock injects a clock; tests use this to advance time deterministically.
func WithClock(c Clock) BreakerOption {
	return func(b *Breaker) { b.clock = c }
}

// WithIsFailure supplies the failure classifier. Only errors for which fn
// returns true count against the threshold; validation and business-rule
// errors must not trip the breaker.
func WithIsFailure(fn func(error) bool) BreakerOption {
	return func(b *Breaker) { b.isFailure = fn }
}

// OnStateChange registers a hook invoked after every state transition.
func OnStateChange(fn func(name string, from, to State)) BreakerOption {
	return func(b *Breaker) { b.onStateChange = fn }
}

// NewBreaker creates a closed breaker named after the dependency it protects.
func NewBreaker(name string, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		name:             name,
		state:            StateClosed,
		failureThreshold: 5,
		resetTimeout:     30 * time.Second,
		clock:            systemClock{},
		isFailure:        func(err error) bool { return err != nil },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the dependency name the breaker guards.
func (b *Breaker) Name() string { return b.name }

// State reports the current mode. An open breaker whose reset timeout has
// elapsed still reports open until the next probe call is attempted.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Counts returns the consecutive classified failure count.
func (b *Breaker) Counts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset forces the breaker back to closed with counters cleared.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
	b.failures = 0
	b.probing = false
}

// Do invokes fn under the breaker. While open it fails immediately with a
// *CircuitOpenError without invoking fn; in half-open exactly one probe is
// let through at a time.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.clock.Now().Sub(b.openedAt) < b.resetTimeout {
			return &CircuitOpenError{Name: b.name}
		}
		b.transition(StateHalfOpen)
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return &CircuitOpenError{Name: b.name}
		}
		b.probing = true
		return nil
	}
	return nil
}

func (b *Breaker) record(err error) {
	failed := b.isFailure(err)

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.probing = false
		if failed {
			b.trip()
			return
		}
		b.transition(StateClosed)
		b.failures = 0
	case StateClosed:
		if !failed {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.failureThreshold {
			b.trip()
		}
	case StateOpen:
		// A call admitted before the trip finished after it; the rejection
		// window already covers it.
	}
}

// trip moves to open and restarts the reset timeout. Caller holds the lock.
func (b *Breaker) trip() {
	b.transition(StateOpen)
	b.openedAt = b.clock.Now()
}

// transition updates state and fires the hook. Caller holds the lock.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}
