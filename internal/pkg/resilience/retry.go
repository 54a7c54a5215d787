package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// TransientError marks a failure as retryable. Downstream adapters wrap
// timeouts and 5xx-equivalent failures with Transient; validation and
// business-rule errors are left unwrapped and propagate on first occurrence.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. Returns nil for a nil err.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is marked retryable anywhere in its chain.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// RetryExhaustedError carries the last error after all attempts failed,
// annotated with the total attempt count.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// RetryPolicy wraps a call with bounded exponential backoff. The zero value
// is not usable; construct via DefaultRetryPolicy or a literal.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	MaxDelay    time.Duration
	Jitter      bool
}

// DefaultRetryPolicy matches the service defaults: 4 attempts, 100ms base,
// doubling, 2s ceiling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   100 * time.Millisecond,
		Factor:      2,
		MaxDelay:    2 * time.Second,
	}
}

// Do invokes fn until it succeeds, fails with a non-transient error, or the
// attempt budget is spent. Backoff sleeps respect ctx cancellation.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	delay := p.BaseDelay
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if attempt >= attempts {
			return &RetryExhaustedError{Attempts: attempt, Err: err}
		}

		if werr := sleep(ctx, p.jittered(delay)); werr != nil {
			return &RetryExhaustedError{Attempts: attempt, Err: err}
		}
		delay = p.next(delay)
	}
}

func (p RetryPolicy) jittered(d time.Duration) time.Duration {
	if !p.Jitter || d <= 0 {
		return d
	}
	// Full jitter in [d/2, d) keeps the expected backoff while spreading
	// concurrent retriers apart.
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)))
}

func (p RetryPolicy) next(d time.Duration) time.Duration {
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	d = time.Duration(float64(d) * factor)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Guard composes a breaker around a retry policy: a tripped breaker
// short-circuits before any retry attempt, so retries are only spent on a
// dependency currently judged healthy.
func Guard(b *Breaker, p RetryPolicy, fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return b.Do(ctx, func(ctx context.Context) error {
			return p.Do(ctx, fn)
		})
	}
}
