package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/resilient-commerce/orderflow/internal/bus"
	"github.com/resilient-commerce/orderflow/internal/order/domain"
	"github.com/resilient-commerce/orderflow/internal/pkg/resilience"
)

// Publisher is the broker surface the relay needs. Publish must not return
// until the broker has durably accepted the message.
type Publisher interface {
	Publish(ctx context.Context, msg bus.Message) error
}

// Relay drains pending outbox rows to the broker. One relay goroutine per
// process keeps publishing single-threaded, which preserves per-order
// ordering without any further coordination.
type Relay struct {
	repo     Repository
	pub      Publisher
	retry    resilience.RetryPolicy
	interval time.Duration
	batch    int
}

func NewRelay(repo Repository, pub Publisher, retry resilience.RetryPolicy, interval time.Duration, batch int) *Relay {
	if batch <= 0 {
		batch = 50
	}
	return &Relay{
		repo:     repo,
		pub:      pub,
		retry:    retry,
		interval: interval,
		batch:    batch,
	}
}

// Start runs the polling loop until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.DrainOnce(ctx); err != nil {
					slog.ErrorContext(ctx, "outbox drain failed", "error", err)
				}
			}
		}
	}()
}

// DrainOnce publishes one batch of pending rows in insertion order. On the
// first row that exhausts its publish retries the drain stops, so a later
// event for the same order can never overtake a failed earlier one; the
// failed row is marked FAILED and surfaced as a *PublishError.
func (r *Relay) DrainOnce(ctx context.Context) error {
	recs, err := r.repo.FetchPending(ctx, r.batch)
	if err != nil {
		return err
	}

	for _, rec := range recs {
		if err := r.publish(ctx, rec); err != nil {
			pubErr := &PublishError{EventID: rec.EventID, Err: err}
			if markErr := r.repo.MarkFailed(ctx, rec.ID, rec.Attempts+1, err.Error()); markErr != nil {
				slog.ErrorContext(ctx, "failed to mark outbox row", "event_id", rec.EventID, "error", markErr)
			}
			slog.ErrorContext(ctx, "event publish exhausted retries",
				"event_id", rec.EventID,
				"order_id", rec.OrderID,
				"event_name", rec.EventName,
				"error", err,
			)
			return pubErr
		}
		if err := r.repo.MarkSent(ctx, rec.ID); err != nil {
			// The event went out but the mark did not stick; the row will be
			// republished next tick. Consumers dedupe on event ID, so the
			// duplicate is harmless.
			slog.WarnContext(ctx, "sent event not marked, will republish", "event_id", rec.EventID, "error", err)
			return err
		}
	}
	return nil
}

func (r *Relay) publish(ctx context.Context, rec *Record) error {
	msg := bus.Message{
		ID:         rec.EventID,
		Topic:      rec.EventName,
		Key:        rec.OrderID,
		Payload:    mustEnvelope(rec),
		OccurredAt: rec.CreatedAt,
	}
	return r.retry.Do(ctx, func(ctx context.Context) error {
		// Broker failures are transient by definition here; anything
		// permanent shows up as exhausted retries and a FAILED row.
		return resilience.Transient(r.pub.Publish(ctx, msg))
	})
}

// mustEnvelope rebuilds the wire envelope from the stored row. The payload
// was marshalled at commit time, so this cannot fail.
func mustEnvelope(rec *Record) []byte {
	env := domain.Event{
		EventID:    rec.EventID,
		EventName:  rec.EventName,
		OrderID:    rec.OrderID,
		Payload:    rec.Payload,
		OccurredAt: rec.CreatedAt,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		panic("outbox: marshal stored event envelope: " + err.Error())
	}
	return raw
}
