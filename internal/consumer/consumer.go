// Package consumer applies event side effects exactly-once in observable
// outcome despite at-least-once delivery. Dedupe marks live in the shared
// cache keyed by event ID; a duplicate delivery is acknowledged and skipped.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/resilient-commerce/orderflow/internal/bus"
	"github.com/resilient-commerce/orderflow/internal/order/domain"
	"github.com/resilient-commerce/orderflow/internal/pkg/cache"
)

// SideEffect applies one event. It must be safe to invoke again after a
// failure; the dedupe mark is only kept once it succeeds.
type SideEffect func(ctx context.Context, ev domain.Event) error

// Consumer is the dedupe wrapper handed to the bus as a Handler.
type Consumer struct {
	name   string
	cache  cache.Cache
	effect SideEffect
	ttl    time.Duration
}

func New(name string, c cache.Cache, ttl time.Duration, effect SideEffect) *Consumer {
	return &Consumer{
		name:   name,
		cache:  c,
		effect: effect,
		ttl:    ttl,
	}
}

// Handle decodes the envelope, claims the event ID and applies the effect.
// A non-nil return makes the bus redeliver; an undecodable payload is a
// poison message and errors until the bus dead-letters it.
func (c *Consumer) Handle(ctx context.Context, msg bus.Message) error {
	var ev domain.Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return fmt.Errorf("%s: decode event envelope: %w", c.name, err)
	}

	key := c.cache.GenerateKey("dedupe:"+c.name, ev.EventID)
	claimed, err := c.cache.SetNX(ctx, key, "1", c.ttl)
	if err != nil {
		return fmt.Errorf("%s: claim event %s: %w", c.name, ev.EventID, err)
	}
	if !claimed {
		slog.InfoContext(ctx, "duplicate event skipped", "consumer", c.name, "event_id", ev.EventID)
		return nil
	}

	if err := c.effect(ctx, ev); err != nil {
		// Release the claim so the redelivery can try again.
		if delErr := c.cache.Del(ctx, key); delErr != nil {
			slog.ErrorContext(ctx, "failed to release dedupe mark",
				"consumer", c.name, "event_id", ev.EventID, "error", delErr)
		}
		return fmt.Errorf("%s: apply event %s: %w", c.name, ev.EventID, err)
	}
	return nil
}
