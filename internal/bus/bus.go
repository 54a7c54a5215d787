// Package bus is an in-process topic broker standing in for the external
// message broker. Delivery is at-least-once: a failing handler sees the same
// message again up to the configured delivery bound, after which the message
// goes to the subscriber's dead-letter queue. It is never silently dropped.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Message is one unit on the wire. Payload carries the JSON event envelope;
// Key groups messages that must stay ordered (the order ID).
type Message struct {
	ID         string
	Topic      string
	Key        string
	Payload    []byte
	OccurredAt time.Time

	// Attempt is the 1-based delivery attempt, set by the bus.
	Attempt int
}

// Handler processes one delivery. A non-nil error triggers redelivery.
type Handler func(ctx context.Context, msg Message) error

// Bus fans messages out to per-subscriber buffered channels. Publish acks
// once the message sits in every subscriber's buffer, so a slow consumer
// applies backpressure instead of losing events.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]*subscription

	maxDeliveries   int
	redeliveryDelay time.Duration
	buffer          int
}

type subscription struct {
	name       string
	ch         chan Message
	handler    Handler
	deadLetter *DeadLetterQueue
}

// New creates a broker. maxDeliveries bounds redelivery per message;
// redeliveryDelay spaces the redeliveries apart.
func New(maxDeliveries int, redeliveryDelay time.Duration) *Bus {
	if maxDeliveries < 1 {
		maxDeliveries = 1
	}
	return &Bus{
		subs:            make(map[string][]*subscription),
		maxDeliveries:   maxDeliveries,
		redeliveryDelay: redeliveryDelay,
		buffer:          256,
	}
}

// Subscribe registers h for topic and starts its delivery worker. Messages
// that exhaust the delivery bound land in the returned subscriber-owned
// dead-letter queue. The worker stops when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, topic, name string, h Handler) *DeadLetterQueue {
	sub := &subscription{
		name:       name,
		ch:         make(chan Message, b.buffer),
		handler:    h,
		deadLetter: NewDeadLetterQueue(),
	}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	go b.deliver(ctx, sub)
	return sub.deadLetter
}

// Publish enqueues msg to every subscriber of its topic. It returns only
// after each subscriber has durably buffered the message, or with ctx's
// error if a buffer stays full past the deadline.
func (b *Bus) Publish(ctx context.Context, msg Message) error {
	b.mu.RLock()
	subs := b.subs[msg.Topic]
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// deliver runs one subscriber's loop: attempt, back off, redeliver, and
// finally dead-letter.
func (b *Bus) deliver(ctx context.Context, sub *subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-sub.ch:
			var err error
			for attempt := 1; attempt <= b.maxDeliveries; attempt++ {
				msg.Attempt = attempt
				if err = sub.handler(ctx, msg); err == nil {
					break
				}
				slog.WarnContext(ctx, "event handling failed",
					"subscriber", sub.name,
					"topic", msg.Topic,
					"event_id", msg.ID,
					"attempt", attempt,
					"error", err,
				)
				if attempt < b.maxDeliveries {
					select {
					case <-ctx.Done():
						return
					case <-time.After(b.redeliveryDelay):
					}
				}
			}
			if err != nil {
				slog.ErrorContext(ctx, "event moved to dead letter queue",
					"subscriber", sub.name,
					"topic", msg.Topic,
					"event_id", msg.ID,
					"error", err,
				)
				sub.deadLetter.Push(msg, err)
			}
		}
	}
}
