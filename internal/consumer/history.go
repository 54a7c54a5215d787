package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/resilient-commerce/orderflow/internal/order/domain"
)

// HistoryEntry is one line in an order's timeline.
type HistoryEntry struct {
	EventID    string    `json:"event_id"`
	EventName  string    `json:"event_name"`
	OccurredAt time.Time `json:"occurred_at"`
}

// History is a read model of every order's event timeline, built by
// consuming the order.* topics.
type History struct {
	mu      sync.RWMutex
	byOrder map[string][]HistoryEntry
}

func NewHistory() *History {
	return &History{byOrder: make(map[string][]HistoryEntry)}
}

// Apply is the History side effect; wrap it with consumer.New for dedupe.
func (h *History) Apply(ctx context.Context, ev domain.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byOrder[ev.OrderID] = append(h.byOrder[ev.OrderID], HistoryEntry{
		EventID:    ev.EventID,
		EventName:  ev.EventName,
		OccurredAt: ev.OccurredAt,
	})
	return nil
}

// Timeline returns the recorded entries for one order, oldest first.
func (h *History) Timeline(orderID string) []HistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]HistoryEntry(nil), h.byOrder[orderID]...)
}
