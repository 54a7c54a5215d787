package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event names double as broker topic names.
const (
	EventOrderCreated    = "order.created"
	EventOrderConfirmed  = "order.confirmed"
	EventOrderProcessing = "order.processing"
	EventOrderShipped    = "order.shipped"
	EventOrderDelivered  = "order.delivered"
	EventOrderCancelled  = "order.cancelled"
)

// Event is the wire envelope published to the broker. Events are created at
// commit time and never mutated afterwards; EventID is the consumer-side
// dedupe key.
type Event struct {
	EventID    string          `json:"eventId"`
	EventName  string          `json:"eventName"`
	OrderID    string          `json:"orderId"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// NewEvent builds an envelope with a fresh event ID and the payload
// serialised to JSON.
func NewEvent(name, orderID string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return Event{
		EventID:    uuid.NewString(),
		EventName:  name,
		OrderID:    orderID,
		Payload:    raw,
		OccurredAt: time.Now().UTC(),
	}, nil
}

// OrderCreatedPayload describes the initial commit of a new order.
type OrderCreatedPayload struct {
	CustomerID string      `json:"customer_id"`
	Total      float64     `json:"total"`
	Status     OrderStatus `json:"status"`
	Items      []EventItem `json:"items"`
}

// EventItem mirrors OrderItem in wire form.
type EventItem struct {
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// StatusChangedPayload describes one state-machine transition.
type StatusChangedPayload struct {
	From    OrderStatus `json:"from"`
	To      OrderStatus `json:"to"`
	Version int64       `json:"version"`
}

// CreatedPayload builds the order.created payload for o.
func CreatedPayload(o *Order) OrderCreatedPayload {
	items := make([]EventItem, len(o.Items))
	for i, it := range o.Items {
		items[i] = EventItem{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice}
	}
	return OrderCreatedPayload{
		CustomerID: o.CustomerID,
		Total:      o.Total,
		Status:     o.Status,
		Items:      items,
	}
}
