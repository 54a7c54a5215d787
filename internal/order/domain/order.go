// Package domain holds the Order aggregate and its state machine. The
// machine is pure: operations mutate only the order itself and return the
// transition that occurred, so the orchestrator can emit precisely-typed
// events. Event emission never happens here.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusPending    OrderStatus = "PENDING"
	StatusConfirmed  OrderStatus = "CONFIRMED"
	StatusProcessing OrderStatus = "PROCESSING"
	StatusShipped    OrderStatus = "SHIPPED"
	StatusDelivered  OrderStatus = "DELIVERED"
	StatusCancelled  OrderStatus = "CANCELLED"
)

// Terminal reports whether the status permits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// OrderItem is immutable once attached to a committed order.
type OrderItem struct {
	ProductID string
	Quantity  int
	UnitPrice float64
}

func (i OrderItem) Subtotal() float64 {
	return float64(i.Quantity) * i.UnitPrice
}

// Order is the aggregate root. Status moves only through the transition
// methods below; Version increments exactly once per committed mutation and
// drives optimistic concurrency in the repository.
type Order struct {
	ID         string
	CustomerID string
	Items      []OrderItem
	Total      float64
	Status     OrderStatus
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewOrder validates the input and returns a PENDING order with the total
// derived from item subtotals.
func NewOrder(customerID string, items []OrderItem) (*Order, error) {
	if customerID == "" {
		return nil, &ValidationError{Field: "customer_id", Message: "must not be empty"}
	}
	if len(items) == 0 {
		return nil, &ValidationError{Field: "items", Message: "at least one item is required"}
	}

	var total float64
	for _, it := range items {
		if it.ProductID == "" {
			return nil, &ValidationError{Field: "items.product_id", Message: "must not be empty"}
		}
		if it.Quantity <= 0 {
			return nil, &ValidationError{Field: "items.quantity", Message: "must be positive"}
		}
		if it.UnitPrice < 0 {
			return nil, &ValidationError{Field: "items.unit_price", Message: "must not be negative"}
		}
		total += it.Subtotal()
	}

	now := time.Now().UTC()
	return &Order{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		Items:      append([]OrderItem(nil), items...),
		Total:      total,
		Status:     StatusPending,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Transition records the prior and new status of a successful operation.
type Transition struct {
	From OrderStatus
	To   OrderStatus
}

// legal enumerates the permitted status graph.
var legal = map[OrderStatus][]OrderStatus{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered},
}

func (o *Order) can(to OrderStatus) bool {
	for _, next := range legal[o.Status] {
		if next == to {
			return true
		}
	}
	return false
}

// transitionTo atomically updates status, bumps the version and timestamps
// the change. On an illegal transition the order is left untouched.
func (o *Order) transitionTo(to OrderStatus) (Transition, error) {
	if !o.can(to) {
		return Transition{}, &InvalidStateTransitionError{OrderID: o.ID, From: o.Status, To: to}
	}
	tr := Transition{From: o.Status, To: to}
	o.Status = to
	o.Version++
	o.UpdatedAt = time.Now().UTC()
	return tr, nil
}

// Confirm moves PENDING → CONFIRMED.
func (o *Order) Confirm() (Transition, error) { return o.transitionTo(StatusConfirmed) }

// StartProcessing moves CONFIRMED → PROCESSING.
func (o *Order) StartProcessing() (Transition, error) { return o.transitionTo(StatusProcessing) }

// Ship moves PROCESSING → SHIPPED.
func (o *Order) Ship() (Transition, error) { return o.transitionTo(StatusShipped) }

// Deliver moves SHIPPED → DELIVERED, the happy-path terminal state.
func (o *Order) Deliver() (Transition, error) { return o.transitionTo(StatusDelivered) }

// Cancel is reachable from PENDING, CONFIRMED or PROCESSING, but never once
// the order has shipped.
func (o *Order) Cancel() (Transition, error) { return o.transitionTo(StatusCancelled) }

// Clone returns a deep copy so repository callers never alias stored state.
func (o *Order) Clone() *Order {
	cp := *o
	cp.Items = append([]OrderItem(nil), o.Items...)
	return &cp
}
