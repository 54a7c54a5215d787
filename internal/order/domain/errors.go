package domain

import (
	"errors"
	"fmt"
)

// ErrOrderNotFound is returned by repositories for unknown order IDs.
var ErrOrderNotFound = errors.New("order not found")

// ValidationError reports bad client input. Never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Message)
}

// InsufficientStockError is a business-rule rejection from the inventory
// check. Never retried.
type InsufficientStockError struct {
	OrderID string
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for order %s", e.OrderID)
}

// InvalidStateTransitionError signals an ordering bug or a stale client
// driving the state machine. Surfaced as a conflict.
type InvalidStateTransitionError struct {
	OrderID string
	From    OrderStatus
	To      OrderStatus
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("order %s: illegal transition %s -> %s", e.OrderID, e.From, e.To)
}

// ConcurrencyConflictError is raised when the version being committed does
// not follow the persisted version. The caller reloads the order and retries
// the business operation once.
type ConcurrencyConflictError struct {
	OrderID  string
	Expected int64
	Actual   int64
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("order %s: version conflict (expected %d, found %d)", e.OrderID, e.Expected, e.Actual)
}
