// Package outbox implements the transactional outbox: every committed state
// mutation appends its event here, and a background relay publishes pending
// rows to the broker. A publish failure leaves the row in place, so the
// event is never lost even when the broker is down at commit time.
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/resilient-commerce/orderflow/internal/order/domain"
)

// Status is the delivery state of one outbox record.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
)

// Record is one durable row. Rows are append-only; only Status, Attempts and
// LastError change, and only through the repository.
type Record struct {
	ID        int64
	EventID   string
	OrderID   string
	EventName string
	Payload   []byte
	Status    Status
	Attempts  int
	LastError string
	CreatedAt time.Time
	SentAt    *time.Time
}

// NewRecord builds a pending row from a committed domain event.
func NewRecord(ev domain.Event) *Record {
	return &Record{
		EventID:   ev.EventID,
		OrderID:   ev.OrderID,
		EventName: ev.EventName,
		Payload:   ev.Payload,
		Status:    StatusPending,
		CreatedAt: ev.OccurredAt,
	}
}

// Repository is the port for the durable outbox store. FetchPending returns
// rows in insertion order, which is also per-order commit order.
type Repository interface {
	Append(ctx context.Context, rec *Record) error
	FetchPending(ctx context.Context, limit int) ([]*Record, error)
	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, attempts int, lastError string) error
}

// PublishError reports that an event durably failed to send after retries.
// The row stays FAILED for out-of-band replay or alerting.
type PublishError struct {
	EventID string
	Err     error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish event %s: %v", e.EventID, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
