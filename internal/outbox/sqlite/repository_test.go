package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/resilient-commerce/orderflow/internal/order/domain"
	"github.com/resilient-commerce/orderflow/internal/outbox"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "outbox.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func appendEvent(t *testing.T, repo *Repository, name, orderID string) *outbox.Record {
	t.Helper()
	ev, err := domain.NewEvent(name, orderID, domain.StatusChangedPayload{})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	rec := outbox.NewRecord(ev)
	if err := repo.Append(context.Background(), rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	return rec
}

func TestAppendAndFetchPendingInInsertionOrder(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	first := appendEvent(t, repo, domain.EventOrderCreated, "o1")
	second := appendEvent(t, repo, domain.EventOrderConfirmed, "o1")

	rows, err := repo.FetchPending(ctx, 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 pending rows, got %d", len(rows))
	}
	if rows[0].EventID != first.EventID || rows[1].EventID != second.EventID {
		t.Fatalf("rows out of insertion order")
	}
	if rows[0].Status != outbox.StatusPending {
		t.Fatalf("expected PENDING, got %s", rows[0].Status)
	}
}

func TestMarkSentRemovesFromPending(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	rec := appendEvent(t, repo, domain.EventOrderCreated, "o1")
	if err := repo.MarkSent(ctx, rec.ID); err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	rows, err := repo.FetchPending(ctx, 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("sent row still pending")
	}
}

func TestMarkFailedAndRequeue(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	rec := appendEvent(t, repo, domain.EventOrderCreated, "o1")
	if err := repo.MarkFailed(ctx, rec.ID, 4, "broker down"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	rows, err := repo.FetchPending(ctx, 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("failed row must not be pending")
	}

	n, err := repo.RequeueFailed(ctx)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 requeued row, got %d", n)
	}
	rows, err = repo.FetchPending(ctx, 10)
	if err != nil {
		t.Fatalf("fetch after requeue: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("requeued row not pending again")
	}
}

func TestFetchPendingHonoursLimit(t *testing.T) {
	repo := openTestRepo(t)
	for i := 0; i < 5; i++ {
		appendEvent(t, repo, domain.EventOrderCreated, "o1")
	}
	rows, err := repo.FetchPending(context.Background(), 3)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
}
