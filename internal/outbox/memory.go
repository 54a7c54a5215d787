package outbox

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository keeps outbox rows in process memory. Used in tests and
// when no OUTBOX_DB_PATH is configured.
type MemoryRepository struct {
	mu     sync.Mutex
	nextID int64
	rows   []*Record
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Append(ctx context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	rec.ID = r.nextID
	cp := *rec
	r.rows = append(r.rows, &cp)
	return nil
}

func (r *MemoryRepository) FetchPending(ctx context.Context, limit int) ([]*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Record
	for _, row := range r.rows {
		if row.Status != StatusPending {
			continue
		}
		cp := *row
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryRepository) MarkSent(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ID == id {
			now := time.Now().UTC()
			row.Status = StatusSent
			row.SentAt = &now
			return nil
		}
	}
	return nil
}

func (r *MemoryRepository) MarkFailed(ctx context.Context, id int64, attempts int, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ID == id {
			row.Status = StatusFailed
			row.Attempts = attempts
			row.LastError = lastError
			return nil
		}
	}
	return nil
}

// All returns a snapshot of every row, for tests and inspection.
func (r *MemoryRepository) All() []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Record, len(r.rows))
	for i, row := range r.rows {
		cp := *row
		out[i] = &cp
	}
	return out
}
