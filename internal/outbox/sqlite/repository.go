// Package sqlite provides the SQLite-backed outbox repository.
//
// WAL mode is enabled on Open so the relay's reads never block the request
// path's appends and vice versa.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/resilient-commerce/orderflow/internal/outbox"

	// Register the pure-Go SQLite driver; no CGO, so the binary builds the
	// same way inside Alpine containers.
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS outbox (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id    TEXT    NOT NULL UNIQUE,
    order_id    TEXT    NOT NULL,
    event_name  TEXT    NOT NULL,
    payload     BLOB    NOT NULL,
    status      TEXT    NOT NULL DEFAULT 'PENDING',
    attempts    INTEGER NOT NULL DEFAULT 0,
    last_error  TEXT    NOT NULL DEFAULT '',
    created_at  TEXT    NOT NULL,
    sent_at     TEXT
);

-- The relay's hot query: pending rows in insertion order. Insertion order is
-- commit order, which preserves per-order event ordering.
CREATE INDEX IF NOT EXISTS idx_outbox_status_id ON outbox(status, id);

CREATE INDEX IF NOT EXISTS idx_outbox_order_id ON outbox(order_id, id);
`

// Repository is the SQLite implementation of outbox.Repository.
type Repository struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Repository, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// SQLite performs best with a single writer connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &Repository{db: db}, nil
}

// Close releases the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) Append(ctx context.Context, rec *outbox.Record) error {
	const q = `
		INSERT INTO outbox (event_id, order_id, event_name, payload, status, attempts, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := r.db.ExecContext(ctx, q,
		rec.EventID,
		rec.OrderID,
		rec.EventName,
		rec.Payload,
		string(rec.Status),
		rec.Attempts,
		rec.LastError,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sqlite: append outbox event %q: %w", rec.EventID, err)
	}
	rec.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: outbox row id for %q: %w", rec.EventID, err)
	}
	return nil
}

func (r *Repository) FetchPending(ctx context.Context, limit int) ([]*outbox.Record, error) {
	const q = `
		SELECT id, event_id, order_id, event_name, payload, status, attempts, last_error, created_at, sent_at
		FROM   outbox
		WHERE  status = 'PENDING'
		ORDER  BY id
		LIMIT  ?`

	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: fetch pending outbox rows: %w", err)
	}
	defer rows.Close()

	var out []*outbox.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate outbox rows: %w", err)
	}
	return out, nil
}

func (r *Repository) MarkSent(ctx context.Context, id int64) error {
	const q = `UPDATE outbox SET status = 'SENT', sent_at = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, q, time.Now().UTC().Format(time.RFC3339Nano), id); err != nil {
		return fmt.Errorf("sqlite: mark outbox row %d sent: %w", id, err)
	}
	return nil
}

func (r *Repository) MarkFailed(ctx context.Context, id int64, attempts int, lastError string) error {
	const q = `UPDATE outbox SET status = 'FAILED', attempts = ?, last_error = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, q, attempts, lastError, id); err != nil {
		return fmt.Errorf("sqlite: mark outbox row %d failed: %w", id, err)
	}
	return nil
}

// RequeueFailed flips FAILED rows back to PENDING so the relay picks them up
// again. This is the out-of-band replay hook.
func (r *Repository) RequeueFailed(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE outbox SET status = 'PENDING' WHERE status = 'FAILED'`)
	if err != nil {
		return 0, fmt.Errorf("sqlite: requeue failed outbox rows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: requeued row count: %w", err)
	}
	return n, nil
}

func scanRecord(rows *sql.Rows) (*outbox.Record, error) {
	var rec outbox.Record
	var status, createdAt string
	var sentAt sql.NullString

	err := rows.Scan(
		&rec.ID,
		&rec.EventID,
		&rec.OrderID,
		&rec.EventName,
		&rec.Payload,
		&status,
		&rec.Attempts,
		&rec.LastError,
		&createdAt,
		&sentAt,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan outbox row: %w", err)
	}

	rec.Status = outbox.Status(status)
	rec.CreatedAt, err = parseRFC3339(createdAt)
	if err != nil {
		return nil, err
	}
	if sentAt.Valid {
		t, err := parseRFC3339(sentAt.String)
		if err != nil {
			return nil, err
		}
		rec.SentAt = &t
	}
	return &rec, nil
}

// parseRFC3339 parses the timestamp strings stored in SQLite. SQLite has no
// native datetime type; timestamps are RFC3339 TEXT.
func parseRFC3339(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", s, err)
	}
	return t, nil
}
