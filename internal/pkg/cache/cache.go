// Package cache provides the key/value store used for consumer-side event
// deduplication and create-order idempotency keys.
package cache

import (
	"context"
	"time"
)

// Cache is the port shared by the redis-backed and in-memory implementations.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Get returns "" with a nil error when the key is absent.
	Get(ctx context.Context, key string) (string, error)
	// SetNX stores the value only if the key is absent and reports whether
	// it did. This is the atomic claim used for event dedupe marks.
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	GenerateKey(operation, key string) string
}
