// Package middlewares carries the request-scoped metadata the order core
// needs: the chi request ID and the client-supplied idempotency key.
package middlewares

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// contextKey is unexported so keys cannot collide with other packages.
type contextKey string

const (
	// HeaderXIdempotencyKey is the client header for create-order idempotency.
	HeaderXIdempotencyKey = "X-Idempotency-Key"

	contextKeyRequestID      contextKey = "request_id"
	contextKeyIdempotencyKey contextKey = "idempotency_key"
)

// AttachRequestMetadata copies the chi request ID and the idempotency key
// header into typed context values for downstream handlers.
func AttachRequestMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), contextKeyRequestID, middleware.GetReqID(r.Context()))
		ctx = context.WithValue(ctx, contextKeyIdempotencyKey, r.Header.Get(HeaderXIdempotencyKey))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the request ID captured by AttachRequestMetadata.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}

// IdempotencyKey returns the idempotency key, or "" if the client sent none.
func IdempotencyKey(ctx context.Context) string {
	key, _ := ctx.Value(contextKeyIdempotencyKey).(string)
	return key
}
