package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/resilient-commerce/orderflow/internal/httpx/middlewares"
)

// NewRouter wires the order routes. The otelhttp wrapper creates a server
// span per request; ContextHandler then stamps trace IDs onto log lines.
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middlewares.AttachRequestMetadata)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/orders", handler.CreateOrder)
	r.Get("/orders/{id}", handler.GetOrder)
	r.Get("/orders/{id}/timeline", handler.GetTimeline)
	r.Post("/orders/{id}/confirm", handler.Confirm)
	r.Post("/orders/{id}/processing", handler.StartProcessing)
	r.Post("/orders/{id}/ship", handler.Ship)
	r.Post("/orders/{id}/deliver", handler.Deliver)
	r.Post("/orders/{id}/cancel", handler.Cancel)

	r.Get("/healthz", handler.Healthz)

	return otelhttp.NewHandler(r, "orderflow.http")
}
