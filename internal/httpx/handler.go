package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/resilient-commerce/orderflow/internal/consumer"
	"github.com/resilient-commerce/orderflow/internal/httpx/middlewares"
	"github.com/resilient-commerce/orderflow/internal/order/app"
	"github.com/resilient-commerce/orderflow/internal/order/domain"
	"github.com/resilient-commerce/orderflow/internal/pkg/resilience"
)

// Handler is the thin inbound adapter over the order service. The inventory
// breaker is held only so the readiness probe can report degraded while it
// is open.
type Handler struct {
	svc              *app.Service
	inventoryBreaker *resilience.Breaker
	history          *consumer.History
}

func NewHandler(svc *app.Service, inventoryBreaker *resilience.Breaker, history *consumer.History) *Handler {
	return &Handler{
		svc:              svc,
		inventoryBreaker: inventoryBreaker,
		history:          history,
	}
}

// CreateOrder decodes the create-order command and commits a PENDING order.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	items := make([]domain.OrderItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = domain.OrderItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.Price,
		}
	}

	idemKey := middlewares.IdempotencyKey(r.Context())
	slog.InfoContext(r.Context(), "creating order",
		"request_id", middlewares.RequestID(r.Context()),
		"customer_id", req.CustomerID,
	)

	o, err := h.svc.CreateOrder(r.Context(), req.CustomerID, idemKey, items)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapOrderToResponse(o))
}

// GetOrder returns one order by ID.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrderToResponse(o))
}

// GetTimeline returns the event history read model for one order.
func (h *Handler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, TimelineResponse{
		OrderID: orderID,
		Events:  h.history.Timeline(orderID),
	})
}

func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Confirm)
}

func (h *Handler) StartProcessing(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.StartProcessing)
}

func (h *Handler) Ship(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Ship)
}

func (h *Handler) Deliver(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Deliver)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Cancel)
}

// Healthz is the readiness probe. It reports degraded with 503 while the
// inventory circuit is open, so the platform can shed traffic.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.inventoryBreaker != nil && h.inventoryBreaker.State() == resilience.StateOpen {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status: "degraded",
			Reason: "inventory circuit open",
		})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string) (*domain.Order, error)) {
	o, err := op(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapOrderToResponse(o))
}

// writeDomainError maps the error taxonomy onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		validation *domain.ValidationError
		stock      *domain.InsufficientStockError
		state      *domain.InvalidStateTransitionError
		conflict   *domain.ConcurrencyConflictError
	)

	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.As(err, &stock):
		writeError(w, http.StatusConflict, "insufficient_stock", err.Error())
	case errors.As(err, &state):
		writeError(w, http.StatusConflict, "invalid_state_transition", err.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, "concurrency_conflict", err.Error())
	case errors.Is(err, resilience.ErrCircuitOpen):
		writeError(w, http.StatusServiceUnavailable, "dependency_unavailable", err.Error())
	case errors.Is(err, domain.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order_not_found", err.Error())
	default:
		writeError(w, http.StatusBadGateway, "order_service_error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: msg,
	})
}
