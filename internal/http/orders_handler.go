package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonathanaloya/e-comm-sub000/internal/domain"
	"github.com/jonathanaloya/e-comm-sub000/internal/projection"
)

// OrderViewer is the slice of the projection service the HTTP edge needs.
type OrderViewer interface {
	ListOrdersForUser(ctx context.Context, userID string) ([]projection.OrderView, error)
	GetOrder(ctx context.Context, userID, orderID string) (*projection.OrderView, error)
}

// OrderAdvancer moves an order through its fulfilment lifecycle.
type OrderAdvancer interface {
	AdvanceStatus(ctx context.Context, orderID string, next domain.OrderStatus) (*domain.Order, error)
}

type OrdersHandler struct {
	views   OrderViewer
	orders  OrderAdvancer
	timeout time.Duration
}

func NewOrdersHandler(views OrderViewer, orders OrderAdvancer, timeout time.Duration) *OrdersHandler {
	return &OrdersHandler{
		views:   views,
		orders:  orders,
		timeout: timeout,
	}
}

// GET /api/v1/orders
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	views, err := h.views.ListOrdersForUser(ctx, userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"orders": views})
}

// GET /api/v1/orders/{order_id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	orderID := chi.URLParam(r, "order_id")
	if orderID == "" {
		respondError(w, http.StatusBadRequest, "missing_order_id", "order_id is required")
		return
	}

	view, err := h.views.GetOrder(ctx, userID, orderID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, view)
}

type AdvanceStatusRequestDTO struct {
	Status string `json:"status"`
}

// RoleFulfillment marks tokens issued to warehouse/delivery tooling.
const RoleFulfillment = "fulfillment"

// PATCH /api/v1/orders/{order_id}/status
//
// Fulfillment tokens may advance any order; a customer may only cancel their
// own, and the repository guard rejects cancellation once shipped. Transitions
// are validated server-side so a stale client can never move an order backwards.
func (h *OrdersHandler) AdvanceStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID := chi.URLParam(r, "order_id")
	if orderID == "" {
		respondError(w, http.StatusBadRequest, "missing_order_id", "order_id is required")
		return
	}

	var req AdvanceStatusRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	next := domain.OrderStatus(req.Status)
	switch next {
	case domain.OrderStatusConfirmed, domain.OrderStatusProcessing,
		domain.OrderStatusShipped, domain.OrderStatusDelivered,
		domain.OrderStatusCancelled:
	default:
		respondError(w, http.StatusBadRequest, "invalid_status", "unknown order status")
		return
	}

	if getUserRoleFromContext(r.Context()) != RoleFulfillment {
		if next != domain.OrderStatusCancelled {
			respondError(w, http.StatusForbidden, "forbidden", "only fulfillment may advance order status")
			return
		}
		userID := getUserIDFromContext(r.Context())
		if userID == "" {
			respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
			return
		}
		// Ownership check: a foreign order cancels like a missing one.
		if _, err := h.views.GetOrder(ctx, userID, orderID); err != nil {
			handleServiceError(w, err)
			return
		}
	}

	order, err := h.orders.AdvanceStatus(ctx, orderID, next)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"order_id":     order.ID,
		"order_status": order.OrderStatus,
		"updated_at":   order.UpdatedAt,
	})
}
