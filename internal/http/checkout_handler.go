package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jonathanaloya/e-comm-sub000/internal/checkout"
	"github.com/jonathanaloya/e-comm-sub000/internal/domain"
	"github.com/jonathanaloya/e-comm-sub000/internal/gateway"
)

// CheckoutInitiator is the slice of the checkout service the HTTP edge needs.
type CheckoutInitiator interface {
	InitiateCheckout(ctx context.Context, req checkout.Request) (*checkout.Result, error)
}

type CheckoutHandler struct {
	checkout CheckoutInitiator
	timeout  time.Duration
}

func NewCheckoutHandler(initiator CheckoutInitiator, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: initiator,
		timeout:  timeout,
	}
}

type CheckoutRequestDTO struct {
	AddressID     string `json:"address_id"`
	PaymentMethod string `json:"payment_method"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	Name          string `json:"name"`
}

// POST /api/v1/checkout
func (h *CheckoutHandler) InitiateCheckout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	var req CheckoutRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.AddressID == "" {
		respondError(w, http.StatusBadRequest, "missing_address", "address_id is required")
		return
	}
	if req.PaymentMethod == "" {
		respondError(w, http.StatusBadRequest, "missing_payment_method", "payment_method is required")
		return
	}

	result, err := h.checkout.InitiateCheckout(ctx, checkout.Request{
		UserID:        userID,
		AddressID:     req.AddressID,
		PaymentMethod: domain.PaymentMethod(req.PaymentMethod),
		Customer: gateway.Customer{
			Email: req.Email,
			Phone: req.Phone,
			Name:  req.Name,
		},
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, result)
}
