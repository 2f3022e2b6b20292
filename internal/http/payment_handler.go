package http

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/jonathanaloya/e-comm-sub000/internal/gateway"
	"github.com/jonathanaloya/e-comm-sub000/internal/reconcile"
)

const maxWebhookBody = 64 << 10 // 64KB

// PaymentReconciler is the slice of the reconciliation engine the HTTP edge needs.
type PaymentReconciler interface {
	HandleWebhook(ctx context.Context, rawBody []byte, signature string) error
	VerifyRedirect(ctx context.Context, transactionID, txRef, statusHint string) (*reconcile.Result, error)
}

type PaymentHandler struct {
	engine  PaymentReconciler
	timeout time.Duration
}

func NewPaymentHandler(engine PaymentReconciler, timeout time.Duration) *PaymentHandler {
	return &PaymentHandler{
		engine:  engine,
		timeout: timeout,
	}
}

// Webhook receives gateway event notifications.
// POST /api/v1/payments/webhook
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", "unable to read request body")
		return
	}

	signature := r.Header.Get(gateway.SignatureHeader)

	if err := h.engine.HandleWebhook(ctx, rawBody, signature); err != nil {
		if errors.Is(err, reconcile.ErrSignatureInvalid) {
			log.Printf("webhook rejected: invalid signature (request_id=%s)", getRequestID(r.Context()))
			respondError(w, http.StatusUnauthorized, "invalid_signature", "signature verification failed")
			return
		}
		// The gateway retries on non-2xx. Transient failures get a 500 so the
		// event is redelivered; the settle is idempotent either way.
		log.Printf("webhook processing failed: %v", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "webhook processing failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// VerifyRedirect handles the browser landing after the gateway redirect.
// GET /api/v1/payments/verify?transaction_id=...&tx_ref=...&status=...
func (h *PaymentHandler) VerifyRedirect(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	q := r.URL.Query()
	transactionID := q.Get("transaction_id")
	txRef := q.Get("tx_ref")
	statusHint := q.Get("status")

	if transactionID == "" && txRef == "" {
		respondError(w, http.StatusBadRequest, "missing_reference",
			"transaction_id or tx_ref is required")
		return
	}

	result, err := h.engine.VerifyRedirect(ctx, transactionID, txRef, statusHint)
	if err != nil {
		if errors.Is(err, gateway.ErrGatewayUnavailable) {
			// Verification could not complete; the webhook path will settle
			// the order. Tell the client to poll order status.
			respondJSON(w, http.StatusAccepted, map[string]string{
				"status":  "pending",
				"message": "payment verification is pending, check order status shortly",
			})
			return
		}
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}
