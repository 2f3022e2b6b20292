// Package reconcile applies gateway-reported payment outcomes to pending
// orders. Two entry points feed it: the asynchronous webhook and the
// client-triggered verification after the redirect. Both converge on
// ApplyOutcome, so idempotency lives in exactly one place.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/jonathanaloya/e-comm-sub000/internal/domain"
	"github.com/jonathanaloya/e-comm-sub000/internal/events"
	"github.com/jonathanaloya/e-comm-sub000/internal/gateway"
	"github.com/jonathanaloya/e-comm-sub000/internal/repository"
)

var (
	// ErrSignatureInvalid rejects a webhook before any state is read or written.
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	ErrMissingOrderRef  = errors.New("gateway outcome carries no order reference")
)

type State string

const (
	StateConfirmed State = "confirmed" // paid, order confirmed, cart cleared
	StateFailed    State = "failed"    // terminal failure, cart left intact for retry
	StateCancelled State = "cancelled" // user backed out, nothing settled
	StatePending   State = "pending"   // charge still in flight, nothing settled yet
)

// Outcome is a gateway-reported result for one checkout attempt. Status is the
// gateway's transaction status verbatim; only terminal statuses settle anything.
type Outcome struct {
	TransactionID string
	Status        string
}

type Result struct {
	OrderID string `json:"order_id"`
	State   State  `json:"state"`
	// AlreadyTerminal marks an idempotent no-op: the order was settled by an
	// earlier call, nothing was re-applied.
	AlreadyTerminal bool `json:"already_terminal"`
}

// TransactionVerifier is the slice of the gateway client the engine needs.
type TransactionVerifier interface {
	VerifyTransaction(ctx context.Context, transactionID string) (*gateway.VerifyResponse, error)
}

// CartClearer clears a user's cart after a confirmed payment.
type CartClearer interface {
	Clear(ctx context.Context, userID string) error
}

type Engine struct {
	orders        repository.OrderRepository
	carts         CartClearer
	verifier      TransactionVerifier
	publisher     events.Publisher
	webhookSecret string
}

func NewEngine(
	orders repository.OrderRepository,
	carts CartClearer,
	verifier TransactionVerifier,
	publisher events.Publisher,
	webhookSecret string,
) *Engine {
	return &Engine{
		orders:        orders,
		carts:         carts,
		verifier:      verifier,
		publisher:     publisher,
		webhookSecret: webhookSecret,
	}
}

// HandleWebhook authenticates and applies one webhook delivery. Deliveries are
// at-least-once and unordered; a nil return means the gateway should stop
// retrying. Signature failures return ErrSignatureInvalid with no state change.
func (e *Engine) HandleWebhook(ctx context.Context, rawBody []byte, signature string) error {
	if !gateway.VerifySignature(rawBody, signature, e.webhookSecret) {
		log.Printf("webhook rejected: bad signature")
		return ErrSignatureInvalid
	}

	var event gateway.WebhookEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return fmt.Errorf("failed to parse webhook body: %w", err)
	}

	if event.Event != gateway.EventChargeCompleted {
		log.Printf("webhook: ignoring event type %q", event.Event)
		return nil
	}

	orderID := event.Data.Meta.OrderID
	if orderID == "" {
		log.Printf("webhook: charge.completed without orderId meta, tx_ref=%s", event.Data.TxRef)
		return nil
	}

	outcome := Outcome{
		TransactionID: strconv.FormatInt(event.Data.ID, 10),
		Status:        event.Data.Status,
	}

	result, err := e.ApplyOutcome(ctx, orderID, outcome)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			// Authenticated event for an unknown order: acknowledge so the
			// gateway does not retry forever, but leave a trace.
			log.Printf("webhook: no order %s for transaction %s", orderID, outcome.TransactionID)
			return nil
		}
		return err
	}

	switch {
	case result.AlreadyTerminal:
		log.Printf("webhook: order %s already terminal, no-op", orderID)
	case result.State == StatePending:
		log.Printf("webhook: order %s still pending after status %q", orderID, outcome.Status)
	}
	return nil
}

// VerifyRedirect handles the client landing back on the storefront. The query
// parameters are hints: a cancellation hint short-circuits with no state
// change, anything else triggers an authoritative verify-by-id call.
func (e *Engine) VerifyRedirect(ctx context.Context, transactionID, txRef, statusHint string) (*Result, error) {
	if statusHint == gateway.TxStatusCancelled {
		return &Result{State: StateCancelled}, nil
	}

	if transactionID == "" {
		// Without a transaction id there is nothing to verify; report the
		// stored state and let the webhook settle the order.
		order, err := e.orders.GetByTxRef(ctx, txRef)
		if err != nil {
			return nil, err
		}
		if order.PaymentStatus.IsTerminal() {
			return &Result{OrderID: order.ID, State: stateOf(order.PaymentStatus), AlreadyTerminal: true}, nil
		}
		return &Result{OrderID: order.ID, State: StatePending}, nil
	}

	verified, err := e.verifier.VerifyTransaction(ctx, transactionID)
	if err != nil {
		// Transient verification failure never fails the order; it stays
		// pending and either channel may retry.
		return nil, fmt.Errorf("verify transaction %s: %w", transactionID, err)
	}

	orderID := verified.Data.Meta.OrderID
	if orderID == "" {
		// Older charges may miss the meta block; fall back to our tx_ref.
		ref := verified.Data.TxRef
		if ref == "" {
			ref = txRef
		}
		order, lookupErr := e.orders.GetByTxRef(ctx, ref)
		if lookupErr != nil {
			return nil, fmt.Errorf("%w: tx_ref %s", ErrMissingOrderRef, ref)
		}
		orderID = order.ID
	}

	outcome := Outcome{
		TransactionID: strconv.FormatInt(verified.Data.ID, 10),
		Status:        verified.Data.Status,
	}
	return e.ApplyOutcome(ctx, orderID, outcome)
}

// ApplyOutcome performs the shared settle procedure. It is idempotent and
// race-safe: the repository's conditional pending-only update is the only
// synchronization primitive, so any number of calls over any channels net out
// to the first authoritative terminal outcome applied exactly once. A
// non-terminal status settles nothing and leaves the order pending.
func (e *Engine) ApplyOutcome(ctx context.Context, orderID string, outcome Outcome) (*Result, error) {
	var target domain.PaymentStatus
	switch outcome.Status {
	case gateway.TxStatusSuccessful:
		target = domain.PaymentStatusPaid
	case gateway.TxStatusFailed, gateway.TxStatusCancelled:
		target = domain.PaymentStatusFailed
	default:
		// Still in flight (e.g. a mobile-money charge awaiting approval).
		// Only a terminal gateway status may fail an order.
		return &Result{OrderID: orderID, State: StatePending}, nil
	}

	order, settled, err := e.orders.SettlePayment(ctx, orderID, target, outcome.TransactionID)
	if err != nil {
		return nil, err
	}

	if !settled {
		// Someone else won the conditional update (or the order was COD).
		// Side effects already ran once; do not repeat them.
		return &Result{
			OrderID:         order.ID,
			State:           stateOf(order.PaymentStatus),
			AlreadyTerminal: true,
		}, nil
	}

	if order.PaymentStatus == domain.PaymentStatusPaid {
		e.onPaid(ctx, order)
		return &Result{OrderID: order.ID, State: StateConfirmed}, nil
	}

	// Failed: the cart is left intact so the user can retry the checkout.
	e.publish(ctx, events.EventOrderFailed, order)
	log.Printf("order %s settled as failed, transaction %s", order.ID, outcome.TransactionID)
	return &Result{OrderID: order.ID, State: StateFailed}, nil
}

func (e *Engine) onPaid(ctx context.Context, order *domain.Order) {
	if err := e.carts.Clear(ctx, order.UserID); err != nil {
		// The order is already settled; a stale cart is recoverable, a lost
		// settlement is not.
		log.Printf("failed to clear cart for user %s after order %s: %v", order.UserID, order.ID, err)
	}
	e.publish(ctx, events.EventOrderConfirmed, order)
	log.Printf("order %s confirmed, payment ref %s", order.ID, order.PaymentRef)
}

func (e *Engine) publish(ctx context.Context, eventType string, order *domain.Order) {
	if e.publisher == nil {
		return
	}
	err := e.publisher.Publish(ctx, events.OrderEvent{
		Event:      eventType,
		OrderID:    order.ID,
		UserID:     order.UserID,
		PaymentRef: order.PaymentRef,
		Amount:     order.Total,
		Currency:   order.Currency,
		OccurredAt: time.Now(),
	})
	if err != nil {
		log.Printf("failed to publish %s for order %s: %v", eventType, order.ID, err)
	}
}

// stateOf maps an already-terminal payment status to a result state.
func stateOf(status domain.PaymentStatus) State {
	if status == domain.PaymentStatusFailed {
		return StateFailed
	}
	return StateConfirmed
}
