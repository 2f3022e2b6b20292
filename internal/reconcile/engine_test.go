package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonathanaloya/e-comm-sub000/internal/domain"
	"github.com/jonathanaloya/e-comm-sub000/internal/events"
	"github.com/jonathanaloya/e-comm-sub000/internal/gateway"
	"github.com/jonathanaloya/e-comm-sub000/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

// memOrderRepo reproduces the repository's conditional settle semantics in
// memory: the pending-only guard under one lock, like a single document update.
type memOrderRepo struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
}

func newMemOrderRepo(orders ...*domain.Order) *memOrderRepo {
	m := &memOrderRepo{orders: make(map[string]*domain.Order)}
	for _, o := range orders {
		m.orders[o.ID] = o
	}
	return m
}

func (m *memOrderRepo) Create(_ context.Context, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = order
	return nil
}

func (m *memOrderRepo) GetByID(_ context.Context, orderID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[orderID]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, repository.ErrOrderNotFound
}

func (m *memOrderRepo) GetByTxRef(_ context.Context, txRef string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.TxRef == txRef {
			cp := *o
			return &cp, nil
		}
	}
	return nil, repository.ErrOrderNotFound
}

func (m *memOrderRepo) ListByUser(_ context.Context, userID string) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memOrderRepo) SettlePayment(_ context.Context, orderID string, status domain.PaymentStatus, paymentRef string) (*domain.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return nil, false, repository.ErrOrderNotFound
	}
	if o.PaymentStatus != domain.PaymentStatusPending {
		cp := *o
		return &cp, false, nil
	}

	o.PaymentStatus = status
	o.PaymentRef = paymentRef
	o.UpdatedAt = time.Now()
	if status == domain.PaymentStatusPaid {
		o.OrderStatus = domain.OrderStatusConfirmed
	}
	cp := *o
	return &cp, true, nil
}

func (m *memOrderRepo) AdvanceStatus(_ context.Context, orderID string, next domain.OrderStatus) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	o.OrderStatus = next
	cp := *o
	return &cp, nil
}

func (m *memOrderRepo) get(orderID string) domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.orders[orderID]
}

type countingCarts struct {
	mu     sync.Mutex
	clears int
}

func (c *countingCarts) Clear(context.Context, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clears++
	return nil
}

func (c *countingCarts) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clears
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []events.OrderEvent
}

func (p *capturingPublisher) Publish(_ context.Context, ev events.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *capturingPublisher) all() []events.OrderEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.OrderEvent(nil), p.events...)
}

type stubVerifier struct {
	resp *gateway.VerifyResponse
	err  error
	hits int
}

func (s *stubVerifier) VerifyTransaction(context.Context, string) (*gateway.VerifyResponse, error) {
	s.hits++
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func pendingOrder(id string) *domain.Order {
	return &domain.Order{
		ID:            id,
		UserID:        "user-1",
		TxRef:         "txref-" + id,
		Total:         4500,
		Currency:      "UGX",
		PaymentMethod: domain.PaymentMethodOnline,
		PaymentStatus: domain.PaymentStatusPending,
		OrderStatus:   domain.OrderStatusPending,
	}
}

func signedWebhookBody(t *testing.T, orderID, status string, txID int64) ([]byte, string) {
	t.Helper()
	event := gateway.WebhookEvent{
		Event: gateway.EventChargeCompleted,
		Data: gateway.VerifyData{
			ID:     txID,
			TxRef:  "txref-" + orderID,
			Status: status,
			Meta:   gateway.ChargeMeta{OrderID: orderID, UserID: "user-1"},
		},
	}
	body, err := json.Marshal(event)
	require.NoError(t, err)
	return body, gateway.Sign(body, testSecret)
}

func newTestEngine(repo *memOrderRepo, carts *countingCarts, verifier *stubVerifier, pub *capturingPublisher) *Engine {
	return NewEngine(repo, carts, verifier, pub, testSecret)
}

func TestHandleWebhook_SuccessSettlesOrder(t *testing.T) {
	repo := newMemOrderRepo(pendingOrder("order-1"))
	carts := &countingCarts{}
	pub := &capturingPublisher{}
	engine := newTestEngine(repo, carts, &stubVerifier{}, pub)

	body, sig := signedWebhookBody(t, "order-1", gateway.TxStatusSuccessful, 777)

	err := engine.HandleWebhook(context.Background(), body, sig)
	require.NoError(t, err)

	order := repo.get("order-1")
	assert.Equal(t, domain.PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, "777", order.PaymentRef)
	assert.Equal(t, domain.OrderStatusConfirmed, order.OrderStatus)
	assert.Equal(t, 1, carts.count())

	evs := pub.all()
	require.Len(t, evs, 1)
	assert.Equal(t, events.EventOrderConfirmed, evs[0].Event)
	assert.Equal(t, "order-1", evs[0].OrderID)
}

func TestHandleWebhook_FailureLeavesCartIntact(t *testing.T) {
	repo := newMemOrderRepo(pendingOrder("order-1"))
	carts := &countingCarts{}
	pub := &capturingPublisher{}
	engine := newTestEngine(repo, carts, &stubVerifier{}, pub)

	body, sig := signedWebhookBody(t, "order-1", "failed", 778)

	err := engine.HandleWebhook(context.Background(), body, sig)
	require.NoError(t, err)

	order := repo.get("order-1")
	assert.Equal(t, domain.PaymentStatusFailed, order.PaymentStatus)
	assert.Equal(t, domain.OrderStatusPending, order.OrderStatus)
	assert.Equal(t, 0, carts.count(), "failed payments keep the cart so the user can retry")

	evs := pub.all()
	require.Len(t, evs, 1)
	assert.Equal(t, events.EventOrderFailed, evs[0].Event)
}

func TestHandleWebhook_BadSignatureNeverMutates(t *testing.T) {
	repo := newMemOrderRepo(pendingOrder("order-1"))
	carts := &countingCarts{}
	engine := newTestEngine(repo, carts, &stubVerifier{}, &capturingPublisher{})

	body, _ := signedWebhookBody(t, "order-1", gateway.TxStatusSuccessful, 777)

	err := engine.HandleWebhook(context.Background(), body, "0000000000000000000000000000000000000000000000000000000000000000")
	assert.ErrorIs(t, err, ErrSignatureInvalid)

	err = engine.HandleWebhook(context.Background(), body, "")
	assert.ErrorIs(t, err, ErrSignatureInvalid)

	// Valid signature over a different body
	tampered := append([]byte(nil), body...)
	tampered[len(tampered)-2] = 'X'
	err = engine.HandleWebhook(context.Background(), tampered, gateway.Sign(body, testSecret))
	assert.ErrorIs(t, err, ErrSignatureInvalid)

	order := repo.get("order-1")
	assert.Equal(t, domain.PaymentStatusPending, order.PaymentStatus)
	assert.Equal(t, 0, carts.count())
}

func TestHandleWebhook_IgnoresOtherEventTypes(t *testing.T) {
	repo := newMemOrderRepo(pendingOrder("order-1"))
	engine := newTestEngine(repo, &countingCarts{}, &stubVerifier{}, &capturingPublisher{})

	body := []byte(`{"event":"transfer.completed","data":{"id":1,"status":"successful","meta":{"orderId":"order-1"}}}`)

	err := engine.HandleWebhook(context.Background(), body, gateway.Sign(body, testSecret))
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusPending, repo.get("order-1").PaymentStatus)
}

func TestHandleWebhook_UnknownOrderAcknowledged(t *testing.T) {
	engine := newTestEngine(newMemOrderRepo(), &countingCarts{}, &stubVerifier{}, &capturingPublisher{})

	body, sig := signedWebhookBody(t, "ghost-order", gateway.TxStatusSuccessful, 779)

	// The gateway must not retry forever for an order we never created.
	err := engine.HandleWebhook(context.Background(), body, sig)
	assert.NoError(t, err)
}

func TestApplyOutcome_Idempotent(t *testing.T) {
	repo := newMemOrderRepo(pendingOrder("order-1"))
	carts := &countingCarts{}
	pub := &capturingPublisher{}
	verifier := &stubVerifier{resp: &gateway.VerifyResponse{
		Status: "success",
		Data: gateway.VerifyData{
			ID:     777,
			Status: gateway.TxStatusSuccessful,
			Meta:   gateway.ChargeMeta{OrderID: "order-1"},
		},
	}}
	engine := newTestEngine(repo, carts, verifier, pub)

	// Mix of channels, repeated deliveries, any order
	body, sig := signedWebhookBody(t, "order-1", gateway.TxStatusSuccessful, 777)
	require.NoError(t, engine.HandleWebhook(context.Background(), body, sig))

	for i := 0; i < 3; i++ {
		result, err := engine.VerifyRedirect(context.Background(), "777", "txref-order-1", gateway.TxStatusSuccessful)
		require.NoError(t, err)
		assert.Equal(t, StateConfirmed, result.State)
		assert.True(t, result.AlreadyTerminal)
	}
	require.NoError(t, engine.HandleWebhook(context.Background(), body, sig))

	order := repo.get("order-1")
	assert.Equal(t, domain.PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, "777", order.PaymentRef)
	assert.Equal(t, 1, carts.count(), "cart cleared exactly once")
	assert.Len(t, pub.all(), 1, "confirmation published exactly once")
}

func TestApplyOutcome_NoBackwardTransition(t *testing.T) {
	repo := newMemOrderRepo(pendingOrder("order-1"))
	engine := newTestEngine(repo, &countingCarts{}, &stubVerifier{}, &capturingPublisher{})

	_, err := engine.ApplyOutcome(context.Background(), "order-1", Outcome{TransactionID: "777", Status: gateway.TxStatusSuccessful})
	require.NoError(t, err)

	// A later contradictory outcome must not unsettle the order or replace
	// the payment reference.
	result, err := engine.ApplyOutcome(context.Background(), "order-1", Outcome{TransactionID: "888", Status: gateway.TxStatusFailed})
	require.NoError(t, err)
	assert.True(t, result.AlreadyTerminal)
	assert.Equal(t, StateConfirmed, result.State)

	order := repo.get("order-1")
	assert.Equal(t, domain.PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, "777", order.PaymentRef)
}

func TestApplyOutcome_Race(t *testing.T) {
	for i := 0; i < 50; i++ {
		repo := newMemOrderRepo(pendingOrder("order-1"))
		carts := &countingCarts{}
		pub := &capturingPublisher{}
		engine := newTestEngine(repo, carts, &stubVerifier{}, pub)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			engine.ApplyOutcome(context.Background(), "order-1", Outcome{TransactionID: "777", Status: gateway.TxStatusSuccessful})
		}()
		go func() {
			defer wg.Done()
			engine.ApplyOutcome(context.Background(), "order-1", Outcome{TransactionID: "888", Status: gateway.TxStatusFailed})
		}()
		wg.Wait()

		order := repo.get("order-1")
		require.True(t, order.PaymentStatus.IsTerminal(), "order must settle")

		switch order.PaymentStatus {
		case domain.PaymentStatusPaid:
			assert.Equal(t, "777", order.PaymentRef)
			assert.Equal(t, domain.OrderStatusConfirmed, order.OrderStatus)
			assert.Equal(t, 1, carts.count())
		case domain.PaymentStatusFailed:
			assert.Equal(t, "888", order.PaymentRef)
			assert.Equal(t, domain.OrderStatusPending, order.OrderStatus)
			assert.Equal(t, 0, carts.count())
		default:
			t.Fatalf("unexpected payment status %s", order.PaymentStatus)
		}
		assert.Len(t, pub.all(), 1, "exactly one outcome took effect")
	}
}

func TestVerifyRedirect_PendingStatusLeavesOrderPending(t *testing.T) {
	repo := newMemOrderRepo(pendingOrder("order-1"))
	carts := &countingCarts{}
	pub := &capturingPublisher{}
	verifier := &stubVerifier{resp: &gateway.VerifyResponse{
		Status: "success",
		Data: gateway.VerifyData{
			ID:     777,
			Status: gateway.TxStatusPending,
			Meta:   gateway.ChargeMeta{OrderID: "order-1"},
		},
	}}
	engine := newTestEngine(repo, carts, verifier, pub)

	// The user lands back while their mobile-money charge is still in flight.
	result, err := engine.VerifyRedirect(context.Background(), "777", "txref-order-1", gateway.TxStatusPending)
	require.NoError(t, err)
	assert.Equal(t, StatePending, result.State)
	assert.False(t, result.AlreadyTerminal)

	order := repo.get("order-1")
	assert.Equal(t, domain.PaymentStatusPending, order.PaymentStatus, "a non-terminal status must not settle the order")
	assert.Empty(t, order.PaymentRef)
	assert.Equal(t, 0, carts.count())
	assert.Empty(t, pub.all())

	// The charge completes later; the webhook must still be able to settle.
	body, sig := signedWebhookBody(t, "order-1", gateway.TxStatusSuccessful, 777)
	require.NoError(t, engine.HandleWebhook(context.Background(), body, sig))

	order = repo.get("order-1")
	assert.Equal(t, domain.PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, "777", order.PaymentRef)
	assert.Equal(t, 1, carts.count())
}

func TestHandleWebhook_PendingStatusDoesNotSettle(t *testing.T) {
	repo := newMemOrderRepo(pendingOrder("order-1"))
	carts := &countingCarts{}
	engine := newTestEngine(repo, carts, &stubVerifier{}, &capturingPublisher{})

	body, sig := signedWebhookBody(t, "order-1", gateway.TxStatusPending, 777)

	err := engine.HandleWebhook(context.Background(), body, sig)
	require.NoError(t, err)

	order := repo.get("order-1")
	assert.Equal(t, domain.PaymentStatusPending, order.PaymentStatus)
	assert.Equal(t, 0, carts.count())
}

func TestApplyOutcome_CancelledStatusFailsOrder(t *testing.T) {
	repo := newMemOrderRepo(pendingOrder("order-1"))
	engine := newTestEngine(repo, &countingCarts{}, &stubVerifier{}, &capturingPublisher{})

	result, err := engine.ApplyOutcome(context.Background(), "order-1", Outcome{TransactionID: "777", Status: gateway.TxStatusCancelled})
	require.NoError(t, err)
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, domain.PaymentStatusFailed, repo.get("order-1").PaymentStatus)
}

func TestVerifyRedirect_CancelledHintShortCircuits(t *testing.T) {
	repo := newMemOrderRepo(pendingOrder("order-1"))
	verifier := &stubVerifier{}
	engine := newTestEngine(repo, &countingCarts{}, verifier, &capturingPublisher{})

	result, err := engine.VerifyRedirect(context.Background(), "777", "txref-order-1", gateway.TxStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, result.State)
	assert.Equal(t, 0, verifier.hits, "no verify call for a cancellation")
	assert.Equal(t, domain.PaymentStatusPending, repo.get("order-1").PaymentStatus)
}

func TestVerifyRedirect_TransientErrorLeavesOrderPending(t *testing.T) {
	repo := newMemOrderRepo(pendingOrder("order-1"))
	verifier := &stubVerifier{err: gateway.ErrGatewayUnavailable}
	engine := newTestEngine(repo, &countingCarts{}, verifier, &capturingPublisher{})

	_, err := engine.VerifyRedirect(context.Background(), "777", "txref-order-1", "pending")
	assert.ErrorIs(t, err, gateway.ErrGatewayUnavailable)

	// Never give up on a pending order from a transient verification error.
	assert.Equal(t, domain.PaymentStatusPending, repo.get("order-1").PaymentStatus)
}

func TestVerifyRedirect_HintIsAdvisoryOnly(t *testing.T) {
	repo := newMemOrderRepo(pendingOrder("order-1"))
	verifier := &stubVerifier{resp: &gateway.VerifyResponse{
		Status: "success",
		Data: gateway.VerifyData{
			ID:     777,
			Status: gateway.TxStatusSuccessful,
			Meta:   gateway.ChargeMeta{OrderID: "order-1"},
		},
	}}
	engine := newTestEngine(repo, &countingCarts{}, verifier, &capturingPublisher{})

	// The redirect claims failure; the gateway says successful. The gateway wins.
	result, err := engine.VerifyRedirect(context.Background(), "777", "txref-order-1", "failed")
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, result.State)
	assert.Equal(t, domain.PaymentStatusPaid, repo.get("order-1").PaymentStatus)
}

func TestVerifyRedirect_FallsBackToTxRefLookup(t *testing.T) {
	repo := newMemOrderRepo(pendingOrder("order-1"))
	verifier := &stubVerifier{resp: &gateway.VerifyResponse{
		Status: "success",
		Data: gateway.VerifyData{
			ID:     777,
			TxRef:  "txref-order-1",
			Status: gateway.TxStatusSuccessful,
			// no meta block
		},
	}}
	engine := newTestEngine(repo, &countingCarts{}, verifier, &capturingPublisher{})

	result, err := engine.VerifyRedirect(context.Background(), "777", "txref-order-1", gateway.TxStatusSuccessful)
	require.NoError(t, err)
	assert.Equal(t, "order-1", result.OrderID)
	assert.Equal(t, domain.PaymentStatusPaid, repo.get("order-1").PaymentStatus)
}

func TestVerifyRedirect_TxRefOnlyReportsStoredState(t *testing.T) {
	repo := newMemOrderRepo(pendingOrder("order-1"))
	verifier := &stubVerifier{}
	engine := newTestEngine(repo, &countingCarts{}, verifier, &capturingPublisher{})

	// No transaction id to verify: report the stored state without settling.
	result, err := engine.VerifyRedirect(context.Background(), "", "txref-order-1", "")
	require.NoError(t, err)
	assert.Equal(t, "order-1", result.OrderID)
	assert.Equal(t, StatePending, result.State)
	assert.Equal(t, 0, verifier.hits)
	assert.Equal(t, domain.PaymentStatusPending, repo.get("order-1").PaymentStatus)

	// Once the webhook settles the order, the same lookup reports the result.
	body, sig := signedWebhookBody(t, "order-1", gateway.TxStatusSuccessful, 777)
	require.NoError(t, engine.HandleWebhook(context.Background(), body, sig))

	result, err = engine.VerifyRedirect(context.Background(), "", "txref-order-1", "")
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, result.State)
	assert.True(t, result.AlreadyTerminal)
}

func TestVerifyRedirect_NoOrderReference(t *testing.T) {
	verifier := &stubVerifier{resp: &gateway.VerifyResponse{
		Status: "success",
		Data:   gateway.VerifyData{ID: 777, Status: gateway.TxStatusSuccessful},
	}}
	engine := newTestEngine(newMemOrderRepo(), &countingCarts{}, verifier, &capturingPublisher{})

	_, err := engine.VerifyRedirect(context.Background(), "777", "unknown-ref", gateway.TxStatusSuccessful)
	assert.ErrorIs(t, err, ErrMissingOrderRef)
}

func TestStateOf(t *testing.T) {
	cases := []struct {
		status domain.PaymentStatus
		want   State
	}{
		{domain.PaymentStatusPaid, StateConfirmed},
		{domain.PaymentStatusCashOnDelivery, StateConfirmed},
		{domain.PaymentStatusFailed, StateFailed},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			assert.Equal(t, tc.want, stateOf(tc.status))
		})
	}
}
