// Package checkout converts a cart into a durable order and, for online
// payments, opens a charge with the payment gateway.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jonathanaloya/e-comm-sub000/internal/domain"
	"github.com/jonathanaloya/e-comm-sub000/internal/gateway"
	"github.com/jonathanaloya/e-comm-sub000/internal/pricing"
	"github.com/jonathanaloya/e-comm-sub000/internal/repository"
)

var (
	ErrEmptyCart            = errors.New("cart is empty, nothing to checkout")
	ErrUnknownPaymentMethod = errors.New("unknown payment method")
)

// CartAccessor is the slice of the cart service checkout needs.
type CartAccessor interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	Clear(ctx context.Context, userID string) error
}

// ChargeCreator is the slice of the gateway client checkout needs.
type ChargeCreator interface {
	CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResponse, error)
}

type Request struct {
	UserID        string
	AddressID     string
	PaymentMethod domain.PaymentMethod
	Customer      gateway.Customer
}

type Result struct {
	OrderID        string  `json:"order_id"`
	CashOnDelivery bool    `json:"cash_on_delivery"`
	RedirectURL    string  `json:"redirect_url,omitempty"`
	Total          float64 `json:"total"`
	Currency       string  `json:"currency"`
}

type Config struct {
	Currency    string
	RedirectURL string // storefront landing page for the gateway redirect
}

type Service struct {
	orders    repository.OrderRepository
	carts     CartAccessor
	catalog   repository.ProductCatalog
	addresses repository.AddressStore
	gateway   ChargeCreator
	fees      pricing.FeeResolver
	cfg       Config
}

func NewService(
	orders repository.OrderRepository,
	carts CartAccessor,
	catalog repository.ProductCatalog,
	addresses repository.AddressStore,
	charges ChargeCreator,
	fees pricing.FeeResolver,
	cfg Config,
) *Service {
	return &Service{
		orders:    orders,
		carts:     carts,
		catalog:   catalog,
		addresses: addresses,
		gateway:   charges,
		fees:      fees,
		cfg:       cfg,
	}
}

// InitiateCheckout validates the request, snapshots the cart into a fresh
// order aggregate and either finishes immediately (cash on delivery) or opens
// a gateway charge and returns the redirect link. For online payments the cart
// is only cleared later, by reconciliation of a successful outcome.
func (s *Service) InitiateCheckout(ctx context.Context, req Request) (*Result, error) {
	if req.PaymentMethod != domain.PaymentMethodOnline && req.PaymentMethod != domain.PaymentMethodCashOnDelivery {
		return nil, ErrUnknownPaymentMethod
	}

	addr, err := s.addresses.GetAddress(ctx, req.UserID, req.AddressID)
	if err != nil {
		return nil, err
	}

	cart, err := s.carts.GetCart(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if cart == nil || len(cart.Items) == 0 {
		return nil, ErrEmptyCart
	}

	lines, err := s.snapshotLines(ctx, cart.Items)
	if err != nil {
		return nil, err
	}

	totals, err := pricing.Calculate(ctx, lines, addr, s.fees)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	order := &domain.Order{
		ID:                uuid.NewString(),
		UserID:            req.UserID,
		Lines:             lines,
		DeliveryAddressID: addr.ID,
		SubTotal:          totals.SubTotal,
		DeliveryFee:       totals.DeliveryFee,
		Total:             totals.Total,
		Currency:          s.cfg.Currency,
		PaymentMethod:     req.PaymentMethod,
		OrderStatus:       domain.OrderStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if req.PaymentMethod == domain.PaymentMethodCashOnDelivery {
		return s.initiateCashOnDelivery(ctx, order)
	}
	return s.initiateOnline(ctx, order, req.Customer)
}

func (s *Service) initiateCashOnDelivery(ctx context.Context, order *domain.Order) (*Result, error) {
	// Terminal on write: no gateway round trip, no reconciliation.
	order.PaymentStatus = domain.PaymentStatusCashOnDelivery

	if err := s.orders.Create(ctx, order); err != nil {
		return nil, err
	}

	if err := s.carts.Clear(ctx, order.UserID); err != nil {
		log.Printf("failed to clear cart for user %s after COD checkout: %v", order.UserID, err)
	}

	return &Result{
		OrderID:        order.ID,
		CashOnDelivery: true,
		Total:          order.Total,
		Currency:       order.Currency,
	}, nil
}

func (s *Service) initiateOnline(ctx context.Context, order *domain.Order, customer gateway.Customer) (*Result, error) {
	order.PaymentStatus = domain.PaymentStatusPending
	order.TxRef = uuid.NewString()

	// Persist before calling out: a gateway crash mid-call must never lose the
	// order, only leave it pending.
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, err
	}

	charge, err := s.gateway.CreateCharge(ctx, gateway.ChargeRequest{
		TxRef:       order.TxRef,
		Amount:      order.Total,
		Currency:    order.Currency,
		RedirectURL: s.cfg.RedirectURL,
		Customer:    customer,
		Meta: gateway.ChargeMeta{
			OrderID: order.ID,
			UserID:  order.UserID,
		},
	})
	if err != nil {
		// The pending order stays behind; a retried checkout creates a new order id.
		return nil, fmt.Errorf("charge creation for order %s: %w", order.ID, err)
	}

	return &Result{
		OrderID:     order.ID,
		RedirectURL: charge.Data.Link,
		Total:       order.Total,
		Currency:    order.Currency,
	}, nil
}

// snapshotLines prices every cart item from the catalog. Client-supplied
// prices are never trusted.
func (s *Service) snapshotLines(ctx context.Context, items []domain.CartItem) ([]domain.OrderLine, error) {
	lines := make([]domain.OrderLine, 0, len(items))
	for _, item := range items {
		if item.Quantity < 1 {
			return nil, fmt.Errorf("invalid quantity %d for product %s", item.Quantity, item.ProductID)
		}

		product, err := s.catalog.GetProduct(ctx, item.ProductID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve product %s: %w", item.ProductID, err)
		}

		unit := product.PriceAfterDiscount()
		lines = append(lines, domain.OrderLine{
			ProductID:  product.ID,
			Name:       product.Name,
			Image:      product.Image,
			Quantity:   item.Quantity,
			UnitAmount: unit,
			LineTotal:  unit * float64(item.Quantity),
		})
	}
	return lines, nil
}
