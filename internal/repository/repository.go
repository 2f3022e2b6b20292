package repository

import (
	"context"
	"errors"

	"github.com/jonathanaloya/e-comm-sub000/internal/domain"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrCartNotFound      = errors.New("cart not found")
	ErrItemNotFound      = errors.New("item not found in cart")
	ErrProductNotFound   = errors.New("product not found")
	ErrAddressNotFound   = errors.New("address not found")
	ErrIllegalTransition = errors.New("illegal order status transition")
)

// OrderRepository is the durable store for order aggregates. SettlePayment is
// the only synchronization primitive the reconciliation engine relies on.
type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, orderID string) (*domain.Order, error)
	GetByTxRef(ctx context.Context, txRef string) (*domain.Order, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Order, error)
	// SettlePayment performs the conditional pending->terminal transition. It
	// returns the order after the attempt and whether this call performed the
	// transition. A concurrent duplicate finds nothing pending and no-ops.
	SettlePayment(ctx context.Context, orderID string, status domain.PaymentStatus, paymentRef string) (*domain.Order, bool, error)
	AdvanceStatus(ctx context.Context, orderID string, next domain.OrderStatus) (*domain.Order, error)
}

type CartRepository interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	AddItem(ctx context.Context, userID string, item domain.CartItem) error
	UpdateItemQuantity(ctx context.Context, userID string, productID string, quantity int) error
	RemoveItem(ctx context.Context, userID string, productID string) error
	DeleteCart(ctx context.Context, userID string) error
}

// ProductCatalog is the read-only price/name/image source for order snapshots.
// Product CRUD itself lives outside this service.
type ProductCatalog interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
}

// AddressStore resolves a delivery address and its ownership. Address CRUD
// lives outside this service.
type AddressStore interface {
	GetAddress(ctx context.Context, userID, addressID string) (*domain.Address, error)
}
