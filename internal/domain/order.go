package domain

import "time"

type PaymentMethod string

const (
	PaymentMethodOnline         PaymentMethod = "online"
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

type PaymentStatus string

const (
	PaymentStatusPending        PaymentStatus = "pending"
	PaymentStatusPaid           PaymentStatus = "paid"
	PaymentStatusFailed         PaymentStatus = "failed"
	PaymentStatusCashOnDelivery PaymentStatus = "cash_on_delivery"
)

// IsTerminal reports whether no further payment transition is permitted.
// cash_on_delivery is terminal on write: there is no gateway round trip to reconcile.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusPaid || s == PaymentStatusFailed || s == PaymentStatusCashOnDelivery
}

func (s PaymentStatus) String() string {
	return string(s)
}

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

var orderStatusRank = map[OrderStatus]int{
	OrderStatusPending:    0,
	OrderStatusConfirmed:  1,
	OrderStatusProcessing: 2,
	OrderStatusShipped:    3,
	OrderStatusDelivered:  4,
}

// CanTransitionTo allows fulfillment to move forward one or more steps, and
// cancellation before the order ships. delivered and cancelled are final.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s == OrderStatusDelivered || s == OrderStatusCancelled {
		return false
	}
	if next == OrderStatusCancelled {
		return s == OrderStatusPending || s == OrderStatusConfirmed || s == OrderStatusProcessing
	}
	cur, ok := orderStatusRank[s]
	if !ok {
		return false
	}
	nxt, ok := orderStatusRank[next]
	if !ok {
		return false
	}
	return nxt > cur
}

func (s OrderStatus) String() string {
	return string(s)
}

// TrackingStep maps an order status to its index on the progress display
// (pending=0 ... delivered=4). Cancelled orders short-circuit to -1.
func TrackingStep(s OrderStatus) int {
	if s == OrderStatusCancelled {
		return -1
	}
	if step, ok := orderStatusRank[s]; ok {
		return step
	}
	return 0
}

// OrderLine is the immutable snapshot of one cart line captured at order time.
// Name and Image must not change if the catalog item is later edited or removed.
type OrderLine struct {
	ProductID  string  `bson:"product_id" json:"product_id"`
	Name       string  `bson:"name" json:"name"`
	Image      string  `bson:"image" json:"image"`
	Quantity   int     `bson:"quantity" json:"quantity"`
	UnitAmount float64 `bson:"unit_amount" json:"unit_amount"`
	LineTotal  float64 `bson:"line_total" json:"line_total"`
}

// Order is the aggregate produced by one checkout action. All lines live inside
// the aggregate document, so payment settlement is a single conditional write
// and the lines can never disagree on payment status or totals.
type Order struct {
	ID                string        `bson:"_id"`
	UserID            string        `bson:"user_id"`
	Lines             []OrderLine   `bson:"lines"`
	DeliveryAddressID string        `bson:"delivery_address_id"`
	SubTotal          float64       `bson:"sub_total"`
	DeliveryFee       float64       `bson:"delivery_fee"`
	Total             float64       `bson:"total"`
	Currency          string        `bson:"currency"`
	PaymentMethod     PaymentMethod `bson:"payment_method"`
	PaymentStatus     PaymentStatus `bson:"payment_status"`
	// PaymentRef is the gateway transaction id, empty until reconciled. Once set
	// it is never replaced by a different transaction id.
	PaymentRef  string      `bson:"payment_ref"`
	TxRef       string      `bson:"tx_ref,omitempty"`
	OrderStatus OrderStatus `bson:"order_status"`
	CreatedAt   time.Time   `bson:"created_at"`
	UpdatedAt   time.Time   `bson:"updated_at"`
}
