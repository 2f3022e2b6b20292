// Package projection is the read path: it shapes order aggregates into the
// client-facing views the storefront renders.
package projection

import (
	"context"
	"time"

	"github.com/jonathanaloya/e-comm-sub000/internal/domain"
	"github.com/jonathanaloya/e-comm-sub000/internal/repository"
)

type OrderItemView struct {
	ProductID  string  `json:"product_id"`
	Name       string  `json:"name"`
	Image      string  `json:"image"`
	Quantity   int     `json:"quantity"`
	UnitAmount float64 `json:"unit_amount"`
	LineTotal  float64 `json:"line_total"`
}

// OrderView is one checkout: header totals plus the item list. For single-item
// orders the first item is also flattened into Item for older storefront
// clients that render per-product rows.
type OrderView struct {
	OrderID       string `json:"order_id"`
	OrderStatus   string `json:"order_status"`
	PaymentStatus string `json:"payment_status"`
	PaymentRef    string `json:"payment_ref,omitempty"`
	// TrackingStep indexes the progress display; -1 short-circuits it for
	// cancelled orders.
	TrackingStep int             `json:"tracking_step"`
	SubTotal     float64         `json:"sub_total"`
	DeliveryFee  float64         `json:"delivery_fee"`
	Total        float64         `json:"total"`
	Currency     string          `json:"currency"`
	Items        []OrderItemView `json:"items"`
	Item         *OrderItemView  `json:"item,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type Service struct {
	orders repository.OrderRepository
}

func NewService(orders repository.OrderRepository) *Service {
	return &Service{orders: orders}
}

func (s *Service) ListOrdersForUser(ctx context.Context, userID string) ([]OrderView, error) {
	orders, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	views := make([]OrderView, 0, len(orders))
	for i := range orders {
		views = append(views, toView(&orders[i]))
	}
	return views, nil
}

// GetOrder returns one order view, scoped to its owner.
func (s *Service) GetOrder(ctx context.Context, userID, orderID string) (*OrderView, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		// Another user's order is indistinguishable from a missing one.
		return nil, repository.ErrOrderNotFound
	}

	view := toView(order)
	return &view, nil
}

func toView(order *domain.Order) OrderView {
	items := make([]OrderItemView, 0, len(order.Lines))
	for _, line := range order.Lines {
		items = append(items, OrderItemView{
			ProductID:  line.ProductID,
			Name:       line.Name,
			Image:      line.Image,
			Quantity:   line.Quantity,
			UnitAmount: line.UnitAmount,
			LineTotal:  line.LineTotal,
		})
	}

	view := OrderView{
		OrderID:       order.ID,
		OrderStatus:   order.OrderStatus.String(),
		PaymentStatus: order.PaymentStatus.String(),
		PaymentRef:    order.PaymentRef,
		TrackingStep:  domain.TrackingStep(order.OrderStatus),
		SubTotal:      order.SubTotal,
		DeliveryFee:   order.DeliveryFee,
		Total:         order.Total,
		Currency:      order.Currency,
		Items:         items,
		CreatedAt:     order.CreatedAt,
	}
	if len(items) == 1 {
		view.Item = &items[0]
	}
	return view
}
