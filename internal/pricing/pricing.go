// Package pricing computes checkout totals from captured order lines and the
// selected delivery address. It has no side effects.
package pricing

import (
	"context"
	"errors"
	"log"

	"github.com/jonathanaloya/e-comm-sub000/internal/domain"
)

// DefaultDeliveryFee is charged when the zone lookup fails or the address has
// no configured zone. A failed lookup must never block checkout.
const DefaultDeliveryFee = 2000

var ErrInvalidTotal = errors.New("order total must be positive")

type Totals struct {
	SubTotal    float64 `json:"sub_total"`
	DeliveryFee float64 `json:"delivery_fee"`
	Total       float64 `json:"total"`
}

// FeeResolver resolves the delivery fee for an address. External collaborator;
// the zone table implementation below is the default.
type FeeResolver interface {
	ResolveDeliveryFee(ctx context.Context, addr *domain.Address, subTotal float64) (float64, error)
}

// Calculate sums the line totals and adds the delivery fee. Lines carry prices
// already discounted at capture time. A nil address means pickup: no fee lookup
// is attempted and the default fee is waived.
func Calculate(ctx context.Context, lines []domain.OrderLine, addr *domain.Address, fees FeeResolver) (Totals, error) {
	if len(lines) == 0 {
		return Totals{}, ErrInvalidTotal
	}

	var t Totals
	for _, line := range lines {
		t.SubTotal += line.LineTotal
	}

	if addr != nil {
		fee, err := fees.ResolveDeliveryFee(ctx, addr, t.SubTotal)
		if err != nil {
			log.Printf("delivery fee lookup failed for address %s, using default: %v", addr.ID, err)
			fee = DefaultDeliveryFee
		}
		t.DeliveryFee = fee
	}

	t.Total = t.SubTotal + t.DeliveryFee
	if t.Total <= 0 {
		return Totals{}, ErrInvalidTotal
	}
	return t, nil
}

// ZoneFeeResolver resolves fees from a static zone table keyed by the address
// zone name. Unknown zones fall back to the default fee.
type ZoneFeeResolver struct {
	fees map[string]float64
}

func NewZoneFeeResolver(fees map[string]float64) *ZoneFeeResolver {
	return &ZoneFeeResolver{fees: fees}
}

func (r *ZoneFeeResolver) ResolveDeliveryFee(_ context.Context, addr *domain.Address, _ float64) (float64, error) {
	if fee, ok := r.fees[addr.Zone]; ok {
		return fee, nil
	}
	return DefaultDeliveryFee, nil
}
