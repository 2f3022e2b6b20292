package domain

type Product struct {
	ID       string  `bson:"_id" json:"id"`
	Name     string  `bson:"name" json:"name"`
	Image    string  `bson:"image" json:"image"`
	Price    float64 `bson:"price" json:"price"`
	Discount float64 `bson:"discount" json:"discount"` // percentage, 0-100
	Stock    int     `bson:"stock" json:"stock"`
}

// PriceAfterDiscount is the unit amount captured into order lines. Checkout
// always derives prices from the catalog, never from client-supplied values.
func (p Product) PriceAfterDiscount() float64 {
	if p.Discount <= 0 {
		return p.Price
	}
	return p.Price - p.Price*p.Discount/100
}
