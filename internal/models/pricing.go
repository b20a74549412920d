package models

import "github.com/shopspring/decimal"

// Pricing holds the cart-level tax and shipping rules
type Pricing struct {
	TaxRate               decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	FlatShippingFee       decimal.Decimal
}

// DefaultPricing is 18% tax, free shipping from 500, otherwise 50
var DefaultPricing = Pricing{
	TaxRate:               decimal.RequireFromString("0.18"),
	FreeShippingThreshold: decimal.NewFromInt(500),
	FlatShippingFee:       decimal.NewFromInt(50),
}

// CartTotals is derived on every read and never stored
type CartTotals struct {
	ItemCount int             `json:"item_count"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Tax       decimal.Decimal `json:"tax"`
	Shipping  decimal.Decimal `json:"shipping"`
	Total     decimal.Decimal `json:"total"`
}

// Totals computes subtotal, tax, shipping and total for a set of lines.
// Tax rounds half-to-even at 2 places.
func (p Pricing) Totals(items []CartItem) CartTotals {
	subtotal := decimal.Zero
	count := 0
	for _, item := range items {
		subtotal = subtotal.Add(item.Total())
		count += item.Quantity
	}

	tax := subtotal.Mul(p.TaxRate).RoundBank(2)

	shipping := p.FlatShippingFee
	if subtotal.GreaterThanOrEqual(p.FreeShippingThreshold) {
		shipping = decimal.Zero
	}

	return CartTotals{
		ItemCount: count,
		Subtotal:  subtotal,
		Tax:       tax,
		Shipping:  shipping,
		Total:     subtotal.Add(tax).Add(shipping),
	}
}

// Totals computes the cart's derived amounts
func (c *Cart) Totals(p Pricing) CartTotals {
	return p.Totals(c.Items)
}
