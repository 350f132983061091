package order

import "github.com/shopspring/decimal"

// Calculator derives line and order totals from live items. The backend owns
// pricing and tax rules; TaxRate only mirrors what it configured for display.
type Calculator struct {
	TaxRate decimal.Decimal
}

// RecalculateItem fills Subtotal and Total. Item.Discount is carried verbatim;
// a complimentary line is discounted to zero.
func (c Calculator) RecalculateItem(item *LocalOrderItem) {
	item.Subtotal = item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
	if item.IsComplimentary {
		item.Discount = item.Subtotal
	}
	item.Total = nonNegative(item.Subtotal.Sub(item.Discount))
}

// Recalculate recomputes every line and the order totals from the full item set.
// Calling it twice on the same input gives the same result.
func (c Calculator) Recalculate(o *LocalOrder, items []*LocalOrderItem) {
	subtotal := decimal.Zero
	for _, item := range items {
		c.RecalculateItem(item)
		subtotal = subtotal.Add(item.Total)
	}

	taxable := nonNegative(subtotal.Sub(o.Discount))

	o.Subtotal = subtotal
	o.Tax = taxable.Mul(c.TaxRate).Round(2)
	o.Total = taxable.Add(o.Tax)
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
