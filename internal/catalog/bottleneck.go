package catalog

import "math"

// StockReader is the read side of the reservation tracker.
type StockReader interface {
	GetCurrentStock(productID string) int
	IsProductTracked(productID string) bool
}

// Bottleneck returns how many units of pkg the tracked stock can still cover,
// and the component that limits it. limited is false when no component is tracked.
func Bottleneck(pkg Package, stock StockReader) (available int, productID string, limited bool) {
	available = math.MaxInt
	for _, c := range pkg.Components {
		if c.Quantity <= 0 || !stock.IsProductTracked(c.ProductID) {
			continue
		}
		n := stock.GetCurrentStock(c.ProductID) / c.Quantity
		if n < available {
			available = n
			productID = c.ProductID
		}
		limited = true
	}
	if !limited {
		return 0, "", false
	}
	return available, productID, true
}
