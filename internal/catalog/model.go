package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Price    decimal.Decimal  `json:"price"`
	VIPPrice *decimal.Decimal `json:"vip_price,omitempty"`
	Stock    int              `json:"stock"`
}

// PackageComponent is one product consumed by every unit of a package.
type PackageComponent struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type Package struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Price      decimal.Decimal    `json:"price"`
	Components []PackageComponent `json:"components"`
}

// StockLevel is one entry of an authoritative stock snapshot.
type StockLevel struct {
	ProductID string `json:"product_id"`
	Stock     int    `json:"stock"`
}

type Snapshot struct {
	Stock     []StockLevel `json:"stock"`
	FetchedAt time.Time    `json:"fetched_at"`
}

// StockLevels converts a product list into snapshot entries.
func StockLevels(products []Product) []StockLevel {
	levels := make([]StockLevel, 0, len(products))
	for _, p := range products {
		levels = append(levels, StockLevel{ProductID: p.ID, Stock: p.Stock})
	}
	return levels
}
