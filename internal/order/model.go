package order

import (
	"time"

	"warimas-pos/internal/catalog"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusConfirmed Status = "confirmed"
	StatusPaid      Status = "paid"
	// StatusDiscarded is never stored: a discarded cart's rows are deleted.
	StatusDiscarded Status = "discarded"
)

// Terminal reports whether local staging of the order has ended.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusDiscarded
}

// LocalOrder is the locally staged draft of one cart context.
// A nil TableID means a takeout order keyed by cashier.
type LocalOrder struct {
	ID            string          `json:"id"`
	StaffID       *string         `json:"staff_id,omitempty"`
	TableID       *string         `json:"table_id,omitempty"`
	ContextKey    string          `json:"context_key"`
	CustomerID    *string         `json:"customer_id,omitempty"`
	CustomerName  *string         `json:"customer_name,omitempty"`
	CustomerPhone *string         `json:"customer_phone,omitempty"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"discount"`
	Tax           decimal.Decimal `json:"tax"`
	Total         decimal.Decimal `json:"total"`
	Status        Status          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// LocalOrderItem is one cart line. Exactly one of ProductID and PackageID is set.
// A package line keeps the components it was sold with, so its reservations
// can be rebuilt and released from the line alone.
type LocalOrderItem struct {
	ID              string                     `json:"id"`
	OrderID         string                     `json:"order_id"`
	ProductID       *string                    `json:"product_id,omitempty"`
	PackageID       *string                    `json:"package_id,omitempty"`
	Name            string                     `json:"name"`
	Quantity        int                        `json:"quantity"`
	UnitPrice       decimal.Decimal            `json:"unit_price"`
	Subtotal        decimal.Decimal            `json:"subtotal"`
	Discount        decimal.Decimal            `json:"discount"`
	Total           decimal.Decimal            `json:"total"`
	Note            *string                    `json:"note,omitempty"`
	IsVIPPrice      bool                       `json:"is_vip_price"`
	IsComplimentary bool                       `json:"is_complimentary"`
	Components      []catalog.PackageComponent `json:"components,omitempty"`
	CreatedAt       time.Time                  `json:"created_at"`
	UpdatedAt       time.Time                  `json:"updated_at"`
}

func (i *LocalOrderItem) Validate() error {
	if (i.ProductID == nil) == (i.PackageID == nil) {
		return ErrItemReference
	}
	if i.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if i.OrderID == "" {
		return ErrItemWithoutOrder
	}
	return nil
}

// RefID is the product or package id the line refers to.
func (i *LocalOrderItem) RefID() string {
	if i.ProductID != nil {
		return *i.ProductID
	}
	if i.PackageID != nil {
		return *i.PackageID
	}
	return ""
}
