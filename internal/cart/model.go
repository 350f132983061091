package cart

import (
	"warimas-pos/internal/order"

	"github.com/shopspring/decimal"
)

type Customer struct {
	ID    *string `json:"id,omitempty"`
	Name  *string `json:"name,omitempty"`
	Phone *string `json:"phone,omitempty"`
}

// ItemPatch changes line attributes other than quantity. Nil fields are kept.
type ItemPatch struct {
	Note            *string          `json:"note,omitempty"`
	UnitPrice       *decimal.Decimal `json:"unit_price,omitempty"`
	IsVIPPrice      *bool            `json:"is_vip_price,omitempty"`
	IsComplimentary *bool            `json:"is_complimentary,omitempty"`
	Discount        *decimal.Decimal `json:"discount,omitempty"`
}

// Cart is a copy of the orchestrator state for rendering.
type Cart struct {
	ContextKey string                  `json:"context_key"`
	TableID    *string                 `json:"table_id,omitempty"`
	Order      *order.LocalOrder       `json:"order,omitempty"`
	Items      []*order.LocalOrderItem `json:"items"`
}

// finalizedOrder is the create-order payload sent to the backend.
type finalizedOrder struct {
	*order.LocalOrder
	OrderNumber string `json:"order_number"`
	ItemCount   int    `json:"item_count"`
}
