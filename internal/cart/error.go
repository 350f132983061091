package cart

import "errors"

var (
	// -- Validation & Input --
	ErrInvalidQuantity = errors.New("invalid cart quantity")
	ErrInvalidDiscount = errors.New("invalid cart discount")
	ErrInvalidItem     = errors.New("invalid cart item")

	// -- Resource State --
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrItemNotFound      = errors.New("cart item not found")
	ErrCartEmpty         = errors.New("cart is empty")
	ErrOrderClosed       = errors.New("order is no longer editable")

	// -- Sync --
	ErrFailedFinalize = errors.New("failed to finalize order")
)
