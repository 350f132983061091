package order

import (
	"errors"

	"warimas-pos/internal/db"
)

var (
	// -- Validation --
	ErrItemReference    = errors.New("order item must reference exactly one of product or package")
	ErrInvalidQuantity  = errors.New("order item quantity must be greater than zero")
	ErrItemWithoutOrder = errors.New("order item has no owning order")

	// -- Resource State --
	ErrOrderNotFound = errors.New("order not found")
	ErrItemNotFound  = errors.New("order item not found")

	// -- Storage --
	// ErrStoreUnavailable is wrapped by every method while the local database
	// cannot be opened.
	ErrStoreUnavailable = db.ErrUnavailable
	ErrFailedSaveOrder   = errors.New("failed to save order")
	ErrFailedGetOrder    = errors.New("failed to get order")
	ErrFailedDeleteOrder = errors.New("failed to delete order")
	ErrFailedSaveItem    = errors.New("failed to save order item")
	ErrFailedGetItems    = errors.New("failed to get order items")
	ErrFailedDeleteItem  = errors.New("failed to delete order item")
)
