package transport

import (
	"net/http"

	"warimas-pos/internal/cart"
	"warimas-pos/internal/catalog"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type addItemRequest struct {
	Product  catalog.Product `json:"product"`
	Quantity int             `json:"quantity"`
}

type addPackageRequest struct {
	Package  catalog.Package `json:"package"`
	Quantity int             `json:"quantity"`
}

// updateItemRequest carries an optional quantity next to the line attributes.
type updateItemRequest struct {
	Quantity *int `json:"quantity,omitempty"`
	cart.ItemPatch
}

func (p updateItemRequest) hasPatch() bool {
	return p.Note != nil || p.UnitPrice != nil || p.IsVIPPrice != nil ||
		p.IsComplimentary != nil || p.Discount != nil
}

type setTableRequest struct {
	TableID *string `json:"table_id"`
}

type setDiscountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cart.Cart())
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "addItem", err)
		return
	}
	if _, err := h.cart.AddItem(r.Context(), req.Product, req.Quantity); err != nil {
		h.fail(w, r, "addItem", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.cart.Cart())
}

func (h *Handler) addPackage(w http.ResponseWriter, r *http.Request) {
	var req addPackageRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "addPackage", err)
		return
	}
	if _, err := h.cart.AddPackage(r.Context(), req.Package, req.Quantity); err != nil {
		h.fail(w, r, "addPackage", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.cart.Cart())
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")

	var req updateItemRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "updateItem", err)
		return
	}

	if req.hasPatch() {
		if err := h.cart.UpdateItem(r.Context(), itemID, req.ItemPatch); err != nil {
			h.fail(w, r, "updateItem", err)
			return
		}
	}
	if req.Quantity != nil {
		if err := h.cart.UpdateQuantity(r.Context(), itemID, *req.Quantity); err != nil {
			h.fail(w, r, "updateItem", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, h.cart.Cart())
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	if err := h.cart.RemoveItem(r.Context(), chi.URLParam(r, "itemID")); err != nil {
		h.fail(w, r, "removeItem", err)
		return
	}
	writeJSON(w, http.StatusOK, h.cart.Cart())
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.cart.ClearCart(r.Context()); err != nil {
		h.fail(w, r, "clearCart", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setTable(w http.ResponseWriter, r *http.Request) {
	var req setTableRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "setTable", err)
		return
	}
	if err := h.cart.SetTable(r.Context(), req.TableID); err != nil {
		h.fail(w, r, "setTable", err)
		return
	}
	writeJSON(w, http.StatusOK, h.cart.Cart())
}

func (h *Handler) setCustomer(w http.ResponseWriter, r *http.Request) {
	var req cart.Customer
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "setCustomer", err)
		return
	}
	if err := h.cart.SetCustomer(r.Context(), req); err != nil {
		h.fail(w, r, "setCustomer", err)
		return
	}
	writeJSON(w, http.StatusOK, h.cart.Cart())
}

func (h *Handler) setDiscount(w http.ResponseWriter, r *http.Request) {
	var req setDiscountRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "setDiscount", err)
		return
	}
	if err := h.cart.SetDiscount(r.Context(), req.Amount); err != nil {
		h.fail(w, r, "setDiscount", err)
		return
	}
	writeJSON(w, http.StatusOK, h.cart.Cart())
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	if err := h.cart.Confirm(r.Context()); err != nil {
		h.fail(w, r, "confirm", err)
		return
	}
	writeJSON(w, http.StatusOK, h.cart.Cart())
}

func (h *Handler) finalize(w http.ResponseWriter, r *http.Request) {
	orderID, err := h.cart.Finalize(r.Context())
	if err != nil {
		h.fail(w, r, "finalize", err)
		return
	}
	// the outbox may be idle until the next poll
	h.sync.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]string{"order_id": orderID})
}

func (h *Handler) abortCheckout(w http.ResponseWriter, r *http.Request) {
	if err := h.cart.AbortCheckout(r.Context()); err != nil {
		h.fail(w, r, "abortCheckout", err)
		return
	}
	writeJSON(w, http.StatusOK, h.cart.Cart())
}
