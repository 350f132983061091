package stock

import (
	"sync"

	"warimas-pos/internal/catalog"
	"warimas-pos/internal/logger"

	"go.uber.org/zap"
)

// Entry shadows one product's authoritative stock.
// Invariant: 0 <= CurrentStock <= OriginalStock.
type Entry struct {
	OriginalStock int `json:"original_stock"`
	CurrentStock  int `json:"current_stock"`
}

func (e Entry) Reserved() int {
	return max(0, e.OriginalStock-e.CurrentStock)
}

// Tracker is the in-memory reservation overlay. Reservations are advisory and
// local to this terminal; the backend still decides at checkout.
//
// The entries map is replaced, never mutated in place, so a map returned by
// Snapshot stays valid and unchanged for its holder.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]Entry
	version uint64
}

func NewTracker() *Tracker {
	return &Tracker{entries: map[string]Entry{}}
}

// InitializeStock seeds or refreshes the tracker from an authoritative snapshot,
// carrying outstanding reservations over to the new stock values.
// It reports whether anything changed; when nothing did, state is untouched.
func (t *Tracker) InitializeStock(levels []catalog.StockLevel) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	var next map[string]Entry
	for _, lvl := range levels {
		snapshot := max(0, lvl.Stock)

		old, tracked := t.entries[lvl.ProductID]
		entry := Entry{OriginalStock: snapshot, CurrentStock: snapshot}
		if tracked {
			entry.CurrentStock = max(0, snapshot-old.Reserved())
			if entry == old {
				continue
			}
		}

		if next == nil {
			next = t.cloneLocked()
		}
		next[lvl.ProductID] = entry
	}

	if next == nil {
		return false
	}
	t.entries = next
	t.version++
	return true
}

// ReserveStock deducts qty, flooring at zero.
func (t *Tracker) ReserveStock(productID string, qty int) {
	if qty <= 0 {
		return
	}
	t.adjust("ReserveStock", productID, func(e Entry) Entry {
		e.CurrentStock = max(0, e.CurrentStock-qty)
		return e
	})
}

// ReleaseStock gives qty back, capped at the original stock.
func (t *Tracker) ReleaseStock(productID string, qty int) {
	if qty <= 0 {
		return
	}
	t.adjust("ReleaseStock", productID, func(e Entry) Entry {
		e.CurrentStock = min(e.OriginalStock, e.CurrentStock+qty)
		return e
	})
}

func (t *Tracker) adjust(method, productID string, fn func(Entry) Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	old, ok := t.entries[productID]
	if !ok {
		logger.L().Warn("stock adjustment on untracked product",
			zap.String("layer", "stock"),
			zap.String("method", method),
			zap.String("product_id", productID),
		)
		return
	}

	entry := fn(old)
	if entry == old {
		return
	}

	next := t.cloneLocked()
	next[productID] = entry
	t.entries = next
	t.version++
}

// ResetAllStock drops every reservation held by this terminal.
func (t *Tracker) ResetAllStock() {
	t.mu.Lock()
	defer t.mu.Unlock()

	changed := false
	next := make(map[string]Entry, len(t.entries))
	for id, e := range t.entries {
		if e.CurrentStock != e.OriginalStock {
			changed = true
		}
		next[id] = Entry{OriginalStock: e.OriginalStock, CurrentStock: e.OriginalStock}
	}
	if !changed {
		return
	}
	t.entries = next
	t.version++
}

// GetCurrentStock returns 0 for untracked products.
func (t *Tracker) GetCurrentStock(productID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[productID].CurrentStock
}

// HasStock is true for untracked products: the tracker only knows what it was seeded with.
func (t *Tracker) HasStock(productID string, qty int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[productID]
	if !ok {
		return true
	}
	return e.CurrentStock >= qty
}

func (t *Tracker) IsProductTracked(productID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.entries[productID]
	return ok
}

func (t *Tracker) Entry(productID string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[productID]
	return e, ok
}

// Snapshot returns the current entries. Callers must not modify the map.
func (t *Tracker) Snapshot() map[string]Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries
}

// Version increments on every state change.
func (t *Tracker) Version() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

func (t *Tracker) cloneLocked() map[string]Entry {
	next := make(map[string]Entry, len(t.entries)+1)
	for id, e := range t.entries {
		next[id] = e
	}
	return next
}
