package broadcast

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

type entityState struct {
	seq     uint64
	removed bool
	payload json.RawMessage
}

// Projection rebuilds a cart view from bus messages. Each message replaces the
// whole entity it names, and anything older than what was already applied for
// that entity is ignored, so duplicates and reordering settle to the same view.
type Projection struct {
	mu     sync.RWMutex
	orders map[string]*entityState
	items  map[string]map[string]*entityState
}

func NewProjection() *Projection {
	return &Projection{
		orders: make(map[string]*entityState),
		items:  make(map[string]map[string]*entityState),
	}
}

// Apply reports whether the message changed the view.
func (p *Projection) Apply(m Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch m.Kind {
	case KindOrderCreated, KindOrderUpdated:
		return replace(p.orders, m.OrderID, m.Seq, m.Payload, false)

	case KindItemAdded, KindItemUpdated, KindItemRemoved:
		if o, ok := p.orders[m.OrderID]; ok && o.removed && o.seq >= m.Seq {
			return false
		}
		items := p.items[m.OrderID]
		if items == nil {
			items = make(map[string]*entityState)
			p.items[m.OrderID] = items
		}
		return replace(items, m.ItemID, m.Seq, m.Payload, m.Kind == KindItemRemoved)

	case KindCartCleared:
		if !replace(p.orders, m.OrderID, m.Seq, nil, true) {
			return false
		}
		items := p.items[m.OrderID]
		for id, it := range items {
			if it.seq < m.Seq {
				items[id] = &entityState{seq: m.Seq, removed: true}
			}
		}
		return true
	}
	return false
}

func replace(states map[string]*entityState, id string, seq uint64, payload json.RawMessage, removed bool) bool {
	if cur, ok := states[id]; ok && cur.seq >= seq {
		return false
	}
	states[id] = &entityState{seq: seq, removed: removed, payload: payload}
	return true
}

// Order returns the latest order snapshot, or nil when unknown or cleared.
func (p *Projection) Order(orderID string) json.RawMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()

	o, ok := p.orders[orderID]
	if !ok || o.removed {
		return nil
	}
	return o.payload
}

// Items returns the live item snapshots of an order ordered by item id.
func (p *Projection) Items(orderID string) []json.RawMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]string, 0, len(p.items[orderID]))
	for id, it := range p.items[orderID] {
		if !it.removed {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		out = append(out, p.items[orderID][id].payload)
	}
	return out
}

// Consume applies messages from sub until it closes or ctx is done.
func (p *Projection) Consume(ctx context.Context, sub *Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-sub.C():
			if !ok {
				return
			}
			p.Apply(m)
		}
	}
}
