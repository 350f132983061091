package broadcast

import (
	"encoding/json"
	"sync"
	"time"

	"warimas-pos/internal/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Kind string

const (
	KindOrderCreated Kind = "order_created"
	KindOrderUpdated Kind = "order_updated"
	KindItemAdded    Kind = "item_added"
	KindItemUpdated  Kind = "item_updated"
	KindItemRemoved  Kind = "item_removed"
	KindCartCleared  Kind = "cart_cleared"
)

// Message is one cart mutation as seen by other contexts. Payload is always a
// full snapshot of the entity, never a delta.
type Message struct {
	ID         string          `json:"id"`
	Seq        uint64          `json:"seq"`
	Kind       Kind            `json:"kind"`
	OrderID    string          `json:"order_id"`
	ItemID     string          `json:"item_id,omitempty"`
	ContextKey string          `json:"context_key"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	SentAt     time.Time       `json:"sent_at"`
}

const takeoutPrefix = "takeout_"

// ContextKey isolates the stream of one cart: the table id for dine-in,
// takeout_<cashierID> otherwise.
func ContextKey(tableID *string, cashierID string) string {
	if tableID != nil && *tableID != "" {
		return *tableID
	}
	return takeoutPrefix + cashierID
}

// Bus fans messages out to subscribers of a context key. Publishing never
// blocks; a message with no subscriber is dropped.
type Bus struct {
	mu   sync.Mutex
	seq  uint64
	subs map[*Subscription]struct{}
	now  func() time.Time
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[*Subscription]struct{}),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe receives the messages of one context key in publish order.
func (b *Bus) Subscribe(contextKey string) *Subscription {
	return b.subscribe(contextKey, false)
}

// SubscribeAll receives every message regardless of context key.
func (b *Bus) SubscribeAll() *Subscription {
	return b.subscribe("", true)
}

func (b *Bus) subscribe(key string, all bool) *Subscription {
	s := &Subscription{
		bus:    b,
		key:    key,
		all:    all,
		signal: make(chan struct{}, 1),
		out:    make(chan Message),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go s.pump()
	return s
}

func (b *Bus) unsubscribe(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

// Publish stamps and delivers a message. The returned message is what
// subscribers see; delivered reports how many of them it was queued for.
func (b *Bus) Publish(kind Kind, orderID, itemID, contextKey string, payload any) (msg Message, delivered int) {
	raw, err := marshalPayload(payload)
	if err != nil {
		logger.L().Warn("broadcast payload dropped",
			zap.String("layer", "broadcast"),
			zap.String("kind", string(kind)),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return Message{}, 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	msg = Message{
		ID:         uuid.NewString(),
		Seq:        b.seq,
		Kind:       kind,
		OrderID:    orderID,
		ItemID:     itemID,
		ContextKey: contextKey,
		Payload:    raw,
		SentAt:     b.now(),
	}

	// delivered under the bus lock so every subscriber sees publish order
	for s := range b.subs {
		if s.all || s.key == contextKey {
			s.push(msg)
			delivered++
		}
	}
	return msg, delivered
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(p)
	}
}

func (b *Bus) BroadcastOrderCreated(orderID, contextKey string, snapshot any) {
	b.Publish(KindOrderCreated, orderID, "", contextKey, snapshot)
}

func (b *Bus) BroadcastOrderUpdated(orderID, contextKey string, snapshot any) {
	b.Publish(KindOrderUpdated, orderID, "", contextKey, snapshot)
}

func (b *Bus) BroadcastItemAdded(orderID, contextKey, itemID string, payload any) {
	b.Publish(KindItemAdded, orderID, itemID, contextKey, payload)
}

func (b *Bus) BroadcastItemUpdated(orderID, contextKey, itemID string, payload any) {
	b.Publish(KindItemUpdated, orderID, itemID, contextKey, payload)
}

func (b *Bus) BroadcastItemRemoved(orderID, contextKey, itemID string, payload any) {
	b.Publish(KindItemRemoved, orderID, itemID, contextKey, payload)
}

func (b *Bus) BroadcastCartCleared(orderID, contextKey string) {
	b.Publish(KindCartCleared, orderID, "", contextKey, nil)
}

// Subscription buffers without bound so a slow reader never stalls Publish.
type Subscription struct {
	bus *Bus
	key string
	all bool

	mu     sync.Mutex
	queue  []Message
	signal chan struct{}
	out    chan Message

	done      chan struct{}
	closeOnce sync.Once
}

// C yields messages in publish order and is closed after Close.
func (s *Subscription) C() <-chan Message { return s.out }

func (s *Subscription) ContextKey() string { return s.key }

func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.bus.unsubscribe(s)
		close(s.done)
	})
}

func (s *Subscription) push(m Message) {
	s.mu.Lock()
	s.queue = append(s.queue, m)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.signal:
				continue
			case <-s.done:
				return
			}
		}
		m := s.queue[0]
		s.queue[0] = Message{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- m:
		case <-s.done:
			return
		}
	}
}
