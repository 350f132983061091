package cart

import (
	"context"
	"fmt"
	"sync"
	"time"

	"warimas-pos/internal/broadcast"
	"warimas-pos/internal/catalog"
	"warimas-pos/internal/logger"
	"warimas-pos/internal/order"
	"warimas-pos/internal/outbox"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StockTracker is the reservation overlay the cart reserves against.
type StockTracker interface {
	catalog.StockReader
	ReserveStock(productID string, qty int)
	ReleaseStock(productID string, qty int)
	HasStock(productID string, qty int) bool
	ResetAllStock()
}

type Broadcaster interface {
	BroadcastOrderCreated(orderID, contextKey string, snapshot any)
	BroadcastOrderUpdated(orderID, contextKey string, snapshot any)
	BroadcastItemAdded(orderID, contextKey, itemID string, payload any)
	BroadcastItemUpdated(orderID, contextKey, itemID string, payload any)
	BroadcastItemRemoved(orderID, contextKey, itemID string, payload any)
	BroadcastCartCleared(orderID, contextKey string)
}

type Outbox interface {
	Enqueue(ctx context.Context, orderID string, entity outbox.EntityType, entityID string, op outbox.Operation, payload any) (*outbox.Mutation, error)
	DiscardOrder(ctx context.Context, orderID string) (int64, error)
}

type Deps struct {
	Store      order.Repository
	Stock      StockTracker
	Bus        Broadcaster
	Outbox     Outbox
	Calculator order.Calculator
	CashierID  string
	StaffID    string
}

// Service orchestrates one cart context. Operations are serialized; each one
// updates memory first and treats local store failures as non-fatal.
type Service struct {
	mu sync.Mutex

	store  order.Repository
	stock  StockTracker
	bus    Broadcaster
	outbox Outbox
	calc   order.Calculator

	cashierID string
	staffID   *string

	tableID  *string
	customer Customer
	order    *order.LocalOrder
	items    []*order.LocalOrderItem

	// holds on products the tracker did not know yet, applied once it does
	pending reservation
	// orders cleared or paid whose local rows could not be deleted yet
	discarded map[string]struct{}

	newID func() string
}

func NewService(d Deps) *Service {
	s := &Service{
		store:      d.Store,
		stock:      d.Stock,
		bus:        d.Bus,
		outbox:     d.Outbox,
		calc:       d.Calculator,
		cashierID:  d.CashierID,
		pending:    reservation{},
		discarded:  make(map[string]struct{}),
		newID:      uuid.NewString,
	}
	if d.StaffID != "" {
		staff := d.StaffID
		s.staffID = &staff
	}
	return s
}

func (s *Service) contextKey() string {
	return broadcast.ContextKey(s.tableID, s.cashierID)
}

func (s *Service) logger(ctx context.Context, method string) *zap.Logger {
	return logger.FromCtx(logger.WithContextKey(ctx, s.contextKey())).With(
		zap.String("layer", "service"),
		zap.String("method", method),
	)
}

// Cart returns a copy of the current state.
func (s *Service) Cart() Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Service) snapshot() Cart {
	c := Cart{
		ContextKey: s.contextKey(),
		TableID:    copyPtr(s.tableID),
		Items:      make([]*order.LocalOrderItem, 0, len(s.items)),
	}
	if s.order != nil {
		o := *s.order
		c.Order = &o
	}
	for _, it := range s.items {
		cp := *it
		c.Items = append(c.Items, &cp)
	}
	return c
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// ensureOrder creates the draft for this context when there is none. The new
// order is persisted and announced before any item is.
func (s *Service) ensureOrder(ctx context.Context, log *zap.Logger) {
	if s.order != nil {
		return
	}
	s.purgeDiscarded(ctx, log)

	s.order = &order.LocalOrder{
		ID:            s.newID(),
		StaffID:       copyPtr(s.staffID),
		TableID:       copyPtr(s.tableID),
		ContextKey:    s.contextKey(),
		CustomerID:    copyPtr(s.customer.ID),
		CustomerName:  copyPtr(s.customer.Name),
		CustomerPhone: copyPtr(s.customer.Phone),
		Status:        order.StatusDraft,
	}
	s.saveOrder(ctx, log)
	s.bus.BroadcastOrderCreated(s.order.ID, s.order.ContextKey, s.order)

	log.Info("draft order created", zap.String("order_id", s.order.ID))
}

// dropLocal deletes an order that left this cart. On failure the id is kept
// so a later attempt removes it and a reload does not bring it back.
func (s *Service) dropLocal(ctx context.Context, log *zap.Logger, orderID string) {
	if err := s.store.DeleteOrder(ctx, orderID); err != nil {
		s.discarded[orderID] = struct{}{}
		log.Warn("could not delete order from local store, will retry",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
	}
}

func (s *Service) purgeDiscarded(ctx context.Context, log *zap.Logger) {
	for id := range s.discarded {
		if err := s.store.DeleteOrder(ctx, id); err != nil {
			log.Debug("discarded order still stored", zap.String("order_id", id), zap.Error(err))
			continue
		}
		delete(s.discarded, id)
		log.Info("discarded order removed from local store", zap.String("order_id", id))
	}
}

func (s *Service) editable() error {
	if s.order != nil && s.order.Status.Terminal() {
		return ErrOrderClosed
	}
	return nil
}

func (s *Service) saveOrder(ctx context.Context, log *zap.Logger) {
	if err := s.store.SaveOrder(ctx, s.order); err != nil {
		log.Warn("local store unavailable, order kept in memory", zap.Error(err))
	}
}

func (s *Service) saveItem(ctx context.Context, log *zap.Logger, item *order.LocalOrderItem) {
	if err := s.store.SaveOrderItem(ctx, item); err != nil {
		log.Warn("local store unavailable, item kept in memory",
			zap.String("item_id", item.ID),
			zap.Error(err),
		)
	}
}

// recalculate recomputes every total from the live item set.
func (s *Service) recalculate() {
	s.calc.Recalculate(s.order, s.items)
}

func (s *Service) findItem(itemID string) (int, *order.LocalOrderItem) {
	for i, it := range s.items {
		if it.ID == itemID {
			return i, it
		}
	}
	return -1, nil
}

func (s *Service) findProductLine(productID string) *order.LocalOrderItem {
	for _, it := range s.items {
		if it.ProductID != nil && *it.ProductID == productID && !it.IsComplimentary {
			return it
		}
	}
	return nil
}

func (s *Service) findPackageLine(packageID string) *order.LocalOrderItem {
	for _, it := range s.items {
		if it.PackageID != nil && *it.PackageID == packageID && !it.IsComplimentary {
			return it
		}
	}
	return nil
}

// reservation is what one line holds in the tracker, captured at the time of
// the change so a later edit of the line cannot skew the release.
type reservation map[string]int

func reservationFor(item *order.LocalOrderItem, qty int) reservation {
	r := reservation{}
	if item.ProductID != nil {
		r[*item.ProductID] = qty
		return r
	}
	for _, c := range item.Components {
		r[c.ProductID] += c.Quantity * qty
	}
	return r
}

// reserve holds r in the tracker. Untracked products are held back in pending
// until a stock snapshot seeds them.
func (s *Service) reserve(r reservation) {
	for productID, qty := range r {
		if qty <= 0 {
			continue
		}
		if !s.stock.IsProductTracked(productID) {
			s.pending[productID] += qty
			continue
		}
		s.stock.ReserveStock(productID, qty)
	}
}

// release gives r back, pending holds first since the tracker never saw them.
func (s *Service) release(r reservation) {
	for productID, qty := range r {
		if held := s.pending[productID]; held > 0 {
			take := min(held, qty)
			qty -= take
			if held == take {
				delete(s.pending, productID)
			} else {
				s.pending[productID] = held - take
			}
		}
		if qty > 0 {
			s.stock.ReleaseStock(productID, qty)
		}
	}
}

// ApplyPendingHolds reserves the cart's held-back units on every product the
// tracker has since been seeded with. It runs after each stock refresh.
func (s *Service) ApplyPendingHolds(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := 0
	for productID, qty := range s.pending {
		if !s.stock.IsProductTracked(productID) {
			continue
		}
		s.stock.ReserveStock(productID, qty)
		delete(s.pending, productID)
		applied++
	}
	if applied > 0 {
		s.logger(ctx, "ApplyPendingHolds").Info("pending reservations applied",
			zap.Int("products", applied),
			zap.Int("still_pending", len(s.pending)),
		)
	}
}

// checkStock validates extra units of a line against the tracker.
func (s *Service) checkStock(item *order.LocalOrderItem, extra int) error {
	if extra <= 0 {
		return nil
	}
	if item.ProductID != nil {
		id := *item.ProductID
		if !s.stock.HasStock(id, extra) {
			return fmt.Errorf("%w: %s has %d left", ErrInsufficientStock, item.Name, s.stock.GetCurrentStock(id))
		}
		return nil
	}

	available, limiting, limited := catalog.Bottleneck(catalog.Package{Components: item.Components}, s.stock)
	if limited && available < extra {
		return fmt.Errorf("%w: %s limited by %s to %d", ErrInsufficientStock, item.Name, limiting, available)
	}
	return nil
}

// AddItem adds qty units of a product, merging into an existing line.
func (s *Service) AddItem(ctx context.Context, p catalog.Product, qty int) (*order.LocalOrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	if p.ID == "" {
		return nil, ErrInvalidItem
	}
	if err := s.editable(); err != nil {
		return nil, err
	}

	line := s.findProductLine(p.ID)
	if line == nil {
		productID := p.ID
		line = &order.LocalOrderItem{
			ProductID: &productID,
			Name:      p.Name,
			UnitPrice: p.Price,
		}
	}
	if err := s.checkStock(line, qty); err != nil {
		return nil, err
	}

	return s.addLine(ctx, "AddItem", line, qty), nil
}

// AddPackage adds qty units of a package; every component is reserved.
func (s *Service) AddPackage(ctx context.Context, pkg catalog.Package, qty int) (*order.LocalOrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	if pkg.ID == "" {
		return nil, ErrInvalidItem
	}
	if err := s.editable(); err != nil {
		return nil, err
	}

	line := s.findPackageLine(pkg.ID)
	if line == nil {
		packageID := pkg.ID
		line = &order.LocalOrderItem{
			PackageID:  &packageID,
			Name:       pkg.Name,
			UnitPrice:  pkg.Price,
			Components: append([]catalog.PackageComponent(nil), pkg.Components...),
		}
	}

	// a line stored without its components never reserved anything; adopt
	// the package's and catch up on the units it already holds
	var catchUp int
	if len(line.Components) == 0 && line.ID != "" {
		line.Components = append([]catalog.PackageComponent(nil), pkg.Components...)
		catchUp = line.Quantity
	}
	if err := s.checkStock(line, qty+catchUp); err != nil {
		if catchUp > 0 {
			line.Components = nil
		}
		return nil, err
	}
	if catchUp > 0 {
		s.reserve(reservationFor(line, catchUp))
	}

	return s.addLine(ctx, "AddPackage", line, qty), nil
}

func (s *Service) addLine(ctx context.Context, method string, line *order.LocalOrderItem, qty int) *order.LocalOrderItem {
	log := s.logger(ctx, method)

	s.ensureOrder(ctx, log)

	isNew := line.ID == ""
	if isNew {
		line.ID = s.newID()
		line.OrderID = s.order.ID
		s.items = append(s.items, line)
	}
	line.Quantity += qty

	s.recalculate()
	s.reserve(reservationFor(line, qty))

	s.saveOrder(ctx, log)
	s.saveItem(ctx, log, line)

	if isNew {
		s.bus.BroadcastItemAdded(s.order.ID, s.order.ContextKey, line.ID, line)
	} else {
		s.bus.BroadcastItemUpdated(s.order.ID, s.order.ContextKey, line.ID, line)
	}
	s.bus.BroadcastOrderUpdated(s.order.ID, s.order.ContextKey, s.order)

	log.Debug("item added",
		zap.String("item_id", line.ID),
		zap.Int("quantity", line.Quantity),
		zap.String("total", s.order.Total.String()),
	)

	cp := *line
	return &cp
}

// RemoveItem drops a line and releases everything it reserved.
func (s *Service) RemoveItem(ctx context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.editable(); err != nil {
		return err
	}
	return s.removeItem(ctx, itemID)
}

func (s *Service) removeItem(ctx context.Context, itemID string) error {
	log := s.logger(ctx, "RemoveItem")

	i, item := s.findItem(itemID)
	if item == nil {
		return ErrItemNotFound
	}
	held := reservationFor(item, item.Quantity)

	s.items = append(s.items[:i], s.items[i+1:]...)

	if err := s.store.DeleteOrderItem(ctx, itemID); err != nil {
		log.Warn("local store unavailable, item removed in memory only", zap.Error(err))
	}
	s.bus.BroadcastItemRemoved(s.order.ID, s.order.ContextKey, itemID, item)

	s.release(held)

	s.recalculate()
	s.saveOrder(ctx, log)
	s.bus.BroadcastOrderUpdated(s.order.ID, s.order.ContextKey, s.order)

	log.Debug("item removed", zap.String("item_id", itemID), zap.String("total", s.order.Total.String()))
	return nil
}

// UpdateQuantity sets a line's quantity; zero or less removes the line.
func (s *Service) UpdateQuantity(ctx context.Context, itemID string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.editable(); err != nil {
		return err
	}
	if qty <= 0 {
		return s.removeItem(ctx, itemID)
	}

	_, item := s.findItem(itemID)
	if item == nil {
		return ErrItemNotFound
	}

	delta := qty - item.Quantity
	if delta == 0 {
		return nil
	}
	if err := s.checkStock(item, delta); err != nil {
		return err
	}

	log := s.logger(ctx, "UpdateQuantity")

	item.Quantity = qty
	s.calc.RecalculateItem(item)
	s.saveItem(ctx, log, item)
	s.bus.BroadcastItemUpdated(s.order.ID, s.order.ContextKey, item.ID, item)

	if delta > 0 {
		s.reserve(reservationFor(item, delta))
	} else {
		s.release(reservationFor(item, -delta))
	}

	s.recalculate()
	s.saveOrder(ctx, log)
	s.bus.BroadcastOrderUpdated(s.order.ID, s.order.ContextKey, s.order)
	return nil
}

// UpdateItem applies non-quantity changes to a line.
func (s *Service) UpdateItem(ctx context.Context, itemID string, patch ItemPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.editable(); err != nil {
		return err
	}
	_, item := s.findItem(itemID)
	if item == nil {
		return ErrItemNotFound
	}
	if patch.UnitPrice != nil && patch.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: negative unit price", ErrInvalidItem)
	}
	if patch.Discount != nil && patch.Discount.IsNegative() {
		return ErrInvalidDiscount
	}

	log := s.logger(ctx, "UpdateItem")

	if patch.Note != nil {
		item.Note = copyPtr(patch.Note)
	}
	if patch.UnitPrice != nil {
		item.UnitPrice = *patch.UnitPrice
	}
	if patch.IsVIPPrice != nil {
		item.IsVIPPrice = *patch.IsVIPPrice
	}
	if patch.Discount != nil {
		item.Discount = *patch.Discount
	}
	if patch.IsComplimentary != nil {
		item.IsComplimentary = *patch.IsComplimentary
		if !item.IsComplimentary && patch.Discount == nil {
			item.Discount = decimal.Zero
		}
	}

	s.recalculate()
	s.saveItem(ctx, log, item)
	s.bus.BroadcastItemUpdated(s.order.ID, s.order.ContextKey, item.ID, item)

	s.saveOrder(ctx, log)
	s.bus.BroadcastOrderUpdated(s.order.ID, s.order.ContextKey, s.order)
	return nil
}

// SetDiscount stores the cart-level discount the backend computed.
func (s *Service) SetDiscount(ctx context.Context, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if amount.IsNegative() {
		return ErrInvalidDiscount
	}
	if err := s.editable(); err != nil {
		return err
	}
	if s.order == nil {
		return ErrCartEmpty
	}

	log := s.logger(ctx, "SetDiscount")

	s.order.Discount = amount
	s.recalculate()
	s.saveOrder(ctx, log)
	s.bus.BroadcastOrderUpdated(s.order.ID, s.order.ContextKey, s.order)
	return nil
}

// SetCustomer attaches customer details; before the first item they are kept
// for the order that item creates.
func (s *Service) SetCustomer(ctx context.Context, c Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.editable(); err != nil {
		return err
	}

	s.customer = Customer{ID: copyPtr(c.ID), Name: copyPtr(c.Name), Phone: copyPtr(c.Phone)}
	if s.order == nil {
		return nil
	}

	log := s.logger(ctx, "SetCustomer")

	s.order.CustomerID = copyPtr(c.ID)
	s.order.CustomerName = copyPtr(c.Name)
	s.order.CustomerPhone = copyPtr(c.Phone)
	s.saveOrder(ctx, log)
	s.bus.BroadcastOrderUpdated(s.order.ID, s.order.ContextKey, s.order)
	return nil
}

// SetTable moves the cart to a table, or back to takeout with nil. The display
// of the new context receives the whole cart as of the assignment.
func (s *Service) SetTable(ctx context.Context, tableID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.editable(); err != nil {
		return err
	}
	if tableID != nil && *tableID == "" {
		tableID = nil
	}

	oldKey := s.contextKey()
	s.tableID = copyPtr(tableID)
	newKey := s.contextKey()

	log := s.logger(ctx, "SetTable")

	if s.order == nil {
		if tableID != nil {
			s.ensureOrder(ctx, log)
		}
		return nil
	}

	s.order.TableID = copyPtr(tableID)
	s.order.ContextKey = newKey
	s.recalculate()
	s.saveOrder(ctx, log)

	if oldKey != newKey {
		s.bus.BroadcastCartCleared(s.order.ID, oldKey)
		s.bus.BroadcastOrderCreated(s.order.ID, newKey, s.order)
	}
	for _, item := range s.items {
		s.saveItem(ctx, log, item)
		s.bus.BroadcastItemAdded(s.order.ID, newKey, item.ID, item)
	}
	s.bus.BroadcastOrderUpdated(s.order.ID, newKey, s.order)

	log.Info("table assigned",
		zap.String("order_id", s.order.ID),
		zap.String("from", oldKey),
		zap.Int("items", len(s.items)),
	)
	return nil
}

// ClearCart discards the draft and releases this cart's own reservations.
func (s *Service) ClearCart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.order == nil {
		s.reset()
		return nil
	}

	log := s.logger(ctx, "ClearCart")

	orderID, key := s.order.ID, s.order.ContextKey
	for _, item := range s.items {
		s.release(reservationFor(item, item.Quantity))
	}

	s.dropLocal(ctx, log, orderID)
	s.bus.BroadcastCartCleared(orderID, key)
	s.reset()

	log.Info("cart cleared", zap.String("order_id", orderID), zap.String("status", string(order.StatusDiscarded)))
	return nil
}

func (s *Service) reset() {
	s.order = nil
	s.items = nil
	s.customer = Customer{}
	s.tableID = nil
	s.pending = reservation{}
}

// LoadExistingCart restores the most recent draft and its reservations. A
// missing or unreadable store yields an empty cart, never an error.
func (s *Service) LoadExistingCart(ctx context.Context) Cart {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logger(ctx, "LoadExistingCart")

	if s.order != nil {
		return s.snapshot()
	}

	s.purgeDiscarded(ctx, log)

	orders, err := s.store.GetAllOrders(ctx)
	if err != nil {
		log.Warn("local store unavailable, starting with an empty cart", zap.Error(err))
		return s.snapshot()
	}

	var restored *order.LocalOrder
	for _, o := range orders {
		if _, gone := s.discarded[o.ID]; !gone {
			restored = o
			break
		}
	}
	if restored == nil {
		return s.snapshot()
	}

	items, err := s.store.GetOrderItems(ctx, restored.ID)
	if err != nil {
		log.Warn("order items unreadable, starting with an empty cart",
			zap.String("order_id", restored.ID),
			zap.Error(err),
		)
		return s.snapshot()
	}

	valid := make([]*order.LocalOrderItem, 0, len(items))
	for _, item := range items {
		if err := item.Validate(); err != nil {
			log.Warn("skipping corrupt order item", zap.String("item_id", item.ID), zap.Error(err))
			continue
		}
		valid = append(valid, item)
	}

	s.order = restored
	s.items = valid
	s.tableID = copyPtr(restored.TableID)
	s.customer = Customer{
		ID:    copyPtr(restored.CustomerID),
		Name:  copyPtr(restored.CustomerName),
		Phone: copyPtr(restored.CustomerPhone),
	}
	s.order.ContextKey = s.contextKey()
	s.recalculate()

	// reservations live in memory only and must be rebuilt after a restart
	for _, item := range s.items {
		s.reserve(reservationFor(item, item.Quantity))
	}

	s.bus.BroadcastOrderCreated(s.order.ID, s.order.ContextKey, s.order)
	for _, item := range s.items {
		s.bus.BroadcastItemAdded(s.order.ID, s.order.ContextKey, item.ID, item)
	}

	log.Info("draft order restored", zap.String("order_id", s.order.ID), zap.Int("items", len(s.items)))
	return s.snapshot()
}

// Confirm marks the draft as sent to the kitchen.
func (s *Service) Confirm(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.order == nil || len(s.items) == 0 {
		return ErrCartEmpty
	}
	if err := s.editable(); err != nil {
		return err
	}
	if s.order.Status == order.StatusConfirmed {
		return nil
	}

	log := s.logger(ctx, "Confirm")

	s.order.Status = order.StatusConfirmed
	s.saveOrder(ctx, log)
	s.bus.BroadcastOrderUpdated(s.order.ID, s.order.ContextKey, s.order)

	log.Info("order confirmed", zap.String("order_id", s.order.ID))
	return nil
}

// Finalize hands the order to the outbox: the order first, then each item, so
// the backend sees them in that order. Local staging of the order then ends.
func (s *Service) Finalize(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.order == nil || len(s.items) == 0 {
		return "", ErrCartEmpty
	}
	if err := s.editable(); err != nil {
		return "", err
	}

	log := s.logger(ctx, "Finalize")

	s.recalculate()
	paid := *s.order
	paid.Status = order.StatusPaid

	if err := s.enqueueOrder(ctx, &paid); err != nil {
		if _, derr := s.outbox.DiscardOrder(context.WithoutCancel(ctx), paid.ID); derr != nil {
			log.Error("could not roll back partial finalize", zap.Error(derr))
		}
		log.Error("finalize failed", zap.String("order_id", paid.ID), zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrFailedFinalize, err)
	}

	s.order.Status = order.StatusPaid
	for _, item := range s.items {
		s.release(reservationFor(item, item.Quantity))
	}
	s.dropLocal(ctx, log, paid.ID)
	s.bus.BroadcastOrderUpdated(paid.ID, paid.ContextKey, s.order)
	s.reset()

	log.Info("order finalized", zap.String("order_id", paid.ID), zap.String("total", paid.Total.String()))
	return paid.ID, nil
}

func (s *Service) enqueueOrder(ctx context.Context, paid *order.LocalOrder) error {
	payload := finalizedOrder{
		LocalOrder:  paid,
		OrderNumber: order.NewOrderNumber(time.Now()),
		ItemCount:   len(s.items),
	}
	if _, err := s.outbox.Enqueue(ctx, paid.ID, outbox.EntityOrder, paid.ID, outbox.OpCreate, payload); err != nil {
		return err
	}
	for _, item := range s.items {
		if _, err := s.outbox.Enqueue(ctx, paid.ID, outbox.EntityOrderItem, item.ID, outbox.OpCreate, item); err != nil {
			return err
		}
	}
	return nil
}

// AbortCheckout recovers from a failed checkout: the overlay is rebuilt from
// the last snapshot plus this cart's lines, and the order returns to draft.
func (s *Service) AbortCheckout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logger(ctx, "AbortCheckout")

	s.stock.ResetAllStock()
	s.pending = reservation{}
	for _, item := range s.items {
		s.reserve(reservationFor(item, item.Quantity))
	}

	if s.order == nil {
		return nil
	}
	if s.order.Status == order.StatusConfirmed {
		s.order.Status = order.StatusDraft
		s.saveOrder(ctx, log)
		s.bus.BroadcastOrderUpdated(s.order.ID, s.order.ContextKey, s.order)
	}

	log.Warn("checkout aborted", zap.String("order_id", s.order.ID))
	return nil
}
