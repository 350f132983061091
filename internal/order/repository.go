package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"warimas-pos/internal/catalog"
	"warimas-pos/internal/db"
	"warimas-pos/internal/logger"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"
)

// Repository is the durable local store for staged orders and their items.
// Every method fails when the store is unavailable; callers are expected to
// carry on with in-memory state.
type Repository interface {
	SaveOrder(ctx context.Context, o *LocalOrder) error
	GetOrder(ctx context.Context, id string) (*LocalOrder, error)
	GetAllOrders(ctx context.Context) ([]*LocalOrder, error)
	DeleteOrder(ctx context.Context, id string) error

	SaveOrderItem(ctx context.Context, item *LocalOrderItem) error
	GetOrderItems(ctx context.Context, orderID string) ([]*LocalOrderItem, error)
	DeleteOrderItem(ctx context.Context, id string) error
	DeleteOrderItems(ctx context.Context, orderID string) error
}

const (
	ordersTable = "local_orders"
	itemsTable  = "local_order_items"
)

var orderColumns = []string{
	"id", "staff_id", "table_id", "context_key",
	"customer_id", "customer_name", "customer_phone",
	"subtotal", "discount", "tax", "total",
	"status", "created_at", "updated_at",
}

var itemColumns = []string{
	"id", "order_id", "product_id", "package_id", "name",
	"quantity", "unit_price", "subtotal", "discount", "total",
	"note", "is_vip_price", "is_complimentary", "components", "created_at", "updated_at",
}

type repository struct {
	conn db.Conn
	now  func() time.Time
}

func NewRepository(conn db.Conn) Repository {
	return &repository{conn: conn, now: func() time.Time { return time.Now().UTC() }}
}

func (r *repository) builder() sq.StatementBuilderType {
	return db.Builder(r.conn.Driver())
}

// upsertSuffix overwrites every non-key column on id conflict.
func upsertSuffix(columns []string, keep ...string) string {
	skip := map[string]bool{"id": true}
	for _, k := range keep {
		skip[k] = true
	}

	sets := make([]string, 0, len(columns))
	for _, c := range columns {
		if skip[c] {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	return "ON CONFLICT (id) DO UPDATE SET " + strings.Join(sets, ", ")
}

func (r *repository) SaveOrder(ctx context.Context, o *LocalOrder) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "SaveOrder"),
		zap.String("order_id", o.ID),
	)

	conn, err := r.conn.DB(ctx)
	if err != nil {
		return err
	}

	now := r.now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now

	query, args, err := r.builder().
		Insert(ordersTable).
		Columns(orderColumns...).
		Values(
			o.ID, o.StaffID, o.TableID, o.ContextKey,
			o.CustomerID, o.CustomerName, o.CustomerPhone,
			o.Subtotal, o.Discount, o.Tax, o.Total,
			string(o.Status), o.CreatedAt, o.UpdatedAt,
		).
		Suffix(upsertSuffix(orderColumns, "created_at")).
		ToSql()
	if err != nil {
		return fmt.Errorf("build save order query: %w", err)
	}

	if _, err := conn.ExecContext(ctx, query, args...); err != nil {
		log.Error("failed to save order", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrFailedSaveOrder, err)
	}

	log.Debug("order saved", zap.String("status", string(o.Status)))
	return nil
}

func scanOrder(row interface{ Scan(...any) error }) (*LocalOrder, error) {
	o := &LocalOrder{}
	var status string
	err := row.Scan(
		&o.ID, &o.StaffID, &o.TableID, &o.ContextKey,
		&o.CustomerID, &o.CustomerName, &o.CustomerPhone,
		&o.Subtotal, &o.Discount, &o.Tax, &o.Total,
		&status, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Status = Status(status)
	return o, nil
}

func (r *repository) GetOrder(ctx context.Context, id string) (*LocalOrder, error) {
	conn, err := r.conn.DB(ctx)
	if err != nil {
		return nil, err
	}

	query, args, err := r.builder().
		Select(orderColumns...).
		From(ordersTable).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get order query: %w", err)
	}

	o, err := scanOrder(conn.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedGetOrder, err)
	}
	return o, nil
}

// GetAllOrders returns draft orders only, most recently touched first.
func (r *repository) GetAllOrders(ctx context.Context) ([]*LocalOrder, error) {
	conn, err := r.conn.DB(ctx)
	if err != nil {
		return nil, err
	}

	query, args, err := r.builder().
		Select(orderColumns...).
		From(ordersTable).
		Where(sq.Eq{"status": string(StatusDraft)}).
		OrderBy("updated_at DESC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list orders query: %w", err)
	}

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedGetOrder, err)
	}
	defer rows.Close()

	orders := []*LocalOrder{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFailedGetOrder, err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedGetOrder, err)
	}
	return orders, nil
}

// DeleteOrder removes the order together with its items.
func (r *repository) DeleteOrder(ctx context.Context, id string) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "DeleteOrder"),
		zap.String("order_id", id),
	)

	conn, err := r.conn.DB(ctx)
	if err != nil {
		return err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedDeleteOrder, err)
	}
	defer tx.Rollback()

	itemsQuery, itemsArgs, err := r.builder().Delete(itemsTable).Where(sq.Eq{"order_id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete items query: %w", err)
	}
	orderQuery, orderArgs, err := r.builder().Delete(ordersTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete order query: %w", err)
	}

	if _, err := tx.ExecContext(ctx, itemsQuery, itemsArgs...); err != nil {
		log.Error("failed to delete order items", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrFailedDeleteOrder, err)
	}
	if _, err := tx.ExecContext(ctx, orderQuery, orderArgs...); err != nil {
		log.Error("failed to delete order", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrFailedDeleteOrder, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", ErrFailedDeleteOrder, err)
	}

	log.Debug("order deleted")
	return nil
}

func (r *repository) SaveOrderItem(ctx context.Context, item *LocalOrderItem) error {
	if err := item.Validate(); err != nil {
		return err
	}

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "SaveOrderItem"),
		zap.String("order_id", item.OrderID),
		zap.String("item_id", item.ID),
	)

	conn, err := r.conn.DB(ctx)
	if err != nil {
		return err
	}

	components, err := encodeComponents(item.Components)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedSaveItem, err)
	}

	now := r.now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	query, args, err := r.builder().
		Insert(itemsTable).
		Columns(itemColumns...).
		Values(
			item.ID, item.OrderID, item.ProductID, item.PackageID, item.Name,
			item.Quantity, item.UnitPrice, item.Subtotal, item.Discount, item.Total,
			item.Note, item.IsVIPPrice, item.IsComplimentary, components, item.CreatedAt, item.UpdatedAt,
		).
		Suffix(upsertSuffix(itemColumns, "order_id", "created_at")).
		ToSql()
	if err != nil {
		return fmt.Errorf("build save item query: %w", err)
	}

	if _, err := conn.ExecContext(ctx, query, args...); err != nil {
		log.Error("failed to save order item", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrFailedSaveItem, err)
	}
	return nil
}

// GetOrderItems returns the order's items in the order they were added.
func (r *repository) GetOrderItems(ctx context.Context, orderID string) ([]*LocalOrderItem, error) {
	conn, err := r.conn.DB(ctx)
	if err != nil {
		return nil, err
	}

	query, args, err := r.builder().
		Select(itemColumns...).
		From(itemsTable).
		Where(sq.Eq{"order_id": orderID}).
		OrderBy("created_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get items query: %w", err)
	}

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedGetItems, err)
	}
	defer rows.Close()

	items := []*LocalOrderItem{}
	for rows.Next() {
		item := &LocalOrderItem{}
		var components string
		err := rows.Scan(
			&item.ID, &item.OrderID, &item.ProductID, &item.PackageID, &item.Name,
			&item.Quantity, &item.UnitPrice, &item.Subtotal, &item.Discount, &item.Total,
			&item.Note, &item.IsVIPPrice, &item.IsComplimentary, &components, &item.CreatedAt, &item.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFailedGetItems, err)
		}
		if components != "" {
			if err := json.Unmarshal([]byte(components), &item.Components); err != nil {
				return nil, fmt.Errorf("%w: item %s components: %w", ErrFailedGetItems, item.ID, err)
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedGetItems, err)
	}
	return items, nil
}

// encodeComponents stores product lines as the empty string.
func encodeComponents(c []catalog.PackageComponent) (string, error) {
	if len(c) == 0 {
		return "", nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *repository) DeleteOrderItem(ctx context.Context, id string) error {
	return r.deleteItems(ctx, sq.Eq{"id": id})
}

func (r *repository) DeleteOrderItems(ctx context.Context, orderID string) error {
	return r.deleteItems(ctx, sq.Eq{"order_id": orderID})
}

func (r *repository) deleteItems(ctx context.Context, where sq.Eq) error {
	conn, err := r.conn.DB(ctx)
	if err != nil {
		return err
	}

	query, args, err := r.builder().Delete(itemsTable).Where(where).ToSql()
	if err != nil {
		return fmt.Errorf("build delete items query: %w", err)
	}

	if _, err := conn.ExecContext(ctx, query, args...); err != nil {
		logger.FromCtx(ctx).Error("failed to delete order items",
			zap.String("layer", "repository"),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %w", ErrFailedDeleteItem, err)
	}
	return nil
}
