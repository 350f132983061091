package order

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"warimas-pos/internal/catalog"
	"warimas-pos/internal/db"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

// createTestRepository opens a migrated SQLite store under t.TempDir.
func createTestRepository(t *testing.T) Repository {
	t.Helper()
	sqlDB, err := db.Open(db.DriverSQLite, filepath.Join(t.TempDir(), "staging.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(sqlDB, db.DriverSQLite))
	t.Cleanup(func() { sqlDB.Close() })

	return NewRepository(db.Static(sqlDB, db.DriverSQLite))
}

func draftOrder(id string) *LocalOrder {
	return &LocalOrder{
		ID:         id,
		TableID:    strPtr("T1"),
		ContextKey: "T1",
		Subtotal:   decimal.NewFromInt(100),
		Total:      decimal.NewFromInt(100),
		Status:     StatusDraft,
	}
}

func productItem(id, orderID string, qty int) *LocalOrderItem {
	return &LocalOrderItem{
		ID:        id,
		OrderID:   orderID,
		ProductID: strPtr("p-" + id),
		Name:      "Item " + id,
		Quantity:  qty,
		UnitPrice: decimal.NewFromInt(50),
	}
}

func TestRepository_OrderRoundTrip(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()

	o := draftOrder("o-1")
	o.CustomerName = strPtr("Budi")
	require.NoError(t, repo.SaveOrder(ctx, o))
	assert.False(t, o.CreatedAt.IsZero())
	assert.False(t, o.UpdatedAt.IsZero())

	got, err := repo.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, "T1", *got.TableID)
	assert.Equal(t, "Budi", *got.CustomerName)
	assert.Nil(t, got.CustomerID)
	assert.True(t, got.Total.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, StatusDraft, got.Status)

	t.Run("Upsert keeps created_at", func(t *testing.T) {
		createdAt := got.CreatedAt
		got.Status = StatusConfirmed
		got.Total = decimal.RequireFromString("80.5")
		require.NoError(t, repo.SaveOrder(ctx, got))

		again, err := repo.GetOrder(ctx, "o-1")
		require.NoError(t, err)
		assert.Equal(t, StatusConfirmed, again.Status)
		assert.Equal(t, "80.5", again.Total.String())
		assert.True(t, createdAt.Equal(again.CreatedAt))
	})

	t.Run("Missing order", func(t *testing.T) {
		_, err := repo.GetOrder(ctx, "nope")
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})
}

func TestRepository_GetAllOrders_DraftsOnly(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveOrder(ctx, draftOrder("o-1")))
	confirmed := draftOrder("o-2")
	confirmed.Status = StatusConfirmed
	require.NoError(t, repo.SaveOrder(ctx, confirmed))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, repo.SaveOrder(ctx, draftOrder("o-3")))

	orders, err := repo.GetAllOrders(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "o-3", orders[0].ID, "most recent draft first")
	assert.Equal(t, "o-1", orders[1].ID)
}

func TestRepository_Items(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.SaveOrder(ctx, draftOrder("o-1")))

	require.NoError(t, repo.SaveOrderItem(ctx, productItem("i-1", "o-1", 2)))
	time.Sleep(2 * time.Millisecond)
	pkgItem := &LocalOrderItem{
		ID:        "i-2",
		OrderID:   "o-1",
		PackageID: strPtr("pkg-1"),
		Name:      "Bucket",
		Quantity:  1,
		UnitPrice: decimal.NewFromInt(120),
		Note:      strPtr("no ice"),
		Components: []catalog.PackageComponent{
			{ProductID: "beer", Quantity: 5},
			{ProductID: "ice", Quantity: 1},
		},
	}
	require.NoError(t, repo.SaveOrderItem(ctx, pkgItem))

	items, err := repo.GetOrderItems(ctx, "o-1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "i-1", items[0].ID)
	assert.Equal(t, "p-i-1", *items[0].ProductID)
	assert.Nil(t, items[0].PackageID)
	assert.Equal(t, "pkg-1", *items[1].PackageID)
	assert.Equal(t, "no ice", *items[1].Note)
	assert.Empty(t, items[0].Components)
	assert.Equal(t, pkgItem.Components, items[1].Components, "package lines keep their component snapshot")

	t.Run("Update quantity", func(t *testing.T) {
		items[0].Quantity = 5
		require.NoError(t, repo.SaveOrderItem(ctx, items[0]))

		again, err := repo.GetOrderItems(ctx, "o-1")
		require.NoError(t, err)
		assert.Equal(t, 5, again[0].Quantity)
	})

	t.Run("Delete one", func(t *testing.T) {
		require.NoError(t, repo.DeleteOrderItem(ctx, "i-1"))

		again, err := repo.GetOrderItems(ctx, "o-1")
		require.NoError(t, err)
		require.Len(t, again, 1)
		assert.Equal(t, "i-2", again[0].ID)
	})

	t.Run("Delete all of order", func(t *testing.T) {
		require.NoError(t, repo.DeleteOrderItems(ctx, "o-1"))

		again, err := repo.GetOrderItems(ctx, "o-1")
		require.NoError(t, err)
		assert.Empty(t, again)
	})
}

func TestRepository_SaveOrderItem_Validation(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()

	both := productItem("i-1", "o-1", 1)
	both.PackageID = strPtr("pkg-1")
	assert.ErrorIs(t, repo.SaveOrderItem(ctx, both), ErrItemReference)

	neither := productItem("i-2", "o-1", 1)
	neither.ProductID = nil
	assert.ErrorIs(t, repo.SaveOrderItem(ctx, neither), ErrItemReference)

	zero := productItem("i-3", "o-1", 0)
	assert.ErrorIs(t, repo.SaveOrderItem(ctx, zero), ErrInvalidQuantity)
}

func TestRepository_DeleteOrder(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.SaveOrder(ctx, draftOrder("o-1")))
	require.NoError(t, repo.SaveOrderItem(ctx, productItem("i-1", "o-1", 1)))

	require.NoError(t, repo.DeleteOrder(ctx, "o-1"))

	_, err := repo.GetOrder(ctx, "o-1")
	assert.ErrorIs(t, err, ErrOrderNotFound)
	items, err := repo.GetOrderItems(ctx, "o-1")
	require.NoError(t, err)
	assert.Empty(t, items)
}

type unavailableConn struct{}

func (unavailableConn) DB(context.Context) (*sql.DB, error) { return nil, db.ErrUnavailable }
func (unavailableConn) Driver() string                       { return db.DriverSQLite }

func TestRepository_Unavailable(t *testing.T) {
	repo := NewRepository(unavailableConn{})
	ctx := context.Background()

	assert.ErrorIs(t, repo.SaveOrder(ctx, draftOrder("o-1")), ErrStoreUnavailable)
	_, err := repo.GetAllOrders(ctx)
	assert.ErrorIs(t, err, db.ErrUnavailable)
	assert.ErrorIs(t, repo.SaveOrderItem(ctx, productItem("i-1", "o-1", 1)), db.ErrUnavailable)
	assert.ErrorIs(t, repo.DeleteOrderItems(ctx, "o-1"), db.ErrUnavailable)
}

func newMockRepository(t *testing.T) (Repository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	return NewRepository(db.Static(sqlDB, db.DriverPostgres)), mock
}

func TestRepository_SaveOrder_DBError(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec("INSERT INTO local_orders").
		WillReturnError(errors.New("disk I/O error"))

	err := repo.SaveOrder(context.Background(), draftOrder("o-1"))
	assert.ErrorIs(t, err, ErrFailedSaveOrder)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_GetOrder_DBError(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery("SELECT (.+) FROM local_orders WHERE id = \\$1").
		WithArgs("o-1").
		WillReturnError(errors.New("connection reset"))

	_, err := repo.GetOrder(context.Background(), "o-1")
	assert.ErrorIs(t, err, ErrFailedGetOrder)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_DeleteOrder_RollsBack(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM local_order_items WHERE order_id = \\$1").
		WithArgs("o-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM local_orders WHERE id = \\$1").
		WithArgs("o-1").
		WillReturnError(errors.New("locked"))
	mock.ExpectRollback()

	err := repo.DeleteOrder(context.Background(), "o-1")
	assert.ErrorIs(t, err, ErrFailedDeleteOrder)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_GetOrderItems_ScanError(t *testing.T) {
	repo, mock := newMockRepository(t)

	rows := sqlmock.NewRows([]string{"id"}).AddRow("i-1")
	mock.ExpectQuery("SELECT (.+) FROM local_order_items").
		WithArgs("o-1").
		WillReturnRows(rows)

	_, err := repo.GetOrderItems(context.Background(), "o-1")
	assert.ErrorIs(t, err, ErrFailedGetItems)
}
