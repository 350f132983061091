package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"warimas-pos/internal/config"
	"warimas-pos/internal/db"
	"warimas-pos/internal/order"
	"warimas-pos/internal/outbox"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func tempDSN(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "staging.db")
}

func TestCommandPresence(t *testing.T) {
	root := newRootCommand()
	commands := [][]string{
		{"serve"},
		{"migrate", "up"}, {"migrate", "down"}, {"migrate", "status"},
		{"outbox", "status"}, {"outbox", "retry"},
		{"cart", "show"},
	}

	for _, path := range commands {
		t.Run(strings.Join(path, " "), func(t *testing.T) {
			sub, _, err := root.Find(path)
			require.NoError(t, err)
			assert.Equal(t, path[len(path)-1], sub.Name())
		})
	}

	assert.NotNil(t, root.PersistentFlags().Lookup("db"))
	assert.NotNil(t, root.PersistentFlags().Lookup("driver"))
}

func TestInvalidDriver(t *testing.T) {
	_, err := execute(t, "migrate", "status", "--driver", "mysql", "--db", tempDSN(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LOCAL_DB_DRIVER")
}

func TestMigrateCommands(t *testing.T) {
	dsn := tempDSN(t)

	out, err := execute(t, "migrate", "up", "--db", dsn)
	require.NoError(t, err)
	assert.Contains(t, out, "schema version 4")

	out, err = execute(t, "migrate", "down", "--db", dsn)
	require.NoError(t, err)
	assert.Contains(t, out, "schema version 3")

	out, err = execute(t, "migrate", "status", "--db", dsn)
	require.NoError(t, err)
	assert.Contains(t, out, "schema version 3")
}

func TestOutboxCommands(t *testing.T) {
	dsn := tempDSN(t)
	sqlDB, err := db.Open(db.DriverSQLite, dsn)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(sqlDB, db.DriverSQLite))

	ctx := context.Background()
	repo := outbox.NewRepository(db.Static(sqlDB, db.DriverSQLite))
	q := outbox.NewQueue(repo, nil, nil, outbox.Options{})
	_, err = q.Enqueue(ctx, "o-1", outbox.EntityOrder, "o-1", outbox.OpCreate, map[string]string{"id": "o-1"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "o-2", outbox.EntityOrder, "o-2", outbox.OpCreate, map[string]string{"id": "o-2"})
	require.NoError(t, err)

	list, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	list[0].Status = outbox.StatusFailed
	list[0].LastError = "rejected: 422"
	require.NoError(t, repo.Update(ctx, list[0]))
	require.NoError(t, sqlDB.Close())

	out, err := execute(t, "outbox", "status", "--db", dsn)
	require.NoError(t, err)
	assert.Contains(t, out, "pending: 1")
	assert.Contains(t, out, "failed: 1")

	out, err = execute(t, "outbox", "retry", "--db", dsn)
	require.NoError(t, err)
	assert.Contains(t, out, "requeued 1 failed mutations")

	out, err = execute(t, "outbox", "status", "--db", dsn)
	require.NoError(t, err)
	assert.Contains(t, out, "pending: 2")
	assert.Contains(t, out, "failed: 0")
}

func TestCartShow(t *testing.T) {
	dsn := tempDSN(t)
	sqlDB, err := db.Open(db.DriverSQLite, dsn)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(sqlDB, db.DriverSQLite))

	ctx := context.Background()
	repo := order.NewRepository(db.Static(sqlDB, db.DriverSQLite))
	require.NoError(t, repo.SaveOrder(ctx, &order.LocalOrder{ID: "o-1", ContextKey: "T4", Status: order.StatusDraft}))
	productID := "P"
	require.NoError(t, repo.SaveOrderItem(ctx, &order.LocalOrderItem{ID: "i-1", OrderID: "o-1", ProductID: &productID, Name: "Es Teh", Quantity: 2}))
	require.NoError(t, sqlDB.Close())

	out, err := execute(t, "cart", "show", "--db", dsn)
	require.NoError(t, err)

	var staged []struct {
		ID         string `json:"id"`
		ContextKey string `json:"context_key"`
		Items      []struct {
			ID       string `json:"id"`
			Quantity int    `json:"quantity"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &staged))
	require.Len(t, staged, 1)
	assert.Equal(t, "o-1", staged[0].ID)
	assert.Equal(t, "T4", staged[0].ContextKey)
	require.Len(t, staged[0].Items, 1)
	assert.Equal(t, 2, staged[0].Items[0].Quantity)
}

// The wiring built by serve stages a cart in the local store through the API.
func TestBuild(t *testing.T) {
	cfg := config.LoadConfig()
	cfg.LocalDBDriver = db.DriverSQLite
	cfg.LocalDBDSN = tempDSN(t)
	cfg.CashierID = "c-7"

	term := build(cfg)
	defer term.conn.Close()
	defer term.bus.Close()

	router := term.handler.Router()

	req := httptest.NewRequest(http.MethodPost, "/api/cart/items",
		strings.NewReader(`{"product":{"id":"P","name":"Es Teh","price":"50"},"quantity":2}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"context_key":"takeout_c-7"`)

	conn, err := term.conn.DB(context.Background())
	require.NoError(t, err)
	drafts, err := order.NewRepository(db.Static(conn, db.DriverSQLite)).GetAllOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, "100", drafts[0].Total.String())
}
