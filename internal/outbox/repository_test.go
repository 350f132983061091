package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"warimas-pos/internal/db"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestRepository(t *testing.T) Repository {
	t.Helper()
	sqlDB, err := db.Open(db.DriverSQLite, filepath.Join(t.TempDir(), "outbox.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(sqlDB, db.DriverSQLite))
	t.Cleanup(func() { sqlDB.Close() })

	return NewRepository(db.Static(sqlDB, db.DriverSQLite))
}

func newMutation(id, orderID string) *Mutation {
	return &Mutation{
		ID:         id,
		OrderID:    orderID,
		EntityType: EntityOrder,
		EntityID:   orderID,
		Operation:  OpCreate,
		Payload:    json.RawMessage(`{"id":"` + orderID + `"}`),
		Status:     StatusPending,
	}
}

func TestRepository_InsertAssignsSeq(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()

	a := newMutation("m-1", "o-1")
	b := newMutation("m-2", "o-2")
	c := newMutation("m-3", "o-1")
	require.NoError(t, repo.Insert(ctx, a))
	require.NoError(t, repo.Insert(ctx, b))
	require.NoError(t, repo.Insert(ctx, c))

	assert.EqualValues(t, 1, a.Seq)
	assert.EqualValues(t, 2, b.Seq)
	assert.EqualValues(t, 3, c.Seq)

	list, err := repo.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"m-1", "m-2", "m-3"}, []string{list[0].ID, list[1].ID, list[2].ID})
	assert.JSONEq(t, `{"id":"o-1"}`, string(list[0].Payload))
	assert.Equal(t, EntityOrder, list[0].EntityType)
	assert.Equal(t, OpCreate, list[0].Operation)

	limited, err := repo.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestRepository_ListReady(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC().Add(time.Minute)

	failed := newMutation("m-1", "o-1")
	failed.Status = StatusFailed
	waiting := newMutation("m-3", "o-2")
	waiting.NextAttemptAt = now.Add(time.Hour)

	for _, m := range []*Mutation{
		failed,
		newMutation("m-2", "o-1"),
		waiting,
		newMutation("m-4", "o-2"),
		newMutation("m-5", "o-3"),
		newMutation("m-6", "o-4"),
	} {
		require.NoError(t, repo.Insert(ctx, m))
	}

	list, err := repo.ListReady(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "m-5", list[0].ID)

	list, err = repo.ListReady(ctx, now, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, []string{"m-5", "m-6"}, []string{list[0].ID, list[1].ID})

	t.Run("Due head reopens the lane", func(t *testing.T) {
		list, err := repo.ListReady(ctx, now.Add(2*time.Hour), 0)
		require.NoError(t, err)
		ids := make([]string, 0, len(list))
		for _, m := range list {
			ids = append(ids, m.ID)
		}
		assert.Equal(t, []string{"m-3", "m-4", "m-5", "m-6"}, ids)
	})
}

func TestRepository_UpdateAndCounts(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()

	m := newMutation("m-1", "o-1")
	require.NoError(t, repo.Insert(ctx, m))
	require.NoError(t, repo.Insert(ctx, newMutation("m-2", "o-2")))

	next := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	m.Attempts = 3
	m.Status = StatusFailed
	m.LastError = "rejected"
	m.NextAttemptAt = next
	require.NoError(t, repo.Update(ctx, m))

	counts, err := repo.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[StatusFailed])
	assert.Equal(t, 1, counts[StatusPending])

	list, err := repo.List(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, list[0].Attempts)
	assert.Equal(t, "rejected", list[0].LastError)
	assert.True(t, next.Equal(list[0].NextAttemptAt))

	t.Run("ResetFailed", func(t *testing.T) {
		now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		n, err := repo.ResetFailed(ctx, now)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		list, err := repo.List(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, list[0].Status)
		assert.Equal(t, 0, list[0].Attempts)
		assert.True(t, now.Equal(list[0].NextAttemptAt))
	})

	t.Run("ResetSyncing", func(t *testing.T) {
		list, err := repo.List(ctx, 0)
		require.NoError(t, err)
		list[1].Status = StatusSyncing
		list[1].Attempts = 2
		require.NoError(t, repo.Update(ctx, list[1]))

		n, err := repo.ResetSyncing(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		list, err = repo.List(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, list[1].Status)
		assert.Equal(t, 2, list[1].Attempts, "attempts survive a crash")
	})
}

func TestRepository_Delete(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, newMutation("m-1", "o-1")))
	require.NoError(t, repo.Insert(ctx, newMutation("m-2", "o-1")))
	require.NoError(t, repo.Insert(ctx, newMutation("m-3", "o-2")))

	require.NoError(t, repo.Delete(ctx, "m-3"))
	n, err := repo.DeleteByOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	list, err := repo.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	t.Run("Seq restarts once the queue is empty", func(t *testing.T) {
		m := newMutation("m-4", "o-3")
		require.NoError(t, repo.Insert(ctx, m))
		assert.EqualValues(t, 1, m.Seq)
	})
}

func TestRepository_Insert_DBError(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()
	repo := NewRepository(db.Static(sqlDB, db.DriverPostgres))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COALESCE\\(MAX\\(seq\\), 0\\) \\+ 1 FROM outbox_mutations").
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(7))
	mock.ExpectExec("INSERT INTO outbox_mutations").
		WillReturnError(errors.New("unique violation"))
	mock.ExpectRollback()

	m := newMutation("m-1", "o-1")
	err = repo.Insert(context.Background(), m)
	assert.ErrorIs(t, err, ErrFailedEnqueue)
	assert.EqualValues(t, 7, m.Seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_ListReady_Postgres(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()
	repo := NewRepository(db.Static(sqlDB, db.DriverPostgres))
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`WHERE order_id NOT IN \(SELECT b.order_id FROM outbox_mutations b WHERE \(b.status = \$1 OR \(b.next_attempt_at > \$2 AND .*\)\)\) ORDER BY seq ASC LIMIT 5`).
		WithArgs(string(StatusFailed), now).
		WillReturnError(errors.New("connection reset"))

	_, err = repo.ListReady(context.Background(), now, 5)
	assert.ErrorIs(t, err, ErrFailedList)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Counts_DBError(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()
	repo := NewRepository(db.Static(sqlDB, db.DriverPostgres))

	mock.ExpectQuery("SELECT status, COUNT\\(\\*\\) FROM outbox_mutations GROUP BY status").
		WillReturnError(errors.New("disk I/O error"))

	_, err = repo.Counts(context.Background())
	assert.ErrorIs(t, err, ErrFailedCount)
}
