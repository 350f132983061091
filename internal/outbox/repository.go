package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"warimas-pos/internal/db"
	"warimas-pos/internal/logger"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"
)

// Repository keeps mutations in the local store database so they survive a
// restart of the terminal.
type Repository interface {
	Insert(ctx context.Context, m *Mutation) error
	List(ctx context.Context, limit int) ([]*Mutation, error)
	ListReady(ctx context.Context, now time.Time, limit int) ([]*Mutation, error)
	Update(ctx context.Context, m *Mutation) error
	Delete(ctx context.Context, id string) error
	Counts(ctx context.Context) (map[Status]int, error)
	ResetFailed(ctx context.Context, now time.Time) (int64, error)
	ResetSyncing(ctx context.Context) (int64, error)
	DeleteByOrder(ctx context.Context, orderID string) (int64, error)
}

const mutationsTable = "outbox_mutations"

var mutationColumns = []string{
	"id", "seq", "order_id", "entity_type", "entity_id", "operation", "payload",
	"attempts", "status", "last_error", "next_attempt_at", "created_at", "updated_at",
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

// Insert assigns the next Seq and stores the mutation in one transaction.
func (r *repository) Insert(ctx context.Context, m *Mutation) error {
	conn, err := r.conn.DB(ctx)
	if err != nil {
		return err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedEnqueue, err)
	}
	defer tx.Rollback()

	seqQuery, _, err := r.builder().Select("COALESCE(MAX(seq), 0) + 1").From(mutationsTable).ToSql()
	if err != nil {
		return fmt.Errorf("build seq query: %w", err)
	}
	var seq int64
	if err := tx.QueryRowContext(ctx, seqQuery).Scan(&seq); err != nil {
		return fmt.Errorf("%w: %w", ErrFailedEnqueue, err)
	}

	now := r.now()
	m.Seq = seq
	m.CreatedAt = now
	m.UpdatedAt = now
	if m.NextAttemptAt.IsZero() {
		m.NextAttemptAt = now
	}

	query, args, err := r.builder().
		Insert(mutationsTable).
		Columns(mutationColumns...).
		Values(
			m.ID, m.Seq, m.OrderID, string(m.EntityType), m.EntityID, string(m.Operation), string(m.Payload),
			m.Attempts, string(m.Status), m.LastError, m.NextAttemptAt, m.CreatedAt, m.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert mutation query: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		logger.FromCtx(ctx).Error("failed to insert mutation",
			zap.String("layer", "outbox_repository"),
			zap.String("order_id", m.OrderID),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %w", ErrFailedEnqueue, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", ErrFailedEnqueue, err)
	}
	return nil
}

// List returns the oldest mutations first, failed ones included, so callers
// can see which order lanes are blocked.
func (r *repository) List(ctx context.Context, limit int) ([]*Mutation, error) {
	conn, err := r.conn.DB(ctx)
	if err != nil {
		return nil, err
	}

	return r.list(ctx, conn, r.builder().Select(mutationColumns...).From(mutationsTable), limit)
}

// ListReady returns the oldest mutations of lanes that can make progress at
// now. A lane is blocked while it holds a failed mutation or while its head
// waits on backoff; blocked lanes are filtered before the limit applies.
func (r *repository) ListReady(ctx context.Context, now time.Time, limit int) ([]*Mutation, error) {
	conn, err := r.conn.DB(ctx)
	if err != nil {
		return nil, err
	}

	// left with ? placeholders; the outer builder numbers them for postgres
	blocked := sq.
		Select("b.order_id").
		From(mutationsTable + " b").
		Where(sq.Or{
			sq.Eq{"b.status": string(StatusFailed)},
			sq.And{
				sq.Gt{"b.next_attempt_at": now},
				sq.Expr("b.seq = (SELECT MIN(h.seq) FROM " + mutationsTable + " h WHERE h.order_id = b.order_id)"),
			},
		})

	b := r.builder().
		Select(mutationColumns...).
		From(mutationsTable).
		Where(sq.Expr("order_id NOT IN (?)", blocked))
	return r.list(ctx, conn, b, limit)
}

func (r *repository) list(ctx context.Context, conn *sql.DB, b sq.SelectBuilder, limit int) ([]*Mutation, error) {
	b = b.OrderBy("seq ASC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list mutations query: %w", err)
	}

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedList, err)
	}
	defer rows.Close()

	out := []*Mutation{}
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFailedList, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedList, err)
	}
	return out, nil
}

func scanMutation(rows *sql.Rows) (*Mutation, error) {
	m := &Mutation{}
	var entityType, operation, payload, status string
	err := rows.Scan(
		&m.ID, &m.Seq, &m.OrderID, &entityType, &m.EntityID, &operation, &payload,
		&m.Attempts, &status, &m.LastError, &m.NextAttemptAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.EntityType = EntityType(entityType)
	m.Operation = Operation(operation)
	m.Payload = []byte(payload)
	m.Status = Status(status)
	return m, nil
}

// Update writes the delivery state of m; the payload is never rewritten.
func (r *repository) Update(ctx context.Context, m *Mutation) error {
	conn, err := r.conn.DB(ctx)
	if err != nil {
		return err
	}

	m.UpdatedAt = r.now()
	query, args, err := r.builder().
		Update(mutationsTable).
		Set("attempts", m.Attempts).
		Set("status", string(m.Status)).
		Set("last_error", m.LastError).
		Set("next_attempt_at", m.NextAttemptAt).
		Set("updated_at", m.UpdatedAt).
		Where(sq.Eq{"id": m.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update mutation query: %w", err)
	}

	if _, err := conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: %w", ErrFailedUpdate, err)
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, id string) error {
	_, err := r.delete(ctx, sq.Eq{"id": id})
	return err
}

func (r *repository) DeleteByOrder(ctx context.Context, orderID string) (int64, error) {
	return r.delete(ctx, sq.Eq{"order_id": orderID})
}

func (r *repository) delete(ctx context.Context, where sq.Eq) (int64, error) {
	conn, err := r.conn.DB(ctx)
	if err != nil {
		return 0, err
	}

	query, args, err := r.builder().Delete(mutationsTable).Where(where).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete mutation query: %w", err)
	}

	res, err := conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrFailedDelete, err)
	}
	return res.RowsAffected()
}

func (r *repository) Counts(ctx context.Context) (map[Status]int, error) {
	conn, err := r.conn.DB(ctx)
	if err != nil {
		return nil, err
	}

	query, args, err := r.builder().
		Select("status", "COUNT(*)").
		From(mutationsTable).
		GroupBy("status").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build count query: %w", err)
	}

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedCount, err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFailedCount, err)
		}
		counts[Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedCount, err)
	}
	return counts, nil
}

// ResetFailed makes every failed mutation pending again with a fresh attempt budget.
func (r *repository) ResetFailed(ctx context.Context, now time.Time) (int64, error) {
	return r.resetStatus(ctx, StatusFailed, true, now)
}

// ResetSyncing recovers mutations left in flight by a crash.
func (r *repository) ResetSyncing(ctx context.Context) (int64, error) {
	return r.resetStatus(ctx, StatusSyncing, false, time.Time{})
}

func (r *repository) resetStatus(ctx context.Context, from Status, clearAttempts bool, now time.Time) (int64, error) {
	conn, err := r.conn.DB(ctx)
	if err != nil {
		return 0, err
	}

	b := r.builder().
		Update(mutationsTable).
		Set("status", string(StatusPending)).
		Set("updated_at", r.now()).
		Where(sq.Eq{"status": string(from)})
	if clearAttempts {
		b = b.Set("attempts", 0).Set("next_attempt_at", now)
	}

	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build reset query: %w", err)
	}

	res, err := conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrFailedUpdate, err)
	}
	return res.RowsAffected()
}
