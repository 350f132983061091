package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"warimas-pos/internal/config"
	"warimas-pos/internal/logger"
	"warimas-pos/internal/metrics"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Sender delivers one mutation to the backend. Errors wrapping ErrUnreachable
// are retried; *RejectionError parks the mutation as failed.
type Sender interface {
	Send(ctx context.Context, m *Mutation) error
}

type Options struct {
	PollInterval    time.Duration
	MaxAttempts     int
	BaseBackoff     time.Duration
	MaxBackoff      time.Duration
	BatchSize       int
	RateLimit       float64
	LaneConcurrency int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PollInterval:    cfg.OutboxPollInterval,
		MaxAttempts:     cfg.OutboxMaxAttempts,
		BaseBackoff:     cfg.OutboxBaseBackoff,
		MaxBackoff:      cfg.OutboxMaxBackoff,
		BatchSize:       cfg.OutboxBatchSize,
		RateLimit:       cfg.OutboxRateLimit,
		LaneConcurrency: cfg.OutboxLaneConcurrency,
	}
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 2 * time.Second
	}
	if o.MaxBackoff < o.BaseBackoff {
		o.MaxBackoff = o.BaseBackoff
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.LaneConcurrency <= 0 {
		o.LaneConcurrency = 1
	}
	return o
}

type listener struct {
	id int
	fn func(SyncStatus)
}

// Queue is the write-behind outbox. Mutations of one order are sent strictly
// in enqueue order; different orders drain concurrently.
type Queue struct {
	repo    Repository
	sender  Sender
	watcher *Connectivity
	opts    Options
	limiter *rate.Limiter
	now     func() time.Time

	enqueueMu sync.Mutex
	drainMu   sync.Mutex

	mu        sync.Mutex
	syncing   bool
	status    SyncStatus
	listeners []listener
	nextID    int

	lifeMu sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	kick   chan struct{}

	sent      metrics.Counter
	retried   metrics.Counter
	rejected  metrics.Counter
	lastDrain metrics.Gauge
}

// NewQueue builds a queue; watcher may be nil, in which case the backend is
// assumed reachable and only the poll interval drives draining.
func NewQueue(repo Repository, sender Sender, watcher *Connectivity, opts Options) *Queue {
	opts = opts.withDefaults()

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}

	return &Queue{
		repo:    repo,
		sender:  sender,
		watcher: watcher,
		opts:    opts,
		limiter: rate.NewLimiter(limit, opts.LaneConcurrency),
		now:     func() time.Time { return time.Now().UTC() },
		kick:    make(chan struct{}, 1),
		status:  SyncStatus{Online: true},
	}
}

// Initialize starts the drain loop and the connectivity watcher. Calling it
// again while running does nothing.
func (q *Queue) Initialize(ctx context.Context) {
	q.lifeMu.Lock()
	defer q.lifeMu.Unlock()

	if q.cancel != nil {
		return
	}

	log := logger.FromCtx(ctx).With(
		zap.String("layer", "outbox"),
		zap.String("method", "Initialize"),
	)

	if n, err := q.repo.ResetSyncing(ctx); err != nil {
		log.Warn("could not recover in-flight mutations", zap.Error(err))
	} else if n > 0 {
		log.Info("recovered in-flight mutations", zap.Int64("count", n))
	}
	q.publish(ctx)

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	q.cancel = cancel

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.loop(loopCtx)
	}()

	if q.watcher != nil {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.watcher.Run(loopCtx, q.Trigger)
		}()
	}

	log.Info("outbox started", zap.Duration("poll_interval", q.opts.PollInterval))
	q.Trigger()
}

// Destroy stops the background loops and waits for an in-flight drain.
func (q *Queue) Destroy() {
	q.lifeMu.Lock()
	defer q.lifeMu.Unlock()

	if q.cancel == nil {
		return
	}
	q.cancel()
	q.wg.Wait()
	q.cancel = nil

	logger.L().Info("outbox stopped", zap.String("layer", "outbox"))
}

// Trigger asks the running loop for an immediate drain.
func (q *Queue) Trigger() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

func (q *Queue) loop(ctx context.Context) {
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-q.kick:
		}

		if err := q.Drain(ctx); err != nil && ctx.Err() == nil {
			logger.FromCtx(ctx).Warn("outbox drain failed",
				zap.String("layer", "outbox"),
				zap.Error(err),
			)
		}
	}
}

// Enqueue records an intended backend write. The payload is replayed verbatim.
func (q *Queue) Enqueue(ctx context.Context, orderID string, entity EntityType, entityID string, op Operation, payload any) (*Mutation, error) {
	if orderID == "" || entityID == "" {
		return nil, fmt.Errorf("%w: order and entity ids are required", ErrInvalidMutation)
	}
	switch entity {
	case EntityOrder, EntityOrderItem:
	default:
		return nil, fmt.Errorf("%w: entity type %q", ErrInvalidMutation, entity)
	}
	switch op {
	case OpCreate, OpUpdate, OpDelete:
	default:
		return nil, fmt.Errorf("%w: operation %q", ErrInvalidMutation, op)
	}

	raw, err := encodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMutation, err)
	}

	m := &Mutation{
		ID:            uuid.NewString(),
		OrderID:       orderID,
		EntityType:    entity,
		EntityID:      entityID,
		Operation:     op,
		Payload:       raw,
		Status:        StatusPending,
		NextAttemptAt: q.now(),
	}

	q.enqueueMu.Lock()
	err = q.repo.Insert(ctx, m)
	q.enqueueMu.Unlock()
	if err != nil {
		return nil, err
	}

	logger.FromCtx(ctx).Debug("mutation enqueued",
		zap.String("layer", "outbox"),
		zap.String("order_id", orderID),
		zap.String("entity", string(entity)),
		zap.String("operation", string(op)),
		zap.Int64("seq", m.Seq),
	)

	q.publish(ctx)
	q.Trigger()
	return m, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return p, nil
	default:
		return json.Marshal(p)
	}
}

// Drain runs one pass over the queue. A pass already in progress makes this
// call a no-op, as does a backend known to be offline.
func (q *Queue) Drain(ctx context.Context) error {
	if !q.drainMu.TryLock() {
		return nil
	}
	defer q.drainMu.Unlock()

	if q.watcher != nil && !q.watcher.Online() {
		q.publish(ctx)
		return nil
	}

	timer := metrics.StartTimer()
	q.setSyncing(ctx, true)
	defer func() {
		q.lastDrain.ObserveSince(timer)
		q.setSyncing(context.WithoutCancel(ctx), false)
	}()

	list, err := q.repo.ListReady(ctx, q.now(), q.opts.BatchSize)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.opts.LaneConcurrency)
	for _, lane := range lanes(list) {
		g.Go(func() error {
			return q.drainLane(gctx, lane)
		})
	}
	return g.Wait()
}

// lanes groups mutations by order, keeping Seq order inside each lane.
func lanes(list []*Mutation) [][]*Mutation {
	index := make(map[string]int)
	var out [][]*Mutation
	for _, m := range list {
		i, ok := index[m.OrderID]
		if !ok {
			i = len(out)
			index[m.OrderID] = i
			out = append(out, nil)
		}
		out[i] = append(out[i], m)
	}
	return out
}

// drainLane sends mutations until one is not delivered. Nothing behind a
// failed, undelivered or not yet due head is attempted.
func (q *Queue) drainLane(ctx context.Context, lane []*Mutation) error {
	for _, m := range lane {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !m.Due(q.now()) {
			return nil
		}
		if err := q.limiter.Wait(ctx); err != nil {
			return err
		}
		if !q.attempt(ctx, m) {
			return nil
		}
	}
	return nil
}

// attempt sends m once and records the outcome. It reports whether m was
// delivered and removed.
func (q *Queue) attempt(ctx context.Context, m *Mutation) bool {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "outbox"),
		zap.String("method", "attempt"),
		zap.String("mutation_id", m.ID),
		zap.String("order_id", m.OrderID),
		zap.Int64("seq", m.Seq),
	)

	m.Status = StatusSyncing
	if err := q.repo.Update(ctx, m); err != nil {
		log.Warn("could not mark mutation syncing", zap.Error(err))
		return false
	}

	err := q.sender.Send(ctx, m)
	store := context.WithoutCancel(ctx)

	if err == nil {
		if err := q.repo.Delete(store, m.ID); err != nil {
			// delivered but still stored; the idempotency key makes the resend harmless
			log.Error("could not delete delivered mutation", zap.Error(err))
			return false
		}
		q.sent.Inc()
		log.Debug("mutation synced")
		return true
	}

	if ctx.Err() != nil {
		m.Status = StatusPending
		if uerr := q.repo.Update(store, m); uerr != nil {
			log.Warn("could not requeue interrupted mutation", zap.Error(uerr))
		}
		return false
	}

	m.Attempts++
	m.LastError = err.Error()

	switch {
	case IsRejection(err):
		m.Status = StatusFailed
		q.rejected.Inc()
		log.Warn("mutation rejected by backend", zap.Error(err))
	case m.Attempts >= q.opts.MaxAttempts:
		m.Status = StatusFailed
		log.Warn("mutation retries exhausted", zap.Int("attempts", m.Attempts), zap.Error(err))
	default:
		m.Status = StatusPending
		m.NextAttemptAt = q.now().Add(q.backoff(m.Attempts))
		q.retried.Inc()
		log.Info("mutation rescheduled",
			zap.Int("attempts", m.Attempts),
			zap.Time("next_attempt_at", m.NextAttemptAt),
			zap.Error(err),
		)
	}

	if errors.Is(err, ErrUnreachable) && q.watcher != nil {
		q.watcher.MarkOffline()
	}

	if uerr := q.repo.Update(store, m); uerr != nil {
		log.Error("could not record mutation failure", zap.Error(uerr))
	}
	return false
}

// backoff is the delay before attempt number attempts+1.
func (q *Queue) backoff(attempts int) time.Duration {
	b := retry.WithCappedDuration(q.opts.MaxBackoff, retry.NewExponential(q.opts.BaseBackoff))

	var d time.Duration
	for i := 0; i < attempts; i++ {
		d, _ = b.Next()
	}
	return d
}

// RetryFailedMutations makes every failed mutation pending again and drains.
func (q *Queue) RetryFailedMutations(ctx context.Context) (int64, error) {
	n, err := q.repo.ResetFailed(ctx, q.now())
	if err != nil {
		return 0, err
	}

	logger.FromCtx(ctx).Info("failed mutations requeued",
		zap.String("layer", "outbox"),
		zap.Int64("count", n),
	)

	q.publish(ctx)
	q.Trigger()
	return n, nil
}

// DiscardOrder drops every queued mutation of an order, failed ones included.
func (q *Queue) DiscardOrder(ctx context.Context, orderID string) (int64, error) {
	n, err := q.repo.DeleteByOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}

	logger.FromCtx(ctx).Info("order mutations discarded",
		zap.String("layer", "outbox"),
		zap.String("order_id", orderID),
		zap.Int64("count", n),
	)

	q.publish(ctx)
	return n, nil
}

func (q *Queue) GetSyncStatus() SyncStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.status
}

// Subscribe calls fn on every status change until the returned func is called.
func (q *Queue) Subscribe(fn func(SyncStatus)) (unsubscribe func()) {
	q.mu.Lock()
	q.nextID++
	id := q.nextID
	q.listeners = append(q.listeners, listener{id: id, fn: fn})
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		for i, l := range q.listeners {
			if l.id == id {
				q.listeners = append(q.listeners[:i], q.listeners[i+1:]...)
				return
			}
		}
	}
}

// Refresh re-reads the counts from the store.
func (q *Queue) Refresh(ctx context.Context) SyncStatus {
	q.publish(ctx)
	return q.GetSyncStatus()
}

func (q *Queue) setSyncing(ctx context.Context, v bool) {
	q.mu.Lock()
	q.syncing = v
	q.mu.Unlock()
	q.publish(ctx)
}

func (q *Queue) publish(ctx context.Context) {
	counts, err := q.repo.Counts(ctx)

	q.mu.Lock()
	next := q.status
	if err == nil {
		next.PendingCount = counts[StatusPending] + counts[StatusSyncing]
		next.FailedCount = counts[StatusFailed]
	}
	next.Syncing = q.syncing
	next.Online = q.watcher == nil || q.watcher.Online()
	next.Sent = q.sent.Load()
	next.Retried = q.retried.Load()
	next.Rejected = q.rejected.Load()
	next.LastDrainMillis = q.lastDrain.Load().Milliseconds()

	changed := next != q.status
	q.status = next
	listeners := append([]listener(nil), q.listeners...)
	q.mu.Unlock()

	if err != nil {
		logger.FromCtx(ctx).Debug("outbox counts unavailable", zap.String("layer", "outbox"), zap.Error(err))
	}
	if !changed {
		return
	}
	for _, l := range listeners {
		l.fn(next)
	}
}
