package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSender fails sends per entity id in the order given.
type scriptedSender struct {
	mu     sync.Mutex
	script map[string][]error
	calls  []string
	ok     []string
}

func newScriptedSender() *scriptedSender {
	return &scriptedSender{script: make(map[string][]error)}
}

func (s *scriptedSender) fail(entityID string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script[entityID] = append(s.script[entityID], errs...)
}

func (s *scriptedSender) Send(ctx context.Context, m *Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, m.EntityID)
	if errs := s.script[m.EntityID]; len(errs) > 0 {
		s.script[m.EntityID] = errs[1:]
		return errs[0]
	}
	s.ok = append(s.ok, m.EntityID)
	return nil
}

func (s *scriptedSender) delivered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ok...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var unreachable = errors.Join(ErrUnreachable, errors.New("connection refused"))

func newTestQueue(t *testing.T, sender Sender, opts Options) (*Queue, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}

	if opts.BaseBackoff == 0 {
		opts.BaseBackoff = time.Second
		opts.MaxBackoff = 8 * time.Second
	}
	q := NewQueue(createTestRepository(t), sender, nil, opts)
	q.now = clock.Now
	return q, clock
}

func enqueue(t *testing.T, q *Queue, orderID string, entity EntityType, entityID string) {
	t.Helper()
	_, err := q.Enqueue(context.Background(), orderID, entity, entityID, OpCreate, map[string]string{"id": entityID})
	require.NoError(t, err)
}

func TestQueue_SameOrderIsFIFO(t *testing.T) {
	sender := newScriptedSender()
	q, clock := newTestQueue(t, sender, Options{MaxAttempts: 5, LaneConcurrency: 4})
	ctx := context.Background()

	enqueue(t, q, "o-1", EntityOrder, "A")
	enqueue(t, q, "o-1", EntityOrderItem, "B")
	sender.fail("A", unreachable, unreachable)

	require.NoError(t, q.Drain(ctx))
	assert.Empty(t, sender.delivered())
	assert.Equal(t, []string{"A"}, sender.calls, "B must wait behind A")

	// not due yet: nothing is attempted
	require.NoError(t, q.Drain(ctx))
	assert.Equal(t, []string{"A"}, sender.calls)

	clock.Advance(time.Second)
	require.NoError(t, q.Drain(ctx))
	assert.Equal(t, []string{"A", "A"}, sender.calls)

	clock.Advance(2 * time.Second)
	require.NoError(t, q.Drain(ctx))

	assert.Equal(t, []string{"A", "A", "A", "B"}, sender.calls)
	assert.Equal(t, []string{"A", "B"}, sender.delivered())

	status := q.GetSyncStatus()
	assert.Zero(t, status.PendingCount)
	assert.Zero(t, status.FailedCount)
	assert.EqualValues(t, 2, status.Sent)
	assert.EqualValues(t, 2, status.Retried)
	assert.False(t, status.Syncing)
}

func TestQueue_OtherOrdersInterleave(t *testing.T) {
	sender := newScriptedSender()
	q, _ := newTestQueue(t, sender, Options{MaxAttempts: 5, LaneConcurrency: 2})

	enqueue(t, q, "o-1", EntityOrder, "A")
	enqueue(t, q, "o-2", EntityOrder, "C")
	enqueue(t, q, "o-1", EntityOrderItem, "B")
	sender.fail("A", unreachable)

	require.NoError(t, q.Drain(context.Background()))

	assert.ElementsMatch(t, []string{"C"}, sender.delivered())
	assert.Equal(t, 2, q.GetSyncStatus().PendingCount)
}

func TestQueue_RejectionFailsImmediately(t *testing.T) {
	sender := newScriptedSender()
	q, clock := newTestQueue(t, sender, Options{MaxAttempts: 5})
	ctx := context.Background()

	enqueue(t, q, "o-1", EntityOrder, "A")
	enqueue(t, q, "o-1", EntityOrderItem, "B")
	sender.fail("A", &RejectionError{StatusCode: 422, Reason: "insufficient stock"})

	require.NoError(t, q.Drain(ctx))

	status := q.GetSyncStatus()
	assert.Equal(t, 1, status.FailedCount)
	assert.Equal(t, 1, status.PendingCount)
	assert.EqualValues(t, 1, status.Rejected)

	t.Run("Failed head blocks the lane", func(t *testing.T) {
		clock.Advance(time.Hour)
		require.NoError(t, q.Drain(ctx))
		assert.Equal(t, []string{"A"}, sender.calls)
	})

	t.Run("Retry drains it", func(t *testing.T) {
		n, err := q.RetryFailedMutations(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
		assert.Zero(t, q.GetSyncStatus().FailedCount)

		require.NoError(t, q.Drain(ctx))
		assert.Equal(t, []string{"A", "B"}, sender.delivered())
	})
}

func TestQueue_ExhaustedRetriesFail(t *testing.T) {
	sender := newScriptedSender()
	q, clock := newTestQueue(t, sender, Options{MaxAttempts: 2})
	ctx := context.Background()

	enqueue(t, q, "o-1", EntityOrder, "A")
	sender.fail("A", unreachable, unreachable, unreachable)

	require.NoError(t, q.Drain(ctx))
	clock.Advance(time.Minute)
	require.NoError(t, q.Drain(ctx))

	status := q.GetSyncStatus()
	assert.Equal(t, 1, status.FailedCount)
	assert.Zero(t, status.PendingCount)

	clock.Advance(time.Hour)
	require.NoError(t, q.Drain(ctx))
	assert.Len(t, sender.calls, 2, "failed mutations are never retried silently")
}

func TestQueue_DiscardOrder(t *testing.T) {
	sender := newScriptedSender()
	q, _ := newTestQueue(t, sender, Options{})
	ctx := context.Background()

	enqueue(t, q, "o-1", EntityOrder, "A")
	enqueue(t, q, "o-2", EntityOrder, "C")
	sender.fail("A", &RejectionError{StatusCode: 400})
	require.NoError(t, q.Drain(ctx))
	require.Equal(t, 1, q.GetSyncStatus().FailedCount)

	n, err := q.DiscardOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Zero(t, q.GetSyncStatus().FailedCount)
}

func TestQueue_Enqueue_Invalid(t *testing.T) {
	q, _ := newTestQueue(t, newScriptedSender(), Options{})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "", EntityOrder, "A", OpCreate, nil)
	assert.ErrorIs(t, err, ErrInvalidMutation)
	_, err = q.Enqueue(ctx, "o-1", EntityType("customer"), "A", OpCreate, nil)
	assert.ErrorIs(t, err, ErrInvalidMutation)
	_, err = q.Enqueue(ctx, "o-1", EntityOrder, "A", Operation("upsert"), nil)
	assert.ErrorIs(t, err, ErrInvalidMutation)
	_, err = q.Enqueue(ctx, "o-1", EntityOrder, "A", OpCreate, make(chan int))
	assert.ErrorIs(t, err, ErrInvalidMutation)
}

func TestQueue_Subscribe(t *testing.T) {
	q, _ := newTestQueue(t, newScriptedSender(), Options{})
	ctx := context.Background()

	var mu sync.Mutex
	var seen []SyncStatus
	unsubscribe := q.Subscribe(func(s SyncStatus) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	})

	enqueue(t, q, "o-1", EntityOrder, "A")

	mu.Lock()
	require.NotEmpty(t, seen)
	assert.Equal(t, 1, seen[len(seen)-1].PendingCount)
	mu.Unlock()

	require.NoError(t, q.Drain(ctx))

	mu.Lock()
	assert.Zero(t, seen[len(seen)-1].PendingCount)
	assert.False(t, seen[len(seen)-1].Syncing)
	count := len(seen)
	mu.Unlock()

	unsubscribe()
	enqueue(t, q, "o-2", EntityOrder, "B")

	mu.Lock()
	assert.Len(t, seen, count)
	mu.Unlock()
}

func TestQueue_InitializeDrainsInBackground(t *testing.T) {
	sender := newScriptedSender()
	q := NewQueue(createTestRepository(t), sender, nil, Options{PollInterval: time.Hour})
	ctx := context.Background()

	q.Initialize(ctx)
	q.Initialize(ctx)
	defer q.Destroy()

	_, err := q.Enqueue(ctx, "o-1", EntityOrder, "A", OpCreate, nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(sender.delivered()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	q.Destroy()
	q.Destroy()
}

func TestQueue_OfflineSkipsDrain(t *testing.T) {
	sender := newScriptedSender()
	watcher := NewConnectivity(&fakeProber{}, time.Hour)
	watcher.MarkOffline()

	q := NewQueue(createTestRepository(t), sender, watcher, Options{})
	enqueue(t, q, "o-1", EntityOrder, "A")

	require.NoError(t, q.Drain(context.Background()))
	assert.Empty(t, sender.calls)
	assert.False(t, q.GetSyncStatus().Online)
}

func TestQueue_UnreachableMarksOffline(t *testing.T) {
	sender := newScriptedSender()
	watcher := NewConnectivity(&fakeProber{}, time.Hour)
	q := NewQueue(createTestRepository(t), sender, watcher, Options{})

	enqueue(t, q, "o-1", EntityOrder, "A")
	sender.fail("A", unreachable)

	require.NoError(t, q.Drain(context.Background()))
	assert.False(t, watcher.Online())
}

func TestQueue_Backoff(t *testing.T) {
	q := NewQueue(nil, nil, nil, Options{BaseBackoff: time.Second, MaxBackoff: 5 * time.Second})

	assert.Equal(t, time.Second, q.backoff(1))
	assert.Equal(t, 2*time.Second, q.backoff(2))
	assert.Equal(t, 4*time.Second, q.backoff(3))
	assert.Equal(t, 5*time.Second, q.backoff(4))
	assert.Equal(t, 5*time.Second, q.backoff(10))
}

func TestQueue_BlockedLaneDoesNotStarveOthers(t *testing.T) {
	sender := newScriptedSender()
	q, clock := newTestQueue(t, sender, Options{MaxAttempts: 5, BatchSize: 2})
	ctx := context.Background()

	enqueue(t, q, "o-1", EntityOrder, "A1")
	enqueue(t, q, "o-1", EntityOrderItem, "A2")
	enqueue(t, q, "o-2", EntityOrder, "B1")
	enqueue(t, q, "o-3", EntityOrder, "C1")
	sender.fail("A1", &RejectionError{StatusCode: 422, Reason: "insufficient stock"})
	sender.fail("B1", unreachable)

	for range 5 {
		require.NoError(t, q.Drain(ctx))
	}

	assert.Equal(t, []string{"C1"}, sender.delivered(), "o-3 is reached past the failed and backing-off lanes")
	assert.Equal(t, []string{"A1", "B1", "C1"}, sender.calls)

	clock.Advance(time.Second)
	require.NoError(t, q.Drain(ctx))
	assert.Equal(t, []string{"C1", "B1"}, sender.delivered())

	status := q.GetSyncStatus()
	assert.Equal(t, 1, status.FailedCount)
	assert.Equal(t, 1, status.PendingCount)
}
