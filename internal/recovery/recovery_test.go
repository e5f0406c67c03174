package recovery_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/renderq/internal/events"
	"github.com/kiranshivaraju/renderq/internal/kv"
	"github.com/kiranshivaraju/renderq/internal/lease"
	"github.com/kiranshivaraju/renderq/internal/queue"
	"github.com/kiranshivaraju/renderq/internal/recovery"
	"github.com/kiranshivaraju/renderq/internal/store"
	"github.com/kiranshivaraju/renderq/pkg/models"
)

const leaseTTL = time.Minute

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	clock  *clock
	prims  *lease.MemoryPrimitives
	keys   kv.Keyspace
	store  *store.Store
	queue  *queue.MemoryQueue
	leases *lease.Manager
	events *events.Recorder
}

func newFixture() *fixture {
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	prims := lease.NewMemoryPrimitives(lease.WithClock(c.Now))
	keys := kv.NewKeyspace("default")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{
		clock:  c,
		prims:  prims,
		keys:   keys,
		store:  store.New(store.NewMemoryBackend()),
		queue:  queue.NewMemoryQueue(),
		leases: lease.NewManager(prims, keys, leaseTTL),
		events: events.NewRecorder(events.NewMemoryLog(), logger),
	}
}

func (f *fixture) pass(token string, maxRetries int) *recovery.Pass {
	return f.passWith(f.queue, token, maxRetries)
}

func (f *fixture) passWith(q queue.Queue, token string, maxRetries int) *recovery.Pass {
	return recovery.NewPass(recovery.Deps{
		Store:  f.store,
		Queue:  q,
		Leases: f.leases,
		Lock:   lease.NewLock(f.prims, f.keys.RecoveryLock(), token, 15*time.Second),
		Events: f.events,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, maxRetries)
}

// startRunning puts the job in the state a worker leaves it in right
// before it crashes: running, with a lease nobody renews.
func (f *fixture) startRunning(t *testing.T, id, owner string) {
	t.Helper()
	ctx := context.Background()
	ok, err := f.leases.Acquire(ctx, id, owner)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = f.store.SetRunning(ctx, id)
	require.NoError(t, err)
}

func (f *fixture) createJob(t *testing.T) string {
	t.Helper()
	rec, err := f.store.CreateJob(context.Background(), models.JobInput{Manifest: &models.Manifest{
		Sections: []models.Section{{ID: "s1", Script: "Hello world."}},
	}})
	require.NoError(t, err)
	return rec.ID
}

func (f *fixture) hasEvent(t *testing.T, id string, typ models.EventType) bool {
	t.Helper()
	evs, err := f.events.Read(context.Background(), id)
	require.NoError(t, err)
	for _, ev := range evs {
		if ev.Type == typ {
			return true
		}
	}
	return false
}

func TestPass_RequeuesExpiredLease(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id := f.createJob(t)
	f.startRunning(t, id, "worker-1")

	f.clock.Advance(leaseTTL + time.Second)

	res, err := f.pass("recoverer", 2).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, recovery.Result{LockAcquired: true, Scanned: 1, Requeued: 1}, res)

	rec, err := f.store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, rec.Status)
	assert.Equal(t, 1, rec.RetryCount)
	require.NotNil(t, rec.Error)
	assert.Equal(t, models.ErrCodeLeaseExpiredRequeued, rec.Error.Code)
	assert.True(t, f.hasEvent(t, id, models.EventRequeued))

	next, err := f.queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, id, next)

	running, err := f.store.ListJobIDsByStatus(ctx, models.JobStatusRunning)
	require.NoError(t, err)
	assert.NotContains(t, running, id)
}

func TestPass_FailsAfterMaxRetries(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id := f.createJob(t)

	var last recovery.Result
	for attempt := 1; attempt <= 3; attempt++ {
		f.startRunning(t, id, "worker-1")
		f.clock.Advance(leaseTTL + time.Second)

		res, err := f.pass("recoverer", 2).Run(ctx)
		require.NoError(t, err)
		last = res

		if attempt < 3 {
			assert.Equal(t, 1, res.Requeued, "attempt %d", attempt)
			got, err := f.queue.Dequeue(ctx, time.Second)
			require.NoError(t, err)
			require.Equal(t, id, got)
		}
	}

	assert.Equal(t, 1, last.Failed)
	assert.Zero(t, last.Requeued)

	rec, err := f.store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, rec.Status)
	assert.Equal(t, 2, rec.RetryCount)
	require.NotNil(t, rec.Error)
	assert.Equal(t, models.ErrCodeStuckMaxRetries, rec.Error.Code)
	assert.Contains(t, rec.Error.Message, "max retries")
	assert.True(t, f.hasEvent(t, id, models.EventFailed))

	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "never re-enqueued once retries are exhausted")
}

func TestPass_SkipsLiveLease(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id := f.createJob(t)
	f.startRunning(t, id, "worker-1")

	f.clock.Advance(leaseTTL / 2)

	res, err := f.pass("recoverer", 2).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, recovery.Result{LockAcquired: true, Scanned: 1, Skipped: 1}, res)

	rec, err := f.store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, rec.Status)
	assert.Zero(t, rec.RetryCount)
}

func TestPass_LockHeldYieldsZeroCounts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id := f.createJob(t)
	f.startRunning(t, id, "worker-1")
	f.clock.Advance(leaseTTL + time.Second)

	holder := lease.NewLock(f.prims, f.keys.RecoveryLock(), "first-pass", 15*time.Second)
	ok, err := holder.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := f.pass("second-pass", 2).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, recovery.Result{}, res)

	rec, err := f.store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, rec.Status, "untouched while another pass holds the lock")

	require.NoError(t, holder.Unlock(ctx))
	res, err = f.pass("second-pass", 2).Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.LockAcquired)
	assert.Equal(t, 1, res.Requeued)
}

func TestPass_ReleasesLockAfterRun(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	p := f.pass("recoverer", 2)
	for i := 0; i < 2; i++ {
		res, err := p.Run(ctx)
		require.NoError(t, err)
		assert.True(t, res.LockAcquired, "run %d", i)
	}
}

type staleIndexBackend struct {
	*store.MemoryBackend
	mu        sync.Mutex
	stale     []string
	unindexed []string
}

func (b *staleIndexBackend) ListIDsByStatus(ctx context.Context, status models.JobStatus) ([]string, error) {
	ids, err := b.MemoryBackend.ListIDsByStatus(ctx, status)
	if status == models.JobStatusRunning {
		b.mu.Lock()
		ids = append(ids, b.stale...)
		b.mu.Unlock()
	}
	return ids, err
}

func (b *staleIndexBackend) Unindex(_ context.Context, _ models.JobStatus, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unindexed = append(b.unindexed, id)
	return nil
}

func TestPass_DropsStaleIndexEntries(t *testing.T) {
	f := newFixture()
	backend := &staleIndexBackend{MemoryBackend: store.NewMemoryBackend()}
	f.store = store.New(backend)
	ctx := context.Background()

	done := f.createJob(t)
	_, err := f.store.SetSucceeded(ctx, done, models.Artifacts{PrimaryLocator: "x"})
	require.NoError(t, err)
	backend.stale = []string{done, "vanished"}

	res, err := f.pass("recoverer", 2).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, recovery.Result{LockAcquired: true, Scanned: 2, Skipped: 2}, res)
	assert.ElementsMatch(t, []string{done, "vanished"}, backend.unindexed)

	rec, err := f.store.GetJob(ctx, done)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, rec.Status)
}

// outageQueue refuses pushes while down is set.
type outageQueue struct {
	*queue.MemoryQueue
	down atomic.Bool
}

func (q *outageQueue) Enqueue(ctx context.Context, id string) error {
	if q.down.Load() {
		return errors.New("READONLY You can't write against a read only replica")
	}
	return q.MemoryQueue.Enqueue(ctx, id)
}

func TestPass_EnqueueFailureIsRedeliveredNextPass(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	q := &outageQueue{MemoryQueue: f.queue}
	p := f.passWith(q, "recoverer", 2)

	id := f.createJob(t)
	f.startRunning(t, id, "worker-1")
	f.clock.Advance(leaseTTL + time.Second)

	q.down.Store(true)
	res, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, recovery.Result{LockAcquired: true, Scanned: 1, Skipped: 1}, res)

	q.down.Store(false)
	res, err = p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, recovery.Result{LockAcquired: true, Redelivered: 1}, res)

	rec, err := f.store.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, rec.Status)
	assert.Equal(t, 1, rec.RetryCount, "redelivery does not spend another retry")

	next, err := f.queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, id, next)
}

func TestPass_RedeliversOrphanedQueuedRecord(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p := f.pass("recoverer", 2)

	// Created but never enqueued, e.g. the producer died in between.
	orphan := f.createJob(t)
	waiting := f.createJob(t)
	require.NoError(t, f.queue.Enqueue(ctx, waiting))

	res, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Redelivered, "a single sighting is not enough")

	res, err = p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Redelivered)
	assert.True(t, f.hasEvent(t, orphan, models.EventQueued))

	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "the waiting id is not duplicated")

	res, err = p.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Redelivered, "orphan is on the queue again")
}

func TestPass_LeasedQueuedRecordIsNotOrphaned(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p := f.pass("recoverer", 2)

	// A worker popped the id and holds the lease but has not marked the
	// job running yet.
	id := f.createJob(t)
	ok, err := f.leases.Acquire(ctx, id, "worker-1")
	require.NoError(t, err)
	require.True(t, ok)

	for i := 0; i < 3; i++ {
		res, err := p.Run(ctx)
		require.NoError(t, err)
		assert.Zero(t, res.Redelivered, "run %d", i)
	}
	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunner_StopsOnCancel(t *testing.T) {
	f := newFixture()
	id := f.createJob(t)
	f.startRunning(t, id, "worker-1")
	f.clock.Advance(leaseTTL + time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- recovery.NewRunner(f.pass("recoverer", 2), 10*time.Millisecond).Run(ctx) }()

	require.Eventually(t, func() bool {
		rec, err := f.store.GetJob(context.Background(), id)
		return err == nil && rec.Status == models.JobStatusQueued
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
