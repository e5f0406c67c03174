package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/renderq/internal/kv"
	"github.com/kiranshivaraju/renderq/internal/kv/kvtest"
	"github.com/kiranshivaraju/renderq/internal/queue"
)

func runQueueSuite(t *testing.T, newQueue func(t *testing.T) queue.Queue) {
	t.Run("RoundTrip", func(t *testing.T) {
		q := newQueue(t)
		ctx := context.Background()
		require.NoError(t, q.Enqueue(ctx, "job-1"))

		start := time.Now()
		id, err := q.Dequeue(ctx, 5*time.Second)
		require.NoError(t, err)
		assert.Equal(t, "job-1", id)
		assert.Less(t, time.Since(start), time.Second, "non-empty queue must not wait")
	})

	t.Run("FIFO", func(t *testing.T) {
		q := newQueue(t)
		ctx := context.Background()
		for _, id := range []string{"a", "b", "c"} {
			require.NoError(t, q.Enqueue(ctx, id))
		}
		n, err := q.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		for _, want := range []string{"a", "b", "c"} {
			got, err := q.Dequeue(ctx, time.Second)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
	})

	t.Run("Contains", func(t *testing.T) {
		q := newQueue(t)
		ctx := context.Background()
		require.NoError(t, q.Enqueue(ctx, "a"))
		require.NoError(t, q.Enqueue(ctx, "b"))

		ok, err := q.Contains(ctx, "b")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = q.Contains(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		ok, err = q.Contains(ctx, "a")
		require.NoError(t, err)
		assert.False(t, ok, "dequeued ids are gone")
	})

	t.Run("TimeoutOnEmpty", func(t *testing.T) {
		q := newQueue(t)
		start := time.Now()
		id, err := q.Dequeue(context.Background(), time.Second)
		elapsed := time.Since(start)

		require.NoError(t, err)
		assert.Empty(t, id)
		assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond)
		assert.Less(t, elapsed, 3*time.Second)
	})

	t.Run("WakesBlockedDequeuer", func(t *testing.T) {
		q := newQueue(t)
		ctx := context.Background()

		got := make(chan string, 1)
		go func() {
			id, _ := q.Dequeue(ctx, 5*time.Second)
			got <- id
		}()

		time.Sleep(100 * time.Millisecond)
		require.NoError(t, q.Enqueue(ctx, "late"))

		select {
		case id := <-got:
			assert.Equal(t, "late", id)
		case <-time.After(3 * time.Second):
			t.Fatal("dequeuer was not woken")
		}
	})
}

func TestMemoryQueue(t *testing.T) {
	runQueueSuite(t, func(t *testing.T) queue.Queue {
		return queue.NewMemoryQueue()
	})
}

func TestMemoryQueue_OldestWaiterFirst(t *testing.T) {
	q := queue.NewMemoryQueue()
	ctx := context.Background()

	first := make(chan string, 1)
	second := make(chan string, 1)
	go func() {
		id, _ := q.Dequeue(ctx, 5*time.Second)
		first <- id
	}()
	time.Sleep(50 * time.Millisecond)
	go func() {
		id, _ := q.Dequeue(ctx, 5*time.Second)
		second <- id
	}()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, q.Enqueue(ctx, "one"))
	require.NoError(t, q.Enqueue(ctx, "two"))

	assert.Equal(t, "one", <-first)
	assert.Equal(t, "two", <-second)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "handed ids never touch the backlog")
}

func TestMemoryQueue_CancelKeepsHandedID(t *testing.T) {
	q := queue.NewMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	id, err := q.Dequeue(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, id)

	require.NoError(t, q.Enqueue(context.Background(), "kept"))
	id, err = q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "kept", id)
}

func TestMemoryQueue_ConcurrentProducers(t *testing.T) {
	q := queue.NewMemoryQueue()
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Enqueue(ctx, uuid.NewString())
		}()
	}

	seen := make(map[string]bool)
	for len(seen) < n {
		id, err := q.Dequeue(ctx, 2*time.Second)
		require.NoError(t, err)
		require.NotEmpty(t, id)
		assert.False(t, seen[id], "id delivered twice")
		seen[id] = true
	}
	wg.Wait()
}

func TestRedisQueue(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	client := kvtest.StartRedis(t)

	runQueueSuite(t, func(t *testing.T) queue.Queue {
		return queue.NewRedisQueue(client, kv.NewKeyspace(uuid.NewString()))
	})
}

func TestRedisQueue_SharedAcrossClients(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	client := kvtest.StartRedis(t)
	ks := kv.NewKeyspace("shared")
	producer := queue.NewRedisQueue(client, ks)
	consumer := queue.NewRedisQueue(client, ks)
	other := queue.NewRedisQueue(client, kv.NewKeyspace("other"))
	ctx := context.Background()

	require.NoError(t, producer.Enqueue(ctx, "job-9"))

	id, err := other.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Empty(t, id, "instances do not see each other's queue")

	id, err = consumer.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "job-9", id)
}
