package queue

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryQueue is an in-process waiter queue. When a dequeuer is already
// parked, a new id goes straight to the oldest waiter instead of the
// backlog, so FIFO order holds and nobody wakes up to an empty queue.
type MemoryQueue struct {
	mu      sync.Mutex
	items   []string
	waiters []chan string
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Name() string { return "memory" }

func (q *MemoryQueue) Enqueue(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pushLocked(id)
	return nil
}

func (q *MemoryQueue) pushLocked(id string) {
	if len(q.waiters) > 0 {
		w := q.waiters[0]
		q.waiters = q.waiters[1:]
		w <- id // buffered, never blocks
		return
	}
	q.items = append(q.items, id)
}

func (q *MemoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	q.mu.Lock()
	if len(q.items) > 0 {
		id := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()
		return id, nil
	}
	ch := make(chan string, 1)
	q.waiters = append(q.waiters, ch)
	q.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case id := <-ch:
		return id, nil
	case <-expired:
		if id, handed := q.abandon(ch); handed {
			return id, nil
		}
		return "", nil
	case <-ctx.Done():
		if id, handed := q.abandon(ch); handed {
			// Hand it on rather than drop it with the cancelled caller.
			q.mu.Lock()
			q.unshiftLocked(id)
			q.mu.Unlock()
		}
		return "", ctx.Err()
	}
}

// abandon removes ch from the waiter list. If an Enqueue already handed
// it an id, that id is returned with handed=true.
func (q *MemoryQueue) abandon(ch chan string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, w := range q.waiters {
		if w == ch {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return "", false
		}
	}
	return <-ch, true
}

func (q *MemoryQueue) unshiftLocked(id string) {
	if len(q.waiters) > 0 {
		q.pushLocked(id)
		return
	}
	q.items = append([]string{id}, q.items...)
}

func (q *MemoryQueue) Len(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

func (q *MemoryQueue) Contains(_ context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Contains(q.items, id), nil
}

var _ Queue = (*MemoryQueue)(nil)
