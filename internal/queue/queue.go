// Package queue hands job ids from producers to workers in FIFO order.
// Queue membership is not authoritative; the job record status is.
package queue

import (
	"context"
	"time"
)

// Queue is a FIFO of job ids with a blocking pop.
type Queue interface {
	// Enqueue pushes id to the tail.
	Enqueue(ctx context.Context, id string) error
	// Dequeue pops from the head, blocking up to timeout when empty. It
	// returns "" and a nil error on timeout. A timeout <= 0 blocks until
	// ctx is done.
	Dequeue(ctx context.Context, timeout time.Duration) (string, error)
	// Len reports the number of ids waiting.
	Len(ctx context.Context) (int64, error)
	// Contains reports whether id is waiting in the queue.
	Contains(ctx context.Context, id string) (bool, error)
	Name() string
}
