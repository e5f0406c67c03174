package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kiranshivaraju/renderq/internal/kv"
)

// RedisQueue is a Redis List per instance: RPUSH to enqueue, BLPOP to
// dequeue.
type RedisQueue struct {
	client redis.Cmdable
	key    string
}

// NewRedisQueue creates a queue on the instance's queue key.
func NewRedisQueue(client redis.Cmdable, keys kv.Keyspace) *RedisQueue {
	return &RedisQueue{client: client, key: keys.Queue()}
}

func (q *RedisQueue) Name() string { return "redis" }

func (q *RedisQueue) Enqueue(ctx context.Context, id string) error {
	if err := q.client.RPush(ctx, q.key, id).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", id, err)
	}
	return nil
}

// Dequeue blocks in BLPOP. Redis counts the timeout in whole seconds, so
// sub-second timeouts wait one second.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	if timeout < 0 {
		timeout = 0
	}
	res, err := q.client.BLPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("dequeue: %w", err)
	}
	// BLPOP replies with [key, value].
	if len(res) != 2 {
		return "", fmt.Errorf("dequeue: unexpected reply %v", res)
	}
	return res[1], nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}

// Contains looks id up with LPOS.
func (q *RedisQueue) Contains(ctx context.Context, id string) (bool, error) {
	err := q.client.LPos(ctx, q.key, id, redis.LPosArgs{}).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("queue lookup %s: %w", id, err)
	}
	return true, nil
}

var _ Queue = (*RedisQueue)(nil)
