package lease

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisPrimitives implements Primitives with SET NX PX and Lua
// compare-and-act scripts.
type RedisPrimitives struct {
	client redis.Cmdable
}

// NewRedisPrimitives wraps a Redis client.
func NewRedisPrimitives(client redis.Cmdable) *RedisPrimitives {
	return &RedisPrimitives{client: client}
}

func (r *RedisPrimitives) SetNX(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, token, ttl).Result()
}

func (r *RedisPrimitives) CompareAndExpire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, r.client, []string{key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *RedisPrimitives) CompareAndDelete(ctx context.Context, key, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, r.client, []string{key}, token).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *RedisPrimitives) Inspect(ctx context.Context, key string) (Info, error) {
	pipe := r.client.Pipeline()
	get := pipe.Get(ctx, key)
	pttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Info{}, err
	}

	owner, err := get.Result()
	if errors.Is(err, redis.Nil) {
		return Info{}, nil
	}
	if err != nil {
		return Info{}, err
	}
	info := Info{Held: true, Owner: owner}
	// PTTL reports -1/-2 as negative durations.
	if d := pttl.Val(); d > 0 {
		info.TTLRemainingMs = d.Milliseconds()
	}
	return info, nil
}

var _ Primitives = (*RedisPrimitives)(nil)
