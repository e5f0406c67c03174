package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/kiranshivaraju/renderq/internal/kv"
	"github.com/kiranshivaraju/renderq/pkg/models"
)

// RedisLog stores each job's events as a capped Redis List of JSON values.
type RedisLog struct {
	client redis.Cmdable
	keys   kv.Keyspace
}

func NewRedisLog(client redis.Cmdable, keys kv.Keyspace) *RedisLog {
	return &RedisLog{client: client, keys: keys}
}

func (r *RedisLog) Append(ctx context.Context, jobID string, ev models.JobEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	key := r.keys.Events(jobID)
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -MaxPerJob, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (r *RedisLog) Read(ctx context.Context, jobID string) ([]models.JobEvent, error) {
	raw, err := r.client.LRange(ctx, r.keys.Events(jobID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	out := make([]models.JobEvent, 0, len(raw))
	for _, s := range raw {
		var ev models.JobEvent
		if err := json.Unmarshal([]byte(s), &ev); err != nil {
			// A corrupt entry costs one line of history, not the whole read.
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

var _ Log = (*RedisLog)(nil)
