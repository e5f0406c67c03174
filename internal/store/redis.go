package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/kiranshivaraju/renderq/internal/kv"
	"github.com/kiranshivaraju/renderq/pkg/models"
)

var allStatuses = []models.JobStatus{
	models.JobStatusQueued,
	models.JobStatusRunning,
	models.JobStatusSucceeded,
	models.JobStatusFailed,
}

// RedisBackend stores records and inputs as JSON strings under the
// instance keyspace and keeps one Set per status as the status index.
type RedisBackend struct {
	client redis.Cmdable
	keys   kv.Keyspace
}

// NewRedisBackend creates a Redis-backed job store. The caller owns the
// client lifecycle.
func NewRedisBackend(client redis.Cmdable, keys kv.Keyspace) *RedisBackend {
	return &RedisBackend{client: client, keys: keys}
}

func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Insert writes record, input and index entry in one MULTI/EXEC.
func (b *RedisBackend) Insert(ctx context.Context, rec *models.JobRecord, input *models.JobInput) error {
	recJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	inJSON, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("marshal job input: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.keys.Job(rec.ID), recJSON, 0)
	pipe.Set(ctx, b.keys.JobInput(rec.ID), inJSON, 0)
	pipe.SAdd(ctx, b.keys.StatusIndex(string(rec.Status)), rec.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (b *RedisBackend) Get(ctx context.Context, id string) (*models.JobRecord, error) {
	var rec models.JobRecord
	if err := b.getJSON(ctx, b.keys.Job(id), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (b *RedisBackend) GetInput(ctx context.Context, id string) (*models.JobInput, error) {
	var in models.JobInput
	if err := b.getJSON(ctx, b.keys.JobInput(id), &in); err != nil {
		return nil, err
	}
	return &in, nil
}

// Mutate reads the record, applies fn and writes it back together with the
// status index. Concurrent writers are last-writer-wins; only the lease
// holder is expected to write a given job.
func (b *RedisBackend) Mutate(ctx context.Context, id string, fn MutateFunc) (*models.JobRecord, error) {
	rec, err := b.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(rec); err != nil {
		return nil, err
	}
	recJSON, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.keys.Job(id), recJSON, 0)
	for _, st := range allStatuses {
		if st == rec.Status {
			pipe.SAdd(ctx, b.keys.StatusIndex(string(st)), id)
		} else {
			pipe.SRem(ctx, b.keys.StatusIndex(string(st)), id)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}
	return rec, nil
}

func (b *RedisBackend) MutateInput(ctx context.Context, id string, fn func(in *models.JobInput) error) (*models.JobInput, error) {
	in, err := b.GetInput(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(in); err != nil {
		return nil, err
	}
	inJSON, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal job input: %w", err)
	}
	if err := b.client.Set(ctx, b.keys.JobInput(id), inJSON, 0).Err(); err != nil {
		return nil, fmt.Errorf("update job input: %w", err)
	}
	return in, nil
}

func (b *RedisBackend) ListIDsByStatus(ctx context.Context, status models.JobStatus) ([]string, error) {
	ids, err := b.client.SMembers(ctx, b.keys.StatusIndex(string(status))).Result()
	if err != nil {
		return nil, fmt.Errorf("list jobs by status: %w", err)
	}
	return ids, nil
}

func (b *RedisBackend) Unindex(ctx context.Context, status models.JobStatus, id string) error {
	if err := b.client.SRem(ctx, b.keys.StatusIndex(string(status)), id).Err(); err != nil {
		return fmt.Errorf("unindex job: %w", err)
	}
	return nil
}

func (b *RedisBackend) getJSON(ctx context.Context, key string, v any) error {
	raw, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

var _ Backend = (*RedisBackend)(nil)
