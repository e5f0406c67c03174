package heartbeat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kiranshivaraju/renderq/internal/kv"
	"github.com/kiranshivaraju/renderq/pkg/models"
)

// MemoryStore keeps the heartbeat in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	rec     *models.HeartbeatRecord
	expires time.Time
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (m *MemoryStore) Write(_ context.Context, rec models.HeartbeatRecord, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = &rec
	m.expires = m.now().Add(ttl)
	return nil
}

func (m *MemoryStore) Read(_ context.Context) (*models.HeartbeatRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec == nil || !m.now().Before(m.expires) {
		return nil, nil
	}
	rec := *m.rec
	return &rec, nil
}

// RedisStore keeps the heartbeat as a JSON value with PX expiry.
type RedisStore struct {
	client redis.Cmdable
	key    string
}

func NewRedisStore(client redis.Cmdable, keys kv.Keyspace) *RedisStore {
	return &RedisStore{client: client, key: keys.Heartbeat()}
}

func (r *RedisStore) Write(ctx context.Context, rec models.HeartbeatRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}
	if err := r.client.Set(ctx, r.key, data, ttl).Err(); err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}
	return nil
}

func (r *RedisStore) Read(ctx context.Context) (*models.HeartbeatRecord, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read heartbeat: %w", err)
	}
	var rec models.HeartbeatRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode heartbeat: %w", err)
	}
	return &rec, nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)
