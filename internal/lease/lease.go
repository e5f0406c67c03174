// Package lease grants a worker exclusive, time-bounded ownership of a job.
// A lease is a key holding the owner's token with a TTL; ownership is
// proven by comparing the token, never by the key's presence alone.
package lease

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/renderq/internal/kv"
)

// Info is the operator view of a lease.
type Info struct {
	Held           bool   `json:"held"`
	Owner          string `json:"owner,omitempty"`
	TTLRemainingMs int64  `json:"ttl_remaining_ms"`
}

// Primitives are the atomic key operations leases and locks are built on.
// Every compare happens inside the store, in one step.
type Primitives interface {
	// SetNX stores token under key with ttl if the key is absent.
	SetNX(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// CompareAndExpire refreshes the ttl only if key still holds token.
	CompareAndExpire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// CompareAndDelete deletes key only if it still holds token.
	CompareAndDelete(ctx context.Context, key, token string) (bool, error)
	// Inspect reads the current holder and remaining ttl.
	Inspect(ctx context.Context, key string) (Info, error)
}

// NewToken returns a worker-unique owner token: instance:host:pid:random.
func NewToken(instanceID string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%s:%d:%s", instanceID, host, os.Getpid(), uuid.NewString())
}

// Manager grants per-job leases under an instance's keyspace.
type Manager struct {
	prims Primitives
	keys  kv.Keyspace
	ttl   time.Duration
}

// NewManager creates a Manager issuing leases of the given ttl.
func NewManager(p Primitives, keys kv.Keyspace, ttl time.Duration) *Manager {
	return &Manager{prims: p, keys: keys, ttl: ttl}
}

// TTL returns the lease duration.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Acquire claims the job for token. It returns false when another valid
// lease exists.
func (m *Manager) Acquire(ctx context.Context, jobID, token string) (bool, error) {
	ok, err := m.prims.SetNX(ctx, m.keys.Lease(jobID), token, m.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", jobID, err)
	}
	return ok, nil
}

// Renew extends the lease if token still owns it. False means the lease
// was lost.
func (m *Manager) Renew(ctx context.Context, jobID, token string) (bool, error) {
	ok, err := m.prims.CompareAndExpire(ctx, m.keys.Lease(jobID), token, m.ttl)
	if err != nil {
		return false, fmt.Errorf("renew lease %s: %w", jobID, err)
	}
	return ok, nil
}

// Release deletes the lease if token still owns it.
func (m *Manager) Release(ctx context.Context, jobID, token string) (bool, error) {
	ok, err := m.prims.CompareAndDelete(ctx, m.keys.Lease(jobID), token)
	if err != nil {
		return false, fmt.Errorf("release lease %s: %w", jobID, err)
	}
	return ok, nil
}

// Inspect reports who holds the job's lease and for how long.
func (m *Manager) Inspect(ctx context.Context, jobID string) (Info, error) {
	info, err := m.prims.Inspect(ctx, m.keys.Lease(jobID))
	if err != nil {
		return Info{}, fmt.Errorf("inspect lease %s: %w", jobID, err)
	}
	return info, nil
}

// Lock is a single auto-expiring mutex built on the same primitives.
type Lock struct {
	prims Primitives
	key   string
	token string
	ttl   time.Duration
}

// NewLock creates a lock on key owned by token.
func NewLock(p Primitives, key, token string, ttl time.Duration) *Lock {
	return &Lock{prims: p, key: key, token: token, ttl: ttl}
}

// TryLock takes the lock without waiting.
func (l *Lock) TryLock(ctx context.Context) (bool, error) {
	ok, err := l.prims.SetNX(ctx, l.key, l.token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("lock %s: %w", l.key, err)
	}
	return ok, nil
}

// Unlock releases the lock if this holder still owns it.
func (l *Lock) Unlock(ctx context.Context) error {
	if _, err := l.prims.CompareAndDelete(ctx, l.key, l.token); err != nil {
		return fmt.Errorf("unlock %s: %w", l.key, err)
	}
	return nil
}
