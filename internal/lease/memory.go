package lease

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	token   string
	expires time.Time
}

// MemoryPrimitives implements Primitives in process memory. Solo mode
// never takes leases; this backs tests and single-process tooling.
type MemoryPrimitives struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

// MemoryOption configures MemoryPrimitives.
type MemoryOption func(*MemoryPrimitives)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryPrimitives) { m.now = now }
}

// NewMemoryPrimitives creates an empty in-memory key space.
func NewMemoryPrimitives(opts ...MemoryOption) *MemoryPrimitives {
	m := &MemoryPrimitives{entries: make(map[string]memEntry), now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// liveLocked returns the entry for key, dropping it when expired.
func (m *MemoryPrimitives) liveLocked(key string) (memEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memEntry{}, false
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, key)
		return memEntry{}, false
	}
	return e, true
}

func (m *MemoryPrimitives) SetNX(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.liveLocked(key); ok {
		return false, nil
	}
	m.entries[key] = memEntry{token: token, expires: m.now().Add(ttl)}
	return true, nil
}

func (m *MemoryPrimitives) CompareAndExpire(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.liveLocked(key)
	if !ok || e.token != token {
		return false, nil
	}
	e.expires = m.now().Add(ttl)
	m.entries[key] = e
	return true, nil
}

func (m *MemoryPrimitives) CompareAndDelete(_ context.Context, key, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.liveLocked(key)
	if !ok || e.token != token {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}

func (m *MemoryPrimitives) Inspect(_ context.Context, key string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.liveLocked(key)
	if !ok {
		return Info{}, nil
	}
	return Info{Held: true, Owner: e.token, TTLRemainingMs: e.expires.Sub(m.now()).Milliseconds()}, nil
}

var _ Primitives = (*MemoryPrimitives)(nil)
