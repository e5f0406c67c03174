// Package backend builds the process's storage components from the
// resolved backend selection. It is the only place that branches on
// backend type; everything else receives the interfaces it returns.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/renderq/internal/config"
	"github.com/kiranshivaraju/renderq/internal/events"
	"github.com/kiranshivaraju/renderq/internal/heartbeat"
	"github.com/kiranshivaraju/renderq/internal/kv"
	"github.com/kiranshivaraju/renderq/internal/lease"
	"github.com/kiranshivaraju/renderq/internal/queue"
	"github.com/kiranshivaraju/renderq/internal/store"
)

// Components is the set of backends shared by the worker, recovery and
// the HTTP surface.
type Components struct {
	Backends  config.Backends
	Keys      kv.Keyspace
	Store     *store.Store
	Queue     queue.Queue
	Events    *events.Recorder
	Heartbeat heartbeat.Store
	Counter   kv.Counter

	// Leases and Locks are nil in solo mode, where no lease operations
	// happen.
	Leases *lease.Manager
	Locks  lease.Primitives

	closers []func()
}

// Build connects to whatever the selection requires and assembles the
// components. On error anything already opened is closed.
func Build(ctx context.Context, cfg *config.Config, b config.Backends, logger *slog.Logger) (*Components, error) {
	c := &Components{Backends: b, Keys: kv.NewKeyspace(b.InstanceID)}

	if !b.Shared() {
		c.Store = store.New(store.NewMemoryBackend())
		c.Queue = queue.NewMemoryQueue()
		c.Events = events.NewRecorder(events.NewMemoryLog(), logger)
		c.Heartbeat = heartbeat.NewMemoryStore()
		c.Counter = kv.NewMemoryCounter()
		return c, nil
	}

	client, err := kv.Connect(ctx, cfg.Backend.SharedStoreURL)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, func() { client.Close() })

	switch cfg.Backend.RecordDriver {
	case config.DriverPostgres:
		if err := store.RunMigrations(cfg.Database.URL); err != nil {
			c.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		pool, err := store.Connect(ctx, cfg.Database, b.InstanceID)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.closers = append(c.closers, pool.Close)
		c.Store = store.New(store.NewPostgresBackend(pool, b.InstanceID))
	default:
		c.Store = store.New(store.NewRedisBackend(client, c.Keys))
	}

	c.Queue = queue.NewRedisQueue(client, c.Keys)
	c.Events = events.NewRecorder(events.NewRedisLog(client, c.Keys), logger)
	c.Heartbeat = heartbeat.NewRedisStore(client, c.Keys)
	c.Counter = kv.NewRedisCounter(client)
	prims := lease.NewRedisPrimitives(client)
	c.Locks = prims
	c.Leases = lease.NewManager(prims, c.Keys, cfg.Lease.TTL)
	return c, nil
}

// RecoveryLock returns the lock guarding recovery passes, or nil in solo
// mode.
func (c *Components) RecoveryLock(token string, ttl time.Duration) *lease.Lock {
	if c.Locks == nil {
		return nil
	}
	return lease.NewLock(c.Locks, c.Keys.RecoveryLock(), token, ttl)
}

// Ping checks the store and queue.
func (c *Components) Ping(ctx context.Context) error {
	if err := c.Store.Ping(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if _, err := c.Queue.Len(ctx); err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	return nil
}

// Close releases connections in reverse order of opening.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
