// Package heartbeat publishes a liveness record answering "is some worker
// of this instance alive". It is separate from per-job leases.
package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/renderq/pkg/models"
)

// Store persists the singleton heartbeat record.
type Store interface {
	Write(ctx context.Context, rec models.HeartbeatRecord, ttl time.Duration) error
	// Read returns nil when no live record exists.
	Read(ctx context.Context) (*models.HeartbeatRecord, error)
}

// Identity is the static part of every beat.
type Identity struct {
	InstanceID   string
	Mode         string
	QueueBackend string
	StoreBackend string
	Provider     string
}

// Beater overwrites the heartbeat on a fixed interval.
type Beater struct {
	store    Store
	id       Identity
	interval time.Duration
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewBeater creates a Beater writing every interval with the given expiry.
func NewBeater(store Store, id Identity, interval, ttl time.Duration, logger *slog.Logger) *Beater {
	return &Beater{
		store:    store,
		id:       id,
		interval: interval,
		ttl:      ttl,
		logger:   logger.With("component", "heartbeat"),
		now:      time.Now,
	}
}

// Run beats until ctx is done. Write failures are logged and dropped.
func (b *Beater) Run(ctx context.Context) error {
	b.beat(ctx)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.beat(ctx)
		}
	}
}

func (b *Beater) beat(ctx context.Context) {
	nowMs := b.now().UnixMilli()
	rec := models.HeartbeatRecord{
		OK:           true,
		InstanceID:   b.id.InstanceID,
		Mode:         b.id.Mode,
		QueueBackend: b.id.QueueBackend,
		StoreBackend: b.id.StoreBackend,
		Provider:     b.id.Provider,
		LastBeatMs:   nowMs,
		NowMs:        nowMs,
	}
	if err := b.store.Write(ctx, rec, b.ttl); err != nil && ctx.Err() == nil {
		b.logger.Warn("heartbeat write dropped", "error", err)
	}
}

// StaleAfter is how old the last beat may be before the fleet reads as down.
func (b *Beater) StaleAfter() time.Duration { return 5 * b.interval }

// Snapshot reads the current heartbeat with ok and now_ms computed at read
// time. With no record at all it reports ok=false and this process's
// identity.
func (b *Beater) Snapshot(ctx context.Context) (models.HeartbeatRecord, error) {
	now := b.now()
	rec, err := b.store.Read(ctx)
	if err != nil {
		return models.HeartbeatRecord{}, err
	}
	if rec == nil {
		return models.HeartbeatRecord{
			InstanceID:   b.id.InstanceID,
			Mode:         b.id.Mode,
			QueueBackend: b.id.QueueBackend,
			StoreBackend: b.id.StoreBackend,
			Provider:     b.id.Provider,
			NowMs:        now.UnixMilli(),
		}, nil
	}
	out := *rec
	out.NowMs = now.UnixMilli()
	out.OK = out.NowMs-out.LastBeatMs <= b.StaleAfter().Milliseconds()
	return out, nil
}
