package lease

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Renewal keeps a lease alive in the background until stopped or lost.
type Renewal struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// StartRenewal renews the job's lease every interval. A false result means
// ownership is gone, so onLost is called once and renewal ends. Renewal
// errors are logged and retried on the next tick until the lease could
// have expired unseen, i.e. the last successful renewal is older than the
// TTL less one interval; that also counts as lost. interval must be
// shorter than the lease TTL.
func (m *Manager) StartRenewal(ctx context.Context, logger *slog.Logger, jobID, token string, interval time.Duration, onLost func()) *Renewal {
	ctx, cancel := context.WithCancel(ctx)
	r := &Renewal{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		lastOK := time.Now()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			ok, err := m.Renew(ctx, jobID, token)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if time.Since(lastOK) >= m.ttl-interval {
					logger.Error("lease renewal failing past ttl, giving up ownership", "job_id", jobID, "error", err)
					onLost()
					return
				}
				logger.Warn("lease renewal failed, will retry", "job_id", jobID, "error", err)
				continue
			}
			if !ok {
				onLost()
				return
			}
			lastOK = time.Now()
		}
	}()
	return r
}

// Stop ends renewal and waits for the goroutine to exit. Safe to call
// more than once.
func (r *Renewal) Stop() {
	r.once.Do(r.cancel)
	<-r.done
}
