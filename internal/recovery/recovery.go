// Package recovery reclaims jobs whose worker died: running records with
// no live lease are requeued a bounded number of times, then failed.
// Queued records whose id dropped off the queue are put back on it.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/renderq/internal/events"
	"github.com/kiranshivaraju/renderq/internal/lease"
	"github.com/kiranshivaraju/renderq/internal/queue"
	"github.com/kiranshivaraju/renderq/internal/store"
	"github.com/kiranshivaraju/renderq/pkg/models"
)

// Result counts what one pass did.
type Result struct {
	LockAcquired bool `json:"lock_acquired"`
	Scanned      int  `json:"scanned"`
	Requeued     int  `json:"requeued"`
	Failed       int  `json:"failed"`
	Skipped      int  `json:"skipped"`
	Redelivered  int  `json:"redelivered"`
}

// Deps are the pass's collaborators.
type Deps struct {
	Store  *store.Store
	Queue  queue.Queue
	Leases *lease.Manager
	Lock   *lease.Lock
	Events *events.Recorder
	Logger *slog.Logger
}

// Pass is one mutually exclusive recovery scan.
type Pass struct {
	store      *store.Store
	queue      queue.Queue
	leases     *lease.Manager
	lock       *lease.Lock
	events     *events.Recorder
	logger     *slog.Logger
	maxRetries int

	mu sync.Mutex
	// suspects are queued ids that looked orphaned on the previous pass.
	suspects map[string]bool
}

// NewPass creates a Pass allowing maxRetries automatic requeues per job.
func NewPass(d Deps, maxRetries int) *Pass {
	return &Pass{
		store:      d.Store,
		queue:      d.Queue,
		leases:     d.Leases,
		lock:       d.Lock,
		events:     d.Events,
		logger:     d.Logger.With("component", "recovery"),
		maxRetries: maxRetries,
		suspects:   make(map[string]bool),
	}
}

// Run scans the running index once, then sweeps the queued index for
// orphans. If another pass holds the lock it returns immediately with
// LockAcquired=false and zero counts. A single job's error is logged and
// counted as skipped; it never aborts the pass.
func (p *Pass) Run(ctx context.Context) (Result, error) {
	var res Result

	ok, err := p.lock.TryLock(ctx)
	if err != nil {
		return res, err
	}
	if !ok {
		return res, nil
	}
	res.LockAcquired = true
	defer func() {
		if err := p.lock.Unlock(context.WithoutCancel(ctx)); err != nil {
			p.logger.Warn("recovery unlock failed", "error", err)
		}
	}()

	ids, err := p.store.ListJobIDsByStatus(ctx, models.JobStatusRunning)
	if err != nil {
		return res, fmt.Errorf("list running jobs: %w", err)
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		res.Scanned++
		switch action, err := p.recoverJob(ctx, id); {
		case err != nil:
			p.logger.Warn("recovery of job failed", "job_id", id, "error", err)
			res.Skipped++
		case action == actionRequeued:
			res.Requeued++
		case action == actionFailed:
			res.Failed++
		default:
			res.Skipped++
		}
	}

	res.Redelivered = p.sweepQueued(ctx)

	if res.Requeued > 0 || res.Failed > 0 || res.Redelivered > 0 {
		p.logger.Info("recovery pass reclaimed jobs",
			"scanned", res.Scanned,
			"requeued", res.Requeued,
			"failed", res.Failed,
			"skipped", res.Skipped,
			"redelivered", res.Redelivered,
		)
	}
	return res, nil
}

type action int

const (
	actionSkipped action = iota
	actionRequeued
	actionFailed
)

func (p *Pass) recoverJob(ctx context.Context, id string) (action, error) {
	info, err := p.leases.Inspect(ctx, id)
	if err != nil {
		return actionSkipped, err
	}
	if info.Held {
		return actionSkipped, nil
	}

	rec, err := p.store.GetJob(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return actionSkipped, err
	}
	if rec == nil || rec.Status != models.JobStatusRunning {
		// A worker finished between the index read and now.
		return actionSkipped, p.store.UnindexStatus(ctx, models.JobStatusRunning, id)
	}

	if rec.RetryCount < p.maxRetries {
		return actionRequeued, p.requeue(ctx, rec)
	}

	msg := fmt.Sprintf("job exceeded max retries (%d) after its worker stopped renewing the lease", p.maxRetries)
	if _, err := p.store.SetFailed(ctx, id, models.JobError{
		Code:    models.ErrCodeStuckMaxRetries,
		Message: msg,
		Details: map[string]any{"retry_count": rec.RetryCount, "max_retries": p.maxRetries},
	}); err != nil {
		return actionSkipped, err
	}
	p.events.Emit(ctx, id, models.EventFailed, map[string]any{"code": models.ErrCodeStuckMaxRetries, "message": msg})
	p.logger.Warn("stuck job failed permanently", "job_id", id, "retry_count", rec.RetryCount)
	return actionFailed, nil
}

// requeue resets the record before enqueueing, so an id on the queue
// never points at a record still marked running. Once the reset is
// written the record is off the running index; any later failure leaves
// it to the queued sweep.
func (p *Pass) requeue(ctx context.Context, rec *models.JobRecord) error {
	if _, err := p.store.ResetForRetry(ctx, rec.ID); err != nil {
		return fmt.Errorf("reset for retry: %w", err)
	}
	retry := rec.RetryCount + 1
	if _, err := p.store.UpdateJob(ctx, rec.ID, store.JobPatch{
		RetryCount: &retry,
		Error: &models.JobError{
			Code:    models.ErrCodeLeaseExpiredRequeued,
			Message: "lease expired while running; job requeued",
			Details: map[string]any{"retry_count": retry},
		},
	}); err != nil {
		p.suspect(rec.ID)
		return fmt.Errorf("record retry: %w", err)
	}
	p.events.Emit(ctx, rec.ID, models.EventRequeued, map[string]any{"retry_count": retry})
	if err := p.queue.Enqueue(ctx, rec.ID); err != nil {
		p.suspect(rec.ID)
		return fmt.Errorf("enqueue: %w", err)
	}
	p.logger.Info("stuck job requeued", "job_id", rec.ID, "retry_count", retry)
	return nil
}

func (p *Pass) suspect(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.suspects[id] = true
}

// sweepQueued puts orphaned queued records back on the queue: records
// whose id is on no queue and whose lease nobody holds. An id is only
// redelivered once it looked orphaned on two consecutive passes, which
// leaves room for a worker that has popped it but not yet taken the
// lease. Redelivery never touches retry_count. Duplicate ids are
// harmless; workers skip terminal records and back off on held leases.
func (p *Pass) sweepQueued(ctx context.Context) int {
	ids, err := p.store.ListJobIDsByStatus(ctx, models.JobStatusQueued)
	if err != nil {
		p.logger.Warn("list queued jobs failed", "error", err)
		return 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	next := make(map[string]bool)
	redelivered := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		orphan, err := p.orphaned(ctx, id)
		if err != nil {
			p.logger.Warn("orphan check failed", "job_id", id, "error", err)
			if p.suspects[id] {
				next[id] = true
			}
			continue
		}
		if !orphan {
			continue
		}
		if !p.suspects[id] {
			next[id] = true
			continue
		}
		if err := p.queue.Enqueue(ctx, id); err != nil {
			p.logger.Warn("redelivery failed", "job_id", id, "error", err)
			next[id] = true
			continue
		}
		p.events.Emit(ctx, id, models.EventQueued, map[string]any{"trigger": "recovery_redelivery"})
		p.logger.Info("orphaned queued job redelivered", "job_id", id)
		redelivered++
	}
	p.suspects = next
	return redelivered
}

func (p *Pass) orphaned(ctx context.Context, id string) (bool, error) {
	rec, err := p.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return false, p.store.UnindexStatus(ctx, models.JobStatusQueued, id)
	}
	if err != nil {
		return false, err
	}
	if rec.Status != models.JobStatusQueued {
		return false, nil
	}
	info, err := p.leases.Inspect(ctx, id)
	if err != nil {
		return false, err
	}
	if info.Held {
		return false, nil
	}
	waiting, err := p.queue.Contains(ctx, id)
	if err != nil {
		return false, err
	}
	return !waiting, nil
}

// Runner runs a Pass on a fixed interval.
type Runner struct {
	pass     *Pass
	interval time.Duration
	logger   *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(pass *Pass, interval time.Duration) *Runner {
	return &Runner{pass: pass, interval: interval, logger: pass.logger}
}

// Run executes the pass every interval until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.pass.Run(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("recovery pass failed", "error", err)
			}
		}
	}
}
