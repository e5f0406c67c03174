// Package worker runs the job execution loop: dequeue, take the lease,
// drive the job through the rendering pipeline, record the outcome and
// release the lease.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/renderq/internal/events"
	"github.com/kiranshivaraju/renderq/internal/lease"
	"github.com/kiranshivaraju/renderq/internal/pipeline"
	"github.com/kiranshivaraju/renderq/internal/queue"
	"github.com/kiranshivaraju/renderq/internal/store"
)

// ErrPipelineTimeout is returned when a pipeline call outlives the job
// timeout.
var ErrPipelineTimeout = errors.New("pipeline call timed out")

// Config holds the worker's timing and filesystem settings.
type Config struct {
	// Token identifies this worker as a lease owner.
	Token string
	// JobTimeout bounds each pipeline call.
	JobTimeout time.Duration
	// DequeueTimeout bounds each blocking pop and so how quickly
	// shutdown is noticed.
	DequeueTimeout time.Duration
	// RenewInterval must be shorter than the lease TTL.
	RenewInterval time.Duration
	// AcquireBackoff is the pause after losing a lease race.
	AcquireBackoff time.Duration
	// WorkDir holds per-job scratch directories.
	WorkDir string
}

// Deps are the worker's collaborators. Leases is nil in solo mode, where
// no lease operations happen.
type Deps struct {
	Store    *store.Store
	Queue    queue.Queue
	Leases   *lease.Manager
	Events   *events.Recorder
	Pipeline pipeline.Pipeline
	Logger   *slog.Logger
}

// Worker processes one job at a time.
type Worker struct {
	store    *store.Store
	queue    queue.Queue
	leases   *lease.Manager
	events   *events.Recorder
	pipeline pipeline.Pipeline
	logger   *slog.Logger
	cfg      Config
}

// New creates a Worker.
func New(d Deps, cfg Config) *Worker {
	if cfg.AcquireBackoff <= 0 {
		cfg.AcquireBackoff = 500 * time.Millisecond
	}
	if cfg.DequeueTimeout <= 0 {
		cfg.DequeueTimeout = 5 * time.Second
	}
	return &Worker{
		store:    d.Store,
		queue:    d.Queue,
		leases:   d.Leases,
		events:   d.Events,
		pipeline: d.Pipeline,
		logger:   d.Logger.With("component", "worker"),
		cfg:      cfg,
	}
}

// Run processes jobs until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started",
		"leases", w.leases != nil,
		"dequeue_timeout", w.cfg.DequeueTimeout.String(),
		"job_timeout", w.cfg.JobTimeout.String(),
	)
	for {
		if ctx.Err() != nil {
			w.logger.Info("worker stopping")
			return nil
		}

		if _, err := w.ProcessNext(ctx); err != nil {
			if ctx.Err() != nil {
				w.logger.Info("worker stopping")
				return nil
			}
			w.logger.Warn("queue pop error, retrying", "error", err)
			sleep(ctx, time.Second)
		}
	}
}

// ProcessNext pops one job id and runs it. It reports false when the pop
// timed out with nothing to do.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	jobID, err := w.queue.Dequeue(ctx, w.cfg.DequeueTimeout)
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}
	if jobID == "" {
		return false, nil
	}

	start := time.Now()
	outcome := w.processJob(ctx, jobID)
	w.logger.Info("job processed",
		"job_id", jobID,
		"outcome", string(outcome),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return true, nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
