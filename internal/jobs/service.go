// Package jobs is the producer and operator side of the job lifecycle:
// submission, polling, manual retry and listings with lease liveness.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/renderq/internal/events"
	"github.com/kiranshivaraju/renderq/internal/lease"
	"github.com/kiranshivaraju/renderq/internal/queue"
	"github.com/kiranshivaraju/renderq/internal/store"
	"github.com/kiranshivaraju/renderq/pkg/models"
)

// ErrNotRetryable is returned when retry is requested for a job that is
// not failed.
var ErrNotRetryable = errors.New("only failed jobs can be retried")

// JobView is a job record with its lease state, for operators. Lease is
// nil when leases are not in use.
type JobView struct {
	*models.JobRecord
	Lease *lease.Info `json:"lease,omitempty"`
}

// Service wires store, queue and events together for producers.
type Service struct {
	store  *store.Store
	queue  queue.Queue
	leases *lease.Manager
	events *events.Recorder
	logger *slog.Logger
}

// NewService creates a Service. leases may be nil.
func NewService(st *store.Store, q queue.Queue, leases *lease.Manager, ev *events.Recorder, logger *slog.Logger) *Service {
	return &Service{
		store:  st,
		queue:  q,
		leases: leases,
		events: ev,
		logger: logger.With("component", "jobs"),
	}
}

// Submit creates the job and puts it on the queue. Invalid input is
// rejected with store.ErrInvalidInput and never reaches the queue.
func (s *Service) Submit(ctx context.Context, input models.JobInput) (*models.JobRecord, error) {
	rec, err := s.store.CreateJob(ctx, input)
	if err != nil {
		return nil, err
	}
	s.events.Emit(ctx, rec.ID, models.EventAccepted, map[string]any{"sections": len(rec.SectionsProgress)})

	if err := s.queue.Enqueue(ctx, rec.ID); err != nil {
		s.markEnqueueFailed(ctx, rec.ID, err)
		return nil, fmt.Errorf("enqueue job %s: %w", rec.ID, err)
	}
	s.events.Emit(ctx, rec.ID, models.EventQueued, nil)
	s.logger.Info("job submitted", "job_id", rec.ID, "sections", len(rec.SectionsProgress))
	return rec, nil
}

// Get returns the job record for polling.
func (s *Service) Get(ctx context.Context, id string) (*models.JobRecord, error) {
	return s.store.GetJob(ctx, id)
}

// Events returns the job's lifecycle history.
func (s *Service) Events(ctx context.Context, id string) ([]models.JobEvent, error) {
	if _, err := s.store.GetJob(ctx, id); err != nil {
		return nil, err
	}
	return s.events.Read(ctx, id)
}

// AttachSectionImages merges side assets into the job input. Workers pick
// them up at artifact materialization.
func (s *Service) AttachSectionImages(ctx context.Context, id string, images map[string]string) (*models.JobInput, error) {
	return s.store.PatchJobInput(ctx, id, func(in *models.JobInput) {
		if in.SectionImages == nil {
			in.SectionImages = make(map[string]string, len(images))
		}
		for k, v := range images {
			in.SectionImages[k] = v
		}
	})
}

// Retry puts a failed job back on the queue. Manual retries do not count
// against the automatic retry budget.
func (s *Service) Retry(ctx context.Context, id string) (*models.JobRecord, error) {
	rec, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.JobStatusFailed {
		return nil, fmt.Errorf("%w: job is %s", ErrNotRetryable, rec.Status)
	}

	rec, err = s.store.ResetForRetry(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reset job %s: %w", id, err)
	}
	if err := s.queue.Enqueue(ctx, id); err != nil {
		s.markEnqueueFailed(ctx, id, err)
		return nil, fmt.Errorf("enqueue job %s: %w", id, err)
	}
	s.events.Emit(ctx, id, models.EventQueued, map[string]any{"trigger": "manual_retry"})
	s.logger.Info("job retried", "job_id", id, "retry_count", rec.RetryCount)
	return rec, nil
}

// markEnqueueFailed fails a record whose id never reached the queue. If
// that write fails too, the recovery sweep of orphaned queued records
// picks the job up.
func (s *Service) markEnqueueFailed(ctx context.Context, id string, cause error) {
	ctx = context.WithoutCancel(ctx)
	jobErr := models.JobError{
		Code:    models.ErrCodeEnqueueFailed,
		Message: "job could not be queued: " + cause.Error(),
	}
	if _, err := s.store.SetFailed(ctx, id, jobErr); err != nil {
		s.logger.Error("mark enqueue failure failed", "job_id", id, "error", err)
		return
	}
	s.events.Emit(ctx, id, models.EventFailed, map[string]any{"code": jobErr.Code, "message": jobErr.Message})
}

// ListByStatus returns the jobs indexed under status with their lease
// state attached. Records that vanished since indexing are left out.
func (s *Service) ListByStatus(ctx context.Context, status models.JobStatus) ([]JobView, error) {
	ids, err := s.store.ListJobIDsByStatus(ctx, status)
	if err != nil {
		return nil, err
	}

	views := make([]JobView, 0, len(ids))
	for _, id := range ids {
		rec, err := s.store.GetJob(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		view := JobView{JobRecord: rec}
		if s.leases != nil {
			info, err := s.leases.Inspect(ctx, id)
			if err != nil {
				s.logger.Warn("lease inspect failed", "job_id", id, "error", err)
			} else {
				view.Lease = &info
			}
		}
		views = append(views, view)
	}
	return views, nil
}
