// Package store is the durable record of render jobs: their state,
// progress and input payload. Every operation is implemented once on Store
// and runs identically over any Backend.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/renderq/pkg/models"
)

var (
	ErrNotFound     = errors.New("job not found")
	ErrInvalidInput = errors.New("invalid job input")
)

// MutateFunc edits a job record in place during a read-modify-write.
type MutateFunc func(rec *models.JobRecord) error

// Backend is the storage capability a Store runs over. Implementations
// serialize each Mutate/MutateInput as one read-modify-write per key and
// keep the status index in step with every status write. There is no
// optimistic concurrency: concurrent writers are last-writer-wins.
type Backend interface {
	Insert(ctx context.Context, rec *models.JobRecord, input *models.JobInput) error
	Get(ctx context.Context, id string) (*models.JobRecord, error)
	GetInput(ctx context.Context, id string) (*models.JobInput, error)
	Mutate(ctx context.Context, id string, fn MutateFunc) (*models.JobRecord, error)
	MutateInput(ctx context.Context, id string, fn func(in *models.JobInput) error) (*models.JobInput, error)
	ListIDsByStatus(ctx context.Context, status models.JobStatus) ([]string, error)
	Unindex(ctx context.Context, status models.JobStatus, id string) error
	Ping(ctx context.Context) error
	Name() string
}

// JobPatch is a partial update merged into a job record. Nil fields are
// left untouched.
type JobPatch struct {
	Status         *models.JobStatus
	Progress       *models.Progress
	RetryCount     *int
	Artifacts      *models.Artifacts
	Error          *models.JobError
	ClearError     bool
	ClearArtifacts bool
}

// SectionPatch is a partial update merged into one section entry.
type SectionPatch struct {
	Status     *models.JobStatus
	Phase      *string
	Percent    *int
	Error      *models.JobError
	ClearError bool
}

// Store exposes the job store operations.
type Store struct {
	backend Backend
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store over the given backend.
func New(b Backend, opts ...Option) *Store {
	s := &Store{backend: b, now: func() time.Time { return time.Now().UTC() }}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Backend returns the backend name, e.g. "memory" or "redis".
func (s *Store) Backend() string { return s.backend.Name() }

// Ping checks backend connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// CreateJob validates the input, builds the job record with one section
// entry per in-scope section and persists record and input together.
// Callers never observe a partially created job.
func (s *Store) CreateJob(ctx context.Context, input models.JobInput) (*models.JobRecord, error) {
	in, err := normalizeInput(&input)
	if err != nil {
		return nil, err
	}

	now := s.now()
	rec := &models.JobRecord{
		ID:        uuid.NewString(),
		Status:    models.JobStatusQueued,
		Progress:  models.Progress{Phase: string(models.JobStatusQueued), Percent: 0},
		CreatedAt: now,
		UpdatedAt: now,
	}
	sections := in.InScopeSections()
	rec.SectionsProgress = make([]models.SectionProgress, 0, len(sections))
	for _, sec := range sections {
		rec.SectionsProgress = append(rec.SectionsProgress, queuedSection(sec.ID, sec.Title))
	}

	if err := s.backend.Insert(ctx, rec, in); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return rec.Clone(), nil
}

// GetJob returns the job record, or ErrNotFound.
func (s *Store) GetJob(ctx context.Context, id string) (*models.JobRecord, error) {
	return s.backend.Get(ctx, id)
}

// GetJobInput returns the job input, or ErrNotFound.
func (s *Store) GetJobInput(ctx context.Context, id string) (*models.JobInput, error) {
	return s.backend.GetInput(ctx, id)
}

// PatchJobInput lets the producer side amend an input after creation, e.g.
// to attach uploaded section images. Workers never call it.
func (s *Store) PatchJobInput(ctx context.Context, id string, fn func(in *models.JobInput)) (*models.JobInput, error) {
	return s.backend.MutateInput(ctx, id, func(in *models.JobInput) error {
		fn(in)
		return nil
	})
}

// UpdateJob merges patch into the record and refreshes updated_at.
// Returns ErrNotFound for unknown jobs.
func (s *Store) UpdateJob(ctx context.Context, id string, patch JobPatch) (*models.JobRecord, error) {
	return s.update(ctx, id, func(rec *models.JobRecord) {
		patch.apply(rec)
	})
}

// UpdateSectionProgress merges patch into the section with the given id.
// An unknown section leaves the record unchanged.
func (s *Store) UpdateSectionProgress(ctx context.Context, id, sectionID string, patch SectionPatch) (*models.JobRecord, error) {
	return s.update(ctx, id, func(rec *models.JobRecord) {
		if sec := rec.Section(sectionID); sec != nil {
			patch.apply(sec)
		}
	})
}

// SetRunning marks the job running.
func (s *Store) SetRunning(ctx context.Context, id string) (*models.JobRecord, error) {
	return s.update(ctx, id, func(rec *models.JobRecord) {
		rec.Status = models.JobStatusRunning
		rec.Progress = models.Progress{Phase: string(models.JobStatusRunning), Percent: rec.Progress.Percent}
	})
}

// SetSucceeded marks the job succeeded with its artifacts. Every section is
// finalized as succeeded and any previous error is cleared.
func (s *Store) SetSucceeded(ctx context.Context, id string, artifacts models.Artifacts) (*models.JobRecord, error) {
	return s.update(ctx, id, func(rec *models.JobRecord) {
		rec.Status = models.JobStatusSucceeded
		rec.Progress = models.Progress{Phase: "done", Percent: 100}
		a := artifacts
		rec.Artifacts = &a
		rec.Error = nil
		for i := range rec.SectionsProgress {
			sec := &rec.SectionsProgress[i]
			sec.Status = models.JobStatusSucceeded
			sec.Phase = "done"
			sec.Percent = 100
			sec.Error = nil
		}
	})
}

// SetFailed marks the job failed. Artifacts are cleared so a failed job
// never carries both.
func (s *Store) SetFailed(ctx context.Context, id string, jobErr models.JobError) (*models.JobRecord, error) {
	return s.update(ctx, id, func(rec *models.JobRecord) {
		rec.Status = models.JobStatusFailed
		rec.Progress = models.Progress{Phase: string(models.JobStatusFailed), Percent: rec.Progress.Percent}
		e := jobErr
		rec.Error = &e
		rec.Artifacts = nil
	})
}

// ResetForRetry puts the job back to queued with cleared error and
// artifacts and every section back at 0%. It never touches retry_count;
// the caller increments it separately.
func (s *Store) ResetForRetry(ctx context.Context, id string) (*models.JobRecord, error) {
	return s.update(ctx, id, func(rec *models.JobRecord) {
		rec.Status = models.JobStatusQueued
		rec.Progress = models.Progress{Phase: string(models.JobStatusQueued), Percent: 0}
		rec.Error = nil
		rec.Artifacts = nil
		for i := range rec.SectionsProgress {
			sec := &rec.SectionsProgress[i]
			*sec = queuedSection(sec.SectionID, sec.Title)
		}
	})
}

// ListJobIDsByStatus returns the ids currently indexed under status.
func (s *Store) ListJobIDsByStatus(ctx context.Context, status models.JobStatus) ([]string, error) {
	return s.backend.ListIDsByStatus(ctx, status)
}

// UnindexStatus drops a stale id from a status index without touching the
// record.
func (s *Store) UnindexStatus(ctx context.Context, status models.JobStatus, id string) error {
	return s.backend.Unindex(ctx, status, id)
}

func (s *Store) update(ctx context.Context, id string, fn func(rec *models.JobRecord)) (*models.JobRecord, error) {
	return s.backend.Mutate(ctx, id, func(rec *models.JobRecord) error {
		fn(rec)
		rec.UpdatedAt = s.now()
		return nil
	})
}

func (p JobPatch) apply(rec *models.JobRecord) {
	if p.Status != nil {
		rec.Status = *p.Status
	}
	if p.Progress != nil {
		rec.Progress = models.Progress{Phase: p.Progress.Phase, Percent: clampPercent(p.Progress.Percent)}
	}
	// retry_count is monotonically non-decreasing.
	if p.RetryCount != nil && *p.RetryCount > rec.RetryCount {
		rec.RetryCount = *p.RetryCount
	}
	if p.ClearArtifacts {
		rec.Artifacts = nil
	}
	if p.Artifacts != nil {
		a := *p.Artifacts
		rec.Artifacts = &a
	}
	if p.ClearError {
		rec.Error = nil
	}
	if p.Error != nil {
		e := *p.Error
		rec.Error = &e
	}
}

func (p SectionPatch) apply(sec *models.SectionProgress) {
	if p.Status != nil {
		sec.Status = *p.Status
	}
	if p.Phase != nil {
		sec.Phase = *p.Phase
	}
	if p.Percent != nil {
		sec.Percent = clampPercent(*p.Percent)
	}
	if p.ClearError {
		sec.Error = nil
	}
	if p.Error != nil {
		e := *p.Error
		sec.Error = &e
	}
}

func queuedSection(id, title string) models.SectionProgress {
	return models.SectionProgress{
		SectionID: id,
		Title:     title,
		Status:    models.JobStatusQueued,
		Phase:     string(models.JobStatusQueued),
		Percent:   0,
	}
}

// normalizeInput rejects inputs that can never render and fills in missing
// section ids so that worker and record agree on them.
func normalizeInput(input *models.JobInput) (*models.JobInput, error) {
	if input.Manifest == nil {
		return nil, fmt.Errorf("%w: manifest is required", ErrInvalidInput)
	}
	if len(input.Manifest.Sections) == 0 {
		return nil, fmt.Errorf("%w: manifest has no sections", ErrInvalidInput)
	}

	in := input.Clone()
	seen := make(map[string]bool, len(in.Manifest.Sections))
	for i := range in.Manifest.Sections {
		sec := &in.Manifest.Sections[i]
		if sec.ID == "" {
			sec.ID = fmt.Sprintf("section-%d", i+1)
		}
		if seen[sec.ID] {
			return nil, fmt.Errorf("%w: duplicate section id %q", ErrInvalidInput, sec.ID)
		}
		seen[sec.ID] = true
	}
	return in, nil
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Ptr returns a pointer to v. It keeps patch literals short.
func Ptr[T any](v T) *T { return &v }
