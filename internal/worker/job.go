package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/kiranshivaraju/renderq/internal/lease"
	"github.com/kiranshivaraju/renderq/internal/pipeline"
	"github.com/kiranshivaraju/renderq/internal/store"
	"github.com/kiranshivaraju/renderq/pkg/models"
)

// Outcome summarizes what processing did with a job.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	// OutcomeContended means another worker holds the lease; the id was
	// put back on the queue.
	OutcomeContended Outcome = "contended"
	// OutcomeAbandoned means the lease was lost or the worker is shutting
	// down; nothing further was written.
	OutcomeAbandoned Outcome = "abandoned"
	// OutcomeSkipped means the record was gone or already terminal.
	OutcomeSkipped Outcome = "skipped"
)

// Stages every section is driven through before artifacts are
// materialized.
var stages = []struct {
	phase   string
	percent int
}{
	{"synthesizing_audio", 25},
	{"compositing_video", 50},
	{"aligning_captions", 75},
	{"finalizing", 90},
}

// run is the state of one job attempt.
type run struct {
	jobID   string
	token   string
	lost    atomic.Bool
	logger  *slog.Logger
	workDir string
}

// abandoned reports whether the job must be dropped without further
// writes. It is checked before every state transition.
func (r *run) abandoned(ctx context.Context) bool {
	return r.lost.Load() || ctx.Err() != nil
}

func (w *Worker) processJob(ctx context.Context, jobID string) Outcome {
	r := &run{jobID: jobID, logger: w.logger.With("job_id", jobID)}

	if w.leases != nil {
		r.token = w.cfg.Token
		ok, err := w.leases.Acquire(ctx, jobID, r.token)
		if err != nil {
			r.logger.Warn("lease acquire failed", "error", err)
		}
		if !ok {
			w.requeue(ctx, r)
			return OutcomeContended
		}
		renewal := w.leases.StartRenewal(ctx, r.logger, jobID, r.token, w.cfg.RenewInterval, func() {
			r.lost.Store(true)
			r.logger.Warn("lease lost, abandoning job")
			w.events.Emit(context.WithoutCancel(ctx), jobID, models.EventLeaseRenewFailed, map[string]any{"owner": r.token})
		})
		defer w.releaseLease(ctx, r, renewal)
		w.events.Emit(ctx, jobID, models.EventLeaseAcquired, map[string]any{"owner": r.token})
	}

	rec, err := w.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		r.logger.Error("job record missing, dropping")
		return OutcomeSkipped
	}
	if err != nil {
		// Transient store failure: the job is still queued in its record,
		// so put it back rather than lose it.
		r.logger.Warn("load job failed", "error", err)
		w.requeue(ctx, r)
		return OutcomeAbandoned
	}
	if rec.Status.Terminal() {
		r.logger.Info("job already terminal, skipping", "status", string(rec.Status))
		return OutcomeSkipped
	}

	input, err := w.store.GetJobInput(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return w.fail(ctx, r, models.ErrCodeMissingInput, "job input is missing", nil)
	}
	if err != nil {
		r.logger.Warn("load job input failed", "error", err)
		w.requeue(ctx, r)
		return OutcomeAbandoned
	}

	sections := input.InScopeSections()
	if len(sections) == 0 {
		if len(input.TargetSectionIDs) > 0 {
			return w.fail(ctx, r, models.ErrCodeInvalidTargetScope, "invalid target scope: no section matches target_section_ids",
				map[string]any{"target_section_ids": input.TargetSectionIDs})
		}
		return w.fail(ctx, r, models.ErrCodeMissingInput, "job input has no sections", nil)
	}

	r.workDir = filepath.Join(w.cfg.WorkDir, jobID)
	if err := os.MkdirAll(r.workDir, 0o755); err != nil {
		r.logger.Warn("create scratch dir failed", "error", err)
		r.workDir = ""
	}
	defer w.cleanup(r)

	// Mark running before any pipeline work so a crash from here on
	// leaves a running record without a lease, which recovery reclaims.
	if r.abandoned(ctx) {
		return OutcomeAbandoned
	}
	if _, err := w.store.SetRunning(ctx, jobID); err != nil {
		// The record is still queued and its id is off the queue.
		r.logger.Warn("set running failed", "error", err)
		w.requeue(ctx, r)
		return OutcomeAbandoned
	}
	w.events.Emit(ctx, jobID, models.EventRunning, map[string]any{"sections": len(sections)})

	err = w.callPipeline(ctx, func(callCtx context.Context) error {
		return w.pipeline.GenerateClips(callCtx, pipeline.ClipRequest{
			JobID:    jobID,
			Manifest: input.Manifest,
			Settings: input.Settings,
			WorkDir:  r.workDir,
		})
	})
	if out, stop := w.pipelineFailed(ctx, r, "generate clips", err); stop {
		return out
	}

	for i, sec := range sections {
		for k, st := range stages {
			if r.abandoned(ctx) {
				return OutcomeAbandoned
			}
			if _, err := w.store.UpdateSectionProgress(ctx, jobID, sec.ID, store.SectionPatch{
				Status:  store.Ptr(models.JobStatusRunning),
				Phase:   store.Ptr(st.phase),
				Percent: store.Ptr(st.percent),
			}); err != nil {
				r.logger.Warn("section progress update failed", "section_id", sec.ID, "error", err)
			}
			done := i*len(stages) + k + 1
			if _, err := w.store.UpdateJob(ctx, jobID, store.JobPatch{
				Progress: &models.Progress{Phase: st.phase, Percent: done * 90 / (len(sections) * len(stages))},
			}); err != nil {
				r.logger.Warn("job progress update failed", "error", err)
			}
		}
	}

	var artifacts models.Artifacts
	err = w.callPipeline(ctx, func(callCtx context.Context) error {
		var err error
		artifacts, err = w.pipeline.MaterializeArtifacts(callCtx, pipeline.MaterializeRequest{
			JobID:            jobID,
			Manifest:         input.Manifest,
			Settings:         input.Settings,
			SectionImages:    input.SectionImages,
			TargetSectionIDs: input.TargetSectionIDs,
			WorkDir:          r.workDir,
		})
		return err
	})
	if err != nil && !r.abandoned(ctx) {
		jobErr := describe("materialize artifacts", err, models.ErrCodeArtifactsFailed)
		for _, sec := range sections {
			if _, uerr := w.store.UpdateSectionProgress(ctx, jobID, sec.ID, store.SectionPatch{
				Status: store.Ptr(models.JobStatusFailed),
				Phase:  store.Ptr(string(models.JobStatusFailed)),
				Error:  &jobErr,
			}); uerr != nil {
				r.logger.Warn("section failure update failed", "section_id", sec.ID, "error", uerr)
			}
		}
	}
	if out, stop := w.pipelineFailed(ctx, r, "materialize artifacts", err); stop {
		return out
	}

	if r.abandoned(ctx) {
		return OutcomeAbandoned
	}
	if _, err := w.store.SetSucceeded(ctx, jobID, artifacts); err != nil {
		r.logger.Warn("set succeeded failed", "error", err)
		return OutcomeAbandoned
	}
	w.events.Emit(ctx, jobID, models.EventArtifactsWritten, map[string]any{
		"primary_artifact_locator": artifacts.PrimaryLocator,
	})
	w.events.Emit(ctx, jobID, models.EventSucceeded, nil)
	return OutcomeSucceeded
}

// callPipeline runs fn under the job timeout. The call is not pre-empted:
// on timeout fn keeps running in the background and its result is
// discarded.
func (w *Worker) callPipeline(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(callCtx) }()

	select {
	case err := <-done:
		if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return ErrPipelineTimeout
		}
		return err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrPipelineTimeout
	}
}

// pipelineFailed turns a pipeline error into the job's terminal failure.
// stop is true when processing must end.
func (w *Worker) pipelineFailed(ctx context.Context, r *run, step string, err error) (Outcome, bool) {
	if err == nil {
		if r.abandoned(ctx) {
			return OutcomeAbandoned, true
		}
		return "", false
	}
	if r.abandoned(ctx) {
		r.logger.Info("pipeline result discarded", "step", step, "error", err)
		return OutcomeAbandoned, true
	}
	code := models.ErrCodePipelineFailed
	if step == "materialize artifacts" {
		code = models.ErrCodeArtifactsFailed
	}
	jobErr := describe(step, err, code)
	return w.fail(ctx, r, jobErr.Code, jobErr.Message, jobErr.Details), true
}

// describe builds the job error for a failed pipeline step.
func describe(step string, err error, code string) models.JobError {
	if errors.Is(err, ErrPipelineTimeout) {
		return models.JobError{
			Code:    models.ErrCodePipelineTimeout,
			Message: step + " timed out",
			Details: map[string]any{"step": step},
		}
	}
	return models.JobError{
		Code:    code,
		Message: step + " failed: " + err.Error(),
		Details: map[string]any{"step": step},
	}
}

func (w *Worker) fail(ctx context.Context, r *run, code, message string, details map[string]any) Outcome {
	if r.abandoned(ctx) {
		return OutcomeAbandoned
	}
	if _, err := w.store.SetFailed(ctx, r.jobID, models.JobError{Code: code, Message: message, Details: details}); err != nil {
		r.logger.Warn("set failed failed", "error", err)
		return OutcomeAbandoned
	}
	w.events.Emit(ctx, r.jobID, models.EventFailed, map[string]any{"code": code, "message": message})
	r.logger.Warn("job failed", "code", code, "message", message)
	return OutcomeFailed
}

// requeue puts the id back and backs off so contention never spins.
func (w *Worker) requeue(ctx context.Context, r *run) {
	if err := w.queue.Enqueue(context.WithoutCancel(ctx), r.jobID); err != nil {
		r.logger.Error("requeue failed", "error", err)
	}
	sleep(ctx, w.cfg.AcquireBackoff)
}

func (w *Worker) releaseLease(ctx context.Context, r *run, renewal *lease.Renewal) {
	renewal.Stop()
	if r.lost.Load() {
		return
	}
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := w.leases.Release(relCtx, r.jobID, r.token); err != nil {
		r.logger.Warn("lease release failed", "error", err)
	}
}

func (w *Worker) cleanup(r *run) {
	if r.workDir == "" {
		return
	}
	if err := os.RemoveAll(r.workDir); err != nil {
		r.logger.Warn("remove scratch dir failed", "error", err)
	}
}
