// Package events keeps a bounded, append-only lifecycle history per job.
// It is for observability only and never drives job logic.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/renderq/pkg/models"
)

// MaxPerJob is the cap on stored events per job; older entries are dropped.
const MaxPerJob = 200

// Log stores job events.
type Log interface {
	Append(ctx context.Context, jobID string, ev models.JobEvent) error
	// Read returns the job's events oldest first; unknown jobs yield none.
	Read(ctx context.Context, jobID string) ([]models.JobEvent, error)
}

// Recorder is the only way the rest of the system writes events. Append
// failures are logged and dropped so they can never fail the job.
type Recorder struct {
	log    Log
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder wraps a Log.
func NewRecorder(log Log, logger *slog.Logger) *Recorder {
	return &Recorder{log: log, logger: logger.With("component", "events"), now: time.Now}
}

// Emit appends an event stamped with the current time.
func (r *Recorder) Emit(ctx context.Context, jobID string, typ models.EventType, data map[string]any) {
	ev := models.JobEvent{TimestampMs: r.now().UnixMilli(), Type: typ, Data: data}
	if err := r.log.Append(ctx, jobID, ev); err != nil {
		r.logger.Warn("event append dropped", "job_id", jobID, "type", string(typ), "error", err)
	}
}

// Read returns the job's events.
func (r *Recorder) Read(ctx context.Context, jobID string) ([]models.JobEvent, error) {
	return r.log.Read(ctx, jobID)
}
