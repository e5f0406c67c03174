// Package pipeline is the worker's contract with the external rendering
// pipeline. Its internals (audio synthesis, compositing, captions) live
// elsewhere.
package pipeline

import (
	"context"
	"errors"

	"github.com/kiranshivaraju/renderq/pkg/models"
)

var (
	ErrRendererUnavailable = errors.New("renderer unavailable")
	ErrRendererRejected    = errors.New("renderer rejected request")
)

// ClipRequest asks the pipeline to generate the clips for a job.
type ClipRequest struct {
	JobID    string           `json:"job_id"`
	Manifest *models.Manifest `json:"manifest"`
	Settings map[string]any   `json:"settings,omitempty"`
	WorkDir  string           `json:"work_dir,omitempty"`
}

// MaterializeRequest asks the pipeline to produce the final artifacts.
type MaterializeRequest struct {
	JobID            string            `json:"job_id"`
	Manifest         *models.Manifest  `json:"manifest"`
	Settings         map[string]any    `json:"settings,omitempty"`
	SectionImages    map[string]string `json:"section_images,omitempty"`
	TargetSectionIDs []string          `json:"target_section_ids,omitempty"`
	WorkDir          string            `json:"work_dir,omitempty"`
}

// Pipeline renders jobs. Calls fail as a whole; there is no partial
// success signal.
type Pipeline interface {
	Name() string
	GenerateClips(ctx context.Context, req ClipRequest) error
	MaterializeArtifacts(ctx context.Context, req MaterializeRequest) (models.Artifacts, error)
}
