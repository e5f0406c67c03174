// Package models contains shared data models used across the renderq codebase.
package models

import "time"

// JobStatus is the lifecycle state of a render job. The same values are
// used for per-section progress.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no worker will touch a job in this state again
// without an explicit retry.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusSucceeded, JobStatusFailed:
		return true
	}
	return false
}

// Error reason codes recorded on JobError.Code.
const (
	ErrCodePipelineFailed       = "pipeline_failed"
	ErrCodePipelineTimeout      = "pipeline_timeout"
	ErrCodeInvalidTargetScope   = "invalid_target_scope"
	ErrCodeMissingInput         = "missing_input"
	ErrCodeArtifactsFailed      = "artifacts_failed"
	ErrCodeLeaseExpiredRequeued = "lease_expired_requeued"
	ErrCodeStuckMaxRetries      = "stuck_job_max_retries"
	ErrCodeEnqueueFailed        = "enqueue_failed"
)

// Progress is the coarse, job-level progress shown to pollers.
type Progress struct {
	Phase   string `json:"phase"`
	Percent int    `json:"percent"`
}

// JobError describes why a job or section failed. Code distinguishes
// "render failed" from "infrastructure lost the job".
type JobError struct {
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Artifacts holds the locators returned by artifact materialization.
type Artifacts struct {
	PrimaryLocator string            `json:"primary_artifact_locator"`
	Locators       map[string]string `json:"locators,omitempty"`
}

// SectionProgress tracks one renderable unit of a job. Entries are created
// with the job and only ever mutated in place.
type SectionProgress struct {
	SectionID string    `json:"section_id"`
	Title     string    `json:"title"`
	Status    JobStatus `json:"status"`
	Phase     string    `json:"phase"`
	Percent   int       `json:"percent"`
	Error     *JobError `json:"error,omitempty"`
}

// JobRecord is the authoritative state of a render job. Queue membership is
// not authoritative; Status is.
//
// Invariants: Status=succeeded implies Artifacts != nil and every section
// succeeded; Status=failed implies Error != nil; Artifacts and Error are
// never both set.
type JobRecord struct {
	ID               string            `json:"id"`
	Status           JobStatus         `json:"status"`
	Progress         Progress          `json:"progress"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	RetryCount       int               `json:"retry_count"`
	Artifacts        *Artifacts        `json:"artifacts,omitempty"`
	Error            *JobError         `json:"error,omitempty"`
	SectionsProgress []SectionProgress `json:"sections_progress"`
}

// Clone returns a deep copy so callers can never alias backend state.
func (r *JobRecord) Clone() *JobRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.Artifacts != nil {
		a := *r.Artifacts
		a.Locators = cloneStrings(r.Artifacts.Locators)
		out.Artifacts = &a
	}
	out.Error = r.Error.clone()
	out.SectionsProgress = make([]SectionProgress, len(r.SectionsProgress))
	for i, s := range r.SectionsProgress {
		s.Error = s.Error.clone()
		out.SectionsProgress[i] = s
	}
	return &out
}

// Section returns a pointer to the section entry with the given id.
func (r *JobRecord) Section(sectionID string) *SectionProgress {
	for i := range r.SectionsProgress {
		if r.SectionsProgress[i].SectionID == sectionID {
			return &r.SectionsProgress[i]
		}
	}
	return nil
}

func (e *JobError) clone() *JobError {
	if e == nil {
		return nil
	}
	out := *e
	if e.Details != nil {
		out.Details = make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			out.Details[k] = v
		}
	}
	return &out
}

func cloneStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
