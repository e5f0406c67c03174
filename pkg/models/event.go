package models

// EventType names a job lifecycle transition.
type EventType string

const (
	EventAccepted         EventType = "accepted"
	EventQueued           EventType = "queued"
	EventLeaseAcquired    EventType = "lease_acquired"
	EventRunning          EventType = "running"
	EventLeaseRenewFailed EventType = "lease_renew_failed"
	EventRequeued         EventType = "requeued"
	EventArtifactsWritten EventType = "artifacts_written"
	EventSucceeded        EventType = "succeeded"
	EventFailed           EventType = "failed"
)

// JobEvent is one entry of a job's observability history. It never drives
// logic.
type JobEvent struct {
	TimestampMs int64          `json:"ts_ms"`
	Type        EventType      `json:"type"`
	Data        map[string]any `json:"data,omitempty"`
}
