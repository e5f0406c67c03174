package kv

import "fmt"

const keyPrefix = "renderq"

// Keyspace builds keys namespaced by instance id, so several logical
// deployments can share one physical Redis without colliding.
type Keyspace struct {
	instanceID string
}

// NewKeyspace returns the keyspace for an instance.
func NewKeyspace(instanceID string) Keyspace {
	return Keyspace{instanceID: instanceID}
}

// InstanceID returns the namespace this keyspace was built for.
func (k Keyspace) InstanceID() string { return k.instanceID }

func (k Keyspace) key(parts ...string) string {
	s := keyPrefix + ":" + k.instanceID
	for _, p := range parts {
		s += ":" + p
	}
	return s
}

// Job returns the key holding a job record: renderq:{instance}:job:{id}
func (k Keyspace) Job(jobID string) string { return k.key("job", jobID) }

// JobInput returns the key holding a job's input payload.
func (k Keyspace) JobInput(jobID string) string { return k.key("job_input", jobID) }

// StatusIndex returns the Set of job ids currently in the given status.
func (k Keyspace) StatusIndex(status string) string { return k.key("jobs", "status", status) }

// Queue returns the List used as the job queue.
func (k Keyspace) Queue() string { return k.key("queue") }

// Lease returns the lease key for a job.
func (k Keyspace) Lease(jobID string) string { return k.key("lease", jobID) }

// Events returns the capped List of lifecycle events for a job.
func (k Keyspace) Events(jobID string) string { return k.key("events", jobID) }

// Heartbeat returns the singleton heartbeat key.
func (k Keyspace) Heartbeat() string { return k.key("heartbeat") }

// RecoveryLock returns the key guarding the recovery pass.
func (k Keyspace) RecoveryLock() string { return k.key("recovery_lock") }

// RateLimit returns the request counter for an API caller.
func (k Keyspace) RateLimit(subject string) string { return k.key("ratelimit", subject) }

func (k Keyspace) String() string {
	return fmt.Sprintf("%s:%s", keyPrefix, k.instanceID)
}
