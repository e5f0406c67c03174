package events

import (
	"context"
	"sync"

	"github.com/kiranshivaraju/renderq/pkg/models"
)

// MemoryLog keeps events in process memory.
type MemoryLog struct {
	mu   sync.RWMutex
	jobs map[string][]models.JobEvent
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{jobs: make(map[string][]models.JobEvent)}
}

func (m *MemoryLog) Append(_ context.Context, jobID string, ev models.JobEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	evs := append(m.jobs[jobID], ev)
	if over := len(evs) - MaxPerJob; over > 0 {
		evs = append([]models.JobEvent(nil), evs[over:]...)
	}
	m.jobs[jobID] = evs
	return nil
}

func (m *MemoryLog) Read(_ context.Context, jobID string) ([]models.JobEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.JobEvent, len(m.jobs[jobID]))
	copy(out, m.jobs[jobID])
	return out, nil
}

var _ Log = (*MemoryLog)(nil)
