package store

import (
	"context"
	"sort"
	"sync"

	"github.com/kiranshivaraju/renderq/pkg/models"
)

// MemoryBackend keeps jobs in process memory. It backs solo mode, where the
// single process is the only writer.
type MemoryBackend struct {
	mu     sync.RWMutex
	jobs   map[string]*models.JobRecord
	inputs map[string]*models.JobInput
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		jobs:   make(map[string]*models.JobRecord),
		inputs: make(map[string]*models.JobInput),
	}
}

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) Ping(_ context.Context) error { return nil }

func (m *MemoryBackend) Insert(_ context.Context, rec *models.JobRecord, input *models.JobInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[rec.ID] = rec.Clone()
	m.inputs[rec.ID] = input.Clone()
	return nil
}

func (m *MemoryBackend) Get(_ context.Context, id string) (*models.JobRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *MemoryBackend) GetInput(_ context.Context, id string) (*models.JobInput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	in, ok := m.inputs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return in.Clone(), nil
}

func (m *MemoryBackend) Mutate(_ context.Context, id string, fn MutateFunc) (*models.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	m.jobs[id] = next
	return next.Clone(), nil
}

func (m *MemoryBackend) MutateInput(_ context.Context, id string, fn func(in *models.JobInput) error) (*models.JobInput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.inputs[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	m.inputs[id] = next
	return next.Clone(), nil
}

// ListIDsByStatus scans the records; oldest first.
func (m *MemoryBackend) ListIDsByStatus(_ context.Context, status models.JobStatus) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []*models.JobRecord
	for _, rec := range m.jobs {
		if rec.Status == status {
			matched = append(matched, rec)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	ids := make([]string, len(matched))
	for i, rec := range matched {
		ids[i] = rec.ID
	}
	return ids, nil
}

// Unindex is a no-op: the memory index is derived from the records.
func (m *MemoryBackend) Unindex(_ context.Context, _ models.JobStatus, _ string) error {
	return nil
}

var _ Backend = (*MemoryBackend)(nil)
