package mock

import (
	"context"
	"sync"

	"github.com/kiranshivaraju/renderq/internal/pipeline"
	"github.com/kiranshivaraju/renderq/pkg/models"
)

// Pipeline satisfies pipeline.Pipeline for testing and records its calls.
type Pipeline struct {
	GenerateClipsFunc        func(ctx context.Context, req pipeline.ClipRequest) error
	MaterializeArtifactsFunc func(ctx context.Context, req pipeline.MaterializeRequest) (models.Artifacts, error)

	mu               sync.Mutex
	clipCalls        []pipeline.ClipRequest
	materializeCalls []pipeline.MaterializeRequest
}

func (m *Pipeline) Name() string { return "mock" }

func (m *Pipeline) GenerateClips(ctx context.Context, req pipeline.ClipRequest) error {
	m.mu.Lock()
	m.clipCalls = append(m.clipCalls, req)
	m.mu.Unlock()
	if m.GenerateClipsFunc != nil {
		return m.GenerateClipsFunc(ctx, req)
	}
	return nil
}

func (m *Pipeline) MaterializeArtifacts(ctx context.Context, req pipeline.MaterializeRequest) (models.Artifacts, error) {
	m.mu.Lock()
	m.materializeCalls = append(m.materializeCalls, req)
	m.mu.Unlock()
	if m.MaterializeArtifactsFunc != nil {
		return m.MaterializeArtifactsFunc(ctx, req)
	}
	return models.Artifacts{PrimaryLocator: "mock://" + req.JobID + "/final.mp4"}, nil
}

// ClipCalls returns the GenerateClips requests seen so far.
func (m *Pipeline) ClipCalls() []pipeline.ClipRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]pipeline.ClipRequest(nil), m.clipCalls...)
}

// MaterializeCalls returns the MaterializeArtifacts requests seen so far.
func (m *Pipeline) MaterializeCalls() []pipeline.MaterializeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]pipeline.MaterializeRequest(nil), m.materializeCalls...)
}

// NewPipeline returns a Pipeline whose calls all succeed.
func NewPipeline() *Pipeline {
	return &Pipeline{}
}

// NewFailingPipeline returns a Pipeline whose clip step fails with err.
func NewFailingPipeline(err error) *Pipeline {
	return &Pipeline{
		GenerateClipsFunc: func(_ context.Context, _ pipeline.ClipRequest) error {
			return err
		},
	}
}

// NewBlockingPipeline returns a Pipeline whose clip step blocks until ctx
// is cancelled or release is closed.
func NewBlockingPipeline(release <-chan struct{}) *Pipeline {
	return &Pipeline{
		GenerateClipsFunc: func(ctx context.Context, _ pipeline.ClipRequest) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-release:
				return nil
			}
		},
	}
}

// Compile-time check that Pipeline implements pipeline.Pipeline.
var _ pipeline.Pipeline = (*Pipeline)(nil)
