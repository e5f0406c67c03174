package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/renderq/internal/config"
	"github.com/kiranshivaraju/renderq/pkg/models"
)

func testManifest() *models.Manifest {
	return &models.Manifest{
		Title:    "demo",
		Sections: []models.Section{{ID: "intro", Title: "Intro", Script: "Hello world."}},
	}
}

func TestGenerateClips_PostsRequest(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/clips", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req ClipRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "job-1", req.JobID)
		assert.Equal(t, "Hello world.", req.Manifest.Sections[0].Script)
		assert.Equal(t, "alloy", req.Settings["voice"])
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	c := NewHTTPClient(ts.URL+"/", 5*time.Second)
	err := c.GenerateClips(context.Background(), ClipRequest{
		JobID:    "job-1",
		Manifest: testManifest(),
		Settings: map[string]any{"voice": "alloy"},
	})
	require.NoError(t, err)
}

func TestMaterializeArtifacts_DecodesLocators(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/artifacts", r.URL.Path)

		var req MaterializeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"intro"}, req.TargetSectionIDs)
		assert.Equal(t, "uploads/intro.png", req.SectionImages["intro"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"primary_artifact_locator": "s3://renders/job-1/final.mp4",
			"locators":                 map[string]string{"captions": "s3://renders/job-1/final.srt"},
		})
	}))
	defer ts.Close()

	c := NewHTTPClient(ts.URL, 5*time.Second)
	arts, err := c.MaterializeArtifacts(context.Background(), MaterializeRequest{
		JobID:            "job-1",
		Manifest:         testManifest(),
		SectionImages:    map[string]string{"intro": "uploads/intro.png"},
		TargetSectionIDs: []string{"intro"},
	})
	require.NoError(t, err)
	assert.Equal(t, "s3://renders/job-1/final.mp4", arts.PrimaryLocator)
	assert.Equal(t, "s3://renders/job-1/final.srt", arts.Locators["captions"])
}

func TestMaterializeArtifacts_MissingPrimaryLocator(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"locators":{}}`))
	}))
	defer ts.Close()

	_, err := NewHTTPClient(ts.URL, time.Second).MaterializeArtifacts(context.Background(), MaterializeRequest{JobID: "j"})
	assert.ErrorIs(t, err, ErrRendererRejected)
}

func TestPost_StatusClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
		wantMsg string
	}{
		{"server error", http.StatusBadGateway, "", ErrRendererUnavailable, "status 502"},
		{"rejected with message", http.StatusUnprocessableEntity, `{"message":"script too long"}`, ErrRendererRejected, "script too long"},
		{"rejected with error field", http.StatusBadRequest, `{"error":"bad voice"}`, ErrRendererRejected, "bad voice"},
		{"rejected plain body", http.StatusBadRequest, "nope", ErrRendererRejected, "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			err := NewHTTPClient(ts.URL, time.Second).GenerateClips(context.Background(), ClipRequest{JobID: "j"})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestPost_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := ts.URL
	ts.Close()

	err := NewHTTPClient(url, time.Second).GenerateClips(context.Background(), ClipRequest{JobID: "j"})
	assert.ErrorIs(t, err, ErrRendererUnavailable)
}

func TestPost_ContextDeadlinePassesThrough(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server notices the client disconnect and
		// cancels r.Context() on toolchains that only watch after EOF.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := NewHTTPClient(ts.URL, 10*time.Second).GenerateClips(ctx, ClipRequest{JobID: "j"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNew(t *testing.T) {
	p, err := New(config.RendererConfig{Provider: "http", BaseURL: "http://renderer:9000"}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "http", p.Name())

	_, err = New(config.RendererConfig{Provider: "http"}, time.Minute)
	assert.ErrorContains(t, err, "RENDERER_BASE_URL")

	_, err = New(config.RendererConfig{Provider: "ffmpeg", BaseURL: "http://x"}, time.Minute)
	assert.ErrorContains(t, err, "unknown render provider")
}
