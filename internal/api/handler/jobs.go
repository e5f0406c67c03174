package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/renderq/internal/api/middleware"
	"github.com/kiranshivaraju/renderq/internal/api/response"
	"github.com/kiranshivaraju/renderq/internal/jobs"
	"github.com/kiranshivaraju/renderq/internal/store"
	"github.com/kiranshivaraju/renderq/pkg/models"
)

// JobService defines the job operations the handlers depend on.
type JobService interface {
	Submit(ctx context.Context, input models.JobInput) (*models.JobRecord, error)
	Get(ctx context.Context, id string) (*models.JobRecord, error)
	Events(ctx context.Context, id string) ([]models.JobEvent, error)
	AttachSectionImages(ctx context.Context, id string, images map[string]string) (*models.JobInput, error)
	Retry(ctx context.Context, id string) (*models.JobRecord, error)
	ListByStatus(ctx context.Context, status models.JobStatus) ([]jobs.JobView, error)
}

// NewSubmitHandler returns an http.HandlerFunc for POST /api/v1/jobs.
func NewSubmitHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input models.JobInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid JSON body", nil)
			return
		}

		rec, err := svc.Submit(r.Context(), input)
		if err != nil {
			writeJobError(w, r, err)
			return
		}
		response.Accepted(w, rec)
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := svc.Get(r.Context(), chi.URLParam(r, "jobID"))
		if err != nil {
			writeJobError(w, r, err)
			return
		}
		response.JSON(w, rec)
	}
}

// NewJobEventsHandler returns an http.HandlerFunc for
// GET /api/v1/jobs/{jobID}/events.
func NewJobEventsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		evs, err := svc.Events(r.Context(), chi.URLParam(r, "jobID"))
		if err != nil {
			writeJobError(w, r, err)
			return
		}
		if evs == nil {
			evs = []models.JobEvent{}
		}
		response.JSON(w, evs)
	}
}

// NewSectionImagesHandler returns an http.HandlerFunc for
// PATCH /api/v1/jobs/{jobID}/section-images.
func NewSectionImagesHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SectionImages map[string]string `json:"section_images"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid JSON body", nil)
			return
		}
		if len(req.SectionImages) == 0 {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "section_images is required", nil)
			return
		}

		in, err := svc.AttachSectionImages(r.Context(), chi.URLParam(r, "jobID"), req.SectionImages)
		if err != nil {
			writeJobError(w, r, err)
			return
		}
		response.JSON(w, map[string]any{"section_images": in.SectionImages})
	}
}

// NewRetryHandler returns an http.HandlerFunc for
// POST /api/v1/jobs/{jobID}/retry.
func NewRetryHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := svc.Retry(r.Context(), chi.URLParam(r, "jobID"))
		if err != nil {
			writeJobError(w, r, err)
			return
		}
		response.Accepted(w, rec)
	}
}

func writeJobError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, response.CodeJobNotFound, "Job not found", nil)
	case errors.Is(err, store.ErrInvalidInput):
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, err.Error(), nil)
	case errors.Is(err, jobs.ErrNotRetryable):
		response.Error(w, http.StatusConflict, response.CodeJobNotRetryable, err.Error(), nil)
	default:
		slog.Error("job request failed",
			"error", err,
			"request_id", mw.GetRequestID(r),
			"path", r.URL.Path,
		)
		response.Error(w, http.StatusInternalServerError, response.CodeInternal,
			"An unexpected error occurred", nil)
	}
}
