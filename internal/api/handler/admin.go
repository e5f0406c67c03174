package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	mw "github.com/kiranshivaraju/renderq/internal/api/middleware"
	"github.com/kiranshivaraju/renderq/internal/api/response"
	"github.com/kiranshivaraju/renderq/internal/recovery"
	"github.com/kiranshivaraju/renderq/pkg/models"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// Recoverer runs one recovery pass.
type Recoverer interface {
	Run(ctx context.Context) (recovery.Result, error)
}

// NewListJobsHandler returns an http.HandlerFunc for
// GET /api/v1/admin/jobs?status=running&page=1&limit=50.
func NewListJobsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		status := models.JobStatus(q.Get("status"))
		if status == "" {
			status = models.JobStatusRunning
		}
		if !status.Valid() {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest,
				"status must be one of queued, running, succeeded, failed", nil)
			return
		}

		page, ok := intParam(q.Get("page"), 1)
		if !ok || page < 1 {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "page must be a positive integer", nil)
			return
		}
		limit, ok := intParam(q.Get("limit"), defaultPageLimit)
		if !ok || limit < 1 {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "limit must be a positive integer", nil)
			return
		}
		if limit > maxPageLimit {
			limit = maxPageLimit
		}

		views, err := svc.ListByStatus(r.Context(), status)
		if err != nil {
			writeJobError(w, r, err)
			return
		}
		items, meta := response.Paginate(views, page, limit)
		response.Collection(w, items, meta)
	}
}

// NewRecoveryHandler returns an http.HandlerFunc for
// POST /api/v1/admin/recovery. A pass that finds the lock held reports
// lock_acquired=false with zero counts.
func NewRecoveryHandler(rc Recoverer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := rc.Run(r.Context())
		if err != nil {
			slog.Error("on-demand recovery failed", "error", err, "request_id", mw.GetRequestID(r))
			response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Recovery pass failed", nil)
			return
		}
		response.JSON(w, res)
	}
}

func intParam(v string, def int) (int, bool) {
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
