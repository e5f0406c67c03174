package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/renderq/internal/api/response"
	"github.com/kiranshivaraju/renderq/pkg/models"
)

// HeartbeatReader returns the worker fleet's liveness snapshot.
type HeartbeatReader interface {
	Snapshot(ctx context.Context) (models.HeartbeatRecord, error)
}

// Pinger checks connectivity to the store and queue.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health.
// Backend connectivity decides the status code; a stale heartbeat is
// reported in the body with ok=false but does not fail the check.
func NewHealthHandler(hb HeartbeatReader, backends Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{"backends": "ok"}
		if err := backends.Ping(r.Context()); err != nil {
			slog.Warn("health check failed", "error", err)
			checks["backends"] = "degraded"
		}

		snap, err := hb.Snapshot(r.Context())
		if err != nil {
			slog.Warn("heartbeat read failed", "error", err)
			checks["heartbeat"] = "unavailable"
		}

		if checks["backends"] != "ok" {
			response.Error(w, http.StatusServiceUnavailable, response.CodeDegraded,
				"One or more backends degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":    "ok",
			"services":  checks,
			"heartbeat": snap,
		})
	}
}
