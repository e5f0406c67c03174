package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/renderq/internal/api"
	mw "github.com/kiranshivaraju/renderq/internal/api/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const adminToken = "rq_admin_router_test"

// --- stub counter ---

type stubCounter struct{}

func (stubCounter) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

// --- router tests ---

func okStub(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"data":{}}`))
}

func newTestRouter(t *testing.T, tokenHash string) http.Handler {
	t.Helper()
	return api.NewRouter(api.Dependencies{
		Auth:             mw.NewAdminAuth(tokenHash),
		RateLimit:        mw.NewRateLimit(stubCounter{}, func(s string) string { return s }, 60),
		HealthHandler:    okStub,
		GetJobHandler:    okStub,
		JobEventsHandler: okStub,
		SubmitHandler:    okStub,
		RetryHandler:     okStub,
		ListJobsHandler:  okStub,
	})
}

func hashToken(t *testing.T) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(adminToken), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"].(map[string]any)["code"].(string)
}

func TestRouter_PublicEndpoints(t *testing.T) {
	router := newTestRouter(t, hashToken(t))

	for _, path := range []string{"/api/v1/health", "/api/v1/jobs/j1", "/api/v1/jobs/j1/events"} {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}

var adminEndpoints = []struct {
	method string
	path   string
}{
	{"POST", "/api/v1/jobs"},
	{"PATCH", "/api/v1/jobs/j1/section-images"},
	{"POST", "/api/v1/jobs/j1/retry"},
	{"GET", "/api/v1/admin/jobs"},
	{"POST", "/api/v1/admin/recovery"},
}

func TestRouter_AdminEndpoints_RequireAuth(t *testing.T) {
	router := newTestRouter(t, hashToken(t))

	for _, ep := range adminEndpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(ep.method, ep.path, nil))

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "INVALID_TOKEN", errCode(t, w))
		})
	}
}

func TestRouter_AdminEndpoints_ForbiddenWithoutHash(t *testing.T) {
	router := newTestRouter(t, "")

	for _, ep := range adminEndpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			req := httptest.NewRequest(ep.method, ep.path, nil)
			req.Header.Set("Authorization", "Bearer "+adminToken)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusForbidden, w.Code)
		})
	}
}

func TestRouter_AdminEndpoint_Authorized(t *testing.T) {
	router := newTestRouter(t, hashToken(t))

	req := httptest.NewRequest("GET", "/api/v1/admin/jobs", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "60", w.Header().Get("X-RateLimit-Limit"))
}

func TestRouter_NilHandlerIsNotImplemented(t *testing.T) {
	router := newTestRouter(t, hashToken(t))

	req := httptest.NewRequest("POST", "/api/v1/admin/recovery", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotImplemented, w.Code)
	assert.Equal(t, "NOT_IMPLEMENTED", errCode(t, w))
}

func TestRouter_NotFound(t *testing.T) {
	router := newTestRouter(t, hashToken(t))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/nonexistent", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}
