package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/kiranshivaraju/renderq/internal/api/response"
)

// Recovery turns a handler panic into a 500 INTERNAL_ERROR envelope and
// logs it under the request id. http.ErrAbortHandler is re-raised so the
// server drops the connection as intended. When the handler had already
// started the response, nothing more is written.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			slog.Error("handler panic",
				"panic", rec,
				"request_id", GetRequestID(r),
				"method", r.Method,
				"path", r.URL.Path,
				"stack", string(debug.Stack()),
			)
			if sr, ok := w.(*statusRecorder); ok && sr.wrote {
				return
			}
			response.Error(w, http.StatusInternalServerError,
				response.CodeInternal, "An unexpected error occurred", nil)
		}()
		next.ServeHTTP(w, r)
	})
}
