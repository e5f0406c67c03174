package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/renderq/internal/api/response"
)

const (
	defaultRequestsPerMinute = 60
	rateWindow               = time.Minute
)

// Counter is the windowed counter the limiter increments per caller.
type Counter interface {
	IncrWithExpiry(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimit is a fixed-window limiter keyed on the caller's token prefix.
type RateLimit struct {
	counter        Counter
	key            func(subject string) string
	requestsPerMin int
}

// NewRateLimit creates a limiter. key maps a token prefix to the counter
// key, so split deployments can namespace it per instance.
func NewRateLimit(c Counter, key func(subject string) string, requestsPerMin int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &RateLimit{counter: c, key: key, requestsPerMin: requestsPerMin}
}

// Limit applies rate limiting to requests authenticated by AdminAuth.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix, ok := getTokenPrefix(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		count, err := rl.counter.IncrWithExpiry(r.Context(), rl.key(prefix), rateWindow)
		if err != nil {
			// Fail open on counter errors.
			slog.Warn("rate limit counter failed", "error", err, "request_id", GetRequestID(r))
			next.ServeHTTP(w, r)
			return
		}

		remaining := rl.requestsPerMin - int(count)
		if remaining < 0 {
			remaining = 0
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(rateWindow).Unix(), 10))

		if count > int64(rl.requestsPerMin) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rateWindow.Seconds())))
			response.Error(w, http.StatusTooManyRequests,
				response.CodeRateLimited, "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
