package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const (
	tokenPrefixKey contextKey = "token_prefix"
	requestIDKey   contextKey = "request_id"
)

func setTokenPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, tokenPrefixKey, prefix)
}

func getTokenPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(tokenPrefixKey).(string)
	return prefix, ok
}

// WithTokenPrefix marks a request as authenticated by the token with the
// given prefix. Used by tests that exercise rate limiting without auth.
func WithTokenPrefix(ctx context.Context, prefix string) context.Context {
	return setTokenPrefix(ctx, prefix)
}

// GetRequestID returns the id assigned by the Logger middleware.
func GetRequestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey).(string)
	return id
}
