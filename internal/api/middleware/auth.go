package middleware

import (
	"net/http"
	"strings"

	"github.com/kiranshivaraju/renderq/internal/api/response"
	"golang.org/x/crypto/bcrypt"
)

const tokenPrefixLen = 8

// AdminAuth guards operator routes with a single bearer token whose bcrypt
// hash is configured at startup.
type AdminAuth struct {
	hash []byte
}

// NewAdminAuth creates the middleware. An empty hash disables every admin
// route.
func NewAdminAuth(tokenHash string) *AdminAuth {
	a := &AdminAuth{}
	if tokenHash != "" {
		a.hash = []byte(tokenHash)
	}
	return a
}

// Enabled reports whether an admin token is configured.
func (a *AdminAuth) Enabled() bool { return len(a.hash) > 0 }

// Authenticate validates the bearer token and records the caller's token
// prefix in the request context for rate limiting.
func (a *AdminAuth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			response.Error(w, http.StatusForbidden,
				response.CodeForbidden, "Admin access is not configured", nil)
			return
		}

		token := extractBearerToken(r)
		if token == "" {
			response.Error(w, http.StatusUnauthorized,
				response.CodeInvalidToken, "Missing or invalid Authorization header", nil)
			return
		}

		if bcrypt.CompareHashAndPassword(a.hash, []byte(token)) != nil {
			response.Error(w, http.StatusUnauthorized,
				response.CodeInvalidToken, "Invalid admin token", nil)
			return
		}

		prefix := token
		if len(prefix) > tokenPrefixLen {
			prefix = prefix[:tokenPrefixLen]
		}
		next.ServeHTTP(w, r.WithContext(setTokenPrefix(r.Context(), prefix)))
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
