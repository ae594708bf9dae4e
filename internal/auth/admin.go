package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	apierrors "github.com/CedrosPay/ledger/internal/errors"
)

// AdminKeyHeader carries the operator key.
const AdminKeyHeader = "X-API-Key"

const adminKey contextKey = "auth_admin"

// AdminMiddleware guards operator routes with a static key. An empty key
// leaves the routes open, which is only meant for local development.
func AdminMiddleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !MatchesAdminKey(r, key) {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeUnauthorized, "admin key required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MatchesAdminKey compares the request's admin key in constant time.
func MatchesAdminKey(r *http.Request, key string) bool {
	got := strings.TrimSpace(r.Header.Get(AdminKeyHeader))
	if key == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(key)) == 1
}

// TagAdmin marks requests that carry a valid admin key so later middleware
// (rate limiting) can exempt them. It never rejects a request.
func TagAdmin(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if MatchesAdminKey(r, key) {
				r = r.WithContext(contextWithAdmin(r))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func contextWithAdmin(r *http.Request) context.Context {
	return context.WithValue(r.Context(), adminKey, true)
}

// IsAdminRequest reports whether TagAdmin recognised the request's key.
func IsAdminRequest(r *http.Request) bool {
	ok, _ := r.Context().Value(adminKey).(bool)
	return ok
}
