// Package auth authenticates API callers. Payment routes take a bearer JWT
// issued by the user service; operator routes take a static admin key.
package auth

import (
	"context"
	"net/http"
	"slices"
)

// Principal is the authenticated caller.
type Principal struct {
	ID   string
	Role string
}

type contextKey string

const principalKey contextKey = "auth_principal"

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext returns the principal set by the bearer middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// FromRequest is FromContext on the request context.
func FromRequest(r *http.Request) (Principal, bool) {
	return FromContext(r.Context())
}

// Policy decides what an authenticated principal may do.
type Policy struct {
	CreateRoles []string // roles allowed to create payments
	AdminRole   string   // may read any user's payments
}

// CanCreate reports whether p may create payments.
func (pol Policy) CanCreate(p Principal) bool {
	return slices.Contains(pol.CreateRoles, p.Role)
}

// IsAdmin reports whether p holds the admin role.
func (pol Policy) IsAdmin(p Principal) bool {
	return pol.AdminRole != "" && p.Role == pol.AdminRole
}

// CanAccessUser reports whether p may read data owned by userID.
func (pol Policy) CanAccessUser(p Principal, userID string) bool {
	return p.ID == userID || pol.IsAdmin(p)
}
