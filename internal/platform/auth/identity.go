package auth

import (
	"context"

	domain "github.com/hanko-field/commerce/internal/domain"
)

// Role constants re-exported for route declarations.
const (
	RoleUser  = domain.RoleUser
	RoleStaff = domain.RoleStaff
	RoleAdmin = domain.RoleAdmin
)

type contextKey string

const principalContextKey contextKey = "github.com/hanko-field/commerce/internal/platform/auth/principal"

// WithPrincipal stores the resolved principal within the context for downstream handlers.
func WithPrincipal(ctx context.Context, principal domain.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}

// PrincipalFromContext retrieves the principal previously stored in context.
func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	principal, ok := ctx.Value(principalContextKey).(domain.Principal)
	if !ok || !principal.Valid() {
		return domain.Principal{}, false
	}
	return principal, true
}
