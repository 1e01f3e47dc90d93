package middleware

import (
	"context"
	"net/http"

	"github.com/shipmark-io/shipmark/internal/auth"
)

type tenantContextKey struct{}

// TenantContext copies the tenant id off the authenticated identity into
// the request context, where handlers read it to open RLS-scoped
// database connections. Requests without an identity pass through
// unchanged; the handler's own tenant check rejects them.
func TenantContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if identity := auth.GetIdentity(r.Context()); identity != nil && identity.TenantID != "" {
			ctx := context.WithValue(r.Context(), tenantContextKey{}, identity.TenantID)
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// GetTenantID returns the tenant id set by TenantContext, or "" when the
// request carries no tenant scope.
func GetTenantID(ctx context.Context) string {
	id, _ := ctx.Value(tenantContextKey{}).(string)
	return id
}
