package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

// TenantIDKey is the context key for the tenant ID.
const TenantIDKey contextKey = "tenant_id"

// DefaultTenantHeader names the tenant header when config sets none.
const DefaultTenantHeader = "X-Deskwing-Tenant"

// TenantExtractor extracts the tenant ID from the request. It checks the
// configured header, then the tenant query parameter, and falls back to
// "default".
func TenantExtractor(header string) func(http.Handler) http.Handler {
	if header == "" {
		header = DefaultTenantHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant := strings.TrimSpace(r.Header.Get(header))
			if tenant == "" {
				tenant = strings.TrimSpace(r.URL.Query().Get("tenant"))
			}
			if tenant == "" {
				tenant = "default"
			}

			ctx := context.WithValue(r.Context(), TenantIDKey, tenant)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetTenantID retrieves the tenant ID from the request context.
func GetTenantID(ctx context.Context) string {
	if v, ok := ctx.Value(TenantIDKey).(string); ok {
		return v
	}
	return "default"
}
