package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/wrenchly/wrenchly/internal/tenant"
)

// TenantHeader carries the tenant id on API requests. The session layer
// that will eventually populate it lives outside this service; until then
// the gateway in front of the API is trusted to set it.
const TenantHeader = "X-Tenant-ID"

// TenantConfig holds configuration for tenant resolution middleware.
type TenantConfig struct {
	// Resolver is the tenant resolver for database lookups.
	Resolver tenant.Resolver

	// Logger is the structured logger for middleware operations.
	// If nil, uses slog.Default().
	Logger *slog.Logger
}

// ResolveTenant creates middleware that resolves the tenant from the
// request's tenant header and attaches it to the context. Requests without
// the header pass through unresolved; pair with RequireTenant on routes
// that need one.
func ResolveTenant(cfg TenantConfig) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(TenantHeader)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}

			var id pgtype.UUID
			if err := id.Scan(raw); err != nil {
				respondBadRequest(w, r, "Invalid tenant id")
				return
			}

			t, err := cfg.Resolver.ByID(r.Context(), id)
			if err != nil {
				if errors.Is(err, tenant.ErrTenantNotFound) {
					respondNotFound(w, r)
					return
				}
				logger.Error("tenant resolution failed", "tenant_id", raw, "error", err)
				respondInternalError(w, r, err)
				return
			}

			ctx := tenant.NewContext(r.Context(), t)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireTenant is middleware that ensures a tenant is present in context.
// Returns 404 if no tenant is found. Apply after ResolveTenant.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t := tenant.FromContext(r.Context())
		if t == nil {
			respondNotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
