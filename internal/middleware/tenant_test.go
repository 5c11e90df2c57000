package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrenchly/wrenchly/internal/tenant"
)

// stubResolver implements tenant.Resolver against a fixed tenant.
type stubResolver struct {
	tenant *tenant.Tenant
	err    error
}

func (r *stubResolver) BySlug(ctx context.Context, slug string) (*tenant.Tenant, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.tenant, nil
}

func (r *stubResolver) ByID(ctx context.Context, id pgtype.UUID) (*tenant.Tenant, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.tenant, nil
}

func TestResolveTenant(t *testing.T) {
	var id pgtype.UUID
	require.NoError(t, id.Scan("a2b6f1f0-5f8f-4f62-9c4b-0123456789ab"))

	known := &tenant.Tenant{ID: id, Slug: "acme", Name: "Acme Auto"}

	tests := []struct {
		name       string
		header     string
		resolver   tenant.Resolver
		wantStatus int
		wantTenant bool
	}{
		{
			name:       "valid header resolves tenant",
			header:     "a2b6f1f0-5f8f-4f62-9c4b-0123456789ab",
			resolver:   &stubResolver{tenant: known},
			wantStatus: http.StatusOK,
			wantTenant: true,
		},
		{
			name:       "missing header passes through unresolved",
			header:     "",
			resolver:   &stubResolver{tenant: known},
			wantStatus: http.StatusOK,
			wantTenant: false,
		},
		{
			name:       "malformed id rejected",
			header:     "not-a-uuid",
			resolver:   &stubResolver{tenant: known},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown tenant rejected",
			header:     "a2b6f1f0-5f8f-4f62-9c4b-0123456789ab",
			resolver:   &stubResolver{err: tenant.ErrTenantNotFound},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "resolver failure is a server error",
			header:     "a2b6f1f0-5f8f-4f62-9c4b-0123456789ab",
			resolver:   &stubResolver{err: errors.New("connection refused")},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *tenant.Tenant
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = tenant.FromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			h := ResolveTenant(TenantConfig{Resolver: tt.resolver})(next)

			req := httptest.NewRequest(http.MethodGet, "/api/billing/status", nil)
			if tt.header != "" {
				req.Header.Set(TenantHeader, tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantTenant {
				if assert.NotNil(t, got) {
					assert.Equal(t, "acme", got.Slug)
				}
			} else if w.Code == http.StatusOK {
				assert.Nil(t, got)
			}
		})
	}
}

func TestRequireTenant(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := RequireTenant(next)

	t.Run("no tenant", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/billing/status", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("with tenant", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/billing/status", nil)
		var id pgtype.UUID
		id.Valid = true
		req = req.WithContext(tenant.NewContext(req.Context(), &tenant.Tenant{ID: id, Slug: "acme"}))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
