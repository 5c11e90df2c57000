package tenant

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

type contextKey string

const tenantContextKey contextKey = "tenant"

// Tenant is the resolved shop for a request.
type Tenant struct {
	ID   pgtype.UUID
	Slug string
	Name string
}

// NewContext returns a new context with the tenant attached.
func NewContext(ctx context.Context, t *Tenant) context.Context {
	return context.WithValue(ctx, tenantContextKey, t)
}

// FromContext extracts the tenant from the context.
// Returns nil if no tenant is present.
func FromContext(ctx context.Context) *Tenant {
	t, ok := ctx.Value(tenantContextKey).(*Tenant)
	if !ok {
		return nil
	}
	return t
}
