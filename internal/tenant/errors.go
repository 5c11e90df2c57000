package tenant

import "errors"

var (
	// ErrTenantNotFound is returned when a tenant cannot be found by id or slug.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrNoTenant is returned when tenant context is required but not present.
	ErrNoTenant = errors.New("no tenant in context")
)
