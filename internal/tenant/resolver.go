package tenant

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Resolver resolves tenants from various identifiers.
type Resolver interface {
	// BySlug resolves a tenant by subdomain slug.
	BySlug(ctx context.Context, slug string) (*Tenant, error)

	// ByID resolves a tenant by ID.
	ByID(ctx context.Context, id pgtype.UUID) (*Tenant, error)
}

// DBResolver implements Resolver using database queries.
type DBResolver struct {
	db *pgxpool.Pool
}

// NewDBResolver creates a new database-backed tenant resolver.
func NewDBResolver(db *pgxpool.Pool) *DBResolver {
	return &DBResolver{db: db}
}

// BySlug resolves a tenant by subdomain slug.
func (r *DBResolver) BySlug(ctx context.Context, slug string) (*Tenant, error) {
	var t Tenant
	err := r.db.QueryRow(ctx, `SELECT id, slug, name FROM accounts WHERE slug = $1`, slug).
		Scan(&t.ID, &t.Slug, &t.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}

	return &t, nil
}

// ByID resolves a tenant by ID.
func (r *DBResolver) ByID(ctx context.Context, id pgtype.UUID) (*Tenant, error) {
	var t Tenant
	err := r.db.QueryRow(ctx, `SELECT id, slug, name FROM accounts WHERE id = $1`, id).
		Scan(&t.ID, &t.Slug, &t.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}

	return &t, nil
}

// Compile-time check that DBResolver implements Resolver.
var _ Resolver = (*DBResolver)(nil)
