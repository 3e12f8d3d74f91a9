// Package tenant implements the Tenant/Publisher administrative directory
// spec.md's data model names but leaves lifecycle-free: tenants and
// publishers are administrator-managed entities, created up front and
// listed for the admin CLI, with a per-publisher agent quota.
package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/A2AReg/a2a-registry/internal/registry/model"
)

// ErrNotFound is returned when a tenant or publisher lookup finds no row.
var ErrNotFound = errors.New("tenant: not found")

// ErrDuplicateName is returned when a tenant name or (tenant, display_name)
// publisher pair already exists.
var ErrDuplicateName = errors.New("tenant: duplicate name")

// Repository persists Tenants and Publishers against PostgreSQL via pgx.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateTenant inserts a new Tenant.
func (r *Repository) CreateTenant(ctx context.Context, name string) (*model.Tenant, error) {
	const q = `INSERT INTO tenants (name) VALUES ($1) RETURNING id, name, created_at`
	t := &model.Tenant{}
	err := r.db.QueryRow(ctx, q, name).Scan(&t.ID, &t.Name, &t.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateName
		}
		return nil, fmt.Errorf("tenant: create tenant: %w", err)
	}
	return t, nil
}

// GetTenant returns a Tenant by id.
func (r *Repository) GetTenant(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	const q = `SELECT id, name, created_at FROM tenants WHERE id = $1`
	t := &model.Tenant{}
	err := r.db.QueryRow(ctx, q, id).Scan(&t.ID, &t.Name, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("tenant: get tenant: %w", err)
	}
	return t, nil
}

// ListTenants returns every Tenant, oldest first.
func (r *Repository) ListTenants(ctx context.Context) ([]*model.Tenant, error) {
	const q = `SELECT id, name, created_at FROM tenants ORDER BY created_at`
	rows, err := r.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("tenant: list tenants: %w", err)
	}
	defer rows.Close()

	var out []*model.Tenant
	for rows.Next() {
		t := &model.Tenant{}
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("tenant: scan tenant: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreatePublisher inserts a new Publisher under tenantID.
func (r *Repository) CreatePublisher(ctx context.Context, tenantID uuid.UUID, displayName string) (*model.Publisher, error) {
	const q = `
		INSERT INTO publishers (tenant_id, display_name) VALUES ($1, $2)
		RETURNING id, tenant_id, display_name, created_at`
	p := &model.Publisher{}
	err := r.db.QueryRow(ctx, q, tenantID, displayName).Scan(&p.ID, &p.TenantID, &p.DisplayName, &p.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateName
		}
		return nil, fmt.Errorf("tenant: create publisher: %w", err)
	}
	return p, nil
}

// GetPublisher returns a Publisher by id.
func (r *Repository) GetPublisher(ctx context.Context, id uuid.UUID) (*model.Publisher, error) {
	const q = `SELECT id, tenant_id, display_name, created_at FROM publishers WHERE id = $1`
	p := &model.Publisher{}
	err := r.db.QueryRow(ctx, q, id).Scan(&p.ID, &p.TenantID, &p.DisplayName, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("tenant: get publisher: %w", err)
	}
	return p, nil
}

// ListPublishers returns every Publisher under tenantID.
func (r *Repository) ListPublishers(ctx context.Context, tenantID uuid.UUID) ([]*model.Publisher, error) {
	const q = `SELECT id, tenant_id, display_name, created_at FROM publishers WHERE tenant_id = $1 ORDER BY display_name`
	rows, err := r.db.Query(ctx, q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("tenant: list publishers: %w", err)
	}
	defer rows.Close()

	var out []*model.Publisher
	for rows.Next() {
		p := &model.Publisher{}
		if err := rows.Scan(&p.ID, &p.TenantID, &p.DisplayName, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("tenant: scan publisher: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountAgents returns the number of non-hidden Agent Records published
// under publisherID, the basis for the MAX_AGENTS_PER_CLIENT quota check.
func (r *Repository) CountAgents(ctx context.Context, publisherID uuid.UUID) (int, error) {
	const q = `SELECT count(*) FROM agent_records WHERE publisher_id = $1 AND NOT hidden`
	var n int
	if err := r.db.QueryRow(ctx, q, publisherID).Scan(&n); err != nil {
		return 0, fmt.Errorf("tenant: count agents: %w", err)
	}
	return n, nil
}
