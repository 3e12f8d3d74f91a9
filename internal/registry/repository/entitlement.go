package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/A2AReg/a2a-registry/internal/registry/model"
)

// GrantEntitlement records a new visibility grant for subject on agentID
// within tenantID. Grants are additive: granting twice is a harmless
// duplicate row, never an error.
func (r *AgentRepository) GrantEntitlement(ctx context.Context, tenantID, agentID uuid.UUID, subject string) (*model.Entitlement, error) {
	const q = `
		INSERT INTO entitlements (tenant_id, agent_id, subject)
		VALUES ($1, $2, $3)
		RETURNING id, tenant_id, subject, agent_id, granted_at, revoked_at`
	e := &model.Entitlement{}
	err := r.db.QueryRow(ctx, q, tenantID, agentID, subject).Scan(
		&e.ID, &e.TenantID, &e.Subject, &e.AgentID, &e.GrantedAt, &e.RevokedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("entitlement store: grant: %w", err)
	}
	return e, nil
}

// RevokeEntitlement sets revoked_at on the active entitlement matching
// (tenant, agent, subject), if any.
func (r *AgentRepository) RevokeEntitlement(ctx context.Context, tenantID, agentID uuid.UUID, subject string) error {
	const q = `
		UPDATE entitlements SET revoked_at = now()
		WHERE tenant_id = $1 AND agent_id = $2 AND subject = $3 AND revoked_at IS NULL`
	tag, err := r.db.Exec(ctx, q, tenantID, agentID, subject)
	if err != nil {
		return fmt.Errorf("entitlement store: revoke: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListEntitlements returns every active entitlement for agentID within
// tenantID.
func (r *AgentRepository) ListEntitlements(ctx context.Context, tenantID, agentID uuid.UUID) ([]*model.Entitlement, error) {
	const q = `
		SELECT id, tenant_id, subject, agent_id, granted_at, revoked_at
		FROM entitlements
		WHERE tenant_id = $1 AND agent_id = $2 AND revoked_at IS NULL
		ORDER BY granted_at DESC`
	rows, err := r.db.Query(ctx, q, tenantID, agentID)
	if err != nil {
		return nil, fmt.Errorf("entitlement store: list: %w", err)
	}
	defer rows.Close()

	var out []*model.Entitlement
	for rows.Next() {
		e := &model.Entitlement{}
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Subject, &e.AgentID, &e.GrantedAt, &e.RevokedAt); err != nil {
			return nil, fmt.Errorf("entitlement store: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// IsEntitled resolves visibility for subjects — principal ID, consumer ID,
// and each role — at query time, per spec.md §4.4's "the core does not
// materialize per-principal ACLs".
func (r *AgentRepository) IsEntitled(ctx context.Context, tenantID, agentID uuid.UUID, subjects []string) (bool, error) {
	if len(subjects) == 0 {
		return false, nil
	}
	const q = `
		SELECT EXISTS (
			SELECT 1 FROM entitlements
			WHERE tenant_id = $1 AND agent_id = $2 AND revoked_at IS NULL AND subject = ANY($3)
		)`
	var ok bool
	if err := r.db.QueryRow(ctx, q, tenantID, agentID, subjects).Scan(&ok); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("entitlement store: is entitled: %w", err)
	}
	return ok, nil
}
