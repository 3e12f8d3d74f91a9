// Package repository persists Agent Records, Agent Versions, Publishers
// and Entitlements against PostgreSQL via pgx.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/A2AReg/a2a-registry/internal/registry/model"
	"github.com/A2AReg/a2a-registry/pkg/agentcard"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("agent store: not found")

// UpsertVersionParams is the input to AgentRepository.UpsertVersion.
type UpsertVersionParams struct {
	TenantID      uuid.UUID
	PublisherID   uuid.UUID
	Name          string
	Version       string
	Card          *agentcard.Card
	ContentHash   []byte
	Source        model.Source
	SourceURL     string
	Signed        bool
	Public        bool
	FederatedFrom *uuid.UUID
}

// AgentRepository is the pgx-backed Agent Store (C3) and Entitlement Store
// (C4).
type AgentRepository struct {
	db *pgxpool.Pool
}

// NewAgentRepository creates an AgentRepository.
func NewAgentRepository(db *pgxpool.Pool) *AgentRepository {
	return &AgentRepository{db: db}
}

// UpsertVersion implements spec.md §4.3's upsert_version: look up or insert
// the Agent Record by (tenant, publisher, name) under a row-level lock,
// dedupe by content hash, else insert a new version and bump the head
// pointer. Returns created=false when the exact bytes were already
// published (idempotent no-op).
func (r *AgentRepository) UpsertVersion(ctx context.Context, p UpsertVersionParams) (*model.AgentRecord, *model.AgentVersion, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, false, fmt.Errorf("agent store: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	record, err := r.lockOrCreateRecord(ctx, tx, p)
	if err != nil {
		return nil, nil, false, err
	}

	if record.IsFederated() && p.FederatedFrom == nil {
		return nil, nil, false, fmt.Errorf("agent store: %w: record is federated from %s, cannot be locally mutated", errConflict, record.FederatedFrom)
	}

	existing, err := r.findByContentHash(ctx, tx, record.ID, p.ContentHash)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, nil, false, err
	}
	if err == nil {
		if commitErr := tx.Commit(ctx); commitErr != nil {
			return nil, nil, false, fmt.Errorf("agent store: commit: %w", commitErr)
		}
		return record, existing, false, nil
	}

	cardJSON, err := json.Marshal(p.Card)
	if err != nil {
		return nil, nil, false, fmt.Errorf("agent store: marshal card: %w", err)
	}

	version := &model.AgentVersion{
		AgentID:     record.ID,
		Version:     p.Version,
		Card:        p.Card,
		ContentHash: p.ContentHash,
		Source:      p.Source,
		SourceURL:   p.SourceURL,
		Signed:      p.Signed,
	}

	const insertVersion = `
		INSERT INTO agent_versions (agent_id, version, card, content_hash, source, source_url, signed)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`
	if err := tx.QueryRow(ctx, insertVersion,
		version.AgentID, version.Version, cardJSON, version.ContentHash,
		string(version.Source), version.SourceURL, version.Signed,
	).Scan(&version.ID, &version.CreatedAt); err != nil {
		return nil, nil, false, fmt.Errorf("agent store: insert version: %w", err)
	}

	const bumpRecord = `
		UPDATE agent_records SET latest_version_id = $1, public = $2, updated_at = now()
		WHERE id = $3
		RETURNING updated_at`
	if err := tx.QueryRow(ctx, bumpRecord, version.ID, p.Public, record.ID).Scan(&record.UpdatedAt); err != nil {
		return nil, nil, false, fmt.Errorf("agent store: bump record: %w", err)
	}
	record.LatestVersionID = version.ID
	record.Public = p.Public

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, false, fmt.Errorf("agent store: commit: %w", err)
	}
	return record, version, true, nil
}

var errConflict = errors.New("conflict")

// ErrFederatedImmutable reports whether err is the "federated record cannot
// be locally mutated" conflict from UpsertVersion.
func ErrFederatedImmutable(err error) bool { return errors.Is(err, errConflict) }

// lockOrCreateRecord takes a row-level lock (SELECT ... FOR UPDATE) on the
// Agent Record for (tenant, publisher, name), inserting a placeholder row
// first if none exists, so concurrent publishes to the same key linearize.
func (r *AgentRepository) lockOrCreateRecord(ctx context.Context, tx pgx.Tx, p UpsertVersionParams) (*model.AgentRecord, error) {
	const selectForUpdate = `
		SELECT id, tenant_id, publisher_id, name, latest_version_id, public,
		       federated_from, hidden, created_at, updated_at
		FROM agent_records
		WHERE tenant_id = $1 AND publisher_id = $2 AND name = $3
		FOR UPDATE`

	record, err := scanRecord(tx.QueryRow(ctx, selectForUpdate, p.TenantID, p.PublisherID, p.Name))
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	const insert = `
		INSERT INTO agent_records (tenant_id, publisher_id, name, latest_version_id, public, federated_from)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, publisher_id, name) DO NOTHING
		RETURNING id, tenant_id, publisher_id, name, latest_version_id, public,
		          federated_from, hidden, created_at, updated_at`

	// latest_version_id is nullable until the first version is inserted below;
	// the bump step fills it in on first publish.
	record, err = scanRecord(tx.QueryRow(ctx, insert, p.TenantID, p.PublisherID, p.Name, nil, p.Public, p.FederatedFrom))
	if err == nil {
		return record, nil
	}
	if errors.Is(err, ErrNotFound) {
		// Lost the insert race; the winner's row is now visible under the lock.
		return scanRecord(tx.QueryRow(ctx, selectForUpdate, p.TenantID, p.PublisherID, p.Name))
	}
	return nil, err
}

func (r *AgentRepository) findByContentHash(ctx context.Context, tx pgx.Tx, agentID uuid.UUID, contentHash []byte) (*model.AgentVersion, error) {
	const q = `
		SELECT id, agent_id, version, card, content_hash, source, source_url, signed, created_at
		FROM agent_versions WHERE agent_id = $1 AND content_hash = $2`
	return scanVersion(tx.QueryRow(ctx, q, agentID, contentHash))
}

// GetLatest returns the latest Agent Version for agentID.
func (r *AgentRepository) GetLatest(ctx context.Context, agentID uuid.UUID) (*model.AgentVersion, error) {
	const q = `
		SELECT v.id, v.agent_id, v.version, v.card, v.content_hash, v.source, v.source_url, v.signed, v.created_at
		FROM agent_versions v
		JOIN agent_records r ON r.latest_version_id = v.id
		WHERE r.id = $1`
	return scanVersion(r.db.QueryRow(ctx, q, agentID))
}

// GetByID returns an Agent Record by primary key.
func (r *AgentRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.AgentRecord, error) {
	const q = `
		SELECT id, tenant_id, publisher_id, name, latest_version_id, public,
		       federated_from, hidden, created_at, updated_at
		FROM agent_records WHERE id = $1 AND NOT hidden`
	return scanRecord(r.db.QueryRow(ctx, q, id))
}

// GetByName implements get_by_name(tenant, publisher, name) → AgentRecord?.
func (r *AgentRepository) GetByName(ctx context.Context, tenantID, publisherID uuid.UUID, name string) (*model.AgentRecord, error) {
	const q = `
		SELECT id, tenant_id, publisher_id, name, latest_version_id, public,
		       federated_from, hidden, created_at, updated_at
		FROM agent_records
		WHERE tenant_id = $1 AND publisher_id = $2 AND name = $3 AND NOT hidden`
	return scanRecord(r.db.QueryRow(ctx, q, tenantID, publisherID, name))
}

// ListFilter narrows ListForTenant per spec.md's list_for_tenant filter.
type ListFilter struct {
	Public      *bool
	PublisherID *uuid.UUID
	EntitledBy  string // subject: principal_id, consumer_id, or role
}

// Page is an opaque-cursor page of Agent Records, ordered by updated_at
// desc then id desc.
type Page struct {
	Records    []*model.AgentRecord
	NextCursor string
}

// ListForTenant implements list_for_tenant(tenant, cursor, limit, filter).
// cursorAfter/limit are pre-decoded by the caller (Discovery Service owns
// cursor encoding); an empty cursorUpdatedAt means "from the start".
func (r *AgentRepository) ListForTenant(ctx context.Context, tenantID uuid.UUID, cursorUpdatedAt time.Time, cursorID uuid.UUID, limit int, filter ListFilter) ([]*model.AgentRecord, error) {
	q := `
		SELECT id, tenant_id, publisher_id, name, latest_version_id, public,
		       federated_from, hidden, created_at, updated_at
		FROM agent_records
		WHERE tenant_id = $1 AND NOT hidden
		  AND (updated_at, id) < ($2, $3)`
	args := []any{tenantID, cursorUpdatedAt, cursorID}

	if filter.Public != nil {
		args = append(args, *filter.Public)
		q += fmt.Sprintf(" AND public = $%d", len(args))
	}
	if filter.PublisherID != nil {
		args = append(args, *filter.PublisherID)
		q += fmt.Sprintf(" AND publisher_id = $%d", len(args))
	}
	if filter.EntitledBy != "" {
		args = append(args, filter.EntitledBy)
		q += fmt.Sprintf(` AND (public OR EXISTS (
			SELECT 1 FROM entitlements e WHERE e.agent_id = agent_records.id
			AND e.subject = $%d AND e.revoked_at IS NULL))`, len(args))
	}

	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY updated_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("agent store: list for tenant: %w", err)
	}
	defer rows.Close()

	var out []*model.AgentRecord
	for rows.Next() {
		rec, err := scanRecordRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListPublic returns public agents across all tenants, used by
// list_public and well_known_index.
func (r *AgentRepository) ListPublic(ctx context.Context, cursorUpdatedAt time.Time, cursorID uuid.UUID, limit int) ([]*model.AgentRecord, error) {
	const q = `
		SELECT id, tenant_id, publisher_id, name, latest_version_id, public,
		       federated_from, hidden, created_at, updated_at
		FROM agent_records
		WHERE public AND NOT hidden AND (updated_at, id) < ($1, $2)
		ORDER BY updated_at DESC, id DESC
		LIMIT $3`
	rows, err := r.db.Query(ctx, q, cursorUpdatedAt, cursorID, limit)
	if err != nil {
		return nil, fmt.Errorf("agent store: list public: %w", err)
	}
	defer rows.Close()

	var out []*model.AgentRecord
	for rows.Next() {
		rec, err := scanRecordRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListFederated returns every non-hidden Agent Record federated from peerID
// — the set L in spec.md §4.10's diff algorithm.
func (r *AgentRepository) ListFederated(ctx context.Context, peerID uuid.UUID) ([]*model.AgentRecord, error) {
	const q = `
		SELECT id, tenant_id, publisher_id, name, latest_version_id, public,
		       federated_from, hidden, created_at, updated_at
		FROM agent_records WHERE federated_from = $1 AND NOT hidden`
	rows, err := r.db.Query(ctx, q, peerID)
	if err != nil {
		return nil, fmt.Errorf("agent store: list federated: %w", err)
	}
	defer rows.Close()

	var out []*model.AgentRecord
	for rows.Next() {
		rec, err := scanRecordRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// HideRecord soft-deletes a federated record on retraction (spec.md's
// "soft-delete (mark record hidden, delete from index)" step for r ∈ L \ R).
func (r *AgentRepository) HideRecord(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE agent_records SET hidden = true, updated_at = now() WHERE id = $1`
	tag, err := r.db.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("agent store: hide record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetOrCreatePublisher resolves a Publisher by (tenant, display_name),
// creating it on first use.
func (r *AgentRepository) GetOrCreatePublisher(ctx context.Context, tenantID uuid.UUID, displayName string) (*model.Publisher, error) {
	const selectQ = `SELECT id, tenant_id, display_name, created_at FROM publishers WHERE tenant_id = $1 AND display_name = $2`
	pub := &model.Publisher{}
	err := r.db.QueryRow(ctx, selectQ, tenantID, displayName).Scan(&pub.ID, &pub.TenantID, &pub.DisplayName, &pub.CreatedAt)
	if err == nil {
		return pub, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("agent store: lookup publisher: %w", err)
	}

	const insertQ = `
		INSERT INTO publishers (tenant_id, display_name) VALUES ($1, $2)
		ON CONFLICT (tenant_id, display_name) DO UPDATE SET display_name = EXCLUDED.display_name
		RETURNING id, tenant_id, display_name, created_at`
	if err := r.db.QueryRow(ctx, insertQ, tenantID, displayName).Scan(&pub.ID, &pub.TenantID, &pub.DisplayName, &pub.CreatedAt); err != nil {
		return nil, fmt.Errorf("agent store: create publisher: %w", err)
	}
	return pub, nil
}

func scanRecord(row pgx.Row) (*model.AgentRecord, error) {
	rec := &model.AgentRecord{}
	var latestVersionID *uuid.UUID
	err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.PublisherID, &rec.Name, &latestVersionID, &rec.Public,
		&rec.FederatedFrom, &rec.Hidden, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("agent store: scan record: %w", err)
	}
	if latestVersionID != nil {
		rec.LatestVersionID = *latestVersionID
	}
	return rec, nil
}

func scanRecordRow(rows pgx.Rows) (*model.AgentRecord, error) {
	rec := &model.AgentRecord{}
	var latestVersionID *uuid.UUID
	err := rows.Scan(
		&rec.ID, &rec.TenantID, &rec.PublisherID, &rec.Name, &latestVersionID, &rec.Public,
		&rec.FederatedFrom, &rec.Hidden, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("agent store: scan record row: %w", err)
	}
	if latestVersionID != nil {
		rec.LatestVersionID = *latestVersionID
	}
	return rec, nil
}

func scanVersion(row pgx.Row) (*model.AgentVersion, error) {
	v := &model.AgentVersion{}
	var cardJSON []byte
	var source string
	err := row.Scan(&v.ID, &v.AgentID, &v.Version, &cardJSON, &v.ContentHash, &source, &v.SourceURL, &v.Signed, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("agent store: scan version: %w", err)
	}
	v.Source = model.Source(source)
	var card agentcard.Card
	if err := json.Unmarshal(cardJSON, &card); err != nil {
		return nil, fmt.Errorf("agent store: unmarshal card: %w", err)
	}
	v.Card = &card
	return v, nil
}
