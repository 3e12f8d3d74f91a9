package federation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a peer lookup finds no matching row.
var ErrNotFound = errors.New("federation: peer not found")

// Repository is the storage interface consumed by Manager, kept narrow so
// tests can supply an in-memory stand-in.
type Repository interface {
	CreatePeer(ctx context.Context, p *Peer) error
	GetPeer(ctx context.Context, id uuid.UUID) (*Peer, error)
	ListPeers(ctx context.Context) ([]*Peer, error)
	UpdatePeerStatus(ctx context.Context, id uuid.UUID, status Status, lastError string) error
	UpdatePeerCursor(ctx context.Context, id uuid.UUID, lastCursor string) error
	RecordSyncRun(ctx context.Context, run *SyncRun) error
}

// PostgresRepository is the pgx-backed Repository implementation.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresRepository creates a PostgresRepository.
func NewPostgresRepository(pool *pgxpool.Pool, logger *zap.Logger) *PostgresRepository {
	return &PostgresRepository{pool: pool, logger: logger}
}

func (r *PostgresRepository) CreatePeer(ctx context.Context, p *Peer) error {
	const q = `
		INSERT INTO peer_registries (name, base_url, auth_token, sync_interval_s, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	if p.SyncIntervalS == 0 {
		p.SyncIntervalS = DefaultSyncIntervalSeconds
	}
	if p.Status == "" {
		p.Status = StatusActive
	}
	row := r.pool.QueryRow(ctx, q, p.Name, p.BaseURL, p.AuthToken, p.SyncIntervalS, string(p.Status))
	return row.Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (r *PostgresRepository) GetPeer(ctx context.Context, id uuid.UUID) (*Peer, error) {
	const q = `
		SELECT id, name, base_url, auth_token, sync_interval_s, last_sync_at,
		       last_cursor, status, last_error, created_at, updated_at
		FROM peer_registries WHERE id = $1`
	return r.scan(r.pool.QueryRow(ctx, q, id))
}

func (r *PostgresRepository) ListPeers(ctx context.Context) ([]*Peer, error) {
	const q = `
		SELECT id, name, base_url, auth_token, sync_interval_s, last_sync_at,
		       last_cursor, status, last_error, created_at, updated_at
		FROM peer_registries ORDER BY name`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("federation: list peers: %w", err)
	}
	defer rows.Close()

	var out []*Peer
	for rows.Next() {
		p, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) UpdatePeerStatus(ctx context.Context, id uuid.UUID, status Status, lastError string) error {
	const q = `
		UPDATE peer_registries
		SET status = $1, last_error = $2, last_sync_at = now(), updated_at = now()
		WHERE id = $3`
	tag, err := r.pool.Exec(ctx, q, string(status), lastError, id)
	if err != nil {
		return fmt.Errorf("federation: update peer status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) UpdatePeerCursor(ctx context.Context, id uuid.UUID, lastCursor string) error {
	const q = `UPDATE peer_registries SET last_cursor = $1, updated_at = now() WHERE id = $2`
	tag, err := r.pool.Exec(ctx, q, lastCursor, id)
	if err != nil {
		return fmt.Errorf("federation: update peer cursor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) RecordSyncRun(ctx context.Context, run *SyncRun) error {
	const q = `
		INSERT INTO sync_runs (peer_id, started_at, finished_at, outcome, added, updated, removed, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`
	row := r.pool.QueryRow(ctx, q,
		run.PeerID, run.StartedAt, run.FinishedAt, string(run.Outcome),
		run.Added, run.Updated, run.Removed, run.Error,
	)
	return row.Scan(&run.ID)
}

func (r *PostgresRepository) scan(row pgx.Row) (*Peer, error) {
	p := &Peer{}
	var status string
	err := row.Scan(
		&p.ID, &p.Name, &p.BaseURL, &p.AuthToken, &p.SyncIntervalS, &p.LastSyncAt,
		&p.LastCursor, &status, &p.LastError, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("federation: scan peer: %w", err)
	}
	p.Status = Status(status)
	return p, nil
}

func (r *PostgresRepository) scanRow(rows pgx.Rows) (*Peer, error) {
	p := &Peer{}
	var status string
	err := rows.Scan(
		&p.ID, &p.Name, &p.BaseURL, &p.AuthToken, &p.SyncIntervalS, &p.LastSyncAt,
		&p.LastCursor, &status, &p.LastError, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("federation: scan peer row: %w", err)
	}
	p.Status = Status(status)
	return p, nil
}
