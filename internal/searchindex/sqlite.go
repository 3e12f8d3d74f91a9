package searchindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go SQLite driver, no cgo
)

const currentSchemaVersion = 1

// schema is an external-content FTS5 table over agent_search: the FTS index
// stores only the inverted text, agent_search carries the filterable
// columns, and triggers keep the two in lockstep on every write so a single
// Upsert/Delete call never leaves them out of sync.
const schema = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

CREATE TABLE IF NOT EXISTS agent_search (
    rowid INTEGER PRIMARY KEY AUTOINCREMENT,
    agent_id TEXT NOT NULL UNIQUE,
    tenant_id TEXT NOT NULL,
    publisher_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    tags TEXT,
    streaming INTEGER NOT NULL DEFAULT 0,
    push_notifications INTEGER NOT NULL DEFAULT 0,
    state_transition_log INTEGER NOT NULL DEFAULT 0,
    scheme_types TEXT,
    preferred_transport TEXT,
    public INTEGER NOT NULL DEFAULT 0,
    federated INTEGER NOT NULL DEFAULT 0,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agent_search_tenant ON agent_search(tenant_id);
CREATE INDEX IF NOT EXISTS idx_agent_search_public ON agent_search(public);
CREATE INDEX IF NOT EXISTS idx_agent_search_updated ON agent_search(updated_at DESC);

CREATE VIRTUAL TABLE IF NOT EXISTS agent_search_fts USING fts5(
    name, description, tags,
    content='agent_search',
    content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS agent_search_ai AFTER INSERT ON agent_search BEGIN
    INSERT INTO agent_search_fts(rowid, name, description, tags)
    VALUES (new.rowid, new.name, new.description, new.tags);
END;
CREATE TRIGGER IF NOT EXISTS agent_search_ad AFTER DELETE ON agent_search BEGIN
    INSERT INTO agent_search_fts(agent_search_fts, rowid, name, description, tags)
    VALUES ('delete', old.rowid, old.name, old.description, old.tags);
END;
CREATE TRIGGER IF NOT EXISTS agent_search_au AFTER UPDATE ON agent_search BEGIN
    INSERT INTO agent_search_fts(agent_search_fts, rowid, name, description, tags)
    VALUES ('delete', old.rowid, old.name, old.description, old.tags);
    INSERT INTO agent_search_fts(rowid, name, description, tags)
    VALUES (new.rowid, new.name, new.description, new.tags);
END;

CREATE TABLE IF NOT EXISTS repair_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    agent_id TEXT NOT NULL,
    op TEXT NOT NULL,
    payload TEXT,
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    created_at TEXT NOT NULL
);
`

// SQLiteIndex is the Index implementation backed by modernc.org/sqlite.
type SQLiteIndex struct {
	db *sql.DB
}

// OpenSQLiteIndex opens (creating if absent) the search index database at
// path, e.g. "file:searchindex.db" or ":memory:" in tests.
func OpenSQLiteIndex(path string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("searchindex: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway; avoid SQLITE_BUSY churn

	idx := &SQLiteIndex{db: db}
	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (s *SQLiteIndex) initSchema() error {
	var version int
	err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows || err == sql.ErrConnDone {
		err = nil
	}
	if err != nil || version == 0 {
		if _, err := s.db.Exec(schema); err != nil {
			return fmt.Errorf("searchindex: create schema: %w", err)
		}
		if _, err := s.db.Exec("INSERT OR REPLACE INTO schema_version (version) VALUES (?)", currentSchemaVersion); err != nil {
			return fmt.Errorf("searchindex: set schema version: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

// Upsert implements Index.
func (s *SQLiteIndex) Upsert(ctx context.Context, v AgentView) error {
	tags, err := json.Marshal(v.Tags)
	if err != nil {
		return fmt.Errorf("searchindex: marshal tags: %w", err)
	}
	schemes, err := json.Marshal(v.SecuritySchemeTypes)
	if err != nil {
		return fmt.Errorf("searchindex: marshal schemes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_search (
			agent_id, tenant_id, publisher_id, name, description, tags,
			streaming, push_notifications, state_transition_log,
			scheme_types, preferred_transport, public, federated, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			publisher_id = excluded.publisher_id,
			name = excluded.name,
			description = excluded.description,
			tags = excluded.tags,
			streaming = excluded.streaming,
			push_notifications = excluded.push_notifications,
			state_transition_log = excluded.state_transition_log,
			scheme_types = excluded.scheme_types,
			preferred_transport = excluded.preferred_transport,
			public = excluded.public,
			federated = excluded.federated,
			updated_at = excluded.updated_at
	`,
		v.AgentID.String(), v.TenantID.String(), v.PublisherID.String(), v.Name, v.Description, string(tags),
		boolToInt(v.Streaming), boolToInt(v.PushNotifications), boolToInt(v.StateTransitionLog),
		string(schemes), v.PreferredTransport, boolToInt(v.Public), boolToInt(v.FederatedFrom != nil),
		v.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("searchindex: upsert: %w", err)
	}
	return nil
}

// Delete implements Index.
func (s *SQLiteIndex) Delete(ctx context.Context, agentID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM agent_search WHERE agent_id = ?", agentID.String()); err != nil {
		return fmt.Errorf("searchindex: delete: %w", err)
	}
	return nil
}

// Search implements Index. Visibility is applied in SQL alongside the
// free-text match, at tenant granularity: public rows, plus every row of
// vis.TenantID when EntitledSubjects is non-empty (or only that tenant's
// rows when IncludePublic is false). Per-subject entitlements are not
// checked here.
//
// Results are relevance-ranked (bm25) when query is non-empty, which rules
// out keyset pagination on a stable sort key; cursor is instead the decimal
// offset into the ranked result set, opaque to the caller exactly as the
// keyset cursors used elsewhere in the registry are.
func (s *SQLiteIndex) Search(ctx context.Context, query string, filter Filter, vis Visibility, cursor string, limit int) (SearchPage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return SearchPage{}, fmt.Errorf("searchindex: malformed cursor %q: %w", cursor, err)
		}
		offset = n
	}

	var where []string
	var args []interface{}

	visClause := "a.public = 1"
	if len(vis.EntitledSubjects) > 0 {
		visClause = "(a.public = 1 OR a.tenant_id = ?)"
		args = append(args, vis.TenantID.String())
	} else if !vis.IncludePublic {
		visClause = "a.tenant_id = ?"
		args = append(args, vis.TenantID.String())
	}
	where = append(where, visClause)

	if filter.TenantID != nil {
		where = append(where, "a.tenant_id = ?")
		args = append(args, filter.TenantID.String())
	}
	if filter.PublisherID != nil {
		where = append(where, "a.publisher_id = ?")
		args = append(args, filter.PublisherID.String())
	}
	if filter.Public != nil {
		where = append(where, "a.public = ?")
		args = append(args, boolToInt(*filter.Public))
	}
	if filter.Streaming != nil {
		where = append(where, "a.streaming = ?")
		args = append(args, boolToInt(*filter.Streaming))
	}
	if filter.SchemeType != "" {
		where = append(where, "a.scheme_types LIKE ?")
		args = append(args, "%\""+filter.SchemeType+"\"%")
	}
	if filter.Transport != "" {
		where = append(where, "a.preferred_transport = ?")
		args = append(args, filter.Transport)
	}

	var (
		rows *sql.Rows
		err  error
	)
	if strings.TrimSpace(query) == "" {
		sqlStr := fmt.Sprintf(`
			SELECT a.agent_id FROM agent_search a
			WHERE %s
			ORDER BY a.updated_at DESC, a.agent_id DESC
			LIMIT ? OFFSET ?
		`, strings.Join(where, " AND "))
		args = append(args, limit+1, offset)
		rows, err = s.db.QueryContext(ctx, sqlStr, args...)
	} else {
		sqlStr := fmt.Sprintf(`
			SELECT a.agent_id FROM agent_search a
			JOIN agent_search_fts f ON f.rowid = a.rowid
			WHERE agent_search_fts MATCH ? AND %s
			ORDER BY bm25(agent_search_fts), a.updated_at DESC
			LIMIT ? OFFSET ?
		`, strings.Join(where, " AND "))
		ftsArgs := append([]interface{}{query}, args...)
		ftsArgs = append(ftsArgs, limit+1, offset)
		rows, err = s.db.QueryContext(ctx, sqlStr, ftsArgs...)
	}
	if err != nil {
		return SearchPage{}, fmt.Errorf("searchindex: query: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return SearchPage{}, fmt.Errorf("searchindex: scan: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return SearchPage{}, fmt.Errorf("searchindex: parse agent_id: %w", err)
		}
		ids = append(ids, id)
	}

	page := SearchPage{AgentIDs: ids}
	if len(ids) > limit {
		page.AgentIDs = ids[:limit]
		page.NextCursor = strconv.Itoa(offset + limit)
	}
	return page, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
