package federation

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a peer registry, per spec.md's per-peer
// state machine.
type Status string

const (
	StatusActive   Status = "active"
	StatusSyncing  Status = "syncing"
	StatusDisabled Status = "disabled"
	StatusError    Status = "error"
)

// Peer is a remote registry this node pulls agent cards from.
type Peer struct {
	ID             uuid.UUID  `json:"id"              db:"id"`
	Name           string     `json:"name"            db:"name"`
	BaseURL        string     `json:"base_url"        db:"base_url"`
	AuthToken      string     `json:"-"               db:"auth_token"`
	SyncIntervalS  int        `json:"sync_interval_s" db:"sync_interval_s"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty" db:"last_sync_at"`
	LastCursor     string     `json:"last_cursor,omitempty"  db:"last_cursor"`
	Status         Status     `json:"status"          db:"status"`
	LastError      string     `json:"last_error,omitempty" db:"last_error"`
	CreatedAt      time.Time  `json:"created_at"      db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"      db:"updated_at"`
}

// DefaultSyncIntervalSeconds is used when a peer is registered without an
// explicit sync_interval_s (spec.md §4.10).
const DefaultSyncIntervalSeconds = 3600

// Outcome is the terminal result of a Sync Run.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomePartial   Outcome = "partial"
	OutcomeError     Outcome = "error"
	OutcomeCancelled Outcome = "cancelled"
)

// SyncRun is an append-only record of one pull-sync attempt against a peer.
type SyncRun struct {
	ID         uuid.UUID  `json:"id"          db:"id"`
	PeerID     uuid.UUID  `json:"peer_id"     db:"peer_id"`
	StartedAt  time.Time  `json:"started_at"  db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	Outcome    Outcome    `json:"outcome"     db:"outcome"`
	Added      int        `json:"added"       db:"added"`
	Updated    int        `json:"updated"     db:"updated"`
	Removed    int        `json:"removed"     db:"removed"`
	Error      string     `json:"error,omitempty" db:"error"`
}

// IndexEntry is one row of a peer's /.well-known/agents/index.json page —
// the minimal identity the diff algorithm needs before fetching full cards.
type IndexEntry struct {
	Publisher   string `json:"publisher"`
	Name        string `json:"name"`
	ContentHash string `json:"content_hash"`
	CardURL     string `json:"card_url"`
}

// IndexPage is one page of a peer's well-known agent index.
type IndexPage struct {
	Entries    []IndexEntry `json:"entries"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

// agentKey identifies a remote agent independent of peer-local database
// IDs: (peer, remote publisher, remote name), per spec.md §4.10 step 2.
type agentKey struct {
	Publisher string
	Name      string
}

// LocalName packs a remote (publisher, name) pair into the single Name
// column the Agent Store indexes on. All of one peer's federated agents
// share the synthetic publisher row "peer:{peer.name}", so the remote
// publisher has to travel inside Name to keep (tenant_id, publisher_id,
// name) unique across distinct remote publishers on the same peer.
func (k agentKey) LocalName() string {
	return k.Publisher + "/" + k.Name
}
