// Package searchindex implements the Search Indexer (C5): a searchable
// projection of Agent Records fed asynchronously by the Publish Service and
// the Federation Manager, backed by SQLite FTS5.
package searchindex

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AgentView is the materialized, denormalized view of one Agent Record +
// its latest Agent Version, the unit the indexer deals in.
type AgentView struct {
	AgentID            uuid.UUID
	TenantID           uuid.UUID
	PublisherID        uuid.UUID
	Name               string
	Description        string
	Tags               []string
	Streaming          bool
	PushNotifications  bool
	StateTransitionLog bool
	SecuritySchemeTypes []string
	PreferredTransport string
	Public             bool
	FederatedFrom      *uuid.UUID
	UpdatedAt          time.Time
}

// Filter narrows Search beyond the free-text query.
type Filter struct {
	TenantID      *uuid.UUID
	PublisherID   *uuid.UUID
	Public        *bool
	Streaming     *bool
	SchemeType    string
	Transport     string
}

// Visibility is the set of tenant/entitlement constraints the caller's
// principal is allowed to see, applied by the store alongside Filter. The
// SQLite store resolves it per tenant only; the Discovery Service re-checks
// each hit against the record-level visibility rules.
type Visibility struct {
	TenantID        uuid.UUID
	IncludePublic   bool
	EntitledSubjects []string
}

// SearchPage is one page of search results, ordered by relevance then
// updated_at desc.
type SearchPage struct {
	AgentIDs   []uuid.UUID
	NextCursor string
}

// Index is the port consumed by the Publish Service, Discovery Service, and
// Federation Manager.
type Index interface {
	Upsert(ctx context.Context, view AgentView) error
	Delete(ctx context.Context, agentID uuid.UUID) error
	Search(ctx context.Context, query string, filter Filter, vis Visibility, cursor string, limit int) (SearchPage, error)
}

// Default tunables from spec.md §4.5.
const (
	StalenessBudget      = 2 * time.Second
	EnqueueTimeout       = 500 * time.Millisecond
	RetryBaseBackoff     = 200 * time.Millisecond
	RetryMaxBackoff      = 5 * time.Second
	RetryMaxAttempts     = 5
	RepairReconcileEvery = 60 * time.Second
)
