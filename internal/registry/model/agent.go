package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/A2AReg/a2a-registry/pkg/agentcard"
)

// Source records how an Agent Version entered the store.
type Source string

const (
	SourceByValue   Source = "by_value"
	SourceByURL     Source = "by_url"
	SourceFederated Source = "federated"
)

// AgentRecord is the mutable head pointer for an agent inside a tenant —
// unique within (tenant_id, publisher_id, name).
type AgentRecord struct {
	ID              uuid.UUID  `json:"id"               db:"id"`
	TenantID        uuid.UUID  `json:"tenant_id"        db:"tenant_id"`
	PublisherID     uuid.UUID  `json:"publisher_id"     db:"publisher_id"`
	Name            string     `json:"name"             db:"name"`
	LatestVersionID uuid.UUID  `json:"latest_version_id" db:"latest_version_id"`
	Public          bool       `json:"public"           db:"public"`
	FederatedFrom   *uuid.UUID `json:"federated_from,omitempty" db:"federated_from"`
	Hidden          bool       `json:"hidden"           db:"hidden"`
	CreatedAt       time.Time  `json:"created_at"       db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"       db:"updated_at"`
}

// IsFederated reports whether this record is owned by the Federation
// Manager and therefore cannot be mutated by local publish (invariant 5).
func (a *AgentRecord) IsFederated() bool {
	return a.FederatedFrom != nil
}

// AgentVersion is an immutable snapshot of a published Agent Card.
type AgentVersion struct {
	ID          uuid.UUID       `json:"id"           db:"id"`
	AgentID     uuid.UUID       `json:"agent_id"     db:"agent_id"`
	Version     string          `json:"version"      db:"version"`
	Card        *agentcard.Card `json:"card"         db:"card"`
	ContentHash []byte          `json:"content_hash" db:"content_hash"`
	Source      Source          `json:"source"       db:"source"`
	SourceURL   string          `json:"source_url,omitempty" db:"source_url"`
	Signed      bool            `json:"signed"       db:"signed"`
	CreatedAt   time.Time       `json:"created_at"   db:"created_at"`
}

// Entitlement is a positive grant making a non-public agent visible to a
// subject — a consumer ID, a principal ID, or a role — inside a tenant.
type Entitlement struct {
	ID        uuid.UUID  `json:"id"         db:"id"`
	TenantID  uuid.UUID  `json:"tenant_id"  db:"tenant_id"`
	Subject   string     `json:"subject"    db:"subject"`
	AgentID   uuid.UUID  `json:"agent_id"   db:"agent_id"`
	GrantedAt time.Time  `json:"granted_at" db:"granted_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
}

// Active reports whether the entitlement currently grants visibility.
func (e *Entitlement) Active() bool {
	return e.RevokedAt == nil
}
