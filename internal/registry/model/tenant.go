package model

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is the top-level isolation boundary: it owns publishers and
// consumers, and every Agent Record and Entitlement is scoped to one.
type Tenant struct {
	ID        uuid.UUID `json:"id"         db:"id"`
	Name      string    `json:"name"       db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Publisher is the logical producer of agents within a tenant — derived
// from the authenticated principal, or set explicitly by an Administrator
// via publisher_override.
type Publisher struct {
	ID          uuid.UUID `json:"id"           db:"id"`
	TenantID    uuid.UUID `json:"tenant_id"    db:"tenant_id"`
	DisplayName string    `json:"display_name" db:"display_name"`
	CreatedAt   time.Time `json:"created_at"   db:"created_at"`
}

// SyntheticPublisherName returns the reserved publisher name under which
// the Federation Manager persists agents learned from peer, a namespace
// that can never collide with a locally published agent (spec.md §4.10).
func SyntheticPublisherName(peerName string) string {
	return "peer:" + peerName
}
