package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/A2AReg/a2a-registry/internal/apierr"
	"github.com/A2AReg/a2a-registry/internal/authz"
	"github.com/A2AReg/a2a-registry/internal/cache"
	"github.com/A2AReg/a2a-registry/internal/registry/model"
	"github.com/A2AReg/a2a-registry/internal/registry/repository"
	"github.com/A2AReg/a2a-registry/internal/searchindex"
	"github.com/A2AReg/a2a-registry/pkg/agentcard"
)

// cursor is the decoded form of the opaque pagination token spec.md §4.6
// defines as a (updated_at, id) tuple.
type cursor struct {
	UpdatedAt time.Time `json:"u"`
	ID        uuid.UUID `json:"i"`
}

// zeroCursor is the starting point: "from the most recently updated record".
var zeroCursor = cursor{UpdatedAt: time.Unix(1<<62, 0).UTC()}

func decodeCursor(s string) (cursor, error) {
	if s == "" {
		return zeroCursor, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return cursor{}, apierr.New(apierr.KindInvalidCursor, "cursor is not valid base64")
	}
	var c cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return cursor{}, apierr.New(apierr.KindInvalidCursor, "cursor does not decode to a pagination token")
	}
	return c, nil
}

func encodeCursor(updatedAt time.Time, id uuid.UUID) string {
	raw, _ := json.Marshal(cursor{UpdatedAt: updatedAt, ID: id})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// clampLimit enforces spec.md §4.6's [1, 100] range, default 20.
func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 20
	case limit > 100:
		return 100
	default:
		return limit
	}
}

// AgentResult pairs a record with its latest version for a discovery
// response; handlers serialize this directly.
type AgentResult struct {
	Record  *model.AgentRecord
	Version *model.AgentVersion
}

// ListPage is a page of AgentResults plus the opaque cursor for the next
// page, empty when exhausted.
type ListPage struct {
	Items      []AgentResult
	NextCursor string
}

// AgentReader is the subset of the Agent Store (C3) the Discovery Service
// reads through, narrowed to an interface so read paths can be tested
// without a live Postgres connection.
type AgentReader interface {
	ListPublic(ctx context.Context, cursorUpdatedAt time.Time, cursorID uuid.UUID, limit int) ([]*model.AgentRecord, error)
	ListForTenant(ctx context.Context, tenantID uuid.UUID, cursorUpdatedAt time.Time, cursorID uuid.UUID, limit int, filter repository.ListFilter) ([]*model.AgentRecord, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.AgentRecord, error)
	GetLatest(ctx context.Context, agentID uuid.UUID) (*model.AgentVersion, error)
	IsEntitled(ctx context.Context, tenantID, agentID uuid.UUID, subjects []string) (bool, error)
}

// DiscoveryService implements the Discovery Service (C6): every read path
// over the Agent Store, filtered by visibility and served through the
// Cache Layer.
type DiscoveryService struct {
	agents AgentReader
	index  searchindex.Index
	cache  cache.Cache
	logger *zap.Logger

	registryBaseURL string
}

// NewDiscoveryService creates a DiscoveryService.
func NewDiscoveryService(agents AgentReader, index searchindex.Index, c cache.Cache, registryBaseURL string, logger *zap.Logger) *DiscoveryService {
	return &DiscoveryService{agents: agents, index: index, cache: c, registryBaseURL: registryBaseURL, logger: logger}
}

// ListPublic implements list_public(cursor, limit): cross-tenant, public
// agents only, servable without authentication.
func (s *DiscoveryService) ListPublic(ctx context.Context, cursorStr string, limit int) (*ListPage, error) {
	c, err := decodeCursor(cursorStr)
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	recs, err := s.agents.ListPublic(ctx, c.UpdatedAt, c.ID, limit+1)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindOverloaded, "list public agents", err)
	}
	return s.hydrate(ctx, recs, limit)
}

// ListEntitled implements list_entitled(principal, cursor, limit): the
// union of public-in-tenant and entitled agents for principal's tenant.
func (s *DiscoveryService) ListEntitled(ctx context.Context, principal authz.Principal, cursorStr string, limit int) (*ListPage, error) {
	c, err := decodeCursor(cursorStr)
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	tenantID, err := uuid.Parse(principal.Tenant)
	if err != nil {
		return nil, apierr.New(apierr.KindForbidden, "principal has no valid tenant")
	}

	filter := repository.ListFilter{EntitledBy: principal.Subject}
	recs, err := s.agents.ListForTenant(ctx, tenantID, c.UpdatedAt, c.ID, limit+1, filter)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindOverloaded, "list entitled agents", err)
	}
	return s.hydrate(ctx, recs, limit)
}

func (s *DiscoveryService) hydrate(ctx context.Context, recs []*model.AgentRecord, limit int) (*ListPage, error) {
	truncated := len(recs) > limit
	if truncated {
		recs = recs[:limit]
	}

	items := make([]AgentResult, 0, len(recs))
	for _, rec := range recs {
		version, err := s.agents.GetLatest(ctx, rec.ID)
		if err != nil {
			continue // version vanished between list and hydrate; skip rather than fail the page
		}
		items = append(items, AgentResult{Record: rec, Version: version})
	}

	page := &ListPage{Items: items}
	if truncated && len(recs) > 0 {
		last := recs[len(recs)-1]
		page.NextCursor = encodeCursor(last.UpdatedAt, last.ID)
	}
	return page, nil
}

// visible reports whether rec is visible to principal: public, or entitled
// by subject/tenant-role, and always scoped so that a mismatched tenant
// reads identically to an absent record (never Forbidden).
func (s *DiscoveryService) visible(ctx context.Context, rec *model.AgentRecord, principal *authz.Principal) bool {
	if rec.Public {
		return true
	}
	if principal == nil {
		return false
	}
	tenantID, err := uuid.Parse(principal.Tenant)
	if err != nil || tenantID != rec.TenantID {
		return false
	}
	if principal.IsAdministrator() {
		return true
	}
	subjects := append([]string{principal.Subject}, principal.Roles...)
	ok, err := s.agents.IsEntitled(ctx, rec.TenantID, rec.ID, subjects)
	return err == nil && ok
}

// GetAgent implements get_agent(id, principal): the record + latest card
// iff visible, else NotFound (existence is never revealed cross-tenant).
func (s *DiscoveryService) GetAgent(ctx context.Context, id uuid.UUID, principal *authz.Principal) (*AgentResult, error) {
	rec, err := s.agents.GetByID(ctx, id)
	if err != nil {
		return nil, apierr.NotFound("agent")
	}
	if !s.visible(ctx, rec, principal) {
		return nil, apierr.NotFound("agent")
	}
	version, err := s.agents.GetLatest(ctx, rec.ID)
	if err != nil {
		return nil, apierr.NotFound("agent")
	}
	return &AgentResult{Record: rec, Version: version}, nil
}

// GetCard implements get_card(id, principal): canonical card bytes, cached
// per spec.md §4.8's get_card TTL.
func (s *DiscoveryService) GetCard(ctx context.Context, id uuid.UUID, principal *authz.Principal) ([]byte, error) {
	tenant, subject := "", ""
	if principal != nil {
		tenant, subject = principal.Tenant, principal.Subject
	}
	key := cache.Key("get_card", tenant, subject, id.String())
	if s.cache != nil {
		if hit, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			return hit, nil
		}
	}

	result, err := s.GetAgent(ctx, id, principal)
	if err != nil {
		return nil, err
	}
	canon, err := agentcard.Canonicalize(result.Version.Card)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindOverloaded, "canonicalize card", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, canon, cache.TTLGetCard); err != nil && s.logger != nil {
			s.logger.Warn("cache set failed", zap.Error(err))
		}
	}
	return canon, nil
}

// SearchQuery is the input to Search, mirroring spec.md §6's POST
// /agents/search request body.
type SearchQuery struct {
	Q          string
	Tags       []string
	Publisher  string
	Transport  string
	Security   []string
	Public     *bool
	Cursor     string
	Limit      int
}

// Search implements search(principal, query, filters, cursor, limit):
// applies the visibility filter before returning any result.
func (s *DiscoveryService) Search(ctx context.Context, principal *authz.Principal, q SearchQuery) (*ListPage, error) {
	limit := clampLimit(q.Limit)

	var vis searchindex.Visibility
	if principal != nil {
		tenantID, err := uuid.Parse(principal.Tenant)
		if err != nil {
			return nil, apierr.New(apierr.KindForbidden, "principal has no valid tenant")
		}
		vis = searchindex.Visibility{
			TenantID:         tenantID,
			IncludePublic:    true,
			EntitledSubjects: append([]string{principal.Subject}, principal.Roles...),
		}
	} else {
		vis = searchindex.Visibility{IncludePublic: true}
	}

	filter := searchindex.Filter{Public: q.Public, Transport: q.Transport, SchemeType: firstOrEmpty(q.Security)}

	page, err := s.index.Search(ctx, q.Q, filter, vis, q.Cursor, limit)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindOverloaded, "search index", err)
	}

	items := make([]AgentResult, 0, len(page.AgentIDs))
	for _, id := range page.AgentIDs {
		rec, err := s.agents.GetByID(ctx, id)
		if err != nil {
			continue
		}
		if !s.visible(ctx, rec, principal) {
			continue
		}
		version, err := s.agents.GetLatest(ctx, rec.ID)
		if err != nil {
			continue
		}
		items = append(items, AgentResult{Record: rec, Version: version})
	}
	return &ListPage{Items: items, NextCursor: page.NextCursor}, nil
}

func firstOrEmpty(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}

// WellKnownIndex implements well_known_index(cursor, limit): public agents
// only, with a stable registry metadata header.
type WellKnownIndex struct {
	RegistryURL string
	Agents      []AgentResult
	NextCursor  string
}

func (s *DiscoveryService) WellKnownIndex(ctx context.Context, cursorStr string, limit int) (*WellKnownIndex, error) {
	page, err := s.ListPublic(ctx, cursorStr, limit)
	if err != nil {
		return nil, err
	}
	return &WellKnownIndex{RegistryURL: s.registryBaseURL, Agents: page.Items, NextCursor: page.NextCursor}, nil
}

// WellKnownCard implements well_known_card(id): public agents only.
func (s *DiscoveryService) WellKnownCard(ctx context.Context, id uuid.UUID) (*agentcard.Card, error) {
	rec, err := s.agents.GetByID(ctx, id)
	if err != nil || !rec.Public {
		return nil, apierr.NotFound("agent")
	}
	version, err := s.agents.GetLatest(ctx, rec.ID)
	if err != nil {
		return nil, apierr.NotFound("agent")
	}
	return version.Card, nil
}
