package handler

import (
	"encoding/hex"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/A2AReg/a2a-registry/internal/apierr"
	"github.com/A2AReg/a2a-registry/internal/authz"
	"github.com/A2AReg/a2a-registry/internal/registry/service"
)

// DiscoveryHandler serves the read surface of spec.md §6: public/entitled
// listing, get-by-id, card fetch, and search.
type DiscoveryHandler struct {
	svc    *service.DiscoveryService
	logger *zap.Logger
}

// NewDiscoveryHandler creates a DiscoveryHandler.
func NewDiscoveryHandler(svc *service.DiscoveryService, logger *zap.Logger) *DiscoveryHandler {
	return &DiscoveryHandler{svc: svc, logger: logger}
}

// Register mounts the discovery routes. The entitled listing and search
// answer 401 without a valid bearer token; the other routes also serve
// anonymous callers and use the principal when a valid token is sent.
func (h *DiscoveryHandler) Register(rg *gin.RouterGroup, issuer *authz.Issuer) {
	rg.GET("/agents/public", authz.OptionalPrincipal(issuer), h.ListPublic)
	rg.GET("/agents/entitled", authz.RequirePrincipal(issuer), h.ListEntitled)
	rg.GET("/agents/:id", authz.OptionalPrincipal(issuer), h.GetAgent)
	rg.GET("/agents/:id/card", authz.OptionalPrincipal(issuer), h.GetCard)
	rg.POST("/agents/search", authz.RequirePrincipal(issuer), h.Search)
}

func principalPtr(c *gin.Context) *authz.Principal {
	if p, ok := authz.FromContext(c); ok {
		return &p
	}
	return nil
}

// agentJSON is the wire shape for a record + its latest version, shared by
// list/get/search responses.
type agentJSON struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenantId"`
	PublisherID   string `json:"publisherId"`
	Name          string `json:"name"`
	Public        bool   `json:"public"`
	FederatedFrom string `json:"federatedFrom,omitempty"`
	UpdatedAt     string `json:"updatedAt"`
	Version       struct {
		ID          string `json:"id"`
		Version     string `json:"version"`
		ContentHash string `json:"contentHash"`
		Source      string `json:"source"`
		Card        any    `json:"card"`
	} `json:"version"`
}

func toAgentJSON(r service.AgentResult) agentJSON {
	out := agentJSON{
		ID:          r.Record.ID.String(),
		TenantID:    r.Record.TenantID.String(),
		PublisherID: r.Record.PublisherID.String(),
		Name:        r.Record.Name,
		Public:      r.Record.Public,
		UpdatedAt:   r.Record.UpdatedAt.Format(timeFormat),
	}
	if r.Record.FederatedFrom != nil {
		out.FederatedFrom = r.Record.FederatedFrom.String()
	}
	if r.Version != nil {
		out.Version.ID = r.Version.ID.String()
		out.Version.Version = r.Version.Version
		out.Version.ContentHash = hex.EncodeToString(r.Version.ContentHash)
		out.Version.Source = string(r.Version.Source)
		out.Version.Card = r.Version.Card
	}
	return out
}

const timeFormat = "2006-01-02T15:04:05.999999999Z07:00"

func pageJSON(items []service.AgentResult, nextCursor string) gin.H {
	out := make([]agentJSON, len(items))
	for i, r := range items {
		out[i] = toAgentJSON(r)
	}
	body := gin.H{"items": out}
	if nextCursor != "" {
		body["nextCursor"] = nextCursor
	}
	return body
}

func parseLimit(c *gin.Context) int {
	// spec.md §6 names the query params "top"/"skip"; this registry paginates
	// by opaque cursor rather than offset, so "top" is accepted as the limit
	// alias and "cursor" (or, for bit-exact clients, "skip") carries the token.
	if v := c.Query("top"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

func parseCursor(c *gin.Context) string {
	if v := c.Query("cursor"); v != "" {
		return v
	}
	return c.Query("skip")
}

// ListPublic handles GET /agents/public.
func (h *DiscoveryHandler) ListPublic(c *gin.Context) {
	page, err := h.svc.ListPublic(c.Request.Context(), parseCursor(c), parseLimit(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, pageJSON(page.Items, page.NextCursor))
}

// ListEntitled handles GET /agents/entitled.
func (h *DiscoveryHandler) ListEntitled(c *gin.Context) {
	principal, ok := authz.FromContext(c)
	if !ok {
		writeError(c, h.logger, apierr.New(apierr.KindUnauthenticated, "bearer token required"))
		return
	}
	page, err := h.svc.ListEntitled(c.Request.Context(), principal, parseCursor(c), parseLimit(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, pageJSON(page.Items, page.NextCursor))
}

// GetAgent handles GET /agents/{id}.
func (h *DiscoveryHandler) GetAgent(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, h.logger, apierr.NotFound("agent"))
		return
	}
	result, err := h.svc.GetAgent(c.Request.Context(), id, principalPtr(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toAgentJSON(*result))
}

// GetCard handles GET /agents/{id}/card.
func (h *DiscoveryHandler) GetCard(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, h.logger, apierr.NotFound("agent"))
		return
	}
	canon, err := h.svc.GetCard(c.Request.Context(), id, principalPtr(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", canon)
}

// searchRequest is the body of POST /agents/search.
type searchRequest struct {
	Q       string `json:"q"`
	Filters struct {
		Tags      []string `json:"tags"`
		Publisher string   `json:"publisher"`
		Transport string   `json:"transport"`
		Security  []string `json:"security"`
		Public    *bool    `json:"public"`
	} `json:"filters"`
	Top    int    `json:"top"`
	Cursor string `json:"cursor"`
}

// Search handles POST /agents/search.
func (h *DiscoveryHandler) Search(c *gin.Context) {
	principal, ok := authz.FromContext(c)
	if !ok {
		writeError(c, h.logger, apierr.New(apierr.KindUnauthenticated, "bearer token required"))
		return
	}

	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, apierr.New(apierr.KindInvalidCursor, "malformed search request: "+err.Error()))
		return
	}

	page, err := h.svc.Search(c.Request.Context(), &principal, service.SearchQuery{
		Q:         req.Q,
		Tags:      req.Filters.Tags,
		Publisher: req.Filters.Publisher,
		Transport: req.Filters.Transport,
		Security:  req.Filters.Security,
		Public:    req.Filters.Public,
		Cursor:    req.Cursor,
		Limit:     req.Top,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, pageJSON(page.Items, page.NextCursor))
}
