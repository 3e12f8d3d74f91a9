package handler

import (
	"encoding/hex"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/A2AReg/a2a-registry/internal/apierr"
	"github.com/A2AReg/a2a-registry/internal/registry/service"
	"github.com/A2AReg/a2a-registry/pkg/agentcard"
)

// WellKnownHandler serves the registry's own well-known surface: the
// public agent index peers crawl during federation sync, and the
// registry's own Agent Card identifying itself as a service.
type WellKnownHandler struct {
	svc     *service.DiscoveryService
	ownCard *agentcard.Card
	logger  *zap.Logger
}

// NewWellKnownHandler creates a WellKnownHandler. ownCard describes this
// registry instance as an Agent Card (built by the composition root from
// configuration); it is served verbatim at /.well-known/agent.json.
func NewWellKnownHandler(svc *service.DiscoveryService, ownCard *agentcard.Card, logger *zap.Logger) *WellKnownHandler {
	return &WellKnownHandler{svc: svc, ownCard: ownCard, logger: logger}
}

// Register mounts the well-known routes, unauthenticated per spec.md §4.11.
func (h *WellKnownHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/.well-known/agents/index.json", h.Index)
	rg.GET("/.well-known/agent.json", h.OwnCard)
	rg.GET("/.well-known/agents/:id/agent.json", h.PublicCard)
}

// Index handles GET /.well-known/agents/index.json: the paginated public
// index a peer's Federation Manager crawls during sync.
func (h *WellKnownHandler) Index(c *gin.Context) {
	page, err := h.svc.WellKnownIndex(c.Request.Context(), parseCursor(c), parseLimit(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	entries := make([]gin.H, len(page.Agents))
	for i, r := range page.Agents {
		contentHash := ""
		if r.Version != nil {
			contentHash = hex.EncodeToString(r.Version.ContentHash)
		}
		entries[i] = gin.H{
			"publisher":   r.Record.PublisherID.String(),
			"name":        r.Record.Name,
			"contentHash": contentHash,
			"cardUrl":     page.RegistryURL + "/.well-known/agents/" + r.Record.ID.String() + "/agent.json",
		}
	}
	body := gin.H{"registryUrl": page.RegistryURL, "entries": entries}
	if page.NextCursor != "" {
		body["nextCursor"] = page.NextCursor
	}
	c.JSON(http.StatusOK, body)
}

// PublicCard handles GET /.well-known/agents/{id}/agent.json: the full
// card for one public agent, the URL the index above hands out.
func (h *WellKnownHandler) PublicCard(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, h.logger, apierr.NotFound("agent"))
		return
	}
	card, err := h.svc.WellKnownCard(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, card)
}

// OwnCard handles GET /.well-known/agent.json: the registry's own card.
func (h *WellKnownHandler) OwnCard(c *gin.Context) {
	if h.ownCard == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "registry card not configured"})
		return
	}
	c.JSON(http.StatusOK, h.ownCard)
}
