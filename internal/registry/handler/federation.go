package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/A2AReg/a2a-registry/internal/apierr"
	"github.com/A2AReg/a2a-registry/internal/authz"
	"github.com/A2AReg/a2a-registry/internal/federation"
)

// peerRepository is the subset of federation.Repository the handler reads
// and writes directly (sync triggering and state transitions go through
// syncTrigger instead, since those also touch the scheduler's in-memory
// state).
type peerRepository interface {
	CreatePeer(ctx context.Context, p *federation.Peer) error
	GetPeer(ctx context.Context, id uuid.UUID) (*federation.Peer, error)
	ListPeers(ctx context.Context) ([]*federation.Peer, error)
}

// syncTrigger is the subset of federation.Manager used to trigger,
// enable, and disable a peer's sync schedule.
type syncTrigger interface {
	TriggerSync(ctx context.Context, peerID uuid.UUID)
	Enable(ctx context.Context, peerID uuid.UUID) error
	Disable(ctx context.Context, peerID uuid.UUID) error
}

// FederationHandler serves Peer Registry CRUD and sync triggering
// (spec.md §6's `/peers[...]` Administrator-only surface).
type FederationHandler struct {
	repo    peerRepository
	manager syncTrigger
	logger  *zap.Logger
}

// NewFederationHandler creates a FederationHandler.
func NewFederationHandler(repo peerRepository, manager syncTrigger, logger *zap.Logger) *FederationHandler {
	return &FederationHandler{repo: repo, manager: manager, logger: logger}
}

// Register mounts the peer routes, all Administrator-only.
func (h *FederationHandler) Register(rg *gin.RouterGroup, issuer *authz.Issuer) {
	peers := rg.Group("/peers")
	peers.Use(authz.RequirePrincipal(issuer), authz.RequireRole(authz.RoleAdministrator))
	peers.POST("", h.CreatePeer)
	peers.GET("", h.ListPeers)
	peers.GET("/:id", h.GetPeer)
	peers.POST("/:id/sync", h.TriggerSync)
	peers.POST("/:id/enable", h.Enable)
	peers.POST("/:id/disable", h.Disable)
}

type createPeerRequest struct {
	Name          string `json:"name"`
	BaseURL       string `json:"baseUrl"`
	AuthToken     string `json:"authToken"`
	SyncIntervalS int    `json:"syncIntervalS"`
}

// CreatePeer handles POST /peers.
func (h *FederationHandler) CreatePeer(c *gin.Context) {
	var req createPeerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, apierr.New(apierr.KindInvalidCursor, "malformed peer request: "+err.Error()))
		return
	}
	if req.Name == "" || req.BaseURL == "" {
		writeError(c, h.logger, apierr.New(apierr.KindInvalidCursor, "name and baseUrl are required"))
		return
	}

	peer := &federation.Peer{
		Name:          req.Name,
		BaseURL:       req.BaseURL,
		AuthToken:     req.AuthToken,
		SyncIntervalS: req.SyncIntervalS,
		Status:        federation.StatusActive,
	}
	if err := h.repo.CreatePeer(c.Request.Context(), peer); err != nil {
		h.logger.Error("create peer", zap.Error(err))
		writeError(c, h.logger, apierr.Wrap(apierr.KindOverloaded, "create peer", err))
		return
	}
	c.JSON(http.StatusCreated, peer)
}

// ListPeers handles GET /peers.
func (h *FederationHandler) ListPeers(c *gin.Context) {
	peers, err := h.repo.ListPeers(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, apierr.Wrap(apierr.KindOverloaded, "list peers", err))
		return
	}
	if peers == nil {
		peers = []*federation.Peer{}
	}
	c.JSON(http.StatusOK, gin.H{"peers": peers})
}

// GetPeer handles GET /peers/{id}.
func (h *FederationHandler) GetPeer(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, h.logger, apierr.NotFound("peer"))
		return
	}
	peer, err := h.repo.GetPeer(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, apierr.NotFound("peer"))
		return
	}
	c.JSON(http.StatusOK, peer)
}

// TriggerSync handles POST /peers/{id}/sync: spec.md §6 specifies 202
// Accepted since the sync runs asynchronously on the Federation Manager's
// scheduler.
func (h *FederationHandler) TriggerSync(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, h.logger, apierr.NotFound("peer"))
		return
	}
	if _, err := h.repo.GetPeer(c.Request.Context(), id); err != nil {
		writeError(c, h.logger, apierr.NotFound("peer"))
		return
	}
	h.manager.TriggerSync(c.Request.Context(), id)
	c.JSON(http.StatusAccepted, gin.H{"peerId": id.String(), "status": "sync triggered"})
}

// Enable handles POST /peers/{id}/enable.
func (h *FederationHandler) Enable(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, h.logger, apierr.NotFound("peer"))
		return
	}
	if err := h.manager.Enable(c.Request.Context(), id); err != nil {
		writeError(c, h.logger, apierr.NotFound("peer"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"peerId": id.String(), "status": "active"})
}

// Disable handles POST /peers/{id}/disable.
func (h *FederationHandler) Disable(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, h.logger, apierr.NotFound("peer"))
		return
	}
	if err := h.manager.Disable(c.Request.Context(), id); err != nil {
		writeError(c, h.logger, apierr.NotFound("peer"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"peerId": id.String(), "status": "disabled"})
}
