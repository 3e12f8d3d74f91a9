package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/A2AReg/a2a-registry/internal/apierr"
	"github.com/A2AReg/a2a-registry/internal/authz"
	"github.com/A2AReg/a2a-registry/internal/registry/service"
	"github.com/A2AReg/a2a-registry/pkg/agentcard"
)

// PublishHandler serves POST /agents/publish.
type PublishHandler struct {
	svc    *service.PublishService
	logger *zap.Logger
}

// NewPublishHandler creates a PublishHandler.
func NewPublishHandler(svc *service.PublishService, logger *zap.Logger) *PublishHandler {
	return &PublishHandler{svc: svc, logger: logger}
}

// Register mounts the publish route.
func (h *PublishHandler) Register(rg *gin.RouterGroup, issuer *authz.Issuer) {
	rg.POST("/agents/publish", authz.RequirePrincipal(issuer), h.Publish)
}

// publishRequest is the body of POST /agents/publish: either {card, public}
// or {cardUrl, public}, optionally with publisherOverride (Administrator
// only, enforced by the service).
type publishRequest struct {
	Card              *agentcard.Card `json:"card"`
	CardURL           string          `json:"cardUrl"`
	Public            bool            `json:"public"`
	PublisherOverride string          `json:"publisherOverride"`
}

// Publish handles POST /agents/publish.
func (h *PublishHandler) Publish(c *gin.Context) {
	principal, ok := authz.FromContext(c)
	if !ok {
		writeError(c, h.logger, apierr.New(apierr.KindUnauthenticated, "bearer token required"))
		return
	}

	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.logger, apierr.InvalidCard([]apierr.FieldError{{FieldPath: "body", Reason: err.Error()}}))
		return
	}
	if req.Card == nil && req.CardURL == "" {
		writeError(c, h.logger, apierr.InvalidCard([]apierr.FieldError{{FieldPath: "card", Reason: "either card or cardUrl is required"}}))
		return
	}

	var (
		result *service.PublishResult
		err    error
	)
	ctx := c.Request.Context()
	if req.Card != nil {
		result, err = h.svc.PublishByValue(ctx, principal, req.Card, req.Public, req.PublisherOverride)
	} else {
		result, err = h.svc.PublishByURL(ctx, principal, req.CardURL, req.Public, req.PublisherOverride)
	}

	if err != nil {
		// Overloaded is returned alongside a retained result (step 7 of the
		// publish algorithm): the version was persisted, only the search
		// index write failed, so the response is 503 with the ids and a
		// warning in the body rather than a bare error.
		if e, ok := apierr.As(err); ok && e.Kind == apierr.KindOverloaded && result != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"agentId": result.AgentID, "versionId": result.VersionID, "created": result.Created,
				"warning": e.Message,
			})
			return
		}
		writeError(c, h.logger, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"agentId": result.AgentID, "versionId": result.VersionID, "created": result.Created})
}
