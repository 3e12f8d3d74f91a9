package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/A2AReg/a2a-registry/internal/health"
)

// HealthHandler serves the unauthenticated liveness/readiness probes.
type HealthHandler struct {
	checker *health.Checker
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(checker *health.Checker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// Register mounts the health routes.
func (h *HealthHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/health", h.Health)
	rg.GET("/health/ready", h.Ready)
	rg.GET("/health/live", h.Live)
}

// Health handles GET /health: a full status dump, useful for dashboards.
func (h *HealthHandler) Health(c *gin.Context) {
	status := h.checker.Status()
	c.JSON(http.StatusOK, gin.H{
		"dbHealthy":          status.DBHealthy,
		"repairBacklog":      status.RepairBacklog,
		"schedulerHealthy":   status.SchedulerHealthy,
		"schedulerStaleness": status.SchedulerStaleness.String(),
		"checked":            status.Checked.Format(timeFormat),
	})
}

// Ready handles GET /health/ready: 200 iff the registry can serve traffic
// (DB reachable, repair backlog under threshold).
func (h *HealthHandler) Ready(c *gin.Context) {
	status := h.checker.Status()
	if !status.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

// Live handles GET /health/live: process liveness only, always 200 once
// the server is accepting connections.
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"live": true})
}
