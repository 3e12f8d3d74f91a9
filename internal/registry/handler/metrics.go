package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registryAgentsTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "registry_agents_total",
		Help: "Total number of registered agent records by visibility.",
	}, []string{"visibility"})

	registryRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registry_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	registryRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "registry_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	registryPublishesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registry_publishes_total",
		Help: "Total publish attempts by outcome.",
	}, []string{"outcome"})

	registrySearchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registry_searches_total",
		Help: "Total search queries served.",
	})

	registryIndexRepairBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "registry_index_repair_backlog",
		Help: "Depth of the search index repair log (spec.md §4.5 index_repair_backlog).",
	})

	registryRateLimitRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registry_rate_limit_rejections_total",
		Help: "Total requests rejected by the rate limiter, by endpoint class.",
	}, []string{"class"})

	registrySyncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registry_sync_runs_total",
		Help: "Total federation sync runs by outcome.",
	}, []string{"outcome"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		registryRequestsTotal.WithLabelValues(method, path, status).Inc()
		registryRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordPublish records a publish attempt outcome ("created", "idempotent",
// "rejected", "overloaded").
func RecordPublish(outcome string) {
	registryPublishesTotal.WithLabelValues(outcome).Inc()
}

// RecordSearch records one search query served.
func RecordSearch() {
	registrySearchesTotal.Inc()
}

// SetIndexRepairBacklog sets the search index repair log depth gauge, fed
// by the Reconciler's backlogGauge callback.
func SetIndexRepairBacklog(depth int) {
	registryIndexRepairBacklog.Set(float64(depth))
}

// RecordRateLimitRejection records a rate-limited request for the given
// endpoint class.
func RecordRateLimitRejection(class string) {
	registryRateLimitRejectionsTotal.WithLabelValues(class).Inc()
}

// RecordSyncRun records a federation sync run outcome ("ok", "partial",
// "error", "cancelled").
func RecordSyncRun(outcome string) {
	registrySyncRunsTotal.WithLabelValues(outcome).Inc()
}

// SetAgentsGauge sets the agent count gauge for a given visibility
// ("public" or "private").
func SetAgentsGauge(visibility string, count float64) {
	registryAgentsTotal.WithLabelValues(visibility).Set(count)
}
