// Package health implements the registry's liveness/readiness probes:
// database connectivity, search index repair backlog, and federation
// scheduler liveness.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
}

// Pinger is the subset of the database pool the checker probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BacklogReader reports the search index repair log depth (searchindex.RepairLog.Backlog).
type BacklogReader interface {
	Backlog(ctx context.Context) (int, error)
}

// SchedulerLiveness reports whether the federation scheduler has ticked
// recently. A federation.Manager with no peers configured reports healthy.
type SchedulerLiveness interface {
	LastTick() time.Time
}

// Status is the outcome of one probe pass.
type Status struct {
	DBHealthy          bool
	RepairBacklog      int
	BacklogThreshold   int
	SchedulerHealthy   bool
	SchedulerStaleness time.Duration
	Checked            time.Time
}

// Ready reports whether the registry can serve traffic: DB reachable and
// the repair backlog under threshold. Scheduler staleness does not gate
// readiness — federation is best-effort.
func (s Status) Ready() bool {
	return s.DBHealthy && s.RepairBacklog <= s.BacklogThreshold
}

// Checker runs periodic probes of the registry's own dependencies, used by
// the /health, /health/ready, and /health/live HTTP endpoints.
type Checker struct {
	db        Pinger
	backlog   BacklogReader
	scheduler SchedulerLiveness
	cfg       Config
	logger    *zap.Logger

	mu   sync.RWMutex
	last Status
}

// New creates a Checker. scheduler may be nil when federation is disabled,
// in which case scheduler liveness always reports healthy.
func New(db Pinger, backlog BacklogReader, scheduler SchedulerLiveness, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 15 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 3 * time.Second
	}
	return &Checker{db: db, backlog: backlog, scheduler: scheduler, cfg: cfg, logger: logger}
}

// Run probes on cfg.CheckInterval until ctx is cancelled. The first probe
// runs immediately so Status is populated before the server starts
// accepting traffic.
func (c *Checker) Run(ctx context.Context) {
	c.probeOnce(ctx)
	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.probeOnce(ctx)
		}
	}
}

func (c *Checker) probeOnce(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	status := Status{Checked: time.Now().UTC(), BacklogThreshold: defaultBacklogThreshold}

	if err := c.db.Ping(probeCtx); err != nil {
		c.logger.Warn("health: db ping failed", zap.Error(err))
	} else {
		status.DBHealthy = true
	}

	if c.backlog != nil {
		if n, err := c.backlog.Backlog(probeCtx); err == nil {
			status.RepairBacklog = n
		} else {
			c.logger.Warn("health: backlog read failed", zap.Error(err))
		}
	}

	status.SchedulerHealthy = true
	if c.scheduler != nil {
		staleness := time.Since(c.scheduler.LastTick())
		status.SchedulerStaleness = staleness
		status.SchedulerHealthy = staleness < schedulerStaleThreshold
	}

	c.mu.Lock()
	c.last = status
	c.mu.Unlock()
}

// Status returns the result of the most recent probe pass.
func (c *Checker) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

const (
	defaultBacklogThreshold = 1000
	schedulerStaleThreshold = 2 * time.Hour
)
