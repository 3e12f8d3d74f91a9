package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubBacklog struct {
	n   int
	err error
}

func (s stubBacklog) Backlog(context.Context) (int, error) { return s.n, s.err }

type stubScheduler struct{ last time.Time }

func (s stubScheduler) LastTick() time.Time { return s.last }

func TestStatusReadyWhenDBHealthyAndBacklogUnderThreshold(t *testing.T) {
	c := New(stubPinger{}, stubBacklog{n: 5}, nil, Config{CheckInterval: time.Hour}, zap.NewNop())
	c.probeOnce(context.Background())
	status := c.Status()
	require.True(t, status.DBHealthy)
	assert.True(t, status.Ready())
	assert.True(t, status.SchedulerHealthy) // nil scheduler always reports healthy
}

func TestStatusNotReadyWhenDBDown(t *testing.T) {
	c := New(stubPinger{err: assertErr}, stubBacklog{}, nil, Config{CheckInterval: time.Hour}, zap.NewNop())
	c.probeOnce(context.Background())
	status := c.Status()
	assert.False(t, status.DBHealthy)
	assert.False(t, status.Ready())
}

func TestStatusNotReadyWhenBacklogExceedsThreshold(t *testing.T) {
	c := New(stubPinger{}, stubBacklog{n: defaultBacklogThreshold + 1}, nil, Config{CheckInterval: time.Hour}, zap.NewNop())
	c.probeOnce(context.Background())
	assert.False(t, c.Status().Ready())
}

func TestSchedulerUnhealthyWhenStale(t *testing.T) {
	c := New(stubPinger{}, stubBacklog{}, stubScheduler{last: time.Now().Add(-3 * time.Hour)}, Config{CheckInterval: time.Hour}, zap.NewNop())
	c.probeOnce(context.Background())
	status := c.Status()
	assert.False(t, status.SchedulerHealthy)
	// Readiness is unaffected by scheduler staleness: federation is best-effort.
	assert.True(t, status.Ready())
}

var assertErr = errPingFailed{}

type errPingFailed struct{}

func (errPingFailed) Error() string { return "ping failed" }
