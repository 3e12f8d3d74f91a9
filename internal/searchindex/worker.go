package searchindex

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/A2AReg/a2a-registry/internal/apierr"
)

type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

type job struct {
	kind  Op
	view  AgentView
	id    uuid.UUID
}

// Worker is the async bounded worker pool fronting an Index: the Federation
// Manager enqueues updates instead of writing the index inline, so a slow
// or momentarily unavailable index degrades search freshness rather than
// sync latency. The Publish Service writes the Index directly.
type Worker struct {
	index   Index
	logger  *zap.Logger
	queue   chan job
	backlog RepairLog

	enqueueTimeout time.Duration
	workers        int
}

// Option configures a Worker.
type Option func(*Worker)

// WithEnqueueTimeout overrides EnqueueTimeout.
func WithEnqueueTimeout(d time.Duration) Option {
	return func(w *Worker) { w.enqueueTimeout = d }
}

// WithWorkers sets the number of concurrent drain goroutines.
func WithWorkers(n int) Option {
	return func(w *Worker) { w.workers = n }
}

// NewWorker creates a Worker with a queue of the given depth.
func NewWorker(index Index, backlog RepairLog, logger *zap.Logger, queueDepth int, opts ...Option) *Worker {
	w := &Worker{
		index:          index,
		logger:         logger,
		queue:          make(chan job, queueDepth),
		backlog:        backlog,
		enqueueTimeout: EnqueueTimeout,
		workers:        4,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run drains the queue until ctx is cancelled. Call once from the
// composition root's startup goroutine group.
func (w *Worker) Run(ctx context.Context) {
	done := make(chan struct{}, w.workers)
	for i := 0; i < w.workers; i++ {
		go func() {
			w.drain(ctx)
			done <- struct{}{}
		}()
	}
	<-ctx.Done()
	for i := 0; i < w.workers; i++ {
		<-done
	}
}

func (w *Worker) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-w.queue:
			w.applyWithRetry(ctx, j)
		}
	}
}

// EnqueueUpsert offers an upsert job to the queue, blocking at most
// EnqueueTimeout before returning apierr.KindOverloaded rather than letting
// a stalled indexer stall the caller.
func (w *Worker) EnqueueUpsert(ctx context.Context, view AgentView) error {
	return w.enqueue(ctx, job{kind: OpUpsert, view: view, id: view.AgentID})
}

// EnqueueDelete offers a delete job to the queue with the same backpressure
// contract as EnqueueUpsert.
func (w *Worker) EnqueueDelete(ctx context.Context, agentID uuid.UUID) error {
	return w.enqueue(ctx, job{kind: OpDelete, id: agentID})
}

func (w *Worker) enqueue(ctx context.Context, j job) error {
	timer := time.NewTimer(w.enqueueTimeout)
	defer timer.Stop()
	select {
	case w.queue <- j:
		return nil
	case <-timer.C:
		return apierr.New(apierr.KindOverloaded, "search index queue is full")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// applyWithRetry runs j against the index with exponential backoff,
// recording to the repair log and moving on after RetryMaxAttempts so one
// stuck agent never starves the rest of the queue.
func (w *Worker) applyWithRetry(ctx context.Context, j job) {
	backoff := RetryBaseBackoff
	var lastErr error
	for attempt := 1; attempt <= RetryMaxAttempts; attempt++ {
		lastErr = w.apply(ctx, j)
		if lastErr == nil {
			return
		}
		w.logger.Warn("search index apply failed, retrying",
			zap.String("agent_id", j.id.String()), zap.Int("attempt", attempt), zap.Error(lastErr))
		if attempt == RetryMaxAttempts {
			break
		}
		jittered := backoff/2 + time.Duration(rand.Int63n(int64(backoff)))
		select {
		case <-time.After(jittered):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > RetryMaxBackoff {
			backoff = RetryMaxBackoff
		}
	}

	w.logger.Error("search index apply exhausted retries, recording repair entry",
		zap.String("agent_id", j.id.String()), zap.Error(lastErr))
	if err := w.backlog.Record(ctx, j.kind, j.id, j.view, lastErr); err != nil {
		w.logger.Error("failed to record repair log entry", zap.Error(err))
	}
}

func (w *Worker) apply(ctx context.Context, j job) error {
	switch j.kind {
	case OpUpsert:
		return w.index.Upsert(ctx, j.view)
	case OpDelete:
		return w.index.Delete(ctx, j.id)
	default:
		return fmt.Errorf("searchindex: unknown job kind %q", j.kind)
	}
}

// RepairLog is the durable record of jobs that exhausted retries, consumed
// by a Reconciler to close the gap between the store of record and the
// index without blocking the request path.
type RepairLog interface {
	Record(ctx context.Context, kind Op, agentID uuid.UUID, view AgentView, cause error) error
	Pending(ctx context.Context, limit int) ([]RepairEntry, error)
	Resolve(ctx context.Context, entryID int64) error
	IncrementAttempt(ctx context.Context, entryID int64, cause error) error
	Backlog(ctx context.Context) (int, error)
}

// RepairEntry is one durable, retryable record of a job that exhausted the
// Worker's inline retry budget.
type RepairEntry struct {
	ID        int64
	Kind      Op
	AgentID   uuid.UUID
	View      AgentView
	Attempts  int
	LastError string
	CreatedAt time.Time
}

// SQLiteRepairLog persists RepairEntry rows in the same database as the
// index, so a single file captures both the searchable projection and the
// outstanding work needed to repair it.
type SQLiteRepairLog struct {
	idx *SQLiteIndex
}

// NewSQLiteRepairLog wraps idx's underlying database as a RepairLog.
func NewSQLiteRepairLog(idx *SQLiteIndex) *SQLiteRepairLog {
	return &SQLiteRepairLog{idx: idx}
}

func (s *SQLiteRepairLog) Record(ctx context.Context, kind Op, agentID uuid.UUID, view AgentView, cause error) error {
	payload, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("searchindex: marshal repair payload: %w", err)
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err = s.idx.db.ExecContext(ctx, `
		INSERT INTO repair_log (agent_id, op, payload, attempts, last_error, created_at)
		VALUES (?, ?, ?, 1, ?, ?)
	`, agentID.String(), string(kind), string(payload), msg, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("searchindex: insert repair_log: %w", err)
	}
	return nil
}

func (s *SQLiteRepairLog) Pending(ctx context.Context, limit int) ([]RepairEntry, error) {
	rows, err := s.idx.db.QueryContext(ctx, `
		SELECT id, agent_id, op, payload, attempts, last_error, created_at
		FROM repair_log ORDER BY created_at ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("searchindex: query repair_log: %w", err)
	}
	defer rows.Close()

	var entries []RepairEntry
	for rows.Next() {
		var (
			e          RepairEntry
			agentID    string
			op         string
			payload    string
			createdAt  string
			lastErrStr *string
		)
		if err := rows.Scan(&e.ID, &agentID, &op, &payload, &e.Attempts, &lastErrStr, &createdAt); err != nil {
			return nil, fmt.Errorf("searchindex: scan repair_log: %w", err)
		}
		id, err := uuid.Parse(agentID)
		if err != nil {
			return nil, fmt.Errorf("searchindex: parse repair_log agent_id: %w", err)
		}
		e.AgentID = id
		e.Kind = Op(op)
		if lastErrStr != nil {
			e.LastError = *lastErrStr
		}
		if op == string(OpUpsert) && payload != "" {
			if err := json.Unmarshal([]byte(payload), &e.View); err != nil {
				return nil, fmt.Errorf("searchindex: unmarshal repair_log payload: %w", err)
			}
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			e.CreatedAt = t
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *SQLiteRepairLog) Resolve(ctx context.Context, entryID int64) error {
	_, err := s.idx.db.ExecContext(ctx, "DELETE FROM repair_log WHERE id = ?", entryID)
	if err != nil {
		return fmt.Errorf("searchindex: resolve repair_log entry: %w", err)
	}
	return nil
}

func (s *SQLiteRepairLog) IncrementAttempt(ctx context.Context, entryID int64, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.idx.db.ExecContext(ctx, `
		UPDATE repair_log SET attempts = attempts + 1, last_error = ? WHERE id = ?
	`, msg, entryID)
	if err != nil {
		return fmt.Errorf("searchindex: increment repair_log attempt: %w", err)
	}
	return nil
}

func (s *SQLiteRepairLog) Backlog(ctx context.Context) (int, error) {
	var n int
	err := s.idx.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM repair_log").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("searchindex: count repair_log: %w", err)
	}
	return n, nil
}

// Reconciler periodically retries RepairLog entries against Index,
// independent of the live Worker queue, and exposes the current backlog
// depth for the index_repair_backlog gauge.
type Reconciler struct {
	index  Index
	log    RepairLog
	logger *zap.Logger
	every  time.Duration

	backlogGauge func(int)
}

// NewReconciler creates a Reconciler that ticks every RepairReconcileEvery
// unless overridden.
func NewReconciler(index Index, log RepairLog, logger *zap.Logger, every time.Duration, backlogGauge func(int)) *Reconciler {
	if every <= 0 {
		every = RepairReconcileEvery
	}
	if backlogGauge == nil {
		backlogGauge = func(int) {}
	}
	return &Reconciler{index: index, log: log, logger: logger, every: every, backlogGauge: backlogGauge}
}

// Run ticks until ctx is cancelled, reconciling one batch per tick.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reconcileOnce(ctx)
		}
	}
}

func (r *Reconciler) reconcileOnce(ctx context.Context) {
	entries, err := r.log.Pending(ctx, 200)
	if err != nil {
		r.logger.Error("repair log reconciliation: list pending failed", zap.Error(err))
		return
	}
	r.backlogGauge(len(entries))

	for _, e := range entries {
		var applyErr error
		switch e.Kind {
		case OpUpsert:
			applyErr = r.index.Upsert(ctx, e.View)
		case OpDelete:
			applyErr = r.index.Delete(ctx, e.AgentID)
		}
		if applyErr == nil {
			if err := r.log.Resolve(ctx, e.ID); err != nil {
				r.logger.Error("repair log reconciliation: resolve failed", zap.Int64("entry_id", e.ID), zap.Error(err))
			}
			continue
		}
		if err := r.log.IncrementAttempt(ctx, e.ID, applyErr); err != nil {
			r.logger.Error("repair log reconciliation: increment attempt failed", zap.Int64("entry_id", e.ID), zap.Error(err))
		}
	}

	if n, err := r.log.Backlog(ctx); err == nil {
		r.backlogGauge(n)
	}
}
