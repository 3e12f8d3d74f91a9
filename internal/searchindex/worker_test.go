package searchindex_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/A2AReg/a2a-registry/internal/searchindex"
)

type stubIndex struct {
	mu          sync.Mutex
	upserts     map[uuid.UUID]searchindex.AgentView
	deletes     map[uuid.UUID]bool
	failUpserts int // number of remaining Upsert calls that should fail
}

func newStubIndex() *stubIndex {
	return &stubIndex{upserts: make(map[uuid.UUID]searchindex.AgentView), deletes: make(map[uuid.UUID]bool)}
}

func (s *stubIndex) Upsert(_ context.Context, v searchindex.AgentView) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpserts > 0 {
		s.failUpserts--
		return errors.New("stub: upsert failed")
	}
	s.upserts[v.AgentID] = v
	return nil
}

func (s *stubIndex) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes[id] = true
	return nil
}

func (s *stubIndex) Search(context.Context, string, searchindex.Filter, searchindex.Visibility, string, int) (searchindex.SearchPage, error) {
	return searchindex.SearchPage{}, nil
}

func (s *stubIndex) has(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.upserts[id]
	return ok
}

type stubRepairLog struct {
	mu      sync.Mutex
	entries []searchindex.RepairEntry
	nextID  int64
}

func (s *stubRepairLog) Record(_ context.Context, kind searchindex.Op, agentID uuid.UUID, view searchindex.AgentView, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	s.entries = append(s.entries, searchindex.RepairEntry{ID: s.nextID, AgentID: agentID, View: view, LastError: msg, CreatedAt: time.Now()})
	return nil
}

func (s *stubRepairLog) Pending(context.Context, int) ([]searchindex.RepairEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]searchindex.RepairEntry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

func (s *stubRepairLog) Resolve(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.ID == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			break
		}
	}
	return nil
}

func (s *stubRepairLog) IncrementAttempt(context.Context, int64, error) error { return nil }

func (s *stubRepairLog) Backlog(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

func TestWorkerEnqueueUpsertApplies(t *testing.T) {
	idx := newStubIndex()
	w := searchindex.NewWorker(idx, &stubRepairLog{}, zap.NewNop(), 8, searchindex.WithWorkers(1))

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	defer cancel()

	v := searchindex.AgentView{AgentID: uuid.New(), Name: "test-agent", UpdatedAt: time.Now()}
	if err := w.EnqueueUpsert(ctx, v); err != nil {
		t.Fatalf("EnqueueUpsert: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for !idx.has(v.AgentID) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !idx.has(v.AgentID) {
		t.Fatalf("expected upsert to apply within deadline")
	}
}

func TestWorkerEnqueueOverloaded(t *testing.T) {
	idx := newStubIndex()
	w := searchindex.NewWorker(idx, &stubRepairLog{}, zap.NewNop(), 1,
		searchindex.WithWorkers(0), searchindex.WithEnqueueTimeout(10*time.Millisecond))

	ctx := context.Background()
	if err := w.EnqueueUpsert(ctx, searchindex.AgentView{AgentID: uuid.New()}); err != nil {
		t.Fatalf("first enqueue should fit the buffer: %v", err)
	}
	if err := w.EnqueueUpsert(ctx, searchindex.AgentView{AgentID: uuid.New()}); err == nil {
		t.Fatalf("expected second enqueue to be rejected as overloaded with no workers draining")
	}
}
