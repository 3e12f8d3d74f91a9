package federation_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/A2AReg/a2a-registry/internal/cache"
	"github.com/A2AReg/a2a-registry/internal/federation"
	"github.com/A2AReg/a2a-registry/internal/registry/model"
	"github.com/A2AReg/a2a-registry/internal/registry/repository"
	"github.com/A2AReg/a2a-registry/internal/searchindex"
	"github.com/A2AReg/a2a-registry/pkg/agentcard"
)

// ── stub Repository (peer state + sync runs) ──────────────────────────────

type stubPeerRepo struct {
	mu    sync.Mutex
	peers map[uuid.UUID]*federation.Peer
	runs  []*federation.SyncRun
}

func newStubPeerRepo(peers ...*federation.Peer) *stubPeerRepo {
	r := &stubPeerRepo{peers: make(map[uuid.UUID]*federation.Peer)}
	for _, p := range peers {
		r.peers[p.ID] = p
	}
	return r
}

func (r *stubPeerRepo) CreatePeer(_ context.Context, p *federation.Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[p.ID] = p
	return nil
}

func (r *stubPeerRepo) GetPeer(_ context.Context, id uuid.UUID) (*federation.Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		return nil, federation.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *stubPeerRepo) ListPeers(_ context.Context) ([]*federation.Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*federation.Peer
	for _, p := range r.peers {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (r *stubPeerRepo) UpdatePeerStatus(_ context.Context, id uuid.UUID, status federation.Status, lastErr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[id]; ok {
		p.Status = status
		p.LastError = lastErr
	}
	return nil
}

func (r *stubPeerRepo) UpdatePeerCursor(_ context.Context, id uuid.UUID, cursor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[id]; ok {
		p.LastCursor = cursor
	}
	return nil
}

func (r *stubPeerRepo) RecordSyncRun(_ context.Context, run *federation.SyncRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

func (r *stubPeerRepo) lastRun() *federation.SyncRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.runs) == 0 {
		return nil
	}
	return r.runs[len(r.runs)-1]
}

// ── stub AgentStore ────────────────────────────────────────────────────────

type stubAgentStore struct {
	mu         sync.Mutex
	records    map[uuid.UUID]*model.AgentRecord
	versions   map[uuid.UUID]*model.AgentVersion // by agent_id
	publishers map[string]*model.Publisher
}

func newStubAgentStore() *stubAgentStore {
	return &stubAgentStore{
		records:    make(map[uuid.UUID]*model.AgentRecord),
		versions:   make(map[uuid.UUID]*model.AgentVersion),
		publishers: make(map[string]*model.Publisher),
	}
}

func (s *stubAgentStore) UpsertVersion(_ context.Context, p repository.UpsertVersionParams) (*model.AgentRecord, *model.AgentVersion, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec *model.AgentRecord
	for _, r := range s.records {
		if r.TenantID == p.TenantID && r.PublisherID == p.PublisherID && r.Name == p.Name {
			rec = r
			break
		}
	}
	if rec == nil {
		rec = &model.AgentRecord{
			ID: uuid.New(), TenantID: p.TenantID, PublisherID: p.PublisherID, Name: p.Name,
			CreatedAt: time.Now(), UpdatedAt: time.Now(),
		}
		s.records[rec.ID] = rec
	}
	rec.Public = p.Public
	rec.FederatedFrom = p.FederatedFrom
	rec.Hidden = false
	rec.UpdatedAt = time.Now()

	ver := &model.AgentVersion{ID: uuid.New(), AgentID: rec.ID, Version: p.Version, Card: p.Card, ContentHash: p.ContentHash, Source: p.Source, CreatedAt: time.Now()}
	s.versions[rec.ID] = ver
	rec.LatestVersionID = ver.ID
	return rec, ver, true, nil
}

func (s *stubAgentStore) ListFederated(_ context.Context, peerID uuid.UUID) ([]*model.AgentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.AgentRecord
	for _, r := range s.records {
		if r.FederatedFrom != nil && *r.FederatedFrom == peerID && !r.Hidden {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubAgentStore) GetLatest(_ context.Context, agentID uuid.UUID) (*model.AgentVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[agentID], nil
}

func (s *stubAgentStore) HideRecord(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[id]; ok {
		r.Hidden = true
	}
	return nil
}

func (s *stubAgentStore) GetOrCreatePublisher(_ context.Context, tenantID uuid.UUID, displayName string) (*model.Publisher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tenantID.String() + "/" + displayName
	if p, ok := s.publishers[key]; ok {
		return p, nil
	}
	p := &model.Publisher{ID: uuid.New(), TenantID: tenantID, DisplayName: displayName, CreatedAt: time.Now()}
	s.publishers[key] = p
	return p, nil
}

// ── stub Index / IndexEnqueuer ─────────────────────────────────────────────

type stubManagerIndex struct {
	mu      sync.Mutex
	deleted map[uuid.UUID]bool
	applied map[uuid.UUID]searchindex.AgentView
}

func newStubManagerIndex() *stubManagerIndex {
	return &stubManagerIndex{deleted: make(map[uuid.UUID]bool), applied: make(map[uuid.UUID]searchindex.AgentView)}
}

func (s *stubManagerIndex) Upsert(_ context.Context, v searchindex.AgentView) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied[v.AgentID] = v
	return nil
}
func (s *stubManagerIndex) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted[id] = true
	return nil
}
func (s *stubManagerIndex) Search(context.Context, string, searchindex.Filter, searchindex.Visibility, string, int) (searchindex.SearchPage, error) {
	return searchindex.SearchPage{}, nil
}

type directEnqueuer struct{ idx searchindex.Index }

func (d directEnqueuer) EnqueueUpsert(ctx context.Context, v searchindex.AgentView) error {
	return d.idx.Upsert(ctx, v)
}

// ── test fixture: a fake peer serving /.well-known/agents/index.json ──────

func newFakePeerServer(t *testing.T, entries []federation.IndexEntry, cards map[string][]byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/agents/index.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"entries":[`)
		for i, e := range entries {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"publisher":%q,"name":%q,"content_hash":%q,"card_url":%q}`,
				e.Publisher, e.Name, e.ContentHash, e.CardURL)
		}
		fmt.Fprint(w, `]}`)
	})
	for path, body := range cards {
		body := body
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			w.Write(body)
		})
	}
	return httptest.NewServer(mux)
}

func cardJSON(name, version string) []byte {
	c := agentcard.Card{
		Name: name, Description: "a test agent", URL: "https://example.com/agent", Version: version,
		Capabilities:    agentcard.Capabilities{},
		SecuritySchemes: []agentcard.SecurityScheme{{Type: agentcard.SecuritySchemeAPIKey, In: "header", Name: "X-Api-Key"}},
		Skills:          []agentcard.Skill{{ID: "s1", Name: "skill", Tags: []string{"demo"}}},
		Interface:       agentcard.Interface{PreferredTransport: agentcard.TransportJSONRPC, DefaultInputModes: []string{"text"}, DefaultOutputModes: []string{"text"}},
	}
	b, _ := agentcard.Canonicalize(&c)
	return b
}

func hashOf(t *testing.T, raw []byte) string {
	t.Helper()
	c, err := agentcard.ParseRaw(raw)
	if err != nil {
		t.Fatalf("ParseRaw: %v", err)
	}
	h, err := agentcard.ContentHash(c)
	if err != nil {
		t.Fatalf("ContentHash: %v", err)
	}
	return fmt.Sprintf("%x", h)
}

func TestManagerSyncAddsFederatedAgents(t *testing.T) {
	cardBytes := cardJSON("weather-agent", "1.0.0")
	entries := []federation.IndexEntry{
		{Publisher: "pub-1", Name: "agent-a", ContentHash: hashOf(t, cardBytes), CardURL: "/cards/agent-a.json"},
	}
	srv := newFakePeerServer(t, entries, map[string][]byte{"/cards/agent-a.json": cardBytes})
	defer srv.Close()
	entries[0].CardURL = srv.URL + entries[0].CardURL

	peer := &federation.Peer{ID: uuid.New(), Name: "partner-registry", BaseURL: srv.URL, Status: federation.StatusActive, SyncIntervalS: 3600}
	repo := newStubPeerRepo(peer)
	agents := newStubAgentStore()
	idx := newStubManagerIndex()
	c := cache.NewMemoryCache()

	mgr := federation.NewManager(repo, agents, idx, directEnqueuer{idx}, c, zap.NewNop(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	mgr.TriggerSync(ctx, peer.ID)
	waitForRun(t, repo)

	run := repo.lastRun()
	if run == nil || run.Outcome != federation.OutcomeOK {
		t.Fatalf("expected an ok sync run, got %+v", run)
	}
	if run.Added != 1 {
		t.Fatalf("expected added=1, got %d", run.Added)
	}

	federated, err := agents.ListFederated(ctx, peer.ID)
	if err != nil || len(federated) != 1 {
		t.Fatalf("expected one federated record, got %v err=%v", federated, err)
	}
	if federated[0].Name != "pub-1/agent-a" {
		t.Fatalf("expected local name to embed remote publisher, got %q", federated[0].Name)
	}
}

func TestManagerSyncRemovesRetractedAgents(t *testing.T) {
	cardBytes := cardJSON("weather-agent", "1.0.0")
	hash := hashOf(t, cardBytes)
	entries := []federation.IndexEntry{{Publisher: "pub-1", Name: "agent-a", ContentHash: hash, CardURL: "/cards/agent-a.json"}}
	srv := newFakePeerServer(t, entries, map[string][]byte{"/cards/agent-a.json": cardBytes})
	defer srv.Close()
	entries[0].CardURL = srv.URL + entries[0].CardURL

	peer := &federation.Peer{ID: uuid.New(), Name: "partner-registry", BaseURL: srv.URL, Status: federation.StatusActive, SyncIntervalS: 3600}
	repo := newStubPeerRepo(peer)
	agents := newStubAgentStore()
	idx := newStubManagerIndex()
	c := cache.NewMemoryCache()
	mgr := federation.NewManager(repo, agents, idx, directEnqueuer{idx}, c, zap.NewNop(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	mgr.TriggerSync(ctx, peer.ID)
	waitForRun(t, repo)

	// Peer's index now advertises nothing — agent-a should be removed.
	srv2 := newFakePeerServer(t, nil, nil)
	defer srv2.Close()
	peer.BaseURL = srv2.URL
	repo.mu.Lock()
	repo.peers[peer.ID].BaseURL = srv2.URL
	repo.mu.Unlock()

	mgr.TriggerSync(ctx, peer.ID)
	waitForRunCount(t, repo, 2)

	run := repo.lastRun()
	if run.Removed != 1 {
		t.Fatalf("expected removed=1 on retraction, got %+v", run)
	}
	federated, _ := agents.ListFederated(ctx, peer.ID)
	if len(federated) != 0 {
		t.Fatalf("expected zero visible federated records after retraction, got %v", federated)
	}
}

func waitForRun(t *testing.T, repo *stubPeerRepo) {
	t.Helper()
	waitForRunCount(t, repo, 1)
}

func waitForRunCount(t *testing.T, repo *stubPeerRepo, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		repo.mu.Lock()
		got := len(repo.runs)
		repo.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d sync run(s)", n)
}
