package federation

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/A2AReg/a2a-registry/internal/cache"
	"github.com/A2AReg/a2a-registry/internal/registry/model"
	"github.com/A2AReg/a2a-registry/internal/registry/repository"
	"github.com/A2AReg/a2a-registry/internal/searchindex"
	"github.com/A2AReg/a2a-registry/pkg/agentcard"
)

// SystemTenantID is the fixed tenant every federated record is filed under.
// Federated agents are always public (step 4 of the sync algorithm), so
// which tenant owns the row only matters for bookkeeping, never for
// visibility — a single reserved tenant avoids picking one local tenant
// arbitrarily to "own" every peer's catalog.
var SystemTenantID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// MaxParallelSyncs bounds concurrent peer syncs (spec.md §5, default 4).
const MaxParallelSyncs = 4

// ClientFactory builds the peer-auth-aware HTTP client for a Peer. Exposed
// as a function so tests can substitute a stub without touching the
// network.
type ClientFactory func(peer *Peer) *Client

// AgentStore is the subset of the Agent Store (C3) the Federation Manager
// writes through, narrowed to an interface so sync logic can be tested
// without a live Postgres connection.
type AgentStore interface {
	UpsertVersion(ctx context.Context, p repository.UpsertVersionParams) (*model.AgentRecord, *model.AgentVersion, bool, error)
	ListFederated(ctx context.Context, peerID uuid.UUID) ([]*model.AgentRecord, error)
	GetLatest(ctx context.Context, agentID uuid.UUID) (*model.AgentVersion, error)
	HideRecord(ctx context.Context, id uuid.UUID) error
	GetOrCreatePublisher(ctx context.Context, tenantID uuid.UUID, displayName string) (*model.Publisher, error)
}

// IndexEnqueuer is the subset of the Search Indexer's Worker the manager
// needs to push a federated upsert through its bounded queue.
type IndexEnqueuer interface {
	EnqueueUpsert(ctx context.Context, view searchindex.AgentView) error
}

// Manager runs the per-peer state machine and scheduler described in
// spec.md §4.10: one ticker per peer, jittered, collapsing concurrent
// triggers, reconciling the remote index against the local federated set.
type Manager struct {
	repo      Repository
	agents    AgentStore
	index     searchindex.Index
	worker    IndexEnqueuer
	cacheImpl cache.Cache
	validate  func(*agentcard.Card) error
	newClient ClientFactory
	logger    *zap.Logger

	sem chan struct{} // global concurrency cap across all peers

	mu      sync.Mutex
	pending map[uuid.UUID]bool // peer_id -> a sync is queued behind an in-flight one
	syncing map[uuid.UUID]bool // peer_id -> a sync is currently running

	tickMu   sync.RWMutex
	lastTick time.Time
}

// NewManager creates a Manager. newClient defaults to Client's own
// constructor when nil.
func NewManager(
	repo Repository,
	agents AgentStore,
	index searchindex.Index,
	worker IndexEnqueuer,
	cacheImpl cache.Cache,
	logger *zap.Logger,
	newClient ClientFactory,
) *Manager {
	if newClient == nil {
		newClient = func(p *Peer) *Client { return NewClient(p.BaseURL, p.AuthToken, 10*time.Second) }
	}
	return &Manager{
		repo:      repo,
		agents:    agents,
		index:     index,
		worker:    worker,
		cacheImpl: cacheImpl,
		validate: func(c *agentcard.Card) error {
			if errs := agentcard.Validate(c); errs != nil {
				return errs
			}
			return nil
		},
		newClient: newClient,
		logger:    logger,
		sem:       make(chan struct{}, MaxParallelSyncs),
		pending:   make(map[uuid.UUID]bool),
		syncing:   make(map[uuid.UUID]bool),
		lastTick:  time.Now().UTC(),
	}
}

// Run starts one scheduling goroutine per peer and blocks until ctx is
// cancelled. Peers created after Run starts are not picked up; the
// composition root is expected to restart the scheduler on peer CRUD, which
// is infrequent administrative traffic.
func (m *Manager) Run(ctx context.Context) error {
	peers, err := m.repo.ListPeers(ctx)
	if err != nil {
		return fmt.Errorf("federation: list peers at startup: %w", err)
	}
	var wg sync.WaitGroup
	for _, p := range peers {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.schedulePeer(ctx, p)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.heartbeat(ctx)
	}()
	<-ctx.Done()
	wg.Wait()
	return nil
}

// heartbeat keeps LastTick fresh independent of whether any peer is due to
// sync, so liveness doesn't flag a healthy idle scheduler as stalled.
func (m *Manager) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.recordTick()
		}
	}
}

func (m *Manager) recordTick() {
	m.tickMu.Lock()
	m.lastTick = time.Now().UTC()
	m.tickMu.Unlock()
}

// LastTick reports when the scheduler last confirmed liveness, used by
// internal/health.Checker as the SchedulerLiveness port.
func (m *Manager) LastTick() time.Time {
	m.tickMu.RLock()
	defer m.tickMu.RUnlock()
	return m.lastTick
}

func (m *Manager) schedulePeer(ctx context.Context, peer *Peer) {
	interval := time.Duration(peer.SyncIntervalS) * time.Second
	if interval <= 0 {
		interval = DefaultSyncIntervalSeconds * time.Second
	}
	for {
		jitter := time.Duration(float64(interval) * (rand.Float64()*0.2 - 0.1)) // ±10%
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval + jitter):
			m.TriggerSync(ctx, peer.ID)
		}
	}
}

// TriggerSync runs sync(peer) immediately, or marks it pending if a sync
// for this peer is already in flight — one in flight plus at most one
// queued, per spec.md §4.10.
func (m *Manager) TriggerSync(ctx context.Context, peerID uuid.UUID) {
	m.mu.Lock()
	if m.syncing[peerID] {
		m.pending[peerID] = true
		m.mu.Unlock()
		return
	}
	m.syncing[peerID] = true
	m.mu.Unlock()

	m.sem <- struct{}{}
	go func() {
		defer func() { <-m.sem }()
		m.runSyncAndReschedulePending(ctx, peerID)
	}()
}

func (m *Manager) runSyncAndReschedulePending(ctx context.Context, peerID uuid.UUID) {
	for {
		m.syncOnce(ctx, peerID)

		m.mu.Lock()
		queued := m.pending[peerID]
		delete(m.pending, peerID)
		if !queued {
			m.syncing[peerID] = false
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
		// a trigger arrived mid-sync; run exactly one more pass before
		// releasing the in-flight slot.
	}
}

// syncOnce implements sync(peer): fetch the remote index, diff against the
// local federated set, reconcile, and persist a Sync Run.
func (m *Manager) syncOnce(ctx context.Context, peerID uuid.UUID) {
	defer m.recordTick()
	started := time.Now()
	peer, err := m.repo.GetPeer(ctx, peerID)
	if err != nil {
		m.logger.Error("federation: peer vanished before sync", zap.String("peer_id", peerID.String()), zap.Error(err))
		return
	}
	if peer.Status == StatusDisabled {
		return
	}

	if err := m.repo.UpdatePeerStatus(ctx, peerID, StatusSyncing, ""); err != nil {
		m.logger.Error("federation: mark syncing failed", zap.Error(err))
	}

	run := &SyncRun{ID: uuid.New(), PeerID: peerID, StartedAt: started, Outcome: OutcomeError}
	client := m.newClient(peer)

	remote, err := client.FetchIndex(ctx)
	if err != nil {
		m.finishRun(ctx, peer, run, OutcomeError, err)
		return
	}

	local, err := m.agents.ListFederated(ctx, peerID)
	if err != nil {
		m.finishRun(ctx, peer, run, OutcomeError, fmt.Errorf("list local federated agents: %w", err))
		return
	}

	remoteByKey := make(map[agentKey]IndexEntry, len(remote))
	for _, e := range remote {
		remoteByKey[agentKey{Publisher: e.Publisher, Name: e.Name}] = e
	}
	localByKey := make(map[agentKey]*model.AgentRecord, len(local))
	for _, rec := range local {
		localByKey[keyFromLocalName(rec.Name)] = rec
	}

	publisher, err := m.agents.GetOrCreatePublisher(ctx, SystemTenantID, model.SyntheticPublisherName(peer.Name))
	if err != nil {
		m.finishRun(ctx, peer, run, OutcomeError, fmt.Errorf("resolve synthetic publisher: %w", err))
		return
	}

	var itemErrs int

	// Added or changed: present remotely, absent locally or hash changed.
	for key, entry := range remoteByKey {
		existing, ok := localByKey[key]
		if ok && existing.Hidden {
			ok = false // a previously-removed record must be re-created, not silently skipped
		}
		if ok {
			latest, err := m.agents.GetLatest(ctx, existing.ID)
			if err == nil && latest != nil && fmt.Sprintf("%x", latest.ContentHash) == entry.ContentHash {
				continue // unchanged
			}
		}
		if err := m.pullOne(ctx, peer, publisher.ID, key, entry, &run.Added, &run.Updated, ok); err != nil {
			itemErrs++
			m.logger.Warn("federation: pull failed for agent", zap.String("peer", peer.Name),
				zap.String("publisher", key.Publisher), zap.String("name", key.Name), zap.Error(err))
		}
	}

	// Removed: present locally, absent remotely.
	for key, rec := range localByKey {
		if rec.Hidden {
			continue
		}
		if _, stillPresent := remoteByKey[key]; stillPresent {
			continue
		}
		if err := m.agents.HideRecord(ctx, rec.ID); err != nil {
			itemErrs++
			m.logger.Warn("federation: hide failed for removed agent", zap.String("peer", peer.Name), zap.Error(err))
			continue
		}
		if err := m.index.Delete(ctx, rec.ID); err != nil {
			m.logger.Error("federation: search index delete failed", zap.String("agent_id", rec.ID.String()), zap.Error(err))
		}
		run.Removed++
	}

	if err := m.cacheImpl.DeletePattern(ctx, cache.TenantPattern(SystemTenantID.String())); err != nil {
		m.logger.Error("federation: cache invalidation failed", zap.Error(err))
	}

	outcome := OutcomeOK
	if itemErrs > 0 {
		outcome = OutcomePartial
	}
	m.finishRun(ctx, peer, run, outcome, nil)
}

func (m *Manager) pullOne(ctx context.Context, peer *Peer, publisherID uuid.UUID, key agentKey, entry IndexEntry, added, updated *int, isUpdate bool) error {
	client := m.newClient(peer)
	raw, err := client.FetchCard(ctx, entry.CardURL)
	if err != nil {
		return fmt.Errorf("fetch card: %w", err)
	}
	card, err := agentcard.ParseRaw(raw)
	if err != nil {
		return fmt.Errorf("parse card: %w", err)
	}
	if err := m.validate(card); err != nil {
		return fmt.Errorf("validate card: %w", err)
	}
	hash, err := agentcard.ContentHash(card)
	if err != nil {
		return fmt.Errorf("hash card: %w", err)
	}

	federatedFrom := peer.ID
	_, version, _, err := m.agents.UpsertVersion(ctx, repository.UpsertVersionParams{
		TenantID:      SystemTenantID,
		PublisherID:   publisherID,
		Name:          key.LocalName(),
		Version:       card.Version,
		Card:          card,
		ContentHash:   hash,
		Source:        model.SourceFederated,
		SourceURL:     entry.CardURL,
		Signed:        card.Signature != nil,
		Public:        true,
		FederatedFrom: &federatedFrom,
	})
	if err != nil {
		return fmt.Errorf("upsert version: %w", err)
	}

	view := searchindex.AgentView{
		AgentID:            version.AgentID,
		TenantID:           SystemTenantID,
		PublisherID:        publisherID,
		Name:               key.LocalName(),
		Description:        card.Description,
		Public:             true,
		FederatedFrom:      &federatedFrom,
		PreferredTransport: string(card.Interface.PreferredTransport),
		Streaming:          card.Capabilities.Streaming,
		PushNotifications:  card.Capabilities.PushNotifications,
		StateTransitionLog: card.Capabilities.StateTransitionHistory,
		UpdatedAt:          time.Now(),
	}
	for _, s := range card.SecuritySchemes {
		view.SecuritySchemeTypes = append(view.SecuritySchemeTypes, string(s.Type))
	}
	for _, sk := range card.Skills {
		view.Tags = append(view.Tags, sk.Tags...)
	}
	if err := m.worker.EnqueueUpsert(ctx, view); err != nil {
		m.logger.Warn("federation: search index enqueue failed", zap.String("agent_id", view.AgentID.String()), zap.Error(err))
	}

	if isUpdate {
		*updated++
	} else {
		*added++
	}
	return nil
}

func (m *Manager) finishRun(ctx context.Context, peer *Peer, run *SyncRun, outcome Outcome, cause error) {
	now := time.Now()
	run.FinishedAt = &now
	run.Outcome = outcome
	if cause != nil {
		run.Error = cause.Error()
	}

	// Disabling a peer mid-sync records the Sync Run as cancelled. Upserts
	// and hides the run already applied before the disable are kept.
	if current, err := m.repo.GetPeer(ctx, peer.ID); err == nil && current.Status == StatusDisabled {
		run.Outcome = OutcomeCancelled
	}

	if err := m.repo.RecordSyncRun(ctx, run); err != nil {
		m.logger.Error("federation: record sync run failed", zap.Error(err))
	}

	status := StatusActive
	lastErr := ""
	switch run.Outcome {
	case OutcomeError:
		status = StatusError
		lastErr = run.Error
	case OutcomeCancelled:
		return // peer is already disabled; leave its status as-is
	}
	if err := m.repo.UpdatePeerStatus(ctx, peer.ID, status, lastErr); err != nil {
		m.logger.Error("federation: update peer status failed", zap.Error(err))
	}
}

// Enable transitions a peer out of disabled/error back into active and
// wakes its scheduler on the next tick. Re-arming the ticker itself is the
// composition root's job (Run only schedules peers seen at startup).
func (m *Manager) Enable(ctx context.Context, peerID uuid.UUID) error {
	return m.repo.UpdatePeerStatus(ctx, peerID, StatusActive, "")
}

// Disable transitions a peer to disabled. A sync already in flight for this
// peer completes but its Sync Run is recorded as cancelled.
func (m *Manager) Disable(ctx context.Context, peerID uuid.UUID) error {
	return m.repo.UpdatePeerStatus(ctx, peerID, StatusDisabled, "")
}

func keyFromLocalName(localName string) agentKey {
	for i := 0; i < len(localName); i++ {
		if localName[i] == '/' {
			return agentKey{Publisher: localName[:i], Name: localName[i+1:]}
		}
	}
	return agentKey{Name: localName}
}
