// Package client provides the Go SDK for the agent registry: publishing
// Agent Cards, discovering and searching published agents, reading the
// well-known surfaces, and administering peer registries.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/A2AReg/a2a-registry/pkg/agentcard"
)

// AgentVersionSummary is the version half of an AgentSummary.
type AgentVersionSummary struct {
	ID          string          `json:"id"`
	Version     string          `json:"version"`
	ContentHash string          `json:"contentHash"`
	Source      string          `json:"source"`
	Card        *agentcard.Card `json:"card"`
}

// AgentSummary mirrors the registry's agentJSON wire shape, returned by
// list, get, and search.
type AgentSummary struct {
	ID            string              `json:"id"`
	TenantID      string              `json:"tenantId"`
	PublisherID   string              `json:"publisherId"`
	Name          string              `json:"name"`
	Public        bool                `json:"public"`
	FederatedFrom string              `json:"federatedFrom,omitempty"`
	UpdatedAt     string              `json:"updatedAt"`
	Version       AgentVersionSummary `json:"version"`
}

// Page is a cursor-paginated list of agents.
type Page struct {
	Items      []AgentSummary `json:"items"`
	NextCursor string         `json:"nextCursor,omitempty"`
}

// PublishResult is returned by Publish and PublishByURL.
type PublishResult struct {
	AgentID   string `json:"agentId"`
	VersionID string `json:"versionId"`
	Created   bool   `json:"created"`
}

// SearchFilters narrows a Search call; zero values are omitted.
type SearchFilters struct {
	Tags      []string `json:"tags,omitempty"`
	Publisher string   `json:"publisher,omitempty"`
	Transport string   `json:"transport,omitempty"`
	Security  []string `json:"security,omitempty"`
	Public    *bool    `json:"public,omitempty"`
}

// SearchRequest is the body of a Search call.
type SearchRequest struct {
	Q       string        `json:"q"`
	Filters SearchFilters `json:"filters"`
	Top     int           `json:"top,omitempty"`
	Cursor  string        `json:"cursor,omitempty"`
}

// WellKnownEntry is one row of the public well-known agent index.
type WellKnownEntry struct {
	Publisher   string `json:"publisher"`
	Name        string `json:"name"`
	ContentHash string `json:"contentHash"`
	CardURL     string `json:"cardUrl"`
}

// WellKnownIndex is the response of GetWellKnownIndex.
type WellKnownIndex struct {
	RegistryURL string           `json:"registryUrl"`
	Entries     []WellKnownEntry `json:"entries"`
	NextCursor  string           `json:"nextCursor,omitempty"`
}

// Peer mirrors the federation.Peer wire shape.
type Peer struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	BaseURL       string `json:"base_url"`
	SyncIntervalS int    `json:"sync_interval_s"`
	Status        string `json:"status"`
	LastError     string `json:"last_error,omitempty"`
}

// Client is the registry SDK entry point.
type Client struct {
	base       string
	httpClient *http.Client
	cache      *cardCache

	mu          sync.Mutex
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches a principal token (internal/authz.Issuer.Issue)
// to every request. Publish, ListEntitled, Search, and all /peers calls
// require one.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithCardCacheTTL enables in-memory caching of GetCard responses, mirroring
// the registry's own Cache Layer on the client side for chatty callers.
func WithCardCacheTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		c.cache = newCardCache(ttl)
		return nil
	}
}

// New creates a Client connected to base, the registry's public base URL.
func New(base string, opts ...Option) (*Client, error) {
	c := &Client{
		base:       base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Publish submits an Agent Card by value to POST /api/v1/agents/publish.
func (c *Client) Publish(ctx context.Context, card *agentcard.Card, public bool, publisherOverride string) (*PublishResult, error) {
	payload := map[string]any{"card": card, "public": public}
	if publisherOverride != "" {
		payload["publisherOverride"] = publisherOverride
	}
	body, err := c.post(ctx, "/api/v1/agents/publish", payload)
	if err != nil {
		return nil, err
	}
	var result PublishResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("registry client: decode publish response: %w", err)
	}
	return &result, nil
}

// PublishByURL submits an Agent Card by reference to POST /api/v1/agents/publish.
func (c *Client) PublishByURL(ctx context.Context, cardURL string, public bool, publisherOverride string) (*PublishResult, error) {
	payload := map[string]any{"cardUrl": cardURL, "public": public}
	if publisherOverride != "" {
		payload["publisherOverride"] = publisherOverride
	}
	body, err := c.post(ctx, "/api/v1/agents/publish", payload)
	if err != nil {
		return nil, err
	}
	var result PublishResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("registry client: decode publish response: %w", err)
	}
	return &result, nil
}

// ListPublic lists cross-tenant public agents via GET /api/v1/agents/public.
func (c *Client) ListPublic(ctx context.Context, cursor string, limit int) (*Page, error) {
	return c.listPage(ctx, "/api/v1/agents/public", cursor, limit)
}

// ListEntitled lists agents the caller's principal can see via
// GET /api/v1/agents/entitled. Requires WithBearerToken.
func (c *Client) ListEntitled(ctx context.Context, cursor string, limit int) (*Page, error) {
	return c.listPage(ctx, "/api/v1/agents/entitled", cursor, limit)
}

func (c *Client) listPage(ctx context.Context, path, cursor string, limit int) (*Page, error) {
	url := fmt.Sprintf("%s%s?cursor=%s&limit=%d", c.base, path, cursor, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("registry client: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var page Page
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("registry client: decode page: %w", err)
	}
	return &page, nil
}

// GetAgent fetches one agent record by id via GET /api/v1/agents/{id}.
func (c *Client) GetAgent(ctx context.Context, id string) (*AgentSummary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/v1/agents/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("registry client: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var summary AgentSummary
	if err := json.Unmarshal(body, &summary); err != nil {
		return nil, fmt.Errorf("registry client: decode agent: %w", err)
	}
	return &summary, nil
}

// GetCard fetches the canonical Agent Card for id via
// GET /api/v1/agents/{id}/card, consulting the client-side cache if enabled.
func (c *Client) GetCard(ctx context.Context, id string) (*agentcard.Card, error) {
	if c.cache != nil {
		if card, ok := c.cache.get(id); ok {
			return card, nil
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/v1/agents/"+id+"/card", nil)
	if err != nil {
		return nil, fmt.Errorf("registry client: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	card, err := agentcard.ParseRaw(body)
	if err != nil {
		return nil, fmt.Errorf("registry client: decode card: %w", err)
	}
	if c.cache != nil {
		c.cache.set(id, card)
	}
	return card, nil
}

// Search runs a filtered full-text search via POST /api/v1/agents/search.
// Requires WithBearerToken.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*Page, error) {
	body, err := c.post(ctx, "/api/v1/agents/search", req)
	if err != nil {
		return nil, err
	}
	var page Page
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("registry client: decode search results: %w", err)
	}
	return &page, nil
}

// GetWellKnownIndex fetches GET /.well-known/agents/index.json, the
// paginated public index a peer's Federation Manager crawls during sync.
func (c *Client) GetWellKnownIndex(ctx context.Context, cursor string, limit int) (*WellKnownIndex, error) {
	url := fmt.Sprintf("%s/.well-known/agents/index.json?cursor=%s&limit=%d", c.base, cursor, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("registry client: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var idx WellKnownIndex
	if err := json.Unmarshal(body, &idx); err != nil {
		return nil, fmt.Errorf("registry client: decode well-known index: %w", err)
	}
	return &idx, nil
}

// CreatePeer registers a new peer registry via POST /api/v1/peers.
// Requires WithBearerToken carrying the administrator role.
func (c *Client) CreatePeer(ctx context.Context, name, baseURL, authToken string, syncIntervalS int) (*Peer, error) {
	payload := map[string]any{
		"name": name, "baseUrl": baseURL, "authToken": authToken, "syncIntervalS": syncIntervalS,
	}
	body, err := c.post(ctx, "/api/v1/peers", payload)
	if err != nil {
		return nil, err
	}
	var peer Peer
	if err := json.Unmarshal(body, &peer); err != nil {
		return nil, fmt.Errorf("registry client: decode peer: %w", err)
	}
	return &peer, nil
}

// ListPeers lists every configured peer via GET /api/v1/peers.
func (c *Client) ListPeers(ctx context.Context) ([]Peer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/v1/peers", nil)
	if err != nil {
		return nil, fmt.Errorf("registry client: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Peers []Peer `json:"peers"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("registry client: decode peers: %w", err)
	}
	return wrapper.Peers, nil
}

// TriggerSync requests an out-of-band sync via POST /api/v1/peers/{id}/sync.
func (c *Client) TriggerSync(ctx context.Context, peerID string) error {
	_, err := c.post(ctx, "/api/v1/peers/"+peerID+"/sync", nil)
	return err
}

// EnablePeer resumes a disabled peer's sync schedule.
func (c *Client) EnablePeer(ctx context.Context, peerID string) error {
	_, err := c.post(ctx, "/api/v1/peers/"+peerID+"/enable", nil)
	return err
}

// DisablePeer pauses a peer's sync schedule without deleting it.
func (c *Client) DisablePeer(ctx context.Context, peerID string) error {
	_, err := c.post(ctx, "/api/v1/peers/"+peerID+"/disable", nil)
	return err
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("registry client: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("registry client: build request: %w", err)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req)
}

// do executes an HTTP request, attaching the bearer token if present, and
// turns a non-2xx response into an error carrying the response body.
func (c *Client) do(req *http.Request) ([]byte, error) {
	c.mu.Lock()
	token := c.bearerToken
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry client: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("registry client: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("registry returned HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// --- client-side card cache ---

type cardCacheEntry struct {
	card      *agentcard.Card
	expiresAt time.Time
}

type cardCache struct {
	mu      sync.RWMutex
	entries map[string]*cardCacheEntry
	ttl     time.Duration
}

func newCardCache(ttl time.Duration) *cardCache {
	return &cardCache{entries: make(map[string]*cardCacheEntry), ttl: ttl}
}

func (cc *cardCache) get(id string) (*agentcard.Card, bool) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	e, ok := cc.entries[id]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.card, true
}

func (cc *cardCache) set(id string, card *agentcard.Card) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.entries[id] = &cardCacheEntry{card: card, expiresAt: time.Now().Add(cc.ttl)}
}
