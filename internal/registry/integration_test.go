//go:build integration

// Package registry_test exercises the publish -> discover -> search ->
// well-known -> peers surface end to end against a real PostgreSQL
// database, the way the teacher's integration suite drove its agent
// lifecycle against Postgres rather than stubs.
package registry_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/A2AReg/a2a-registry/internal/authz"
	"github.com/A2AReg/a2a-registry/internal/cache"
	"github.com/A2AReg/a2a-registry/internal/fetcher"
	"github.com/A2AReg/a2a-registry/internal/federation"
	"github.com/A2AReg/a2a-registry/internal/registry/handler"
	"github.com/A2AReg/a2a-registry/internal/registry/repository"
	"github.com/A2AReg/a2a-registry/internal/registry/service"
	"github.com/A2AReg/a2a-registry/internal/searchindex"
	"github.com/A2AReg/a2a-registry/internal/signing"
	"github.com/A2AReg/a2a-registry/internal/tenant"
	"github.com/A2AReg/a2a-registry/pkg/agentcard"
)

// integrationEnv wires one registry instance against a live Postgres
// connection, the way the teacher's setupIntegration stood up its server.
type integrationEnv struct {
	srv    *httptest.Server
	db     *pgxpool.Pool
	issuer *authz.Issuer
	index  *searchindex.SQLiteIndex
	// tenantID is the id of the tenant row every issued token belongs to.
	tenantID string
}

// idleSyncTrigger satisfies the handler's syncTrigger interface without a
// running federation.Manager — peers CRUD is exercised end to end, but the
// scheduler itself is out of scope for this suite.
type idleSyncTrigger struct{}

func (idleSyncTrigger) TriggerSync(context.Context, uuid.UUID)  {}
func (idleSyncTrigger) Enable(context.Context, uuid.UUID) error  { return nil }
func (idleSyncTrigger) Disable(context.Context, uuid.UUID) error { return nil }

func setupIntegration(t *testing.T) *integrationEnv {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect to postgres: %v", err)
	}
	if err := db.Ping(ctx); err != nil {
		t.Fatalf("ping postgres: %v", err)
	}

	// Clean tables for deterministic tests.
	for _, table := range []string{"sync_runs", "peer_registries", "entitlements", "agent_versions", "agent_records", "publishers", "tenants"} {
		if _, err := db.Exec(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}

	var tenantID string
	if err := db.QueryRow(ctx, "INSERT INTO tenants (name) VALUES ('default') RETURNING id::text").Scan(&tenantID); err != nil {
		t.Fatalf("create tenant: %v", err)
	}

	logger := zap.NewNop()

	keys := signing.NewKeyManager(t.TempDir())
	if err := keys.LoadOrCreate(); err != nil {
		t.Fatalf("generate signing key: %v", err)
	}
	issuer := authz.NewIssuer(keys.Key(), "http://test.registry", time.Hour)

	agents := repository.NewAgentRepository(db)
	tenants := tenant.NewService(tenant.NewRepository(db), tenant.QuotaConfig{MaxAgentsPerPublisher: 3}, logger)

	index, err := searchindex.OpenSQLiteIndex(":memory:")
	if err != nil {
		t.Fatalf("open search index: %v", err)
	}
	t.Cleanup(func() { index.Close() })

	mem := cache.NewMemoryCache()

	discoverySvc := service.NewDiscoveryService(agents, index, mem, "http://test.registry", logger)
	publishSvc := service.NewPublishService(agents, tenants, index, mem, fetcher.New(), nil, logger)

	peers := federation.NewPostgresRepository(db, logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	v1 := router.Group("/api/v1")
	handler.NewDiscoveryHandler(discoverySvc, logger).Register(v1, issuer)
	handler.NewPublishHandler(publishSvc, logger).Register(v1, issuer)
	handler.NewWellKnownHandler(discoverySvc, nil, logger).Register(router)
	handler.NewFederationHandler(peers, idleSyncTrigger{}, logger).Register(v1, issuer)
	handler.NewHealthHandler(nil).Register(router)

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		db.Close()
	})
	return &integrationEnv{srv: srv, db: db, issuer: issuer, index: index, tenantID: tenantID}
}

// ── HTTP helpers ──────────────────────────────────────────────────────────────

func (env *integrationEnv) token(t *testing.T, roles ...string) string {
	t.Helper()
	tok, err := env.issuer.Issue(authz.Principal{
		Subject: "test-subject",
		Tenant:  env.tenantID,
		Kind:    authz.KindUser,
		Roles:   roles,
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func postJSON(t *testing.T, srv *httptest.Server, path string, body any, token string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("build request POST %s: %v", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	var result map[string]any
	json.NewDecoder(resp.Body).Decode(&result)
	return resp, result
}

func getJSON(t *testing.T, srv *httptest.Server, path, token string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	if err != nil {
		t.Fatalf("build request GET %s: %v", path, err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	var result map[string]any
	json.NewDecoder(resp.Body).Decode(&result)
	return resp, result
}

func sampleCard(name string) *agentcard.Card {
	return &agentcard.Card{
		Name:        name,
		Description: "An integration-test agent.",
		URL:         "https://agents.example.com/" + name,
		Version:     "1.0.0",
		SecuritySchemes: []agentcard.SecurityScheme{
			{Type: agentcard.SecuritySchemeAPIKey, In: "header", Name: "X-API-Key"},
		},
		Skills: []agentcard.Skill{
			{ID: "echo", Name: "Echo", Tags: []string{"utility"}},
		},
		Interface: agentcard.Interface{
			PreferredTransport: agentcard.TransportHTTP,
			DefaultInputModes:  []string{"text"},
			DefaultOutputModes: []string{"text"},
		},
	}
}

// ── Publish -> discover -> search lifecycle ───────────────────────────────────

func TestFullLifecycle(t *testing.T) {
	env := setupIntegration(t)
	token := env.token(t, string(authz.RoleCatalogManager))

	resp, body := postJSON(t, env.srv, "/api/v1/agents/publish", map[string]any{
		"card":   sampleCard("echo-agent"),
		"public": true,
	}, token)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("publish: expected 201, got %d: %v", resp.StatusCode, body)
	}
	agentID := body["agentId"].(string)

	// Republishing the same bytes is idempotent.
	resp, body = postJSON(t, env.srv, "/api/v1/agents/publish", map[string]any{
		"card":   sampleCard("echo-agent"),
		"public": true,
	}, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("idempotent publish: expected 200, got %d: %v", resp.StatusCode, body)
	}
	if body["created"] != false {
		t.Errorf("idempotent publish: expected created=false, got %v", body["created"])
	}

	// Get.
	resp, body = getJSON(t, env.srv, "/api/v1/agents/"+agentID, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: expected 200, got %d: %v", resp.StatusCode, body)
	}
	if body["name"] != "echo-agent" {
		t.Errorf("expected name echo-agent, got %v", body["name"])
	}

	// Card.
	resp, _ = http.DefaultClient.Get(env.srv.URL + "/api/v1/agents/" + agentID + "/card")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get card: expected 200, got %d", resp.StatusCode)
	}

	// List public.
	resp, body = getJSON(t, env.srv, "/api/v1/agents/public", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list public: expected 200, got %d: %v", resp.StatusCode, body)
	}
	items, _ := body["items"].([]any)
	if len(items) == 0 {
		t.Error("list public: expected at least 1 agent")
	}
}

func TestPublish_requiresCatalogManagerRole(t *testing.T) {
	env := setupIntegration(t)
	token := env.token(t, string(authz.RoleUser))

	resp, body := postJSON(t, env.srv, "/api/v1/agents/publish", map[string]any{
		"card":   sampleCard("unauthorized-agent"),
		"public": true,
	}, token)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %v", resp.StatusCode, body)
	}
}

func TestPublish_requiresAuthentication(t *testing.T) {
	env := setupIntegration(t)

	resp, body := postJSON(t, env.srv, "/api/v1/agents/publish", map[string]any{
		"card":   sampleCard("anon-agent"),
		"public": true,
	}, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %v", resp.StatusCode, body)
	}
}

func TestSearch_findsPublishedAgent(t *testing.T) {
	env := setupIntegration(t)
	token := env.token(t, string(authz.RoleCatalogManager))

	resp, body := postJSON(t, env.srv, "/api/v1/agents/publish", map[string]any{
		"card":   sampleCard("search-target"),
		"public": true,
	}, token)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("publish: expected 201, got %d: %v", resp.StatusCode, body)
	}

	resp, body = postJSON(t, env.srv, "/api/v1/agents/search", map[string]any{
		"q": "search-target",
	}, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search: expected 200, got %d: %v", resp.StatusCode, body)
	}
	items, _ := body["items"].([]any)
	if len(items) == 0 {
		t.Error("search: expected at least 1 result for the published agent")
	}
}

func TestWellKnownIndex_listsPublicAgents(t *testing.T) {
	env := setupIntegration(t)
	token := env.token(t, string(authz.RoleCatalogManager))

	resp, body := postJSON(t, env.srv, "/api/v1/agents/publish", map[string]any{
		"card":   sampleCard("wellknown-agent"),
		"public": true,
	}, token)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("publish: expected 201, got %d: %v", resp.StatusCode, body)
	}

	resp, body = getJSON(t, env.srv, "/.well-known/agents/index.json", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("well-known index: expected 200, got %d: %v", resp.StatusCode, body)
	}
	entries, _ := body["entries"].([]any)
	if len(entries) == 0 {
		t.Error("well-known index: expected at least 1 entry")
	}
}

func TestWellKnownOwnCard_notConfigured(t *testing.T) {
	env := setupIntegration(t)

	resp, _ := getJSON(t, env.srv, "/.well-known/agent.json", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 when no registry card is configured, got %d", resp.StatusCode)
	}
}

// ── Peer Registry administration ──────────────────────────────────────────────

func TestPeers_createListEnableDisable(t *testing.T) {
	env := setupIntegration(t)
	admin := env.token(t, string(authz.RoleAdministrator))

	resp, body := postJSON(t, env.srv, "/api/v1/peers", map[string]any{
		"name":          "partner-registry",
		"baseUrl":       "https://partner.example.com",
		"syncIntervalS": 3600,
	}, admin)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create peer: expected 201, got %d: %v", resp.StatusCode, body)
	}
	peerID := body["id"].(string)

	resp, body = getJSON(t, env.srv, "/api/v1/peers", admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list peers: expected 200, got %d: %v", resp.StatusCode, body)
	}
	peers, _ := body["peers"].([]any)
	if len(peers) == 0 {
		t.Error("list peers: expected at least 1 peer")
	}

	resp, body = postJSON(t, env.srv, fmt.Sprintf("/api/v1/peers/%s/disable", peerID), nil, admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("disable peer: expected 200, got %d: %v", resp.StatusCode, body)
	}

	resp, body = postJSON(t, env.srv, fmt.Sprintf("/api/v1/peers/%s/enable", peerID), nil, admin)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("enable peer: expected 200, got %d: %v", resp.StatusCode, body)
	}
}

func TestPeers_requireAdministratorRole(t *testing.T) {
	env := setupIntegration(t)
	token := env.token(t, string(authz.RoleCatalogManager))

	resp, body := getJSON(t, env.srv, "/api/v1/peers", token)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for a non-administrator, got %d: %v", resp.StatusCode, body)
	}
}
