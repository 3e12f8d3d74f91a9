package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/A2AReg/a2a-registry/pkg/agentcard"
	"github.com/A2AReg/a2a-registry/pkg/client"
)

// ── Stub server ─────────────────────────────────────────────────────────

func stubRegistryServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/agents/publish", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"agentId":   "550e8400-e29b-41d4-a716-446655440000",
			"versionId": "660e8400-e29b-41d4-a716-446655440000",
			"created":   true,
		})
	})

	mux.HandleFunc("/api/v1/agents/public", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{
					"id": "550e8400-e29b-41d4-a716-446655440000", "tenantId": "t1", "publisherId": "p1",
					"name": "echo-agent", "public": true, "updatedAt": "2026-01-01T00:00:00Z",
					"version": map[string]any{"id": "v1", "version": "1.0.0", "contentHash": "abc", "source": "by_value"},
				},
			},
		})
	})

	mux.HandleFunc("/api/v1/agents/entitled", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{}})
	})

	mux.HandleFunc("/api/v1/agents/search", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{"id": "agent-1", "name": "billing-agent", "version": map[string]any{}},
			},
		})
	})

	mux.HandleFunc("/api/v1/agents/not-found-id", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	})

	mux.HandleFunc("/api/v1/agents/550e8400-e29b-41d4-a716-446655440000", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id": "550e8400-e29b-41d4-a716-446655440000", "tenantId": "t1", "publisherId": "p1",
			"name": "echo-agent", "public": true, "updatedAt": "2026-01-01T00:00:00Z",
			"version": map[string]any{"id": "v1", "version": "1.0.0"},
		})
	})

	mux.HandleFunc("/api/v1/agents/550e8400-e29b-41d4-a716-446655440000/card", func(w http.ResponseWriter, r *http.Request) {
		card := &agentcard.Card{
			Name: "echo-agent", Description: "test", URL: "https://echo.example.com", Version: "1.0.0",
			Interface: agentcard.Interface{PreferredTransport: agentcard.TransportHTTP},
		}
		b, _ := json.Marshal(card)
		w.Header().Set("Content-Type", "application/json")
		w.Write(b)
	})

	mux.HandleFunc("/.well-known/agents/index.json", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"registryUrl": "https://registry.example.com",
			"entries": []map[string]any{
				{"publisher": "p1", "name": "echo-agent", "contentHash": "abc", "cardUrl": "https://registry.example.com/.well-known/agents/1/agent.json"},
			},
		})
	})

	mux.HandleFunc("/api/v1/peers", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{
				"id": "770e8400-e29b-41d4-a716-446655440000", "name": "partner", "base_url": "https://partner.example.com",
				"sync_interval_s": 3600, "status": "active",
			})
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{
				"peers": []map[string]any{
					{"id": "770e8400-e29b-41d4-a716-446655440000", "name": "partner", "status": "active"},
				},
			})
		}
	})

	mux.HandleFunc("/api/v1/peers/770e8400-e29b-41d4-a716-446655440000/sync", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{"status": "sync triggered"})
	})

	return httptest.NewServer(mux)
}

// ── Tests ────────────────────────────────────────────────────────────────

func sampleCard() *agentcard.Card {
	return &agentcard.Card{
		Name: "echo-agent", Description: "test", URL: "https://echo.example.com", Version: "1.0.0",
		SecuritySchemes: []agentcard.SecurityScheme{{Type: agentcard.SecuritySchemeAPIKey, In: "header", Name: "X-API-Key"}},
		Skills:          []agentcard.Skill{{ID: "echo", Name: "Echo", Tags: []string{"utility"}}},
		Interface: agentcard.Interface{
			PreferredTransport: agentcard.TransportHTTP,
			DefaultInputModes:  []string{"text"},
			DefaultOutputModes: []string{"text"},
		},
	}
}

func TestPublish_success(t *testing.T) {
	srv := stubRegistryServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL, client.WithBearerToken("test-token"))
	result, err := c.Publish(context.Background(), sampleCard(), true, "")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !result.Created {
		t.Error("expected created=true")
	}
	if result.AgentID == "" {
		t.Error("expected non-empty agent ID")
	}
}

func TestPublish_requiresBearerToken(t *testing.T) {
	srv := stubRegistryServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL)
	_, err := c.Publish(context.Background(), sampleCard(), true, "")
	if err == nil {
		t.Error("expected error without a bearer token")
	}
}

func TestListPublic_success(t *testing.T) {
	srv := stubRegistryServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL)
	page, err := c.ListPublic(context.Background(), "", 20)
	if err != nil {
		t.Fatalf("ListPublic: %v", err)
	}
	if len(page.Items) != 1 {
		t.Errorf("expected 1 item, got %d", len(page.Items))
	}
}

func TestListEntitled_requiresBearerToken(t *testing.T) {
	srv := stubRegistryServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL)
	_, err := c.ListEntitled(context.Background(), "", 20)
	if err == nil {
		t.Error("expected error without a bearer token")
	}
}

func TestGetAgent_success(t *testing.T) {
	srv := stubRegistryServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL)
	agent, err := c.GetAgent(context.Background(), "550e8400-e29b-41d4-a716-446655440000")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if agent.Name != "echo-agent" {
		t.Errorf("unexpected name: %s", agent.Name)
	}
}

func TestGetAgent_notFound(t *testing.T) {
	srv := stubRegistryServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL)
	_, err := c.GetAgent(context.Background(), "not-found-id")
	if err == nil {
		t.Error("expected error for not-found agent")
	}
}

func TestGetCard_success(t *testing.T) {
	srv := stubRegistryServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL)
	card, err := c.GetCard(context.Background(), "550e8400-e29b-41d4-a716-446655440000")
	if err != nil {
		t.Fatalf("GetCard: %v", err)
	}
	if card.Name != "echo-agent" {
		t.Errorf("unexpected card name: %s", card.Name)
	}
}

func TestGetCard_cache(t *testing.T) {
	var fetches int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches++
		card := &agentcard.Card{Name: "cached-agent", Version: "1.0.0"}
		b, _ := json.Marshal(card)
		w.Write(b)
	}))
	defer srv.Close()

	c := client.MustNew(srv.URL, client.WithCardCacheTTL(5*time.Minute))
	c.GetCard(context.Background(), "agent-1")
	c.GetCard(context.Background(), "agent-1")

	if fetches != 1 {
		t.Errorf("expected 1 HTTP call (cached), got %d", fetches)
	}
}

func TestSearch_success(t *testing.T) {
	srv := stubRegistryServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL, client.WithBearerToken("test-token"))
	page, err := c.Search(context.Background(), client.SearchRequest{Q: "billing"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(page.Items) != 1 {
		t.Errorf("expected 1 result, got %d", len(page.Items))
	}
}

func TestGetWellKnownIndex_success(t *testing.T) {
	srv := stubRegistryServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL)
	idx, err := c.GetWellKnownIndex(context.Background(), "", 20)
	if err != nil {
		t.Fatalf("GetWellKnownIndex: %v", err)
	}
	if len(idx.Entries) != 1 {
		t.Errorf("expected 1 entry, got %d", len(idx.Entries))
	}
}

func TestCreatePeer_andTriggerSync(t *testing.T) {
	srv := stubRegistryServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL, client.WithBearerToken("admin-token"))
	peer, err := c.CreatePeer(context.Background(), "partner", "https://partner.example.com", "", 3600)
	if err != nil {
		t.Fatalf("CreatePeer: %v", err)
	}
	if peer.ID == "" {
		t.Error("expected non-empty peer ID")
	}

	if err := c.TriggerSync(context.Background(), peer.ID); err != nil {
		t.Fatalf("TriggerSync: %v", err)
	}
}

func TestListPeers_requiresBearerToken(t *testing.T) {
	srv := stubRegistryServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL)
	_, err := c.ListPeers(context.Background())
	if err == nil {
		t.Error("expected error without a bearer token")
	}
}

func TestListPeers_success(t *testing.T) {
	srv := stubRegistryServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL, client.WithBearerToken("admin-token"))
	peers, err := c.ListPeers(context.Background())
	if err != nil {
		t.Fatalf("ListPeers: %v", err)
	}
	if len(peers) != 1 {
		t.Errorf("expected 1 peer, got %d", len(peers))
	}
	if !strings.Contains(peers[0].Name, "partner") {
		t.Errorf("unexpected peer name: %s", peers[0].Name)
	}
}
