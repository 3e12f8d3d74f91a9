package searchindex_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/A2AReg/a2a-registry/internal/searchindex"
)

func openTestIndex(t *testing.T) *searchindex.SQLiteIndex {
	t.Helper()
	idx, err := searchindex.OpenSQLiteIndex(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLiteIndex: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func sampleView(name string, public bool, tenant uuid.UUID) searchindex.AgentView {
	return searchindex.AgentView{
		AgentID:            uuid.New(),
		TenantID:           tenant,
		PublisherID:        uuid.New(),
		Name:               name,
		Description:        "an agent that does " + name,
		Tags:               []string{"weather", "forecast"},
		Streaming:          true,
		PreferredTransport: "JSONRPC",
		Public:             public,
		UpdatedAt:          time.Now(),
	}
}

func TestSQLiteIndexUpsertAndSearch(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	tenant := uuid.New()

	v := sampleView("weather-forecaster", true, tenant)
	if err := idx.Upsert(ctx, v); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	page, err := idx.Search(ctx, "weather", searchindex.Filter{}, searchindex.Visibility{IncludePublic: true}, "", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(page.AgentIDs) != 1 || page.AgentIDs[0] != v.AgentID {
		t.Fatalf("expected to find %s, got %v", v.AgentID, page.AgentIDs)
	}
}

func TestSQLiteIndexUpsertIsIdempotentByAgentID(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	tenant := uuid.New()

	v := sampleView("retriable-agent", true, tenant)
	if err := idx.Upsert(ctx, v); err != nil {
		t.Fatalf("first Upsert: %v", err)
	}
	v.Description = "updated description"
	if err := idx.Upsert(ctx, v); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	page, err := idx.Search(ctx, "", searchindex.Filter{}, searchindex.Visibility{IncludePublic: true}, "", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(page.AgentIDs) != 1 {
		t.Fatalf("expected exactly one row after re-upsert, got %d", len(page.AgentIDs))
	}
}

func TestSQLiteIndexDeleteRemovesFromSearch(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	tenant := uuid.New()

	v := sampleView("ephemeral-agent", true, tenant)
	if err := idx.Upsert(ctx, v); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := idx.Delete(ctx, v.AgentID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	page, err := idx.Search(ctx, "ephemeral", searchindex.Filter{}, searchindex.Visibility{IncludePublic: true}, "", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(page.AgentIDs) != 0 {
		t.Fatalf("expected no results after delete, got %v", page.AgentIDs)
	}
}

func TestSQLiteIndexSearchHidesNonPublicFromOtherTenants(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	tenantA, tenantB := uuid.New(), uuid.New()

	private := sampleView("private-agent", false, tenantA)
	if err := idx.Upsert(ctx, private); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	page, err := idx.Search(ctx, "private", searchindex.Filter{}, searchindex.Visibility{TenantID: tenantB}, "", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(page.AgentIDs) != 0 {
		t.Fatalf("expected tenant B to see no results for tenant A's private agent, got %v", page.AgentIDs)
	}

	page, err = idx.Search(ctx, "private", searchindex.Filter{}, searchindex.Visibility{TenantID: tenantA}, "", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(page.AgentIDs) != 1 {
		t.Fatalf("expected tenant A to see its own private agent, got %v", page.AgentIDs)
	}
}

func TestSQLiteIndexSearchPagination(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	tenant := uuid.New()

	for i := 0; i < 5; i++ {
		v := sampleView("paged-agent", true, tenant)
		if err := idx.Upsert(ctx, v); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	first, err := idx.Search(ctx, "", searchindex.Filter{}, searchindex.Visibility{IncludePublic: true}, "", 2)
	if err != nil {
		t.Fatalf("Search page 1: %v", err)
	}
	if len(first.AgentIDs) != 2 || first.NextCursor == "" {
		t.Fatalf("expected a full first page with a cursor, got %d rows cursor=%q", len(first.AgentIDs), first.NextCursor)
	}

	second, err := idx.Search(ctx, "", searchindex.Filter{}, searchindex.Visibility{IncludePublic: true}, first.NextCursor, 2)
	if err != nil {
		t.Fatalf("Search page 2: %v", err)
	}
	if len(second.AgentIDs) != 2 {
		t.Fatalf("expected 2 rows on second page, got %d", len(second.AgentIDs))
	}
}
