package api

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/edupipe/edupipe/internal/content"
	"github.com/edupipe/edupipe/internal/index"
	"github.com/edupipe/edupipe/internal/search"
	"github.com/edupipe/edupipe/internal/storage"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *mockSearcher) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	searcher := &mockSearcher{}
	return MCPDeps{
		Store:      store,
		IndexStore: index.NewMemStore(),
		Searcher:   searcher,
	}, searcher
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// --- tests ---

func TestMCPSearchResources(t *testing.T) {
	deps, searcher := newTestMCPDeps(t)
	searcher.results = []search.Result{
		{ID: "r1", Title: "Fractions Intro", Subject: "Maths", ContentType: content.TypeVideo, Score: 0.93},
	}
	handler := mcpSearchResources(deps)

	result, err := handler(context.Background(), makeCallToolRequest("search_resources", map[string]interface{}{
		"query":        "fractions",
		"subject":      "Maths",
		"content_type": "video",
		"grade":        float64(2),
		"limit":        float64(3),
	}))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	if searcher.gotQ.Text != "fractions" || searcher.gotQ.Subject != "Maths" {
		t.Errorf("query = %+v", searcher.gotQ)
	}
	if searcher.gotQ.ContentType != content.TypeVideo || searcher.gotQ.TopK != 3 {
		t.Errorf("query = %+v", searcher.gotQ)
	}
	if searcher.gotQ.Grade == nil || *searcher.gotQ.Grade != 2 {
		t.Errorf("grade = %v", searcher.gotQ.Grade)
	}

	var results []search.Result
	if err := json.Unmarshal([]byte(toolText(t, result)), &results); err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != "r1" {
		t.Errorf("results = %+v", results)
	}
}

func TestMCPSearchResourcesMissingQuery(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpSearchResources(deps)

	result, err := handler(context.Background(), makeCallToolRequest("search_resources", map[string]interface{}{}))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Error("expected IsError for missing query")
	}
}

func TestMCPSearchResourcesEmpty(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpSearchResources(deps)

	result, err := handler(context.Background(), makeCallToolRequest("search_resources", map[string]interface{}{
		"query": "nothing indexed yet",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if got := toolText(t, result); got != "[]" {
		t.Errorf("text = %q", got)
	}
}

func TestMCPSearchResourcesNoSearcher(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	deps.Searcher = nil
	handler := mcpSearchResources(deps)

	result, err := handler(context.Background(), makeCallToolRequest("search_resources", map[string]interface{}{
		"query": "fractions",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Error("expected IsError with nil searcher")
	}
}

func TestMCPIndexStats(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpIndexStats(deps)

	result, err := handler(context.Background(), makeCallToolRequest("index_stats", nil))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Error("expected IsError before an index exists")
	}

	seedIndexStore(t, deps.IndexStore)
	result, err = handler(context.Background(), makeCallToolRequest("index_stats", nil))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}
	var stats IndexStats
	if err := json.Unmarshal([]byte(toolText(t, result)), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.TotalResources != 2 || stats.Subjects["Maths"].Count != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestMCPGetResource(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	rec := &content.Record{
		ID:          "res-1",
		Title:       "Counting On",
		ContentType: content.TypeArticle,
		Subject:     "Maths",
		URL:         "https://example.org/education/res-1",
		Source:      "ABC Education",
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := deps.Store.SaveContentRecord(rec); err != nil {
		t.Fatal(err)
	}
	handler := mcpGetResource(deps)

	result, err := handler(context.Background(), makeCallToolRequest("get_resource", map[string]interface{}{
		"id": "res-1",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}
	var got content.Record
	if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != "res-1" || got.Title != "Counting On" {
		t.Errorf("record = %+v", got)
	}

	result, err = handler(context.Background(), makeCallToolRequest("get_resource", map[string]interface{}{
		"id": "missing",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Error("expected IsError for missing record")
	}
}

func TestMCPResourceStats(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	if err := deps.Store.SaveContentRecord(&content.Record{
		ID:          "res-1",
		Title:       "Counting On",
		ContentType: content.TypeArticle,
		Subject:     "Maths",
		URL:         "https://example.org/education/res-1",
		Source:      "ABC Education",
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}
	handler := mcpResourceStats(deps)

	contents, err := handler(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "edupipe://stats"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents = %+v", contents)
	}
	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var stats storage.Stats
	if err := json.Unmarshal([]byte(text.Text), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Total != 1 {
		t.Errorf("stats = %+v", stats)
	}
}
