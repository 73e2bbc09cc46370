package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/edupipe/edupipe/internal/content"
	"github.com/edupipe/edupipe/internal/index"
	"github.com/edupipe/edupipe/internal/search"
	"github.com/edupipe/edupipe/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store      *storage.Store
	IndexStore index.Store
	Searcher   Searcher // optional; if nil, search_resources returns an error
}

// NewMCPServer creates an MCP server exposing the content store to
// agent clients.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"edupipe",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("edupipe — semantic search over indexed educational resources."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_resources",
			mcp.WithDescription("Semantically search indexed educational resources."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithString("subject", mcp.Description("Restrict to one subject (e.g. Maths)")),
			mcp.WithString("content_type", mcp.Description("Restrict to one content type (article, video, audio, interactive, quiz, worksheet, lesson, activity)")),
			mcp.WithNumber("grade", mcp.Description("Restrict to resources covering this grade (0 = Foundation)")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchResources(deps),
	)

	s.AddTool(
		mcp.NewTool("index_stats",
			mcp.WithDescription("Report how many resources are indexed per subject and age group."),
		),
		mcpIndexStats(deps),
	)

	s.AddTool(
		mcp.NewTool("get_resource",
			mcp.WithDescription("Fetch one extracted content record by its id."),
			mcp.WithString("id", mcp.Description("Resource id"), mcp.Required()),
		),
		mcpGetResource(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"edupipe://stats",
			"Content Store Stats",
			mcp.WithResourceDescription("Counts of extracted, analyzed, and upserted records"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStats(deps),
	)

	return s
}

func mcpSearchResources(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Searcher == nil {
			return mcpError("search not available: no embedding model configured"), nil
		}

		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		q := search.Query{
			Text:        query,
			Subject:     req.GetString("subject", ""),
			ContentType: content.Type(req.GetString("content_type", "")),
			TopK:        limit,
		}
		if grade := req.GetInt("grade", -1); grade >= 0 {
			q.Grade = &grade
		}

		results, err := deps.Searcher.Search(ctx, q)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(results) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpIndexStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		idx, err := deps.IndexStore.Load()
		if errors.Is(err, index.ErrNoIndex) {
			return mcpError("no index has been built yet"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load index: %v", err)), nil
		}

		b, err := json.Marshal(indexStats(idx))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal stats: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetResource(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		rec, err := deps.Store.GetContentRecord(id)
		if errors.Is(err, content.ErrNotFound) {
			return mcpError(fmt.Sprintf("no record with id %s", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load record: %v", err)), nil
		}

		b, err := json.Marshal(rec)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal record: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceStats(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		stats, err := deps.Store.ContentStats()
		if err != nil {
			return nil, fmt.Errorf("failed to read stats: %w", err)
		}

		b, err := json.Marshal(stats)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal stats: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
