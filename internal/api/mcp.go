package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/folio/internal/catalog"
	"github.com/kalambet/folio/internal/pipeline"
)

// NewMCPServer creates an MCP server exposing the catalog tools and the
// catalog resource.
func NewMCPServer(svc *pipeline.Service) *server.MCPServer {
	s := server.NewMCPServer(
		"folio",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("folio: book catalog with content-based recommendations and a personalized discovery feed."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("similar_books",
			mcp.WithDescription("Find catalog books similar to a given title."),
			mcp.WithString("title", mcp.Description("Exact title of a catalog book"), mcp.Required()),
			mcp.WithNumber("k", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSimilarBooks(svc),
	)

	s.AddTool(
		mcp.NewTool("global_feed",
			mcp.WithDescription("Compose the discovery feed: a recommended row plus random genre rows."),
			mcp.WithString("user_id", mcp.Description("User to personalize for; empty for anonymous")),
		),
		mcpGlobalFeed(svc),
	)

	s.AddTool(
		mcp.NewTool("search_catalog",
			mcp.WithDescription("Search the global library for readable books."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
		),
		mcpSearchCatalog(svc),
	)

	s.AddResource(
		mcp.NewResource(
			"catalog://books",
			"Local Catalog",
			mcp.WithResourceDescription("All books in the local catalog as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCatalog(svc),
	)

	return s
}

func mcpSimilarBooks(svc *pipeline.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title, err := req.RequireString("title")
		if err != nil {
			return mcpError("title is required"), nil
		}
		k := req.GetInt("k", 0)
		if k > maxRecommendK {
			k = maxRecommendK
		}

		books, err := svc.Similar(ctx, title, k)
		if errors.Is(err, pipeline.ErrIndexNotReady) {
			return mcpError("similarity index is not built yet"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("recommendation failed: %v", err)), nil
		}
		return mcpJSON(books)
	}
}

func mcpGlobalFeed(svc *pipeline.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		f, err := svc.Feed(ctx, req.GetString("user_id", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("feed failed: %v", err)), nil
		}
		return mcpJSON(f)
	}
}

func mcpSearchCatalog(svc *pipeline.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		books := svc.SearchExternal(ctx, query)
		if len(books) == 0 {
			return mcpText("[]"), nil
		}
		return mcpJSON(books)
	}
}

func mcpResourceCatalog(svc *pipeline.Service) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		books, err := svc.Books(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list books: %w", err)
		}
		if books == nil {
			books = []catalog.Book{}
		}
		b, err := json.Marshal(books)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal catalog: %w", err)
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

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
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
