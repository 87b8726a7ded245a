package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sha1n/blog-archiver/internal/search"
)

// Searcher answers keyword queries and navigation listings.
type Searcher interface {
	Query(ctx context.Context, text string, f search.Filters) ([]search.Result, error)
	Tags(ctx context.Context) ([]search.LabelCount, error)
	Categories(ctx context.Context) ([]search.LabelCount, error)
}

// PostReader reads archived Markdown by slug.
type PostReader interface {
	ReadMarkdown(slug string) ([]byte, error)
}

// ServerConfig contains configuration for creating an MCP server
type ServerConfig struct {
	Name    string
	Version string

	// Searcher is nil until the index has been built.
	Searcher   Searcher
	Posts      PostReader
	MaxResults int
}

// CreateServer creates the MCP server and registers the archive tools.
func CreateServer(cfg ServerConfig) *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	RegisterSearchTool(s, cfg.Searcher, cfg.MaxResults)
	RegisterTagsTool(s, cfg.Searcher)
	if cfg.Posts != nil {
		RegisterReadTool(s, cfg.Posts)
	}

	return s
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

const noIndexMessage = "Search is not available. The archive has not been indexed yet; run `blog-archiver index` and restart the server."
