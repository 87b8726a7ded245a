package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sha1n/blog-archiver/internal/search"
)

// SearchArgument defines search parameters.
type SearchArgument struct {
	Query    string `json:"query" jsonschema_description:"Keywords; every keyword must appear in a matching post"`
	Tag      string `json:"tag,omitempty" jsonschema_description:"Only posts carrying this tag"`
	Category string `json:"category,omitempty" jsonschema_description:"Only posts in this category"`
	Since    string `json:"since,omitempty" jsonschema_description:"Only posts published on or after this date (YYYY-MM-DD)"`
	Until    string `json:"until,omitempty" jsonschema_description:"Only posts published before this date (YYYY-MM-DD)"`
}

// SearchHandler handles the search_posts tool.
type SearchHandler struct {
	searcher   Searcher
	maxResults int
}

// NewSearchHandler creates a new search handler. A nil searcher answers
// every call with an error result.
func NewSearchHandler(searcher Searcher, maxResults int) *SearchHandler {
	return &SearchHandler{searcher: searcher, maxResults: maxResults}
}

// Handle runs the query and returns formatted results.
func (h *SearchHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args SearchArgument) (*mcp.CallToolResult, any, error) {
	if h.searcher == nil {
		return errorResult(noIndexMessage), nil, nil
	}
	if strings.TrimSpace(args.Query) == "" && args.Tag == "" && args.Category == "" && args.Since == "" && args.Until == "" {
		return errorResult("Provide a query or at least one filter"), nil, nil
	}

	since, until, err := search.ParseRange(args.Since, args.Until)
	if err != nil {
		return errorResult(fmt.Sprintf("Invalid date filter: %s", err)), nil, nil
	}

	// Fetch one extra hit to report truncation.
	filters := search.Filters{Tag: args.Tag, Category: args.Category, Since: since, Until: until}
	if h.maxResults > 0 {
		filters.Limit = h.maxResults + 1
	}
	results, err := h.searcher.Query(ctx, args.Query, filters)
	if err != nil {
		return errorResult(fmt.Sprintf("Search failed: %s", err)), nil, nil
	}

	return h.formatResults(results, args), nil, nil
}

func describe(args SearchArgument) string {
	parts := []string{}
	if q := strings.TrimSpace(args.Query); q != "" {
		parts = append(parts, fmt.Sprintf("'%s'", q))
	}
	if args.Tag != "" {
		parts = append(parts, "tag "+args.Tag)
	}
	if args.Category != "" {
		parts = append(parts, "category "+args.Category)
	}
	if args.Since != "" {
		parts = append(parts, "since "+args.Since)
	}
	if args.Until != "" {
		parts = append(parts, "until "+args.Until)
	}
	return strings.Join(parts, ", ")
}

// formatResults formats ranked hits as Markdown.
func (h *SearchHandler) formatResults(results []search.Result, args SearchArgument) *mcp.CallToolResult {
	if len(results) == 0 {
		return textResult(fmt.Sprintf("No posts found for %s", describe(args)))
	}

	more := false
	if h.maxResults > 0 && len(results) > h.maxResults {
		results = results[:h.maxResults]
		more = true
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d posts for %s:\n\n", len(results), describe(args)))
	for i, r := range results {
		sb.WriteString(fmt.Sprintf("### %d. %s\n", i+1, r.Title))
		sb.WriteString(fmt.Sprintf("**Slug**: `%s`\n", r.Slug))
		sb.WriteString(fmt.Sprintf("**Published**: %s\n", r.Published.Format("2006-01-02")))
		if r.Link != "" {
			sb.WriteString(fmt.Sprintf("**Link**: %s\n", r.Link))
		}
		if r.Score > 0 {
			sb.WriteString(fmt.Sprintf("**Score**: %d\n", r.Score))
		}
		for _, fragment := range r.Fragments {
			sb.WriteString("\n> ")
			sb.WriteString(markFragment(fragment))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	if more {
		sb.WriteString("... more posts match; narrow the query or add filters\n")
	}
	return textResult(sb.String())
}

var markReplacer = strings.NewReplacer("<mark>", "**", "</mark>", "**", "\n", " ")

func markFragment(s string) string {
	return strings.TrimSpace(markReplacer.Replace(s))
}

// GetToolDefinition returns the MCP tool definition.
func (h *SearchHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "search_posts",
		Description: "Search archived blog posts by keywords, tag, category and publication date",
	}
}

// RegisterSearchTool registers the search_posts tool with an MCP server.
func RegisterSearchTool(server *mcp.Server, searcher Searcher, maxResults int) {
	handler := NewSearchHandler(searcher, maxResults)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}
