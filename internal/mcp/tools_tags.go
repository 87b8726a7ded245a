package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sha1n/blog-archiver/internal/search"
)

// TagsArgument takes no parameters.
type TagsArgument struct{}

// TagsHandler handles the list_tags tool.
type TagsHandler struct {
	searcher Searcher
}

// NewTagsHandler creates a new tags handler.
func NewTagsHandler(searcher Searcher) *TagsHandler {
	return &TagsHandler{searcher: searcher}
}

// Handle lists tags and categories with post counts.
func (h *TagsHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args TagsArgument) (*mcp.CallToolResult, any, error) {
	if h.searcher == nil {
		return errorResult(noIndexMessage), nil, nil
	}
	tags, err := h.searcher.Tags(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to list tags: %s", err)), nil, nil
	}
	categories, err := h.searcher.Categories(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to list categories: %s", err)), nil, nil
	}

	var sb strings.Builder
	writeLabels(&sb, "Tags", tags)
	sb.WriteString("\n")
	writeLabels(&sb, "Categories", categories)
	return textResult(sb.String()), nil, nil
}

func writeLabels(sb *strings.Builder, heading string, labels []search.LabelCount) {
	sb.WriteString(fmt.Sprintf("## %s (%d)\n", heading, len(labels)))
	if len(labels) == 0 {
		sb.WriteString("(none)\n")
		return
	}
	for _, l := range labels {
		sb.WriteString(fmt.Sprintf("- %s (%d)\n", l.Label, l.Count))
	}
}

// GetToolDefinition returns the MCP tool definition.
func (h *TagsHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "list_tags",
		Description: "List every tag and category in the archive with the number of posts in each",
	}
}

// RegisterTagsTool registers the list_tags tool with an MCP server.
func RegisterTagsTool(server *mcp.Server, searcher Searcher) {
	handler := NewTagsHandler(searcher)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}
