package mcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sha1n/blog-archiver/internal/archive"
	"github.com/sha1n/blog-archiver/internal/domain"
)

// ReadArgument defines read parameters.
type ReadArgument struct {
	Slug string `json:"slug" jsonschema_description:"Post slug as returned by search_posts"`
}

// ReadHandler handles the read_post tool.
type ReadHandler struct {
	posts PostReader
}

// NewReadHandler creates a new read handler.
func NewReadHandler(posts PostReader) *ReadHandler {
	return &ReadHandler{posts: posts}
}

// Handle returns the archived Markdown for a slug.
func (h *ReadHandler) Handle(ctx context.Context, req *mcp.CallToolRequest, args ReadArgument) (*mcp.CallToolResult, any, error) {
	slug := strings.TrimSpace(args.Slug)
	if slug == "" {
		return errorResult("Slug cannot be empty"), nil, nil
	}
	if !domain.ValidSlug(slug) {
		return errorResult(fmt.Sprintf("Invalid slug: %s", slug)), nil, nil
	}

	data, err := h.posts.ReadMarkdown(slug)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			return errorResult(fmt.Sprintf("Post not found: %s", slug)), nil, nil
		}
		return errorResult(fmt.Sprintf("Error reading post: %s", err)), nil, nil
	}

	doc, err := archive.ParseMarkdown(bytes.NewReader(data))
	if err != nil {
		return errorResult(fmt.Sprintf("Archived post %s is malformed: %s", slug, err)), nil, nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("**Post**: %s (%s:%s)\n", doc.Meta.Title, doc.Meta.Source, doc.Meta.ID))
	sb.WriteString(fmt.Sprintf("**Size**: %d bytes\n\n", len(data)))
	sb.Write(data)

	return textResult(sb.String()), nil, nil
}

// GetToolDefinition returns the MCP tool definition.
func (h *ReadHandler) GetToolDefinition() *mcp.Tool {
	return &mcp.Tool{
		Name:        "read_post",
		Description: "Read an archived blog post as Markdown with its front matter",
	}
}

// RegisterReadTool registers the read_post tool with an MCP server.
func RegisterReadTool(server *mcp.Server, posts PostReader) {
	handler := NewReadHandler(posts)
	mcp.AddTool(server, handler.GetToolDefinition(), handler.Handle)
}
