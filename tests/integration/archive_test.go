package integration

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/pflag"

	"github.com/sha1n/blog-archiver/internal/app"
	"github.com/sha1n/blog-archiver/internal/config"
	"github.com/sha1n/blog-archiver/internal/domain"
	"github.com/sha1n/blog-archiver/tests/integration/testkit"
)

// ========================================
// Fixtures
// ========================================

func blogPosts() []testkit.WordPressPost {
	return []testkit.WordPressPost{
		{
			ID:         11,
			Slug:       "bayesian-priors",
			Title:      "Choosing Bayesian priors",
			Content:    "<p>A prior encodes what you believe before seeing data.</p><ul><li>flat</li><li>conjugate</li></ul>",
			Published:  time.Date(2019, 5, 1, 9, 0, 0, 0, time.UTC),
			Tags:       []string{"Bayesian", "Statistics"},
			Categories: []string{"Math"},
		},
		{
			ID:         12,
			Slug:       "regression-basics",
			Title:      "Regression basics",
			Content:    "<p>Linear regression fits a line through the data.</p>",
			Published:  time.Date(2020, 2, 3, 9, 0, 0, 0, time.UTC),
			Tags:       []string{"Statistics"},
			Categories: []string{"Math"},
		},
		{
			ID:         13,
			Slug:       "sourdough",
			Title:      "Sourdough at home",
			Content:    "<p>Feed the starter the day before baking.</p>",
			Published:  time.Date(2021, 7, 4, 9, 0, 0, 0, time.UTC),
			Tags:       []string{"Baking"},
			Categories: []string{"Food"},
		},
	}
}

func startSite(t *testing.T) (*testkit.WordPressSite, string) {
	t.Helper()
	site := &testkit.WordPressSite{Posts: blogPosts(), PerPage: 2}
	env := testkit.NewTestEnv(site)
	props, err := env.Start()
	if err != nil {
		t.Fatalf("Failed to start site: %v", err)
	}
	t.Cleanup(func() { _ = env.Stop() })
	return site, props["wordpress_url"].(string)
}

func quietParams(stdout *bytes.Buffer) app.RunParams {
	params := app.DefaultRunParams()
	params.Stdout = stdout
	params.Stderr = &bytes.Buffer{}
	return params
}

func fetchFlags(t *testing.T, archiveDir, url string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("fetch", pflag.ContinueOnError)
	app.RegisterGlobalFlags(flags)
	app.RegisterWordPressFlags(flags)
	args := []string{"--output", archiveDir, "--url", url, "--rate-limit", "0s", "--no-media", "--log-level", "error"}
	if err := flags.Parse(args); err != nil {
		t.Fatalf("Failed to parse flags: %v", err)
	}
	return flags
}

func indexFlags(t *testing.T, archiveDir string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("index", pflag.ContinueOnError)
	app.RegisterGlobalFlags(flags)
	app.RegisterIndexFlags(flags)
	if err := flags.Parse([]string{"--output", archiveDir, "--log-level", "error"}); err != nil {
		t.Fatalf("Failed to parse flags: %v", err)
	}
	return flags
}

func fetchAndIndex(t *testing.T, archiveDir, url string) {
	t.Helper()
	ctx := context.Background()
	var out bytes.Buffer
	if err := app.RunFetch(ctx, quietParams(&out), fetchFlags(t, archiveDir, url), domain.SourceWordPress); err != nil {
		t.Fatalf("RunFetch failed: %v\n%s", err, out.String())
	}
	if err := app.RunIndex(ctx, quietParams(&out), indexFlags(t, archiveDir)); err != nil {
		t.Fatalf("RunIndex failed: %v\n%s", err, out.String())
	}
}

// startServer serves archiveDir over SSE and returns the SSE endpoint.
func startServer(t *testing.T, opts testkit.FlagOptions) (string, string) {
	t.Helper()
	settings, err := config.LoadSettingsWithFlags(testkit.NewTestFlags(t, opts))
	if err != nil {
		t.Fatalf("LoadSettingsWithFlags failed: %v", err)
	}
	if err := config.ValidateServe(settings); err != nil {
		t.Fatalf("ValidateServe failed: %v", err)
	}

	env := testkit.NewTestEnv(&testkit.ArchiveServer{Settings: settings})
	props, err := env.Start()
	if err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() {
		if err := env.Stop(); err != nil {
			t.Errorf("Failed to stop server: %v", err)
		}
	})
	return props["base_url"].(string), props["sse_url"].(string)
}

type headerTransport struct {
	header, value string
}

func (h headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set(h.header, h.value)
	return http.DefaultTransport.RoundTrip(req)
}

func connect(t *testing.T, endpoint string, hc *http.Client) *mcp.ClientSession {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := mcp.NewClient(&mcp.Implementation{Name: "integration", Version: "1.0"}, nil)
	session, err := client.Connect(ctx, &mcp.SSEClientTransport{Endpoint: endpoint, HTTPClient: hc}, nil)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool %s failed: %v", name, err)
	}
	return extractTextContent(result), result.IsError
}

func extractTextContent(result *mcp.CallToolResult) string {
	var sb strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

// ========================================
// Fetch and Index Tests
// ========================================

func TestFetch_WritesArchiveAcrossPages(t *testing.T) {
	t.Chdir(t.TempDir())
	site, url := startSite(t)
	archiveDir := filepath.Join(t.TempDir(), "archive")

	var out bytes.Buffer
	if err := app.RunFetch(context.Background(), quietParams(&out), fetchFlags(t, archiveDir, url), domain.SourceWordPress); err != nil {
		t.Fatalf("RunFetch failed: %v", err)
	}
	if !strings.Contains(out.String(), "written:  3 (created 3, updated 0)") {
		t.Errorf("Expected three created posts, got:\n%s", out.String())
	}
	if site.Requests() != 2 {
		t.Errorf("Expected 2 page requests, got %d", site.Requests())
	}

	for _, slug := range []string{"bayesian-priors", "regression-basics", "sourdough"} {
		for _, rel := range []string{filepath.Join("json", slug+".json"), filepath.Join("posts", slug+".md")} {
			path := filepath.Join(archiveDir, "wordpress", rel)
			if _, err := os.Stat(path); err != nil {
				t.Errorf("Expected %s: %v", path, err)
			}
		}
	}

	md, err := os.ReadFile(filepath.Join(archiveDir, "wordpress", "posts", "bayesian-priors.md"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	for _, want := range []string{"title: Choosing Bayesian priors", "- flat", "- conjugate"} {
		if !strings.Contains(string(md), want) {
			t.Errorf("Expected %q in markdown, got:\n%s", want, md)
		}
	}
}

func TestFetch_SecondRunIsIncremental(t *testing.T) {
	t.Chdir(t.TempDir())
	_, url := startSite(t)
	archiveDir := filepath.Join(t.TempDir(), "archive")
	fetchAndIndex(t, archiveDir, url)

	var out bytes.Buffer
	if err := app.RunFetch(context.Background(), quietParams(&out), fetchFlags(t, archiveDir, url), domain.SourceWordPress); err != nil {
		t.Fatalf("RunFetch failed: %v", err)
	}
	if !strings.Contains(out.String(), "written:  0 (created 0, updated 0)") || !strings.Contains(out.String(), "skipped:  3") {
		t.Errorf("Expected an incremental no-op run, got:\n%s", out.String())
	}

	out.Reset()
	if err := app.RunIndex(context.Background(), quietParams(&out), indexFlags(t, archiveDir)); err != nil {
		t.Fatalf("RunIndex failed: %v", err)
	}
	if !strings.Contains(out.String(), "(unchanged)") {
		t.Errorf("Expected the index digest to be unchanged, got:\n%s", out.String())
	}
}

func TestFetch_ConcurrentRunsAreSerialized(t *testing.T) {
	t.Chdir(t.TempDir())
	_, url := startSite(t)
	archiveDir := filepath.Join(t.TempDir(), "archive")

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		flags := fetchFlags(t, archiveDir, url)
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			errs[idx] = app.RunFetch(context.Background(), quietParams(&bytes.Buffer{}), flags, domain.SourceWordPress)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Run %d failed: %v", i, err)
		}
	}

	var out bytes.Buffer
	flags := indexFlags(t, archiveDir)
	if err := app.RunCheck(context.Background(), quietParams(&out), flags); err != nil {
		t.Fatalf("RunCheck failed: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "Checked 3 records") {
		t.Errorf("Expected exactly 3 records after concurrent runs, got:\n%s", out.String())
	}
}

// ========================================
// MCP Server Tests
// ========================================

func TestServe_ToolsOverSSE(t *testing.T) {
	t.Chdir(t.TempDir())
	_, url := startSite(t)
	archiveDir := filepath.Join(t.TempDir(), "archive")
	fetchAndIndex(t, archiveDir, url)

	_, sseURL := startServer(t, testkit.FlagOptions{OutputDir: archiveDir})
	session := connect(t, sseURL, nil)

	tools, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(tools.Tools) != 3 {
		t.Errorf("Expected 3 tools, got %d", len(tools.Tools))
	}

	tests := []struct {
		name     string
		tool     string
		args     map[string]any
		wantErr  bool
		contains []string
		excludes []string
	}{
		{
			name:     "keyword search",
			tool:     "search_posts",
			args:     map[string]any{"query": "prior"},
			contains: []string{"Found 1 posts", "Choosing Bayesian priors", "`bayesian-priors`"},
			excludes: []string{"Sourdough"},
		},
		{
			name:     "tag filter",
			tool:     "search_posts",
			args:     map[string]any{"tag": "statistics"},
			contains: []string{"Found 2 posts", "1. Regression basics", "2. Choosing Bayesian priors"},
		},
		{
			name:     "date range",
			tool:     "search_posts",
			args:     map[string]any{"category": "math", "since": "2020-01-01"},
			contains: []string{"Found 1 posts", "Regression basics"},
			excludes: []string{"Bayesian"},
		},
		{
			name:     "no results",
			tool:     "search_posts",
			args:     map[string]any{"query": "kubernetes"},
			contains: []string{"No posts found"},
		},
		{
			name:    "empty search",
			tool:    "search_posts",
			args:    map[string]any{},
			wantErr: true,
		},
		{
			name:     "read post",
			tool:     "read_post",
			args:     map[string]any{"slug": "sourdough"},
			contains: []string{"**Post**: Sourdough at home (wordpress:13)", "Feed the starter"},
		},
		{
			name:     "read missing post",
			tool:     "read_post",
			args:     map[string]any{"slug": "missing"},
			wantErr:  true,
			contains: []string{"Post not found: missing"},
		},
		{
			name:     "read path traversal",
			tool:     "read_post",
			args:     map[string]any{"slug": "../index"},
			wantErr:  true,
			contains: []string{"Invalid slug"},
		},
		{
			name:     "list tags",
			tool:     "list_tags",
			args:     map[string]any{},
			contains: []string{"## Tags (3)", "- statistics (2)", "## Categories (2)", "- math (2)"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, isError := callTool(t, session, tt.tool, tt.args)
			if isError != tt.wantErr {
				t.Errorf("IsError = %v, want %v (content: %s)", isError, tt.wantErr, text)
			}
			for _, s := range tt.contains {
				if !strings.Contains(text, s) {
					t.Errorf("Expected %q in content, got:\n%s", s, text)
				}
			}
			for _, s := range tt.excludes {
				if strings.Contains(text, s) {
					t.Errorf("Expected no %q in content, got:\n%s", s, text)
				}
			}
		})
	}
}

func TestServe_WithoutIndexReportsError(t *testing.T) {
	t.Chdir(t.TempDir())
	archiveDir := filepath.Join(t.TempDir(), "archive")

	_, sseURL := startServer(t, testkit.FlagOptions{OutputDir: archiveDir})
	session := connect(t, sseURL, nil)

	text, isError := callTool(t, session, "search_posts", map[string]any{"query": "anything"})
	if !isError {
		t.Error("Expected an error result without an index")
	}
	if !strings.Contains(text, "index") {
		t.Errorf("Expected a message about the index, got: %s", text)
	}
}

func TestServe_APIKeyAuth(t *testing.T) {
	t.Chdir(t.TempDir())
	_, url := startSite(t)
	archiveDir := filepath.Join(t.TempDir(), "archive")
	fetchAndIndex(t, archiveDir, url)

	baseURL, sseURL := startServer(t, testkit.FlagOptions{
		OutputDir: archiveDir,
		AuthType:  config.AuthTypeAPIKey,
		APIKeys:   "secret-1,secret-2",
	})

	tests := []struct {
		name       string
		path       string
		header     string
		value      string
		wantStatus int
	}{
		{"health is public", "/health", "", "", http.StatusOK},
		{"sse without key", "/sse", "", "", http.StatusUnauthorized},
		{"sse with wrong key", "/sse", "X-API-Key", "nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, baseURL+tt.path, nil)
			if err != nil {
				t.Fatalf("NewRequest failed: %v", err)
			}
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("Request failed: %v", err)
			}
			_ = resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, resp.StatusCode)
			}
		})
	}

	for _, auth := range []headerTransport{
		{header: "X-API-Key", value: "secret-2"},
		{header: "Authorization", value: "Bearer secret-1"},
	} {
		t.Run(fmt.Sprintf("mcp with %s", auth.header), func(t *testing.T) {
			session := connect(t, sseURL, &http.Client{Transport: auth})
			text, isError := callTool(t, session, "search_posts", map[string]any{"query": "sourdough"})
			if isError {
				t.Fatalf("Unexpected error result: %s", text)
			}
			if !strings.Contains(text, "Sourdough at home") {
				t.Errorf("Expected the post in results, got:\n%s", text)
			}
		})
	}
}
