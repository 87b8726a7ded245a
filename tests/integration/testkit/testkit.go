package testkit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/sha1n/blog-archiver/internal/app"
	"github.com/sha1n/blog-archiver/internal/config"
)

// Service represents a test service that can be started and stopped
type Service interface {
	Start() (map[string]any, error)
	Stop() error
	GetName() string
}

// TestEnvContext provides access to properties collected during environment startup
type TestEnvContext interface {
	GetProperties() map[string]any
	GetProperty(name string) (any, bool)
}

// TestEnv manages the lifecycle of test services
type TestEnv interface {
	Start() (map[string]any, error)
	Stop() error
	GetContext() TestEnvContext
}

type testEnvContextImpl struct {
	properties map[string]any
}

func (c *testEnvContextImpl) GetProperties() map[string]any {
	return c.properties
}

func (c *testEnvContextImpl) GetProperty(name string) (any, bool) {
	val, ok := c.properties[name]
	return val, ok
}

type testEnvImpl struct {
	services []Service
	started  int
	context  *testEnvContextImpl
}

// NewTestEnv creates a new test environment with the given services.
// Services start in order and stop in reverse order.
func NewTestEnv(services ...Service) TestEnv {
	return &testEnvImpl{
		services: services,
		context:  &testEnvContextImpl{properties: make(map[string]any)},
	}
}

func (e *testEnvImpl) Start() (map[string]any, error) {
	for _, s := range e.services {
		props, err := s.Start()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.GetName(), err)
		}
		e.started++
		for k, v := range props {
			e.context.properties[k] = v
		}
	}
	return e.context.properties, nil
}

// Stop stops the services that were started and joins their errors.
func (e *testEnvImpl) Stop() error {
	var errs []error
	for i := e.started - 1; i >= 0; i-- {
		if err := e.services[i].Stop(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.services[i].GetName(), err))
		}
	}
	e.started = 0
	return errors.Join(errs...)
}

func (e *testEnvImpl) GetContext() TestEnvContext {
	return e.context
}

// GetFreePort returns a free port from the kernel
func GetFreePort() (int, error) {
	return getFreePortWithAddr("localhost:0")
}

// MustGetFreePort returns a free port or fails the test
func MustGetFreePort(t testing.TB) int {
	t.Helper()
	port, err := GetFreePort()
	if err != nil {
		t.Fatalf("Failed to get free port: %v", err)
	}
	return port
}

func getFreePortWithAddr(addrStr string) (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", addrStr)
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// FlagOptions configures NewTestFlags
type FlagOptions struct {
	OutputDir string // Required
	Port      int    // Uses free port if 0
	Transport string // Defaults to "sse"
	AuthType  string // Defaults to "none"
	APIKeys   string // Comma separated
	Host      string // Defaults to "127.0.0.1"
}

// NewTestFlags creates a serve flag set the way the serve command parses it.
func NewTestFlags(t testing.TB, opts FlagOptions) *pflag.FlagSet {
	t.Helper()

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	app.RegisterGlobalFlags(flags)
	app.RegisterServeFlags(flags)

	if opts.Port == 0 {
		opts.Port = MustGetFreePort(t)
	}
	if opts.Transport == "" {
		opts.Transport = config.TransportSSE
	}
	if opts.AuthType == "" {
		opts.AuthType = config.AuthTypeNone
	}
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}

	values := map[string]string{
		"output":    opts.OutputDir,
		"port":      strconv.Itoa(opts.Port),
		"transport": opts.Transport,
		"auth-type": opts.AuthType,
		"host":      opts.Host,
		"log-level": "error",
	}
	if opts.APIKeys != "" {
		values["auth-api-keys"] = opts.APIKeys
	}
	for name, value := range values {
		if err := flags.Set(name, value); err != nil {
			t.Fatalf("Failed to set flag %s: %v", name, err)
		}
	}
	return flags
}

// WordPressPost is one post served by WordPressSite.
type WordPressPost struct {
	ID         int
	Slug       string
	Title      string
	Content    string
	Published  time.Time
	Tags       []string
	Categories []string
}

// WordPressSite fakes the posts listing of the WordPress REST API.
type WordPressSite struct {
	Posts   []WordPressPost
	PerPage int

	mu       sync.Mutex
	requests int
	srv      *httptest.Server
}

func (s *WordPressSite) GetName() string { return "wordpress" }

// Start serves the site and publishes its base URL as "wordpress_url".
func (s *WordPressSite) Start() (map[string]any, error) {
	if s.PerPage <= 0 {
		s.PerPage = 10
	}
	s.srv = httptest.NewServer(s)
	return map[string]any{"wordpress_url": s.srv.URL}, nil
}

func (s *WordPressSite) Stop() error {
	if s.srv != nil {
		s.srv.Close()
	}
	return nil
}

// Requests returns the number of listing requests served.
func (s *WordPressSite) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func (s *WordPressSite) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/wp-json/wp/v2/posts" {
		http.NotFound(w, r)
		return
	}
	s.mu.Lock()
	s.requests++
	s.mu.Unlock()

	n, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pages := max(1, (len(s.Posts)+s.PerPage-1)/s.PerPage)
	if n < 1 || n > pages {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "rest_post_invalid_page_number", "message": "out of range"})
		return
	}

	start := (n - 1) * s.PerPage
	end := min(start+s.PerPage, len(s.Posts))
	items := make([]map[string]any, 0, end-start)
	for _, p := range s.Posts[start:end] {
		items = append(items, restPost(p))
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-WP-TotalPages", strconv.Itoa(pages))
	_ = json.NewEncoder(w).Encode(items)
}

func restPost(p WordPressPost) map[string]any {
	var (
		tagIDs, categoryIDs []int
		tags, categories    []map[string]any
	)
	for i, name := range p.Tags {
		id := 100 + i
		tagIDs = append(tagIDs, id)
		tags = append(tags, map[string]any{"id": id, "name": name, "taxonomy": "post_tag"})
	}
	for i, name := range p.Categories {
		id := 200 + i
		categoryIDs = append(categoryIDs, id)
		categories = append(categories, map[string]any{"id": id, "name": name, "taxonomy": "category"})
	}
	date := p.Published.UTC().Format("2006-01-02T15:04:05")
	return map[string]any{
		"id":           p.ID,
		"slug":         p.Slug,
		"status":       "publish",
		"date":         date,
		"date_gmt":     date,
		"modified":     date,
		"modified_gmt": date,
		"link":         "https://blog.example.com/" + p.Slug + "/",
		"title":        map[string]string{"rendered": p.Title},
		"content":      map[string]string{"rendered": p.Content},
		"excerpt":      map[string]string{"rendered": ""},
		"author":       1,
		"tags":         tagIDs,
		"categories":   categoryIDs,
		"_embedded": map[string]any{
			"author":  []map[string]any{{"id": 1, "name": "Test Author"}},
			"wp:term": [][]map[string]any{categories, tags},
		},
	}
}

// ArchiveServer serves an archive over SSE the way the serve command does.
type ArchiveServer struct {
	Settings *config.Settings

	cancel  context.CancelFunc
	done    chan error
	cleanup func()
}

func (s *ArchiveServer) GetName() string { return "archive-server" }

// Start launches the server and waits for its health endpoint. It publishes
// "base_url" and "sse_url".
func (s *ArchiveServer) Start() (map[string]any, error) {
	server, cleanup, err := app.CreateMCPServer(s.Settings, "test")
	if err != nil {
		return nil, err
	}
	s.cleanup = cleanup

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan error, 1)
	go func() { s.done <- app.StartSSEServer(ctx, server, s.Settings) }()

	base := fmt.Sprintf("http://%s:%d", s.Settings.Serve.Host, s.Settings.Serve.Port)
	if err := waitHealthy(base+"/health", s.done); err != nil {
		_ = s.Stop()
		return nil, err
	}
	return map[string]any{"base_url": base, "sse_url": base + "/sse"}, nil
}

func (s *ArchiveServer) Stop() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	s.cancel = nil

	var err error
	select {
	case err = <-s.done:
	case <-time.After(10 * time.Second):
		err = errors.New("server did not shut down")
	}
	if s.cleanup != nil {
		s.cleanup()
	}
	return err
}

func waitHealthy(url string, done <-chan error) error {
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case err := <-done:
			return fmt.Errorf("server exited: %v", err)
		default:
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server at %s did not become healthy: %v", url, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
