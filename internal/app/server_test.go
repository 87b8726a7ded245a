package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sha1n/blog-archiver/internal/config"
)

func newTestMCPServer() *mcp.Server {
	return mcp.NewServer(&mcp.Implementation{Name: "test", Version: "1.0"}, nil)
}

func serveSettings(host string, port int, auth config.AuthSettings) *config.Settings {
	return &config.Settings{
		Serve: config.ServeSettings{Transport: config.TransportSSE, Host: host, Port: port, Auth: auth},
	}
}

func TestNewSSEServer(t *testing.T) {
	tests := []struct {
		name     string
		auth     config.AuthSettings
		wantAddr string
	}{
		{"no auth", config.AuthSettings{Type: config.AuthTypeNone}, "localhost:8080"},
		{"basic auth", config.AuthSettings{Type: config.AuthTypeBasic, Basic: config.BasicAuthSettings{Username: "admin", Password: "secret"}}, "localhost:8080"},
		{"api key", config.AuthSettings{Type: config.AuthTypeAPIKey, APIKeys: []string{"key1", "key2"}}, "localhost:8080"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, err := NewSSEServer(newTestMCPServer(), serveSettings("localhost", 8080, tt.auth))
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if srv.Addr != tt.wantAddr {
				t.Errorf("Expected addr '%s', got '%s'", tt.wantAddr, srv.Addr)
			}
		})
	}
}

func TestNewSSEServer_InvalidAuth(t *testing.T) {
	// Missing username and password
	settings := serveSettings("localhost", 9090, config.AuthSettings{Type: config.AuthTypeBasic})

	if _, err := NewSSEServer(newTestMCPServer(), settings); err == nil {
		t.Error("Expected error for invalid auth settings")
	}
}

func TestNewSSEServer_HealthEndpoint(t *testing.T) {
	srv, err := NewSSEServer(newTestMCPServer(), serveSettings("localhost", 8080, config.AuthSettings{Type: config.AuthTypeNone}))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("Expected body 'ok', got '%s'", rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "text/plain; charset=utf-8" {
		t.Errorf("Expected Content-Type 'text/plain; charset=utf-8', got '%s'", rec.Header().Get("Content-Type"))
	}
}

func TestNewSSEServer_AuthBoundary(t *testing.T) {
	settings := serveSettings("localhost", 8080, config.AuthSettings{
		Type:  config.AuthTypeBasic,
		Basic: config.BasicAuthSettings{Username: "admin", Password: "secret"},
	})
	srv, err := NewSSEServer(newTestMCPServer(), settings)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200 for /health without auth, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/sse", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for /sse without auth, got %d", rec.Code)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to find a free port: %v", err)
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port
}

func TestStartSSEServer_ShutsDownOnCancel(t *testing.T) {
	port := freePort(t)
	settings := serveSettings("127.0.0.1", port, config.AuthSettings{Type: config.AuthTypeNone})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- StartSSEServer(ctx, newTestMCPServer(), settings) }()

	url := fmt.Sprintf("http://%s:%d/health", settings.Serve.Host, port)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("Expected status 200, got %d", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Server did not start: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Server did not shut down")
	}
}
