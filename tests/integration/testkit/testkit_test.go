package testkit

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
)

// fakeService records lifecycle calls into a shared log.
type fakeService struct {
	name     string
	props    map[string]any
	startErr error
	stopErr  error
	log      *[]string
}

func (f *fakeService) Start() (map[string]any, error) {
	*f.log = append(*f.log, "start "+f.name)
	return f.props, f.startErr
}

func (f *fakeService) Stop() error {
	*f.log = append(*f.log, "stop "+f.name)
	return f.stopErr
}

func (f *fakeService) GetName() string { return f.name }

func TestTestEnv_Lifecycle(t *testing.T) {
	tests := []struct {
		name         string
		services     []*fakeService
		wantStartErr string
		wantStopErr  string
		wantLog      string
		wantProps    map[string]any
	}{
		{
			name: "merges properties and stops in reverse",
			services: []*fakeService{
				{name: "site", props: map[string]any{"wordpress_url": "http://site"}},
				{name: "server", props: map[string]any{"sse_url": "http://server/sse"}},
			},
			wantLog:   "start site,start server,stop server,stop site",
			wantProps: map[string]any{"wordpress_url": "http://site", "sse_url": "http://server/sse"},
		},
		{
			name: "start failure names the service and skips the rest",
			services: []*fakeService{
				{name: "site"},
				{name: "server", startErr: errors.New("port in use")},
				{name: "never"},
			},
			wantStartErr: "server: port in use",
			wantLog:      "start site,start server,stop site",
		},
		{
			name: "stop errors are joined",
			services: []*fakeService{
				{name: "site", stopErr: errors.New("close failed")},
				{name: "server", stopErr: errors.New("shutdown timed out")},
			},
			wantStopErr: "server: shutdown timed out\nsite: close failed",
			wantLog:     "start site,start server,stop server,stop site",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var log []string
			services := make([]Service, len(tt.services))
			for i, s := range tt.services {
				s.log = &log
				services[i] = s
			}
			env := NewTestEnv(services...)

			props, err := env.Start()
			if tt.wantStartErr != "" {
				if err == nil || err.Error() != tt.wantStartErr {
					t.Errorf("Start error = %v, want %q", err, tt.wantStartErr)
				}
			} else if err != nil {
				t.Fatalf("Unexpected start error: %v", err)
			}
			for k, v := range tt.wantProps {
				if props[k] != v {
					t.Errorf("Property %s = %v, want %v", k, props[k], v)
				}
				if got, ok := env.GetContext().GetProperty(k); !ok || got != v {
					t.Errorf("GetProperty(%s) = %v, %v", k, got, ok)
				}
			}

			err = env.Stop()
			if tt.wantStopErr != "" {
				if err == nil || err.Error() != tt.wantStopErr {
					t.Errorf("Stop error = %v, want %q", err, tt.wantStopErr)
				}
			} else if err != nil {
				t.Errorf("Unexpected stop error: %v", err)
			}

			if got := strings.Join(log, ","); got != tt.wantLog {
				t.Errorf("Lifecycle = %s, want %s", got, tt.wantLog)
			}

			// A second stop has nothing left to stop.
			if err := env.Stop(); err != nil {
				t.Errorf("Second stop returned %v", err)
			}
		})
	}
}

func TestTestEnv_MissingProperty(t *testing.T) {
	env := NewTestEnv()
	if _, err := env.Start(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, ok := env.GetContext().GetProperty("sse_url"); ok {
		t.Error("Expected property not to be found")
	}
}

func TestFreePorts(t *testing.T) {
	port, err := GetFreePort()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if port <= 0 {
		t.Errorf("Expected positive port, got %d", port)
	}
	if port := MustGetFreePort(t); port <= 0 {
		t.Errorf("Expected positive port, got %d", port)
	}
	if _, err := getFreePortWithAddr("invalid:address:format"); err == nil {
		t.Error("Expected error for invalid address")
	}
}

func TestNewTestFlags(t *testing.T) {
	t.Run("default options", func(t *testing.T) {
		flags := NewTestFlags(t, FlagOptions{OutputDir: "/tmp/archive"})

		output, _ := flags.GetString("output")
		if output != "/tmp/archive" {
			t.Errorf("Expected output '/tmp/archive', got %s", output)
		}

		transport, _ := flags.GetString("transport")
		if transport != "sse" {
			t.Errorf("Expected transport 'sse', got %s", transport)
		}

		authType, _ := flags.GetString("auth-type")
		if authType != "none" {
			t.Errorf("Expected auth-type 'none', got %s", authType)
		}

		host, _ := flags.GetString("host")
		if host != "127.0.0.1" {
			t.Errorf("Expected host '127.0.0.1', got %s", host)
		}

		port, _ := flags.GetInt("port")
		if port <= 0 {
			t.Errorf("Expected positive port, got %d", port)
		}
	})

	t.Run("custom options", func(t *testing.T) {
		flags := NewTestFlags(t, FlagOptions{
			OutputDir: "out",
			Port:      9999,
			Transport: "stdio",
			AuthType:  "apikey",
			APIKeys:   "k1,k2",
			Host:      "localhost",
		})

		port, _ := flags.GetInt("port")
		if port != 9999 {
			t.Errorf("Expected port 9999, got %d", port)
		}

		transport, _ := flags.GetString("transport")
		if transport != "stdio" {
			t.Errorf("Expected transport 'stdio', got %s", transport)
		}

		keys, _ := flags.GetStringSlice("auth-api-keys")
		if len(keys) != 2 || keys[0] != "k1" || keys[1] != "k2" {
			t.Errorf("Expected keys [k1 k2], got %v", keys)
		}

		host, _ := flags.GetString("host")
		if host != "localhost" {
			t.Errorf("Expected host 'localhost', got %s", host)
		}
	})
}

func TestWordPressSite_Paginates(t *testing.T) {
	site := &WordPressSite{PerPage: 2}
	for i := 1; i <= 3; i++ {
		site.Posts = append(site.Posts, WordPressPost{
			ID:        i,
			Slug:      fmt.Sprintf("post-%d", i),
			Title:     fmt.Sprintf("Post %d", i),
			Published: time.Date(2020, 1, i, 0, 0, 0, 0, time.UTC),
			Tags:      []string{"Go"},
		})
	}
	props, err := site.Start()
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = site.Stop() }()
	base := props["wordpress_url"].(string)

	tests := []struct {
		page       int
		wantStatus int
		wantItems  int
	}{
		{1, http.StatusOK, 2},
		{2, http.StatusOK, 1},
		{3, http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("page %d", tt.page), func(t *testing.T) {
			resp, err := http.Get(fmt.Sprintf("%s/wp-json/wp/v2/posts?page=%d", base, tt.page))
			if err != nil {
				t.Fatalf("Request failed: %v", err)
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			if got := resp.Header.Get("X-WP-TotalPages"); got != "2" {
				t.Errorf("Expected X-WP-TotalPages 2, got %q", got)
			}
			var items []map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if len(items) != tt.wantItems {
				t.Errorf("Expected %d items, got %d", tt.wantItems, len(items))
			}
		})
	}

	if site.Requests() != 3 {
		t.Errorf("Expected 3 requests, got %d", site.Requests())
	}
}
