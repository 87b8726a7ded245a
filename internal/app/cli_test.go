package app

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestRegisterFlags(t *testing.T) {
	tests := []struct {
		name     string
		register func(*pflag.FlagSet)
		expected []string
	}{
		{"global", RegisterGlobalFlags, []string{"config", "log-level"}},
		{"wordpress", RegisterWordPressFlags, []string{"output", "force", "no-media", "media-timeout", "media-max-bytes", "url", "username", "password", "rate-limit", "per-page", "max-retries", "retry-backoff", "timeout"}},
		{"blogger", RegisterBloggerFlags, []string{"output", "force", "no-media", "export-path", "blog-name"}},
		{"index", RegisterIndexFlags, []string{"output", "index-dir"}},
		{"query", RegisterQueryFlags, []string{"output", "index-dir", "tag", "category", "since", "until", "limit"}},
		{"serve", RegisterServeFlags, []string{"output", "index-dir", "transport", "host", "port", "auth-type", "auth-basic-username", "auth-basic-password", "auth-api-keys"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
			tt.register(flags)
			for _, name := range tt.expected {
				if flags.Lookup(name) == nil {
					t.Errorf("Expected flag %q to be registered", name)
				}
			}
		})
	}
}

func TestRegisterFlags_Shorthand(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterGlobalFlags(flags)
	RegisterWordPressFlags(flags)

	shorthandFlags := map[string]string{
		"config":     "c",
		"output":     "o",
		"force":      "f",
		"username":   "u",
		"password":   "P",
		"rate-limit": "r",
	}

	for name, shorthand := range shorthandFlags {
		flag := flags.Lookup(name)
		if flag == nil {
			t.Errorf("Flag %q not found", name)
			continue
		}
		if flag.Shorthand != shorthand {
			t.Errorf("Flag %q expected shorthand %q, got %q", name, shorthand, flag.Shorthand)
		}
	}
}

func TestRegisterServeFlags_SetValues(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterServeFlags(flags)

	err := flags.Parse([]string{
		"-t", "sse",
		"--host", "localhost",
		"-p", "9090",
		"--auth-type", "apikey",
		"-k", "a,b",
	})
	if err != nil {
		t.Fatalf("Failed to parse flags: %v", err)
	}

	transport, _ := flags.GetString("transport")
	if transport != "sse" {
		t.Errorf("Expected transport 'sse', got '%s'", transport)
	}
	port, _ := flags.GetInt("port")
	if port != 9090 {
		t.Errorf("Expected port 9090, got %d", port)
	}
	keys, _ := flags.GetStringSlice("auth-api-keys")
	if len(keys) != 2 {
		t.Errorf("Expected 2 API keys, got %v", keys)
	}
}
