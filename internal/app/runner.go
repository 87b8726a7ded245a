package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/pflag"

	"github.com/sha1n/blog-archiver/internal/archive"
	"github.com/sha1n/blog-archiver/internal/config"
	"github.com/sha1n/blog-archiver/internal/index"
	mcputil "github.com/sha1n/blog-archiver/internal/mcp"
	"github.com/sha1n/blog-archiver/internal/search"
)

// ServerName is the MCP implementation name.
const ServerName = "blog-archiver"

// RunParams contains dependencies for the command runners
type RunParams struct {
	LoadSettings      func(*pflag.FlagSet) (*config.Settings, error)
	ValidSettings     func(*config.Settings) error
	StartSSEServer    func(context.Context, *mcp.Server, *config.Settings) error
	CreateServer      func(*config.Settings, string) (*mcp.Server, func(), error)
	CustomIOTransport mcp.Transport // Optional: for testing with custom IO

	// HTTPClient overrides the client used for source and media requests.
	HTTPClient *http.Client

	Stdout io.Writer
	Stderr io.Writer
}

// DefaultRunParams returns production dependencies
func DefaultRunParams() RunParams {
	return RunParams{
		LoadSettings:   config.LoadSettingsWithFlags,
		ValidSettings:  config.ValidateSettings,
		StartSSEServer: StartSSEServer,
		CreateServer:   CreateMCPServer,
		Stdout:         os.Stdout,
		Stderr:         os.Stderr,
	}
}

func (p RunParams) stdout() io.Writer {
	if p.Stdout == nil {
		return os.Stdout
	}
	return p.Stdout
}

func (p RunParams) stderr() io.Writer {
	if p.Stderr == nil {
		return os.Stderr
	}
	return p.Stderr
}

// settings loads and validates settings, then configures logging. Logging
// always goes to stderr so stdout stays clean for results and MCP stdio.
func (p RunParams) settings(flags *pflag.FlagSet, validators ...func(*config.Settings) error) (*config.Settings, error) {
	settings, err := p.LoadSettings(flags)
	if err != nil {
		return nil, Fatal(fmt.Errorf("failed to load settings: %w", err))
	}

	if p.ValidSettings != nil {
		validators = append([]func(*config.Settings) error{p.ValidSettings}, validators...)
	}
	for _, validate := range validators {
		if err := validate(settings); err != nil {
			return nil, Fatal(fmt.Errorf("invalid configuration: %w", err))
		}
	}

	config.SetupLogging(p.stderr(), settings.LogLevel)
	return settings, nil
}

// RunServe runs the MCP server over the configured transport.
func RunServe(ctx context.Context, params RunParams, flags *pflag.FlagSet, version string) error {
	settings, err := params.settings(flags, config.ValidateServe)
	if err != nil {
		return err
	}

	slog.Info("Starting blog archive MCP server", "version", version)
	config.Log(settings)
	config.LogServe(settings, slog.Default())

	mcpServer, cleanup, err := params.CreateServer(settings, version)
	if err != nil {
		return Fatal(err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	if settings.Serve.Transport == config.TransportSSE {
		slog.Info("Starting SSE server", "host", settings.Serve.Host, "port", settings.Serve.Port)
		if err := params.StartSSEServer(ctx, mcpServer, settings); err != nil {
			return Fatal(err)
		}
		return nil
	}

	// Use custom transport if provided (for testing), otherwise use stdio
	transport := params.CustomIOTransport
	if transport == nil {
		transport = &mcp.StdioTransport{}
	}
	if err := mcpServer.Run(ctx, transport); err != nil && !errors.Is(err, context.Canceled) {
		return Fatal(err)
	}
	return nil
}

// CreateMCPServer creates the MCP server over the archive and its index. A
// missing index leaves the search tools answering with an error until the
// archive is indexed and the server restarted.
func CreateMCPServer(settings *config.Settings, version string) (*mcp.Server, func(), error) {
	store, err := archive.Open(settings.OutputDir, archive.Options{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open archive: %w", err)
	}

	var searcher mcputil.Searcher
	var cleanup func()
	engine, err := openEngine(settings)
	switch {
	case errors.Is(err, index.ErrNoIndex):
		slog.Warn("Archive is not indexed; search tools are unavailable", "index_dir", settings.IndexDir())
	case err != nil:
		return nil, nil, err
	default:
		searcher = engine
		cleanup = func() {
			if err := engine.Close(); err != nil {
				slog.Error("Failed to close search index", "error", err)
			}
		}
	}

	server := mcputil.CreateServer(mcputil.ServerConfig{
		Name:       ServerName,
		Version:    version,
		Searcher:   searcher,
		Posts:      store,
		MaxResults: settings.Search.MaxResults,
	})

	return server, cleanup, nil
}

func openEngine(settings *config.Settings) (*search.Engine, error) {
	tok, err := index.NewTokenizer()
	if err != nil {
		return nil, err
	}
	engine, err := search.Open(settings.IndexDir(), tok)
	if err != nil {
		if errors.Is(err, index.ErrNoIndex) {
			return nil, fmt.Errorf("%w in %s; run the index command first", err, settings.IndexDir())
		}
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	return engine, nil
}
