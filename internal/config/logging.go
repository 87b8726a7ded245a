package config

import (
	"context"
	"io"
	"log/slog"
)

// ParseLevel maps a log level name to a slog level. Unknown names map to info.
func ParseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogging installs a text handler writing to w as the default logger.
func SetupLogging(w io.Writer, level string) {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	slog.SetDefault(slog.New(handler))
}

// Log logs the resolved settings in a granular way, skipping irrelevant ones
func Log(s *Settings) {
	LogWithLogger(s, slog.Default())
}

// LogWithLogger logs the resolved settings using the provided logger
func LogWithLogger(s *Settings, logger *slog.Logger) {
	ctx := context.Background()
	if s.ConfigFile != "" {
		logger.InfoContext(ctx, "Config: file", "value", s.ConfigFile)
	}
	logger.InfoContext(ctx, "Config: output_dir", "value", s.OutputDir)
	logger.InfoContext(ctx, "Config: index.dir", "value", s.IndexDir())
	logger.InfoContext(ctx, "Config: force", "value", s.Force)
	logger.InfoContext(ctx, "Config: media.enabled", "value", s.Media.Enabled)

	if s.WordPress.URL != "" {
		logger.InfoContext(ctx, "Config: wordpress.url", "value", s.WordPress.URL)
		logger.InfoContext(ctx, "Config: wordpress.rate_limit", "value", s.WordPress.RateLimit)
		if s.WordPress.Username != "" {
			logger.InfoContext(ctx, "Config: wordpress.username", "value", s.WordPress.Username)
			logger.InfoContext(ctx, "Config: wordpress.password", "value", "****")
		}
	}
	if s.Blogger.ExportPath != "" {
		logger.InfoContext(ctx, "Config: blogger.export_path", "value", s.Blogger.ExportPath)
	}
}

// LogServe logs the server settings.
func LogServe(s *Settings, logger *slog.Logger) {
	ctx := context.Background()
	logger.InfoContext(ctx, "Config: transport", "value", s.Serve.Transport)
	if s.Serve.Transport == TransportSSE {
		logger.InfoContext(ctx, "Config: host", "value", s.Serve.Host)
		logger.InfoContext(ctx, "Config: port", "value", s.Serve.Port)
	}

	logger.InfoContext(ctx, "Config: auth.type", "value", s.Serve.Auth.Type)
	switch s.Serve.Auth.Type {
	case AuthTypeBasic:
		logger.InfoContext(ctx, "Config: auth.basic.username", "value", s.Serve.Auth.Basic.Username)
		logger.InfoContext(ctx, "Config: auth.basic.password", "value", "****")
	case AuthTypeAPIKey:
		logger.InfoContext(ctx, "Config: auth.api_keys", "count", len(s.Serve.Auth.APIKeys))
	}
}

// AuthSettingsLogValue returns a slog.Value for AuthSettings with masked data
func AuthSettingsLogValue(s AuthSettings) slog.Value {
	keys := make([]string, len(s.APIKeys))
	for i := range s.APIKeys {
		keys[i] = "****"
	}
	return slog.GroupValue(
		slog.String("type", s.Type),
		slog.Any("basic", BasicAuthSettingsLogValue(s.Basic)),
		slog.Any("api_keys", keys),
	)
}

// BasicAuthSettingsLogValue returns a slog.Value for BasicAuthSettings with masked data
func BasicAuthSettingsLogValue(s BasicAuthSettings) slog.Value {
	return slog.GroupValue(
		slog.String("username", s.Username),
		slog.String("password", "****"),
	)
}

// WordPressSettingsLogValue returns a slog.Value for WordPressSettings with masked data
func WordPressSettingsLogValue(s WordPressSettings) slog.Value {
	password := ""
	if s.Password != "" {
		password = "****"
	}
	return slog.GroupValue(
		slog.String("url", s.URL),
		slog.String("username", s.Username),
		slog.String("password", password),
		slog.Duration("rate_limit", s.RateLimit),
		slog.Int("max_retries", s.MaxRetries),
	)
}

// SettingsLogValue returns a slog.Value for Settings with masked data
func SettingsLogValue(s Settings) slog.Value {
	return slog.GroupValue(
		slog.String("output_dir", s.OutputDir),
		slog.Bool("force", s.Force),
		slog.Any("wordpress", WordPressSettingsLogValue(s.WordPress)),
		slog.String("transport", s.Serve.Transport),
		slog.String("host", s.Serve.Host),
		slog.Int("port", s.Serve.Port),
		slog.Any("auth", AuthSettingsLogValue(s.Serve.Auth)),
	)
}
