package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the settings read.
const EnvPrefix = "BLOG_ARCHIVER"

// DefaultConfigFile is read when --config is not given and the file exists.
const DefaultConfigFile = "config.yaml"

// Auth type constants
const (
	AuthTypeNone   = "none"
	AuthTypeBasic  = "basic"
	AuthTypeAPIKey = "apikey"
)

// Transport constants
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

// AuthSettings configuration for authentication
type AuthSettings struct {
	Type    string            `mapstructure:"type"` // AuthTypeNone, AuthTypeBasic, or AuthTypeAPIKey
	Basic   BasicAuthSettings `mapstructure:"basic"`
	APIKeys []string          `mapstructure:"api_keys"`
}

// BasicAuthSettings configuration for basic auth
type BasicAuthSettings struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// WordPressSettings configures the WordPress REST source.
type WordPressSettings struct {
	URL          string        `mapstructure:"url"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	RateLimit    time.Duration `mapstructure:"rate_limit"`
	PerPage      int           `mapstructure:"per_page"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// BloggerSettings configures the Blogger export source.
type BloggerSettings struct {
	ExportPath string `mapstructure:"export_path"`
	BlogName   string `mapstructure:"blog_name"`
}

// MediaSettings configures media downloads.
type MediaSettings struct {
	Enabled  bool          `mapstructure:"enabled"`
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxBytes int64         `mapstructure:"max_bytes"`
}

// IndexSettings configures the index location. An empty Dir means
// <output_dir>/index.
type IndexSettings struct {
	Dir string `mapstructure:"dir"`
}

// SearchSettings configures query defaults.
type SearchSettings struct {
	MaxResults int `mapstructure:"max_results"`
}

// ServeSettings configures the MCP server.
type ServeSettings struct {
	Transport string       `mapstructure:"transport"`
	Host      string       `mapstructure:"host"`
	Port      int          `mapstructure:"port"`
	Auth      AuthSettings `mapstructure:"auth"`
}

// Settings application settings
type Settings struct {
	OutputDir string            `mapstructure:"output_dir"`
	Force     bool              `mapstructure:"force"`
	LogLevel  string            `mapstructure:"log_level"`
	WordPress WordPressSettings `mapstructure:"wordpress"`
	Blogger   BloggerSettings   `mapstructure:"blogger"`
	Media     MediaSettings     `mapstructure:"media"`
	Index     IndexSettings     `mapstructure:"index"`
	Search    SearchSettings    `mapstructure:"search"`
	Serve     ServeSettings     `mapstructure:"serve"`

	// ConfigFile is the YAML file that was read, if any.
	ConfigFile string `mapstructure:"-"`
}

// IndexDir returns the resolved index directory.
func (s *Settings) IndexDir() string {
	if s.Index.Dir != "" {
		return s.Index.Dir
	}
	return filepath.Join(s.OutputDir, "index")
}

// flagBindings maps settings keys to CLI flag names.
var flagBindings = map[string]string{
	"output_dir":                "output",
	"force":                     "force",
	"log_level":                 "log-level",
	"wordpress.url":             "url",
	"wordpress.username":        "username",
	"wordpress.password":        "password",
	"wordpress.rate_limit":      "rate-limit",
	"wordpress.per_page":        "per-page",
	"wordpress.max_retries":     "max-retries",
	"wordpress.retry_backoff":   "retry-backoff",
	"wordpress.timeout":         "timeout",
	"blogger.export_path":       "export-path",
	"blogger.blog_name":         "blog-name",
	"media.timeout":             "media-timeout",
	"media.max_bytes":           "media-max-bytes",
	"index.dir":                 "index-dir",
	"search.max_results":        "limit",
	"serve.transport":           "transport",
	"serve.host":                "host",
	"serve.port":                "port",
	"serve.auth.type":           "auth-type",
	"serve.auth.basic.username": "auth-basic-username",
	"serve.auth.basic.password": "auth-basic-password",
	"serve.auth.api_keys":       "auth-api-keys",
}

// LoadSettings loads settings from the environment, an optional .env file
// and an optional ./config.yaml.
func LoadSettings() (*Settings, error) {
	return LoadSettingsWithFlags(nil)
}

// LoadSettingsWithFlags loads settings with optional CLI flag overrides.
// Priority: CLI flags > environment variables > .env file > YAML config file > defaults.
// Flags absent from the set are ignored, so each subcommand binds only what it registers.
func LoadSettingsWithFlags(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()

	// Default values
	v.SetDefault("output_dir", "archive")
	v.SetDefault("force", false)
	v.SetDefault("log_level", "info")

	v.SetDefault("wordpress.rate_limit", 500*time.Millisecond)
	v.SetDefault("wordpress.per_page", 100)
	v.SetDefault("wordpress.max_retries", 3)
	v.SetDefault("wordpress.retry_backoff", time.Second)
	v.SetDefault("wordpress.timeout", 30*time.Second)

	v.SetDefault("media.enabled", true)
	v.SetDefault("media.timeout", 30*time.Second)
	v.SetDefault("media.max_bytes", int64(50*1024*1024)) // 50MB

	v.SetDefault("search.max_results", 20)

	v.SetDefault("serve.transport", TransportStdio)
	v.SetDefault("serve.host", "0.0.0.0")
	v.SetDefault("serve.port", 8080)
	v.SetDefault("serve.auth.type", AuthTypeNone)

	// YAML config file (lowest priority after defaults)
	configFile, err := readConfigFile(v, flags)
	if err != nil {
		return nil, err
	}

	// .env file overrides the YAML file
	if err := mergeEnvFile(v); err != nil {
		return nil, err
	}

	// Environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind every key explicitly so nested settings resolve from the environment
	for key := range flagBindings {
		_ = v.BindEnv(key, envName(key))
	}
	_ = v.BindEnv("media.enabled", envName("media.enabled"))

	// Bind CLI flags if provided (highest priority)
	if flags != nil {
		for key, name := range flagBindings {
			if f := flags.Lookup(name); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}
		if f := flags.Lookup("no-media"); f != nil && f.Changed && f.Value.String() == "true" {
			v.Set("media.enabled", false)
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, err
	}
	settings.ConfigFile = configFile

	// Handle explicit parsing of API keys if provided via env var as comma-separated string
	apiKeysEnv := os.Getenv(envName("serve.auth.api_keys"))
	if apiKeysEnv != "" {
		if len(settings.Serve.Auth.APIKeys) == 0 || (len(settings.Serve.Auth.APIKeys) == 1 && strings.Contains(settings.Serve.Auth.APIKeys[0], ",")) {
			settings.Serve.Auth.APIKeys = strings.Split(apiKeysEnv, ",")
		}
	}

	// Trim spaces from API keys
	for i := range settings.Serve.Auth.APIKeys {
		settings.Serve.Auth.APIKeys[i] = strings.TrimSpace(settings.Serve.Auth.APIKeys[i])
	}
	settings.Serve.Auth.APIKeys = filterEmptyStrings(settings.Serve.Auth.APIKeys)

	settings.OutputDir = expandHomeDir(settings.OutputDir)
	settings.Index.Dir = expandHomeDir(settings.Index.Dir)
	settings.Blogger.ExportPath = expandHomeDir(settings.Blogger.ExportPath)
	settings.LogLevel = strings.ToLower(strings.TrimSpace(settings.LogLevel))

	return &settings, nil
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// readConfigFile reads the YAML file named by --config, or ./config.yaml
// when it exists. An explicitly named file must exist.
func readConfigFile(v *viper.Viper, flags *pflag.FlagSet) (string, error) {
	path := DefaultConfigFile
	explicit := false
	if flags != nil {
		if f := flags.Lookup("config"); f != nil && f.Value.String() != "" {
			path = f.Value.String()
			explicit = true
		}
	}
	path = expandHomeDir(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := liftLegacySettings(v); err != nil {
		return "", fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return path, nil
}

// liftLegacySettings maps the settings: section of older config files onto
// the current keys. settings.rate_limit is given in seconds.
func liftLegacySettings(v *viper.Viper) error {
	lifted := map[string]any{}
	if v.InConfig("settings.output_dir") && !v.InConfig("output_dir") {
		lifted["output_dir"] = v.GetString("settings.output_dir")
	}
	if v.InConfig("settings.rate_limit") && !v.InConfig("wordpress.rate_limit") {
		secs := v.GetFloat64("settings.rate_limit")
		if secs < 0 {
			return fmt.Errorf("settings.rate_limit cannot be negative: %v", secs)
		}
		lifted["wordpress"] = map[string]any{"rate_limit": time.Duration(secs * float64(time.Second)).String()}
	}
	if len(lifted) == 0 {
		return nil
	}
	return v.MergeConfigMap(lifted)
}

// mergeEnvFile merges ./.env into the config layer if it exists.
func mergeEnvFile(v *viper.Viper) error {
	ev := viper.New()
	ev.SetConfigName(".env")
	ev.SetConfigType("env")
	ev.AddConfigPath(".")
	if err := ev.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read .env file: %w", err)
	}
	return v.MergeConfigMap(ev.AllSettings())
}

// expandHomeDir expands ~ to the user's home directory
func expandHomeDir(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}
	return path
}

// filterEmptyStrings removes empty strings from a slice
func filterEmptyStrings(s []string) []string {
	var result []string
	for _, str := range s {
		if str != "" {
			result = append(result, str)
		}
	}
	return result
}

// ValidateSettings checks the settings shared by every command.
func ValidateSettings(s *Settings) error {
	switch s.LogLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return errors.New("log-level must be one of debug, info, warn, error, got: " + s.LogLevel)
	}

	if strings.TrimSpace(s.OutputDir) == "" {
		return errors.New("output directory cannot be empty")
	}

	if s.Media.Timeout <= 0 {
		return errors.New("media-timeout must be positive")
	}
	if s.Media.MaxBytes <= 0 {
		return errors.New("media-max-bytes must be positive")
	}
	if s.Search.MaxResults <= 0 {
		return errors.New("max results must be positive")
	}
	return nil
}

// ValidateWordPress checks the settings a WordPress fetch needs.
func ValidateWordPress(s *Settings) error {
	w := &s.WordPress
	if strings.TrimSpace(w.URL) == "" {
		return errors.New("WordPress URL is required (argument, --url, or wordpress.url in the config file)")
	}
	if w.RateLimit < 0 {
		return errors.New("rate-limit cannot be negative")
	}
	if w.PerPage <= 0 || w.PerPage > 100 {
		return errors.New("per-page must be between 1 and 100")
	}
	if w.MaxRetries < 0 {
		return errors.New("max-retries cannot be negative")
	}
	if w.RetryBackoff <= 0 {
		return errors.New("retry-backoff must be positive")
	}
	if w.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if (w.Username == "") != (w.Password == "") {
		return errors.New("WordPress authentication requires both username and password")
	}
	return nil
}

// ValidateBlogger checks the settings a Blogger import needs.
func ValidateBlogger(s *Settings) error {
	if strings.TrimSpace(s.Blogger.ExportPath) == "" {
		return errors.New("Blogger export path is required")
	}
	return nil
}

// ValidateServe checks for conflicting server configurations.
// Returns an error if the settings contain mutually exclusive or incomplete auth config.
func ValidateServe(s *Settings) error {
	// Validate transport type
	switch s.Serve.Transport {
	case TransportStdio, TransportSSE:
		// valid
	default:
		return errors.New("transport must be 'stdio' or 'sse', got: " + s.Serve.Transport)
	}

	if s.Serve.Transport == TransportSSE && (s.Serve.Port <= 0 || s.Serve.Port > 65535) {
		return fmt.Errorf("port must be between 1 and 65535, got: %d", s.Serve.Port)
	}

	auth := &s.Serve.Auth
	hasBasicCreds := auth.Basic.Username != "" || auth.Basic.Password != ""
	hasAPIKeys := len(auth.APIKeys) > 0

	switch auth.Type {
	case AuthTypeNone, "":
		if hasBasicCreds || hasAPIKeys {
			return errors.New("auth-type 'none' is incompatible with auth credentials")
		}
	case AuthTypeBasic:
		if hasAPIKeys {
			return errors.New("auth-type 'basic' is mutually exclusive with auth-api-keys")
		}
		if auth.Basic.Username == "" || auth.Basic.Password == "" {
			return errors.New("auth-type 'basic' requires both username and password")
		}
	case AuthTypeAPIKey:
		if hasBasicCreds {
			return errors.New("auth-type 'apikey' is mutually exclusive with basic auth credentials")
		}
		if !hasAPIKeys {
			return errors.New("auth-type 'apikey' requires at least one API key")
		}
	default:
		return errors.New("unknown auth-type: " + auth.Type)
	}

	return nil
}
