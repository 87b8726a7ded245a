package app

import "github.com/spf13/pflag"

// RegisterGlobalFlags registers the flags every command accepts.
func RegisterGlobalFlags(flags *pflag.FlagSet) {
	flags.StringP("config", "c", "", "YAML config file (default ./config.yaml when present)")
	flags.String("log-level", "", "Log level: debug, info, warn, or error")
}

// RegisterArchiveFlags registers the archive location flag.
func RegisterArchiveFlags(flags *pflag.FlagSet) {
	flags.StringP("output", "o", "", "Archive root directory")
}

// RegisterFetchFlags registers the flags shared by every fetch source.
func RegisterFetchFlags(flags *pflag.FlagSet) {
	RegisterArchiveFlags(flags)
	flags.BoolP("force", "f", false, "Rewrite posts even when unchanged")
	flags.Bool("no-media", false, "Do not download media")
	flags.Duration("media-timeout", 0, "Timeout per media download")
	flags.Int64("media-max-bytes", 0, "Maximum size of a media file in bytes")
}

// RegisterWordPressFlags registers the WordPress fetch flags.
func RegisterWordPressFlags(flags *pflag.FlagSet) {
	RegisterFetchFlags(flags)
	flags.String("url", "", "WordPress site URL")
	flags.StringP("username", "u", "", "WordPress username")
	flags.StringP("password", "P", "", "WordPress application password")
	flags.DurationP("rate-limit", "r", 0, "Minimum delay between API requests")
	flags.Int("per-page", 0, "Posts per API page (max 100)")
	flags.Int("max-retries", 0, "Retries per failed API request")
	flags.Duration("retry-backoff", 0, "Initial retry backoff, doubled per attempt")
	flags.Duration("timeout", 0, "Timeout per API request")
}

// RegisterBloggerFlags registers the Blogger fetch flags.
func RegisterBloggerFlags(flags *pflag.FlagSet) {
	RegisterFetchFlags(flags)
	flags.String("export-path", "", "Blogger feed.atom or Takeout .zip")
	flags.String("blog-name", "", "Blog to import from a Takeout archive holding several")
}

// RegisterIndexFlags registers the index location flags.
func RegisterIndexFlags(flags *pflag.FlagSet) {
	RegisterArchiveFlags(flags)
	flags.String("index-dir", "", "Index directory (default <output>/index)")
}

// RegisterQueryFlags registers the query filter flags.
func RegisterQueryFlags(flags *pflag.FlagSet) {
	RegisterIndexFlags(flags)
	flags.String("tag", "", "Only posts with this tag")
	flags.String("category", "", "Only posts in this category")
	flags.String("since", "", "Only posts published on or after this date (YYYY-MM-DD)")
	flags.String("until", "", "Only posts published before this date (YYYY-MM-DD)")
	flags.IntP("limit", "n", 0, "Maximum number of results")
}

// RegisterServeFlags registers the MCP server flags.
func RegisterServeFlags(flags *pflag.FlagSet) {
	RegisterIndexFlags(flags)
	flags.StringP("transport", "t", "", "Transport type: stdio or sse")
	flags.StringP("host", "H", "", "Host for SSE transport")
	flags.IntP("port", "p", 0, "Port for SSE transport")
	flags.StringP("auth-type", "a", "", "Authentication type: none, basic, or apikey")
	flags.String("auth-basic-username", "", "Basic auth username")
	flags.String("auth-basic-password", "", "Basic auth password")
	flags.StringSliceP("auth-api-keys", "k", nil, "API keys (comma-separated)")
}
