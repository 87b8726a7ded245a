package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/pflag"

	"github.com/sha1n/blog-archiver/internal/archive"
	"github.com/sha1n/blog-archiver/internal/config"
	"github.com/sha1n/blog-archiver/internal/domain"
	"github.com/sha1n/blog-archiver/internal/media"
	"github.com/sha1n/blog-archiver/internal/pipeline"
	"github.com/sha1n/blog-archiver/internal/source/blogger"
	"github.com/sha1n/blog-archiver/internal/source/wordpress"
)

// RunFetch archives every post of one source and prints the run summary.
// Per-post failures yield a Partial error; an unreachable source, a locked
// or unwritable archive and invalid settings yield a Fatal one.
func RunFetch(ctx context.Context, params RunParams, flags *pflag.FlagSet, src domain.Source) error {
	validate := config.ValidateWordPress
	if src == domain.SourceBlogger {
		validate = config.ValidateBlogger
	}
	settings, err := params.settings(flags, validate)
	if err != nil {
		return err
	}
	config.Log(settings)

	adapter, err := newAdapter(settings, src, params.HTTPClient)
	if err != nil {
		return Fatal(fmt.Errorf("invalid configuration: %w", err))
	}

	store, err := archive.Open(settings.OutputDir, archive.Options{Force: settings.Force})
	if err != nil {
		return Fatal(err)
	}

	var opts pipeline.Options
	if settings.Media.Enabled {
		opts.Media = media.NewResolver(media.Options{
			Timeout:    settings.Media.Timeout,
			MaxBytes:   settings.Media.MaxBytes,
			UserAgent:  wordpress.DefaultUserAgent,
			HTTPClient: params.HTTPClient,
		})
	}

	summary, err := pipeline.New(store, opts).Run(ctx, adapter)
	if summary != nil {
		summary.Print(params.stdout())
	}
	if err != nil {
		return Fatal(err)
	}
	if n := summary.Failed(); n > 0 {
		return Partial(fmt.Errorf("%d posts could not be archived", n))
	}
	return nil
}

func newAdapter(settings *config.Settings, src domain.Source, hc *http.Client) (pipeline.Adapter, error) {
	switch src {
	case domain.SourceWordPress:
		wp := settings.WordPress
		return wordpress.New(wordpress.Options{
			BaseURL:      wp.URL,
			Username:     wp.Username,
			Password:     wp.Password,
			RateLimit:    wp.RateLimit,
			PerPage:      wp.PerPage,
			MaxRetries:   wp.MaxRetries,
			RetryBackoff: wp.RetryBackoff,
			Timeout:      wp.Timeout,
			HTTPClient:   hc,
		})
	case domain.SourceBlogger:
		return blogger.New(blogger.Options{
			ExportPath: settings.Blogger.ExportPath,
			BlogName:   settings.Blogger.BlogName,
		})
	default:
		return nil, fmt.Errorf("unknown source: %s", src)
	}
}
