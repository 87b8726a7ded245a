package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/pflag"

	"github.com/sha1n/blog-archiver/internal/archive"
	"github.com/sha1n/blog-archiver/internal/index"
	"github.com/sha1n/blog-archiver/internal/pipeline"
)

// RunIndex rebuilds the search index from the archive.
func RunIndex(ctx context.Context, params RunParams, flags *pflag.FlagSet) error {
	settings, err := params.settings(flags)
	if err != nil {
		return err
	}

	store, err := archive.Open(settings.OutputDir, archive.Options{})
	if err != nil {
		return Fatal(err)
	}
	lock := archive.NewRunLock(store.Root())
	if err := lock.Acquire(ctx, pipeline.DefaultLockWait); err != nil {
		return Fatal(fmt.Errorf("failed to lock archive: %w", err))
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Warn("Failed to release archive lock", "error", err)
		}
	}()

	posts, err := store.List()
	if err != nil {
		return Fatal(fmt.Errorf("failed to read archive: %w", err))
	}
	tok, err := index.NewTokenizer()
	if err != nil {
		return Fatal(err)
	}

	slog.Info("Building index", "posts", len(posts), "index_dir", settings.IndexDir())
	res, err := index.NewBuilder(settings.IndexDir(), tok).Build(ctx, posts)
	if err != nil {
		return Fatal(fmt.Errorf("failed to build index: %w", err))
	}

	state := "unchanged"
	if res.Changed {
		state = "changed"
	}
	w := params.stdout()
	fmt.Fprintf(w, "Indexed %d posts (%d terms) in %s\n", res.Posts, res.Terms, res.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "  index:  %s\n", settings.IndexDir())
	fmt.Fprintf(w, "  digest: %s (%s)\n", res.Digest, state)
	return nil
}

// RunCheck verifies the archive and lists every inconsistency found.
func RunCheck(ctx context.Context, params RunParams, flags *pflag.FlagSet) error {
	settings, err := params.settings(flags)
	if err != nil {
		return err
	}

	store, err := archive.Open(settings.OutputDir, archive.Options{})
	if err != nil {
		return Fatal(err)
	}
	report, err := store.Check()
	if err != nil {
		return Fatal(fmt.Errorf("failed to check archive: %w", err))
	}

	w := params.stdout()
	fmt.Fprintf(w, "Checked %d records in %s: %d problems\n", report.Records, store.Root(), len(report.Problems))
	for _, p := range report.Problems {
		fmt.Fprintf(w, "  %s\n", p)
	}
	if !report.OK() {
		return Partial(fmt.Errorf("archive has %d problems", len(report.Problems)))
	}
	return nil
}
