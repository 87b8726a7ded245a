// Package pipeline drives one archival run: it pulls posts from a source
// adapter, skips unchanged posts, resolves media and writes the archive.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sha1n/blog-archiver/internal/archive"
	"github.com/sha1n/blog-archiver/internal/domain"
	"github.com/sha1n/blog-archiver/internal/media"
)

// DefaultLockWait is how long a run waits for another writer to finish.
const DefaultLockWait = 10 * time.Second

// Adapter produces canonical posts from one source.
type Adapter interface {
	Source() domain.Source
	FetchAll(ctx context.Context) iter.Seq2[*domain.Post, error]
}

// MediaResolver downloads the media a post references.
type MediaResolver interface {
	Resolve(ctx context.Context, p *domain.Post, mediaDir string, previous []domain.MediaRef) (*media.Result, error)
}

// Options configures a pipeline.
type Options struct {
	// Media resolves post media; nil disables media downloads.
	Media MediaResolver

	// LockWait bounds the wait for the archive lock.
	LockWait time.Duration
}

// Pipeline archives posts into a store.
type Pipeline struct {
	store    *archive.Store
	media    MediaResolver
	lockWait time.Duration
	now      func() time.Time
}

// New creates a pipeline writing to store.
func New(store *archive.Store, opts Options) *Pipeline {
	if opts.LockWait <= 0 {
		opts.LockWait = DefaultLockWait
	}
	return &Pipeline{
		store:    store,
		media:    opts.Media,
		lockWait: opts.LockWait,
		now:      time.Now,
	}
}

// Run archives every post the adapter yields. Per-post failures are counted
// in the summary and the run continues. A fatal error (the source is
// unreachable or the archive is locked) aborts the run; the summary is still
// returned with Fatal set.
func (p *Pipeline) Run(ctx context.Context, a Adapter) (*Summary, error) {
	start := p.now()
	summary := newSummary(uuid.NewString(), a.Source())
	log := slog.With("run_id", summary.RunID, "source", string(a.Source()))

	fatal := func(err error) (*Summary, error) {
		summary.Fatal = err
		summary.Duration = p.now().Sub(start)
		log.Error("Run aborted", "error", err)
		return summary, err
	}

	lock := archive.NewRunLock(p.store.Root())
	if err := lock.Acquire(ctx, p.lockWait); err != nil {
		return fatal(fmt.Errorf("failed to lock archive: %w", err))
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Warn("Failed to release archive lock", "error", err)
		}
	}()

	if err := p.store.Reload(); err != nil {
		return fatal(fmt.Errorf("failed to read archive: %w", err))
	}

	log.Info("Run started", "output", p.store.Root(), "force", p.store.Force(), "media", p.media != nil)

	for post, err := range a.FetchAll(ctx) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fatal(ctxErr)
		}
		if err != nil {
			if errors.Is(err, domain.ErrSourceUnavailable) {
				return fatal(err)
			}
			summary.fail(log, err)
			continue
		}
		if err := p.archive(ctx, log, summary, post); err != nil {
			return fatal(err)
		}
	}
	if err := ctx.Err(); err != nil {
		return fatal(err)
	}

	summary.Duration = p.now().Sub(start)
	log.Info("Run finished",
		"fetched", summary.Fetched,
		"written", summary.Written(),
		"skipped", summary.Skipped,
		"failed", summary.Failed(),
		"duration", summary.Duration.Round(time.Millisecond))
	return summary, nil
}

// archive handles one post. Only context cancellation is returned; every
// other failure is recorded in the summary.
func (p *Pipeline) archive(ctx context.Context, log *slog.Logger, summary *Summary, post *domain.Post) error {
	summary.Fetched++

	if err := domain.Validate(post); err != nil {
		summary.fail(log, err)
		return nil
	}
	if post.Source != summary.Source {
		summary.fail(log, &domain.SchemaError{Key: post.Key(), Reason: fmt.Sprintf("source %q from %s adapter", post.Source, summary.Source)})
		return nil
	}

	p.store.AssignSlug(post)
	outcome, err := p.store.Plan(post)
	if err != nil {
		summary.fail(log, &domain.StoreError{Key: post.Key(), Path: p.store.JSONPath(post.Source, post.Slug), Err: err})
		return nil
	}
	if outcome == archive.Skipped {
		summary.Skipped++
		log.Debug("Post unchanged", "slug", post.Slug)
		return nil
	}

	previous, err := p.store.Lookup(post.Key())
	if err != nil {
		log.Warn("Failed to read archived post", "slug", post.Slug, "error", err)
	}
	var refs []domain.MediaRef
	if previous != nil {
		refs = previous.MediaRefs
	}

	if p.media == nil {
		post.MediaRefs = media.MergeRefs(refs, post.MediaRefs, nil)
	} else {
		res, err := p.media.Resolve(ctx, post, p.store.MediaDir(post.Source), refs)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			post.MediaRefs = media.MergeRefs(refs, post.MediaRefs, nil)
			summary.fail(log, &domain.MediaError{URL: post.Link, Err: err})
		default:
			summary.MediaDownloaded += res.Downloaded
			summary.MediaReused += res.Reused
			for _, me := range res.Failures {
				summary.record(me)
			}
		}
	}

	outcome, err = p.store.Put(post)
	if err != nil {
		summary.fail(log, err)
		return nil
	}
	switch outcome {
	case archive.Created:
		summary.Created++
	case archive.Updated:
		summary.Updated++
	case archive.Skipped:
		summary.Skipped++
	}
	log.Info("Post archived", "slug", post.Slug, "outcome", outcome.String())
	return nil
}
