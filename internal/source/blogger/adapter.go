// Package blogger archives posts from a Blogger export: either a bare Atom
// feed or a Google Takeout zip containing one or more blogs.
package blogger

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/url"
	"os"
	"path"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/sha1n/blog-archiver/internal/domain"
)

var rePostID = regexp.MustCompile(`post-(\d+)`)

// Options configures the adapter.
type Options struct {
	// ExportPath is a feed.atom file or a Takeout .zip archive.
	ExportPath string
	// BlogName selects the blog inside a Takeout archive holding several.
	BlogName string
}

// Adapter maps Blogger feed entries into canonical posts.
type Adapter struct {
	opts Options
}

// New creates an adapter. The export is opened lazily by FetchAll.
func New(opts Options) (*Adapter, error) {
	if strings.TrimSpace(opts.ExportPath) == "" {
		return nil, errors.New("blogger export path is required")
	}
	return &Adapter{opts: opts}, nil
}

// Source implements the pipeline adapter contract.
func (a *Adapter) Source() domain.Source {
	return domain.SourceBlogger
}

// FetchAll parses the export and yields one canonical post per live post
// entry. Comments and other entry kinds are discarded. An unreadable export
// or an unrecognized root element yields a single error wrapping
// domain.ErrSourceUnavailable. Each call re-opens and re-parses the export.
func (a *Adapter) FetchAll(ctx context.Context) iter.Seq2[*domain.Post, error] {
	return func(yield func(*domain.Post, error) bool) {
		rc, name, err := a.open()
		if err != nil {
			yield(nil, fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err))
			return
		}
		defer func() { _ = rc.Close() }()

		dec := xml.NewDecoder(rc)
		if err := expectFeedRoot(dec); err != nil {
			yield(nil, fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, &domain.ParseError{Ref: name, Err: err}))
			return
		}

		index := 0
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			tok, err := dec.Token()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(nil, &domain.ParseError{Ref: name, Err: err})
				return
			}
			se, ok := tok.(xml.StartElement)
			if !ok || se.Name.Local != "entry" {
				continue
			}

			index++
			var e entry
			if err := dec.DecodeElement(&e, &se); err != nil {
				// The decoder cannot resynchronize after a syntax error.
				yield(nil, &domain.ParseError{Ref: fmt.Sprintf("%s#entry-%d", name, index), Err: err})
				return
			}
			if !e.isPost() {
				continue
			}
			if !e.isLive() {
				slog.Debug("Skipping non-live entry", "id", e.ID, "status", e.Status)
				continue
			}

			post, err := convert(&e)
			if err != nil {
				ref := e.ID
				if ref == "" {
					ref = fmt.Sprintf("%s#entry-%d", name, index)
				}
				err = &domain.ParseError{Ref: ref, Err: err}
			}
			if !yield(post, err) {
				return
			}
		}
	}
}

// expectFeedRoot consumes tokens up to the root element and checks it.
func expectFeedRoot(dec *xml.Decoder) error {
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return errors.New("empty document")
		}
		if err != nil {
			return err
		}
		if se, ok := tok.(xml.StartElement); ok {
			if !isFeedRoot(se) {
				return fmt.Errorf("unrecognized root element <%s>", se.Name.Local)
			}
			return nil
		}
	}
}

func convert(e *entry) (*domain.Post, error) {
	m := rePostID.FindStringSubmatch(e.ID)
	if m == nil {
		return nil, fmt.Errorf("entry id %q has no post id", e.ID)
	}
	id := m[1]

	published, err := parseTime(e.Published)
	if err != nil {
		return nil, fmt.Errorf("post %s: published: %w", id, err)
	}
	if published.IsZero() {
		return nil, fmt.Errorf("post %s: missing published date", id)
	}
	updated, err := parseTime(e.Updated)
	if err != nil {
		return nil, fmt.Errorf("post %s: updated: %w", id, err)
	}
	if updated.IsZero() {
		updated = published
	}

	title := e.Title.Value()
	permalink := e.permalink()
	post := &domain.Post{
		ID:            id,
		Source:        domain.SourceBlogger,
		Slug:          slugFor(e.Filename, permalink, title),
		Title:         title,
		ContentHTML:   e.Content.Value(),
		ExcerptHTML:   e.Summary.Value(),
		DatePublished: published,
		DateModified:  &updated,
		Link:          permalink,
		Author:        e.authorName(),
		Tags:          domain.NormalizeTags(e.labels()),
		Categories:    []string{},
		MediaRefs:     []domain.MediaRef{},
	}
	domain.NormalizeDates(post)
	return post, nil
}

func parseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

// slugFor prefers the Blogger file name, then the permalink's last segment,
// then the title.
func slugFor(filename, permalink, title string) string {
	for _, candidate := range []string{filename, linkPath(permalink)} {
		base := strings.TrimSuffix(path.Base(strings.TrimSpace(candidate)), ".html")
		if base == "" || base == "." || base == "/" {
			continue
		}
		if s := domain.Slugify(base); s != "untitled" {
			return s
		}
	}
	return domain.Slugify(title)
}

func linkPath(link string) string {
	if link == "" {
		return ""
	}
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return u.Path
}

// open returns a reader over the Atom feed and a name for error references.
func (a *Adapter) open() (io.ReadCloser, string, error) {
	p := a.opts.ExportPath
	if !strings.EqualFold(path.Ext(p), ".zip") {
		f, err := os.Open(p)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open export: %w", err)
		}
		return f, p, nil
	}

	zr, err := zip.OpenReader(p)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open takeout archive: %w", err)
	}
	feeds := takeoutFeeds(&zr.Reader)
	f, err := selectFeed(feeds, a.opts.BlogName)
	if err != nil {
		_ = zr.Close()
		return nil, "", err
	}
	rc, err := f.Open()
	if err != nil {
		_ = zr.Close()
		return nil, "", fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	return &zipFeed{ReadCloser: rc, archive: zr}, p + "!" + f.Name, nil
}

// takeoutFeeds maps blog names to their feed.atom entries
// (Takeout/Blogger/Blogs/<blog>/feed.atom).
func takeoutFeeds(zr *zip.Reader) map[string]*zip.File {
	feeds := map[string]*zip.File{}
	for _, f := range zr.File {
		parts := strings.Split(f.Name, "/")
		n := len(parts)
		if n >= 3 && parts[n-1] == "feed.atom" && parts[n-3] == "Blogs" {
			feeds[parts[n-2]] = f
		}
	}
	return feeds
}

func selectFeed(feeds map[string]*zip.File, blogName string) (*zip.File, error) {
	names := make([]string, 0, len(feeds))
	for name := range feeds {
		names = append(names, name)
	}
	slices.Sort(names)

	switch {
	case len(feeds) == 0:
		return nil, errors.New("no Blogger feed found in takeout archive")
	case blogName != "":
		if f, ok := feeds[blogName]; ok {
			return f, nil
		}
		return nil, fmt.Errorf("blog %q not found in takeout archive (available: %s)", blogName, strings.Join(names, ", "))
	case len(feeds) == 1:
		return feeds[names[0]], nil
	default:
		return nil, fmt.Errorf("takeout archive holds several blogs, choose one with --blog-name: %s", strings.Join(names, ", "))
	}
}

// zipFeed closes the archive together with the entry reader.
type zipFeed struct {
	io.ReadCloser
	archive *zip.ReadCloser
}

func (z *zipFeed) Close() error {
	return errors.Join(z.ReadCloser.Close(), z.archive.Close())
}
