// Package wordpress archives posts from a live WordPress site through its REST API.
package wordpress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sha1n/blog-archiver/internal/domain"
)

const (
	// MaxPerPage is the largest page size the REST API accepts.
	MaxPerPage = 100

	DefaultUserAgent = "blog-archiver (+https://github.com/sha1n/blog-archiver)"
)

var reTags = regexp.MustCompile(`<[^>]*>`)

// Options configures the adapter.
type Options struct {
	BaseURL      string
	Username     string
	Password     string
	RateLimit    time.Duration
	PerPage      int
	MaxRetries   int
	RetryBackoff time.Duration
	Timeout      time.Duration
	UserAgent    string

	// HTTPClient overrides the default client. Timeout is ignored when set.
	HTTPClient *http.Client
}

// Adapter maps WordPress REST posts into canonical posts.
type Adapter struct {
	opts    Options
	apiURL  string
	http    *http.Client
	sleep   func(ctx context.Context, d time.Duration) error
	nowFunc func() time.Time
}

// New validates the options and creates an adapter.
func New(opts Options) (*Adapter, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid WordPress URL: %q", opts.BaseURL)
	}
	if opts.PerPage <= 0 || opts.PerPage > MaxPerPage {
		opts.PerPage = MaxPerPage
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}

	return &Adapter{
		opts:    opts,
		apiURL:  base + "/wp-json/wp/v2",
		http:    hc,
		sleep:   sleepContext,
		nowFunc: time.Now,
	}, nil
}

// Source implements the pipeline adapter contract.
func (a *Adapter) Source() domain.Source {
	return domain.SourceWordPress
}

func (a *Adapter) pageURL(n int) string {
	q := url.Values{}
	q.Set("page", strconv.Itoa(n))
	q.Set("per_page", strconv.Itoa(a.opts.PerPage))
	q.Set("_embed", "true")
	return a.apiURL + "/posts?" + q.Encode()
}

// FetchAll pages through the listing and yields one canonical post per
// listed post. Per-post failures are yielded as errors and iteration
// continues. A failure on the first page yields an error wrapping
// domain.ErrSourceUnavailable and ends the sequence. Each call starts over
// from page one.
func (a *Adapter) FetchAll(ctx context.Context) iter.Seq2[*domain.Post, error] {
	return func(yield func(*domain.Post, error) bool) {
		p := newPacer(a.opts.RateLimit)
		p.now = a.nowFunc
		p.sleep = a.sleep
		c := &client{
			http:       a.http,
			pacer:      p,
			username:   a.opts.Username,
			password:   a.opts.Password,
			userAgent:  a.opts.UserAgent,
			maxRetries: a.opts.MaxRetries,
			backoff:    a.opts.RetryBackoff,
			sleep:      a.sleep,
		}

		totalPages := 0
		for n := 1; ; n++ {
			pageURL := a.pageURL(n)
			pg, err := c.getPage(ctx, pageURL)
			if errors.Is(err, errPastLastPage) {
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					yield(nil, ctx.Err())
					return
				}
				if n == 1 {
					yield(nil, fmt.Errorf("%w: %s: %w", domain.ErrSourceUnavailable, a.opts.BaseURL, err))
					return
				}
				if !yield(nil, err) {
					return
				}
				// Without a page count there is no way to know whether more pages exist.
				if totalPages == 0 || n >= totalPages {
					return
				}
				continue
			}

			if pg.totalPages > 0 {
				totalPages = pg.totalPages
			}
			slog.Debug("Fetched page", "page", n, "total_pages", totalPages, "posts", len(pg.items))
			if len(pg.items) == 0 {
				return
			}

			for i, raw := range pg.items {
				post, err := a.convert(raw)
				if err != nil {
					err = &domain.ParseError{Ref: fmt.Sprintf("%s#%d", pageURL, i), Err: err}
				}
				if post == nil && err == nil {
					continue
				}
				if !yield(post, err) {
					return
				}
			}

			if totalPages > 0 && n >= totalPages {
				return
			}
		}
	}
}

// convert maps one REST post into a canonical post. It returns nil, nil for
// posts that are not published.
func (a *Adapter) convert(raw json.RawMessage) (*domain.Post, error) {
	var wp apiPost
	if err := json.Unmarshal(raw, &wp); err != nil {
		return nil, err
	}

	id := wp.ID.String()
	if id == "" || id == "0" {
		return nil, errors.New("post has no id")
	}
	if wp.Status != "" && wp.Status != "publish" {
		slog.Debug("Skipping unpublished post", "id", id, "status", wp.Status)
		return nil, nil
	}

	published, err := parseTime(wp.DateGMT, wp.Date)
	if err != nil {
		return nil, fmt.Errorf("post %s: date: %w", id, err)
	}
	if published.IsZero() {
		return nil, fmt.Errorf("post %s: missing publish date", id)
	}
	modified, err := parseTime(wp.ModifiedGMT, wp.Modified)
	if err != nil {
		return nil, fmt.Errorf("post %s: modified: %w", id, err)
	}

	title := plainText(wp.Title.Rendered)
	post := &domain.Post{
		ID:            id,
		Source:        domain.SourceWordPress,
		Slug:          postSlug(wp.Slug, title),
		Title:         title,
		ContentHTML:   wp.Content.Rendered,
		ExcerptHTML:   wp.Excerpt.Rendered,
		DatePublished: published,
		Link:          wp.Link,
		Author:        a.authorName(&wp),
		MediaRefs:     []domain.MediaRef{},
	}
	if !modified.IsZero() {
		post.DateModified = &modified
	}
	domain.NormalizeDates(post)

	tagNames, categoryNames := termNames(wp.Embedded)
	post.Tags = domain.NormalizeTags(resolveTerms(wp.Tags, tagNames))
	post.Categories = domain.NormalizeCategories(resolveTerms(wp.Categories, categoryNames))

	if featured := featuredURL(&wp); featured != "" {
		post.MediaRefs = append(post.MediaRefs, domain.MediaRef{URL: featured})
	}
	return post, nil
}

func (a *Adapter) authorName(wp *apiPost) string {
	if wp.Embedded != nil {
		for _, au := range wp.Embedded.Author {
			if au.ID == wp.Author && au.Name != "" {
				return au.Name
			}
		}
	}
	if wp.Author == 0 {
		return ""
	}
	return strconv.FormatInt(wp.Author, 10)
}

// termNames indexes the embedded taxonomy terms by id.
func termNames(e *embedded) (tags, categories map[int64]string) {
	tags = map[int64]string{}
	categories = map[int64]string{}
	if e == nil {
		return tags, categories
	}
	for _, group := range e.Terms {
		for _, term := range group {
			name := html.UnescapeString(term.Name)
			switch term.Taxonomy {
			case "post_tag":
				tags[term.ID] = name
			case "category":
				categories[term.ID] = name
			}
		}
	}
	return tags, categories
}

// resolveTerms maps ids to names, falling back to the stringified id.
func resolveTerms(ids []int64, names map[int64]string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if name, ok := names[id]; ok {
			out = append(out, name)
		} else {
			out = append(out, strconv.FormatInt(id, 10))
		}
	}
	return out
}

func featuredURL(wp *apiPost) string {
	if wp.FeaturedMedia == 0 || wp.Embedded == nil {
		return ""
	}
	for _, m := range wp.Embedded.FeaturedMedia {
		if m.SourceURL != "" {
			return m.SourceURL
		}
	}
	return ""
}

// plainText strips markup and decodes entities from a rendered title.
func plainText(s string) string {
	s = reTags.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(html.UnescapeString(s)), " ")
}

// postSlug keeps the WordPress slug when it is usable, cleans it when it
// holds reserved characters, and derives one from the title otherwise.
func postSlug(raw, title string) string {
	s, err := url.PathUnescape(raw)
	if err != nil {
		s = raw
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if domain.ValidSlug(s) {
		return s
	}
	if slug := domain.Slugify(s); slug != "untitled" {
		return slug
	}
	return domain.Slugify(title)
}
