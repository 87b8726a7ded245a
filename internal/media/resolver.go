// Package media downloads the images and attachments a post references and
// rewrites the post to point at the local copies.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/sha1n/blog-archiver/internal/domain"
)

const (
	// LocalDir is the media directory name relative to a source directory.
	LocalDir = "media"

	// contentPrefix points from the json/ and posts/ directories to the media directory.
	contentPrefix = "../" + LocalDir + "/"

	DefaultTimeout  = 30 * time.Second
	DefaultMaxBytes = 50 << 20
)

var mediaExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".svg": true,
	".bmp": true, ".tif": true, ".tiff": true, ".ico": true, ".avif": true,
	".pdf": true, ".mp3": true, ".mp4": true, ".m4a": true, ".wav": true, ".ogg": true,
	".mov": true, ".webm": true,
}

// ErrTooLarge indicates a download exceeded the configured size cap.
var ErrTooLarge = errors.New("media exceeds size limit")

// Options configures the resolver.
type Options struct {
	Timeout   time.Duration
	MaxBytes  int64
	UserAgent string

	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// Result reports what one Resolve call did.
type Result struct {
	Downloaded int
	Reused     int
	Failures   []*domain.MediaError
}

// Resolver downloads media into per-source media directories.
type Resolver struct {
	opts Options
	http *http.Client

	mu         sync.Mutex
	registries map[string]*Registry
}

// NewResolver creates a resolver.
func NewResolver(opts Options) *Resolver {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Resolver{opts: opts, http: hc, registries: make(map[string]*Registry)}
}

func (r *Resolver) registry(mediaDir string) (*Registry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reg, ok := r.registries[mediaDir]; ok {
		return reg, nil
	}
	reg, err := LoadRegistry(filepath.Join(mediaDir, RegistryFilename))
	if err != nil {
		return nil, err
	}
	r.registries[mediaDir] = reg
	return reg, nil
}

// Resolve downloads every media reference of the post into mediaDir and
// rewrites content_html to the local copies. previous holds the refs of the
// archived version of the post; they are kept so refs are never dropped.
// Refs whose local file exists are not downloaded again. A failed download
// leaves the remote URL in the content and a ref with no local path.
func (r *Resolver) Resolve(ctx context.Context, p *domain.Post, mediaDir string, previous []domain.MediaRef) (*Result, error) {
	reg, err := r.registry(mediaDir)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.ContentHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse content: %w", err)
	}
	base, _ := url.Parse(p.Link)
	discovered := discover(doc, base)

	refs := MergeRefs(previous, p.MediaRefs, discovered)
	result := &Result{}
	for i := range refs {
		ref := &refs[i]
		name := reg.NameFor(ref.URL)
		local := path.Join(LocalDir, name)
		target := filepath.Join(mediaDir, name)

		if fileExists(target) {
			ref.LocalPath = &local
			result.Reused++
			continue
		}
		if err := r.download(ctx, ref.URL, target); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			me := &domain.MediaError{URL: ref.URL, Err: err}
			slog.Warn("Media download failed", "key", p.Key().String(), "url", ref.URL, "error", err)
			result.Failures = append(result.Failures, me)
			ref.LocalPath = nil
			continue
		}
		ref.LocalPath = &local
		result.Downloaded++
	}

	if err := reg.Save(filepath.Join(mediaDir, RegistryFilename)); err != nil {
		return nil, err
	}

	resolved := make(map[string]string, len(refs))
	for _, ref := range refs {
		if ref.Resolved() {
			resolved[ref.URL] = contentPrefix + path.Base(*ref.LocalPath)
		}
	}
	if rewrite(doc, base, resolved) {
		body, err := doc.Find("body").Html()
		if err != nil {
			return nil, fmt.Errorf("failed to render content: %w", err)
		}
		p.ContentHTML = body
	}
	p.MediaRefs = refs
	return result, nil
}

// MergeRefs concatenates ref lists, keeping the first occurrence of each URL.
// Earlier lists win, so archived refs keep their local paths.
func MergeRefs(previous, current []domain.MediaRef, discovered []string) []domain.MediaRef {
	seen := map[string]bool{}
	out := make([]domain.MediaRef, 0, len(previous)+len(current)+len(discovered))
	add := func(ref domain.MediaRef) {
		if ref.URL == "" || seen[ref.URL] {
			return
		}
		seen[ref.URL] = true
		out = append(out, ref)
	}
	for _, ref := range previous {
		add(ref)
	}
	for _, ref := range current {
		add(ref)
	}
	for _, u := range discovered {
		add(domain.MediaRef{URL: u})
	}
	return out
}

// discover returns absolute media URLs in document order.
func discover(doc *goquery.Document, base *url.URL) []string {
	var urls []string
	doc.Find("img[src], a[href]").Each(func(_ int, s *goquery.Selection) {
		attr := "src"
		if goquery.NodeName(s) == "a" {
			attr = "href"
		}
		raw, _ := s.Attr(attr)
		abs, ok := absolute(raw, base)
		if !ok {
			return
		}
		if attr == "href" && !isMediaLink(abs) {
			return
		}
		urls = append(urls, abs)
	})
	return urls
}

// rewrite points resolved references at their local copies and reports
// whether anything changed.
func rewrite(doc *goquery.Document, base *url.URL, resolved map[string]string) bool {
	changed := false
	doc.Find("img[src], a[href]").Each(func(_ int, s *goquery.Selection) {
		attr := "src"
		if goquery.NodeName(s) == "a" {
			attr = "href"
		}
		raw, _ := s.Attr(attr)
		abs, ok := absolute(raw, base)
		if !ok {
			return
		}
		local, ok := resolved[abs]
		if !ok {
			return
		}
		s.SetAttr(attr, local)
		if attr == "src" {
			s.RemoveAttr("srcset")
			s.RemoveAttr("sizes")
		}
		changed = true
	})
	return changed
}

// absolute resolves a reference against the post link. Inline data and
// references already pointing at the local media directory are ignored.
func absolute(raw string, base *url.URL) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "data:") || strings.HasPrefix(raw, "#") || strings.HasPrefix(raw, contentPrefix) {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if !u.IsAbs() {
		if base == nil || !base.IsAbs() {
			return "", false
		}
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	u.Fragment = ""
	return u.String(), true
}

func isMediaLink(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if strings.Contains(u.Path, "/wp-content/uploads/") {
		return true
	}
	return mediaExtensions[strings.ToLower(path.Ext(u.Path))]
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

func (r *Resolver) download(ctx context.Context, rawURL, target string) error {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	if r.opts.UserAgent != "" {
		req.Header.Set("User-Agent", r.opts.UserAgent)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	n, err := io.Copy(f, io.LimitReader(resp.Body, r.opts.MaxBytes+1))
	closeErr := f.Close()
	switch {
	case err != nil:
	case closeErr != nil:
		err = closeErr
	case n > r.opts.MaxBytes:
		err = fmt.Errorf("%w (%d bytes)", ErrTooLarge, r.opts.MaxBytes)
	default:
		err = os.Chmod(tmp, 0644)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
