// Package archive persists canonical posts as paired JSON and Markdown
// records under a per-source directory tree.
package archive

import (
	"bytes"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/sha1n/blog-archiver/internal/domain"
)

const (
	JSONDir     = "json"
	PostsDir    = "posts"
	MediaDir    = "media"
	IndexDir    = "index"
	jsonExt     = ".json"
	markdownExt = ".md"
)

// ErrNotFound indicates no archived record matches the request.
var ErrNotFound = errors.New("post not found in archive")

// Outcome is the result of a Put.
type Outcome int

const (
	// Skipped means the archived record was left untouched.
	Skipped Outcome = iota
	// Created means a new record was written.
	Created
	// Updated means an existing record was overwritten.
	Updated
)

// Written reports whether the outcome touched the disk.
func (o Outcome) Written() bool {
	return o != Skipped
}

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "skipped"
	}
}

// Options configures the store.
type Options struct {
	// Force rewrites records even when their modification time is unchanged.
	Force bool
}

// Store is the archive of record. The slug registry is rebuilt from disk on
// Open so slug assignments stay stable across runs and sources.
type Store struct {
	root  string
	force bool

	mu     sync.Mutex
	bySlug map[string]domain.Key
	byKey  map[domain.Key]string
}

// Open prepares the archive root and loads the slug registry from existing
// records. Failure to create the root is returned as is; callers treat it as
// fatal for the run.
func Open(root string, opts Options) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive root: %w", err)
	}
	s := &Store{
		root:   root,
		force:  opts.Force,
		bySlug: make(map[string]domain.Key),
		byKey:  make(map[domain.Key]string),
	}
	if err := s.loadRegistry(); err != nil {
		return nil, err
	}
	return s, nil
}

// Root returns the archive root directory.
func (s *Store) Root() string {
	return s.root
}

// Force reports whether the store rewrites unchanged records.
func (s *Store) Force() bool {
	return s.force
}

// SourceDir returns the directory holding one source's records.
func (s *Store) SourceDir(src domain.Source) string {
	return filepath.Join(s.root, string(src))
}

// MediaDir returns the media directory of a source.
func (s *Store) MediaDir(src domain.Source) string {
	return filepath.Join(s.SourceDir(src), MediaDir)
}

// JSONPath returns the JSON record path for a slug.
func (s *Store) JSONPath(src domain.Source, slug string) string {
	return filepath.Join(s.SourceDir(src), JSONDir, slug+jsonExt)
}

// MarkdownPath returns the Markdown record path for a slug.
func (s *Store) MarkdownPath(src domain.Source, slug string) string {
	return filepath.Join(s.SourceDir(src), PostsDir, slug+markdownExt)
}

// Reload rebuilds the slug registry from disk. Writers call it after taking
// the run lock, since another run may have written records since Open.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySlug = make(map[string]domain.Key)
	s.byKey = make(map[domain.Key]string)
	return s.loadRegistry()
}

func (s *Store) loadRegistry() error {
	for _, src := range domain.Sources {
		files, err := s.jsonFiles(src)
		if err != nil {
			return err
		}
		for _, path := range files {
			slug := strings.TrimSuffix(filepath.Base(path), jsonExt)
			p, err := readPost(path)
			if err != nil {
				// The slug stays reserved so a new post cannot clobber the file.
				slog.Warn("Unreadable archive record", "path", path, "error", err)
				s.bySlug[slug] = domain.Key{Source: src}
				continue
			}
			key := p.Key()
			if prev, ok := s.bySlug[slug]; ok && prev != key {
				slog.Warn("Duplicate slug in archive", "slug", slug, "keys", []string{prev.String(), key.String()})
			}
			s.bySlug[slug] = key
			s.byKey[key] = slug
		}
	}
	slog.Debug("Loaded archive registry", "root", s.root, "records", len(s.byKey))
	return nil
}

func (s *Store) jsonFiles(src domain.Source) ([]string, error) {
	dir := filepath.Join(s.SourceDir(src), JSONDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), jsonExt) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

// AssignSlug sets the post's archive slug. A post already in the archive
// keeps its slug. A new post whose slug is claimed by another post gets the
// first free candidate of <slug>-<source>, <slug>-<source>-<id>.
func (s *Store) AssignSlug(p *domain.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := p.Key()
	if slug, ok := s.byKey[key]; ok {
		p.Slug = slug
		return
	}

	base := p.Slug
	candidates := []string{
		base,
		base + "-" + string(p.Source),
		base + "-" + string(p.Source) + "-" + p.ID,
	}
	chosen := ""
	for _, c := range candidates {
		if _, taken := s.bySlug[c]; !taken {
			chosen = c
			break
		}
	}
	for n := 2; chosen == ""; n++ {
		c := fmt.Sprintf("%s-%d", candidates[2], n)
		if _, taken := s.bySlug[c]; !taken {
			chosen = c
		}
	}
	if chosen != base {
		slog.Info("Slug collision resolved", "key", key.String(), "slug", base, "assigned", chosen)
	}

	p.Slug = chosen
	s.bySlug[chosen] = key
	s.byKey[key] = chosen
}

// Lookup returns the archived version of a post, or nil if it has none.
func (s *Store) Lookup(key domain.Key) (*domain.Post, error) {
	s.mu.Lock()
	slug, ok := s.byKey[key]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	p, err := readPost(s.JSONPath(key.Source, slug))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return p, err
}

// Plan reports what Put would do with the post without touching the disk.
// The post's slug must already be assigned.
func (s *Store) Plan(p *domain.Post) (Outcome, error) {
	existing, err := readPost(s.JSONPath(p.Source, p.Slug))
	if errors.Is(err, os.ErrNotExist) {
		return Created, nil
	}
	if err != nil {
		// An unreadable record is replaced.
		slog.Warn("Replacing unreadable archive record", "key", p.Key().String(), "error", err)
		return Updated, nil
	}
	if !s.force && existing.SameModified(p) {
		return Skipped, nil
	}
	return Updated, nil
}

// Put archives the post. Both files are written to temporary names and
// renamed into place, Markdown first, so the JSON record only appears once
// its twin is complete.
func (s *Store) Put(p *domain.Post) (Outcome, error) {
	s.AssignSlug(p)

	outcome, err := s.Plan(p)
	if err != nil || outcome == Skipped {
		return outcome, err
	}

	jsonPath := s.JSONPath(p.Source, p.Slug)
	mdPath := s.MarkdownPath(p.Source, p.Slug)
	storeErr := func(path string, err error) error {
		return &domain.StoreError{Key: p.Key(), Path: path, Err: err}
	}

	data, err := EncodePost(p)
	if err != nil {
		return Skipped, storeErr(jsonPath, err)
	}
	md, err := RenderMarkdown(p)
	if err != nil {
		return Skipped, storeErr(mdPath, err)
	}

	mdTemp, err := writeTemp(mdPath, md)
	if err != nil {
		return Skipped, storeErr(mdPath, err)
	}
	jsonTemp, err := writeTemp(jsonPath, data)
	if err != nil {
		_ = os.Remove(mdTemp)
		return Skipped, storeErr(jsonPath, err)
	}
	if err := os.Rename(mdTemp, mdPath); err != nil {
		_ = os.Remove(mdTemp)
		_ = os.Remove(jsonTemp)
		return Skipped, storeErr(mdPath, err)
	}
	if err := os.Rename(jsonTemp, jsonPath); err != nil {
		_ = os.Remove(jsonTemp)
		return Skipped, storeErr(jsonPath, err)
	}
	return outcome, nil
}

// writeTemp writes data next to path under a hidden temporary name and
// syncs it to disk.
func writeTemp(path string, data []byte) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", err
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	if err := os.Chmod(name, 0644); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	return name, nil
}

// EncodePost renders the JSON record of a post.
func EncodePost(p *domain.Post) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func readPost(path string) (*domain.Post, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p domain.Post
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &p, nil
}

// List returns every archived post ordered by key.
func (s *Store) List() ([]*domain.Post, error) {
	var posts []*domain.Post
	for _, src := range domain.Sources {
		files, err := s.jsonFiles(src)
		if err != nil {
			return nil, err
		}
		for _, path := range files {
			p, err := readPost(path)
			if err != nil {
				return nil, err
			}
			posts = append(posts, p)
		}
	}
	slices.SortFunc(posts, func(a, b *domain.Post) int {
		return CompareKeys(a.Key(), b.Key())
	})
	return posts, nil
}

// CompareKeys orders keys by source, then by id. Numeric ids compare by
// value so "9" and "009" sort before "10". Ids of equal value fall back to
// their text so the order stays total.
func CompareKeys(a, b domain.Key) int {
	if c := strings.Compare(string(a.Source), string(b.Source)); c != 0 {
		return c
	}
	if isDigits(a.ID) && isDigits(b.ID) {
		na, nb := strings.TrimLeft(a.ID, "0"), strings.TrimLeft(b.ID, "0")
		if len(na) != len(nb) {
			return cmp.Compare(len(na), len(nb))
		}
		if c := strings.Compare(na, nb); c != 0 {
			return c
		}
	}
	return strings.Compare(a.ID, b.ID)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// Get returns the post archived under a slug.
func (s *Store) Get(slug string) (*domain.Post, error) {
	s.mu.Lock()
	key, ok := s.bySlug[slug]
	s.mu.Unlock()
	if !ok || key.ID == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, slug)
	}
	p, err := readPost(s.JSONPath(key.Source, slug))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, slug)
	}
	return p, err
}

// ReadMarkdown returns the archived Markdown file for a slug.
func (s *Store) ReadMarkdown(slug string) ([]byte, error) {
	s.mu.Lock()
	key, ok := s.bySlug[slug]
	s.mu.Unlock()
	if !ok || key.ID == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, slug)
	}
	data, err := os.ReadFile(s.MarkdownPath(key.Source, slug))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, slug)
	}
	return data, err
}

// Len returns the number of registered posts.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKey)
}
