package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Source identifies the system a post was archived from.
type Source string

const (
	SourceWordPress Source = "wordpress"
	SourceBlogger   Source = "blogger"
)

// Sources lists every supported source in a stable order.
var Sources = []Source{SourceWordPress, SourceBlogger}

// Valid reports whether s is a supported source.
func (s Source) Valid() bool {
	return slices.Contains(Sources, s)
}

// ParseSource converts a string into a Source.
func ParseSource(s string) (Source, error) {
	src := Source(strings.ToLower(strings.TrimSpace(s)))
	if !src.Valid() {
		return "", fmt.Errorf("unknown source: %q", s)
	}
	return src, nil
}

// Key identifies a post within its source namespace.
type Key struct {
	Source Source
	ID     string
}

// String returns the key in "<source>:<id>" form.
func (k Key) String() string {
	return string(k.Source) + ":" + k.ID
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	src, id, found := strings.Cut(s, ":")
	if !found || id == "" {
		return Key{}, fmt.Errorf("invalid post key: %q", s)
	}
	source, err := ParseSource(src)
	if err != nil {
		return Key{}, err
	}
	return Key{Source: source, ID: id}, nil
}

// MediaRef records one media reference found in a post's content.
// LocalPath is nil until the asset has been downloaded.
type MediaRef struct {
	URL       string  `json:"url"`
	LocalPath *string `json:"local_path"`
}

// Resolved reports whether the reference points at a local copy.
func (m MediaRef) Resolved() bool {
	return m.LocalPath != nil && *m.LocalPath != ""
}

// Post is the canonical, source-independent representation of a blog post.
// It is the unit of archival: both adapters produce it and every other
// component reads it.
type Post struct {
	ID            string     `json:"id"`
	Source        Source     `json:"source"`
	Slug          string     `json:"slug"`
	Title         string     `json:"title"`
	ContentHTML   string     `json:"content_html"`
	ExcerptHTML   string     `json:"excerpt_html"`
	DatePublished time.Time  `json:"date_published"`
	DateModified  *time.Time `json:"date_modified"`
	Link          string     `json:"link"`
	Author        string     `json:"author"`
	Tags          []string   `json:"tags"`
	Categories    []string   `json:"categories"`
	MediaRefs     []MediaRef `json:"media_refs"`
}

// Key returns the post's identity within its source.
func (p *Post) Key() Key {
	return Key{Source: p.Source, ID: p.ID}
}

// SameModified reports whether two posts carry the same modification time.
// Two absent timestamps are equal.
func (p *Post) SameModified(other *Post) bool {
	switch {
	case p.DateModified == nil && other.DateModified == nil:
		return true
	case p.DateModified == nil || other.DateModified == nil:
		return false
	default:
		return p.DateModified.Equal(*other.DateModified)
	}
}

// LastChanged returns the modification time, falling back to the publish time.
func (p *Post) LastChanged() time.Time {
	if p.DateModified != nil {
		return *p.DateModified
	}
	return p.DatePublished
}

// Clone returns a deep copy of the post.
func (p *Post) Clone() *Post {
	c := *p
	if p.DateModified != nil {
		m := *p.DateModified
		c.DateModified = &m
	}
	c.Tags = slices.Clone(p.Tags)
	c.Categories = slices.Clone(p.Categories)
	c.MediaRefs = make([]MediaRef, len(p.MediaRefs))
	for i, ref := range p.MediaRefs {
		c.MediaRefs[i] = MediaRef{URL: ref.URL}
		if ref.LocalPath != nil {
			lp := *ref.LocalPath
			c.MediaRefs[i].LocalPath = &lp
		}
	}
	return &c
}

// Equal compares two posts field by field. Timestamps are compared as instants
// so a post survives a JSON round trip regardless of its zone representation.
func (p *Post) Equal(o *Post) bool {
	if p == nil || o == nil {
		return p == o
	}
	if p.ID != o.ID || p.Source != o.Source || p.Slug != o.Slug || p.Title != o.Title ||
		p.ContentHTML != o.ContentHTML || p.ExcerptHTML != o.ExcerptHTML ||
		p.Link != o.Link || p.Author != o.Author {
		return false
	}
	if !p.DatePublished.Equal(o.DatePublished) || !p.SameModified(o) {
		return false
	}
	if !equalStrings(p.Tags, o.Tags) || !equalStrings(p.Categories, o.Categories) {
		return false
	}
	if len(p.MediaRefs) != len(o.MediaRefs) {
		return false
	}
	for i := range p.MediaRefs {
		a, b := p.MediaRefs[i], o.MediaRefs[i]
		if a.URL != b.URL || a.Resolved() != b.Resolved() {
			return false
		}
		if a.Resolved() && *a.LocalPath != *b.LocalPath {
			return false
		}
	}
	return true
}

// equalStrings treats nil and empty slices as equal.
func equalStrings(a, b []string) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return slices.Equal(a, b)
}

// Bleve field names used by the companion full-text index.
const (
	PostFieldKey     = "key"
	PostFieldSlug    = "slug"
	PostFieldSource  = "source"
	PostFieldTitle   = "title"
	PostFieldContent = "content"
	PostFieldExcerpt = "excerpt"
	PostFieldTags    = "tags"
)

// PostDocument is the shape of a post inside the companion bleve index.
type PostDocument struct {
	Key     string   `json:"key"`
	Slug    string   `json:"slug"`
	Source  string   `json:"source"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Excerpt string   `json:"excerpt"`
	Tags    []string `json:"tags"`
}
