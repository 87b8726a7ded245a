// Package index builds the search index and the date, tag and category
// navigation indexes from the archived posts.
package index

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/sha1n/blog-archiver/internal/archive"
	"github.com/sha1n/blog-archiver/internal/domain"
)

// Version is the current index schema version.
const Version = 1

// PostMeta is the per-post data carried by the index.
type PostMeta struct {
	Source     domain.Source `json:"source"`
	ID         string        `json:"id"`
	Slug       string        `json:"slug"`
	Title      string        `json:"title"`
	Link       string        `json:"link"`
	Published  time.Time     `json:"published"`
	Length     int           `json:"length"`
	Tags       []string      `json:"tags"`
	Categories []string      `json:"categories"`
}

// Posting records how often a term occurs in one post.
type Posting struct {
	Key string `json:"key"`
	TF  int    `json:"tf"`
}

// SearchIndex is the inverted index plus navigation structures. Maps are
// serialized with sorted keys and every list has a defined order, so the same
// posts always produce the same bytes.
type SearchIndex struct {
	Version int                 `json:"version"`
	Posts   map[string]PostMeta `json:"posts"`

	// Terms maps a term to its postings ordered by post key.
	Terms map[string][]Posting `json:"terms"`

	// ByDate lists post keys newest first; ties are ordered by key.
	ByDate []string `json:"by_date"`

	// ByTag and ByCategory map a normalized label to post keys in ByDate order.
	ByTag      map[string][]string `json:"by_tag"`
	ByCategory map[string][]string `json:"by_category"`
}

// documentText is the text a post is searched by.
func documentText(p *domain.Post) string {
	return strings.Join([]string{p.Title, PlainText(p.ContentHTML), PlainText(p.ExcerptHTML)}, "\n")
}

// Build creates the index for a set of posts. The input order does not matter.
func Build(posts []*domain.Post, tok *Tokenizer) *SearchIndex {
	sorted := slices.Clone(posts)
	slices.SortFunc(sorted, func(a, b *domain.Post) int {
		return archive.CompareKeys(a.Key(), b.Key())
	})

	idx := &SearchIndex{
		Version:    Version,
		Posts:      make(map[string]PostMeta, len(sorted)),
		Terms:      make(map[string][]Posting),
		ByDate:     make([]string, 0, len(sorted)),
		ByTag:      make(map[string][]string),
		ByCategory: make(map[string][]string),
	}

	for _, p := range sorted {
		key := p.Key().String()
		freq := tok.Frequencies(documentText(p))
		length := 0
		for _, n := range freq {
			length += n
		}
		idx.Posts[key] = PostMeta{
			Source:     p.Source,
			ID:         p.ID,
			Slug:       p.Slug,
			Title:      p.Title,
			Link:       p.Link,
			Published:  p.DatePublished.UTC(),
			Length:     length,
			Tags:       nonNil(p.Tags),
			Categories: nonNil(p.Categories),
		}
		// Posts are visited in key order, so postings stay sorted.
		for term, n := range freq {
			idx.Terms[term] = append(idx.Terms[term], Posting{Key: key, TF: n})
		}
	}

	byDate := slices.Clone(sorted)
	slices.SortStableFunc(byDate, func(a, b *domain.Post) int {
		return b.DatePublished.Compare(a.DatePublished)
	})
	for _, p := range byDate {
		key := p.Key().String()
		idx.ByDate = append(idx.ByDate, key)
		for _, tag := range p.Tags {
			idx.ByTag[tag] = append(idx.ByTag[tag], key)
		}
		for _, cat := range p.Categories {
			idx.ByCategory[cat] = append(idx.ByCategory[cat], key)
		}
	}
	return idx
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Marshal serializes the index deterministically.
func (idx *SearchIndex) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(idx); err != nil {
		return nil, fmt.Errorf("failed to encode index: %w", err)
	}
	return buf.Bytes(), nil
}

// Digest returns the hex SHA-256 of serialized index data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Order returns the position of every post key in ByDate.
func (idx *SearchIndex) Order() map[string]int {
	order := make(map[string]int, len(idx.ByDate))
	for i, key := range idx.ByDate {
		order[key] = i
	}
	return order
}
