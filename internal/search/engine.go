// Package search answers keyword and filter queries against a built index.
package search

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	_ "github.com/mattn/go-sqlite3"

	"github.com/sha1n/blog-archiver/internal/domain"
	"github.com/sha1n/blog-archiver/internal/index"
)

// Filters narrow a query. Since is inclusive and Until exclusive; zero
// values disable a filter. Limit <= 0 returns every match.
type Filters struct {
	Tag      string
	Category string
	Since    time.Time
	Until    time.Time
	Limit    int
}

// Result is one ranked hit.
type Result struct {
	Key       domain.Key
	Slug      string
	Title     string
	Link      string
	Published time.Time
	Score     int
	Fragments []string
}

// LabelCount is a navigation label with the number of posts carrying it.
type LabelCount struct {
	Label string
	Count int
}

// Engine queries the sqlite index and, when present, highlights matches
// through the companion full-text index.
type Engine struct {
	db    *sql.DB
	bleve bleve.Index
	tok   *index.Tokenizer
}

// Open opens the index in dir for reading.
func Open(dir string, tok *index.Tokenizer) (*Engine, error) {
	dbPath := filepath.Join(dir, index.DBFile)
	if _, err := os.Stat(dbPath); err != nil {
		if os.IsNotExist(err) {
			return nil, index.ErrNoIndex
		}
		return nil, fmt.Errorf("failed to stat index database: %w", err)
	}
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}

	e := &Engine{db: db, tok: tok}
	bi, err := bleve.OpenUsing(filepath.Join(dir, index.BleveDir), map[string]interface{}{"read_only": true})
	if err == nil {
		e.bleve = bi
	}
	return e, nil
}

// Close releases the index handles.
func (e *Engine) Close() error {
	var err error
	if e.bleve != nil {
		err = e.bleve.Close()
	}
	if cerr := e.db.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Query returns posts matching every term of text, ranked by summed term
// frequency with ties ordered newest first. Empty text returns every post
// that passes the filters, newest first. Text with no indexable terms, such
// as only stop words, matches nothing.
func (e *Engine) Query(ctx context.Context, text string, f Filters) ([]Result, error) {
	terms := e.tok.Unique(text)
	if len(terms) == 0 && strings.TrimSpace(text) != "" {
		return []Result{}, nil
	}

	var (
		sb   strings.Builder
		args []any
	)
	if len(terms) == 0 {
		sb.WriteString(`SELECT p.key, p.slug, p.title, p.link, p.published_unix, 0 AS score FROM posts p WHERE 1 = 1`)
		args = appendFilters(&sb, args, f)
		sb.WriteString(` ORDER BY p.ord ASC`)
	} else {
		sb.WriteString(`SELECT p.key, p.slug, p.title, p.link, p.published_unix, SUM(t.tf) AS score
		FROM postings t JOIN posts p ON p.key = t.key
		WHERE t.term IN (` + placeholders(len(terms)) + `)`)
		for _, term := range terms {
			args = append(args, term)
		}
		args = appendFilters(&sb, args, f)
		sb.WriteString(` GROUP BY p.key HAVING COUNT(DISTINCT t.term) = ? ORDER BY score DESC, p.ord ASC`)
		args = append(args, len(terms))
	}
	sb.WriteString(` LIMIT ?`)
	if f.Limit > 0 {
		args = append(args, f.Limit)
	} else {
		args = append(args, -1)
	}

	rows, err := e.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := []Result{}
	for rows.Next() {
		var (
			r         Result
			key       string
			published int64
		)
		if err := rows.Scan(&key, &r.Slug, &r.Title, &r.Link, &published, &r.Score); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if r.Key, err = domain.ParseKey(key); err != nil {
			return nil, err
		}
		r.Published = time.Unix(published, 0).UTC()
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}

	if len(terms) > 0 && len(results) > 0 {
		e.highlight(text, results)
	}
	return results, nil
}

func appendFilters(sb *strings.Builder, args []any, f Filters) []any {
	if tag := normalizeLabel(f.Tag); tag != "" {
		sb.WriteString(` AND EXISTS (SELECT 1 FROM tags g WHERE g.key = p.key AND g.tag = ?)`)
		args = append(args, tag)
	}
	if cat := normalizeLabel(f.Category); cat != "" {
		sb.WriteString(` AND EXISTS (SELECT 1 FROM categories c WHERE c.key = p.key AND c.category = ?)`)
		args = append(args, cat)
	}
	if !f.Since.IsZero() {
		sb.WriteString(` AND p.published_unix >= ?`)
		args = append(args, f.Since.Unix())
	}
	if !f.Until.IsZero() {
		sb.WriteString(` AND p.published_unix < ?`)
		args = append(args, f.Until.Unix())
	}
	return args
}

// normalizeLabel applies the same normalization the archive applies to tags.
func normalizeLabel(label string) string {
	n := domain.NormalizeTags([]string{label})
	if len(n) == 0 {
		return ""
	}
	return n[0]
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// highlight attaches preview fragments from the full-text index. Missing
// fragments leave results unchanged.
func (e *Engine) highlight(text string, results []Result) {
	if e.bleve == nil {
		return
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Key.String()
	}

	var fields []query.Query
	for _, field := range []string{domain.PostFieldTitle, domain.PostFieldContent, domain.PostFieldExcerpt} {
		q := bleve.NewMatchQuery(text)
		q.SetField(field)
		fields = append(fields, q)
	}
	q := bleve.NewConjunctionQuery(bleve.NewDocIDQuery(ids), bleve.NewDisjunctionQuery(fields...))

	req := bleve.NewSearchRequest(q)
	req.Size = len(ids)
	req.Highlight = bleve.NewHighlight()
	req.Highlight.AddField(domain.PostFieldContent)
	req.Highlight.AddField(domain.PostFieldExcerpt)

	res, err := e.bleve.Search(req)
	if err != nil {
		return
	}
	fragments := make(map[string][]string, len(res.Hits))
	for _, hit := range res.Hits {
		var frags []string
		for _, field := range []string{domain.PostFieldContent, domain.PostFieldExcerpt} {
			frags = append(frags, hit.Fragments[field]...)
		}
		fragments[hit.ID] = frags
	}
	for i := range results {
		results[i].Fragments = fragments[ids[i]]
	}
}

// Tags lists every tag with its post count, alphabetically.
func (e *Engine) Tags(ctx context.Context) ([]LabelCount, error) {
	return e.labels(ctx, `SELECT tag, COUNT(*) FROM tags GROUP BY tag ORDER BY tag`)
}

// Categories lists every category with its post count, alphabetically.
func (e *Engine) Categories(ctx context.Context) ([]LabelCount, error) {
	return e.labels(ctx, `SELECT category, COUNT(*) FROM categories GROUP BY category ORDER BY category`)
}

func (e *Engine) labels(ctx context.Context, q string) ([]LabelCount, error) {
	rows, err := e.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []LabelCount{}
	for rows.Next() {
		var lc LabelCount
		if err := rows.Scan(&lc.Label, &lc.Count); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		out = append(out, lc)
	}
	return out, rows.Err()
}

// Count returns the number of indexed posts.
func (e *Engine) Count(ctx context.Context) (int, error) {
	var n int
	if err := e.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return n, nil
}
