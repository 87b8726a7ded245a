package index

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	_ "github.com/mattn/go-sqlite3"

	"github.com/sha1n/blog-archiver/internal/domain"
)

//go:embed schema.sql
var schema string

// Artifact names inside the index directory.
const (
	JSONFile   = "index.json"
	DigestFile = "index.sha256"
	DBFile     = "index.db"
	BleveDir   = "posts.bleve"
)

const (
	// MaxBatchSize is the maximum number of documents per bleve batch
	MaxBatchSize = 100

	// MaxBatchBytes is the maximum bytes per bleve batch (10MB)
	MaxBatchBytes = 10 * 1024 * 1024
)

// ErrNoIndex indicates the index directory holds no built index.
var ErrNoIndex = errors.New("index has not been built")

// BuildResult describes one index build.
type BuildResult struct {
	Posts   int
	Terms   int
	Digest  string
	Changed bool
	Elapsed time.Duration
}

// Builder writes the index artifacts into a directory.
type Builder struct {
	dir string
	tok *Tokenizer
}

// NewBuilder creates a builder writing into dir.
func NewBuilder(dir string, tok *Tokenizer) *Builder {
	return &Builder{dir: dir, tok: tok}
}

// Dir returns the index directory.
func (b *Builder) Dir() string {
	return b.dir
}

// Build rebuilds the index from posts. index.json is always rewritten; the
// query database and the full-text index are rebuilt only when the digest
// changed or either is missing. The digest file is written last.
func (b *Builder) Build(ctx context.Context, posts []*domain.Post) (*BuildResult, error) {
	start := time.Now()
	if err := os.MkdirAll(b.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	idx := Build(posts, b.tok)
	data, err := idx.Marshal()
	if err != nil {
		return nil, err
	}
	digest := Digest(data)
	previous, _ := os.ReadFile(filepath.Join(b.dir, DigestFile))
	changed := strings.TrimSpace(string(previous)) != digest

	if err := writeAtomic(filepath.Join(b.dir, JSONFile), data); err != nil {
		return nil, err
	}

	if changed || !exists(filepath.Join(b.dir, DBFile)) || !exists(filepath.Join(b.dir, BleveDir)) {
		if err := b.writeDB(ctx, idx, digest); err != nil {
			return nil, err
		}
		if err := b.writeBleve(ctx, posts); err != nil {
			return nil, err
		}
	} else {
		slog.Debug("Index unchanged, keeping query database", "digest", digest)
	}

	if err := writeAtomic(filepath.Join(b.dir, DigestFile), []byte(digest+"\n")); err != nil {
		return nil, err
	}

	return &BuildResult{
		Posts:   len(idx.Posts),
		Terms:   len(idx.Terms),
		Digest:  digest,
		Changed: changed,
		Elapsed: time.Since(start),
	}, nil
}

func (b *Builder) writeDB(ctx context.Context, idx *SearchIndex, digest string) (err error) {
	final := filepath.Join(b.dir, DBFile)
	tmp := final + ".tmp"
	_ = os.Remove(tmp)

	db, err := sql.Open("sqlite3", tmp)
	if err != nil {
		return fmt.Errorf("failed to open index database: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to init index schema: %w", err)
	}
	if err := fillDB(ctx, db, idx, digest); err != nil {
		return err
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("failed to close index database: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("failed to rename index database: %w", err)
	}
	return nil
}

func fillDB(ctx context.Context, db *sql.DB, idx *SearchIndex, digest string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	insert := func(query string, rows func(stmt *sql.Stmt) error) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to prepare %q: %w", query, err)
		}
		defer func() { _ = stmt.Close() }()
		return rows(stmt)
	}

	order := idx.Order()
	err = insert(`INSERT INTO posts (key, source, id, slug, title, link, published, published_unix, length, ord)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, func(stmt *sql.Stmt) error {
		for _, key := range idx.ByDate {
			m := idx.Posts[key]
			if _, err := stmt.ExecContext(ctx, key, string(m.Source), m.ID, m.Slug, m.Title, m.Link,
				m.Published.Format(time.RFC3339), m.Published.Unix(), m.Length, order[key]); err != nil {
				return fmt.Errorf("insert post %s: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = insert(`INSERT INTO postings (term, key, tf) VALUES (?, ?, ?)`, func(stmt *sql.Stmt) error {
		for term, postings := range idx.Terms {
			for _, p := range postings {
				if _, err := stmt.ExecContext(ctx, term, p.Key, p.TF); err != nil {
					return fmt.Errorf("insert posting %s: %w", term, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	labels := []struct {
		query string
		index map[string][]string
	}{
		{`INSERT INTO tags (tag, key) VALUES (?, ?)`, idx.ByTag},
		{`INSERT INTO categories (category, key) VALUES (?, ?)`, idx.ByCategory},
	}
	for _, l := range labels {
		err = insert(l.query, func(stmt *sql.Stmt) error {
			for label, keys := range l.index {
				for _, key := range keys {
					if _, err := stmt.ExecContext(ctx, label, key); err != nil {
						return fmt.Errorf("insert label %s: %w", label, err)
					}
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	err = insert(`INSERT INTO meta (name, value) VALUES (?, ?)`, func(stmt *sql.Stmt) error {
		for name, value := range map[string]string{"version": strconv.Itoa(idx.Version), "digest": digest} {
			if _, err := stmt.ExecContext(ctx, name, value); err != nil {
				return fmt.Errorf("insert meta %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit index: %w", err)
	}
	return nil
}

// CreateIndexMapping creates the bleve mapping for post documents.
func CreateIndexMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	// Text fields keep term vectors so hits can be highlighted
	for _, name := range []string{domain.PostFieldTitle, domain.PostFieldContent, domain.PostFieldExcerpt} {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = standard.Name
		f.Store = true
		f.IncludeTermVectors = true
		docMapping.AddFieldMappingsAt(name, f)
	}

	for _, name := range []string{domain.PostFieldKey, domain.PostFieldSlug, domain.PostFieldSource, domain.PostFieldTags} {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = keyword.Name
		f.Store = true
		docMapping.AddFieldMappingsAt(name, f)
	}

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = standard.Name

	return indexMapping
}

func (b *Builder) writeBleve(ctx context.Context, posts []*domain.Post) (err error) {
	final := filepath.Join(b.dir, BleveDir)
	tmp := final + ".tmp"
	if err := os.RemoveAll(tmp); err != nil {
		return fmt.Errorf("failed to clear temp index: %w", err)
	}

	index, err := bleve.New(tmp, CreateIndexMapping())
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer func() {
		if index != nil {
			_ = index.Close()
		}
		if err != nil {
			_ = os.RemoveAll(tmp)
		}
	}()

	batch := index.NewBatch()
	batchBytes := 0
	for _, p := range posts {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc := domain.PostDocument{
			Key:     p.Key().String(),
			Slug:    p.Slug,
			Source:  string(p.Source),
			Title:   p.Title,
			Content: PlainText(p.ContentHTML),
			Excerpt: PlainText(p.ExcerptHTML),
			Tags:    p.Tags,
		}
		if err := batch.Index(doc.Key, doc); err != nil {
			return fmt.Errorf("failed to index %s: %w", doc.Key, err)
		}
		batchBytes += len(doc.Content)

		if batch.Size() >= MaxBatchSize || batchBytes >= MaxBatchBytes {
			if err := index.Batch(batch); err != nil {
				return fmt.Errorf("batch index failed: %w", err)
			}
			batch = index.NewBatch()
			batchBytes = 0
		}
	}
	if batch.Size() > 0 {
		if err := index.Batch(batch); err != nil {
			return fmt.Errorf("final batch index failed: %w", err)
		}
	}

	closeErr := index.Close()
	index = nil
	if closeErr != nil {
		return fmt.Errorf("failed to close index: %w", closeErr)
	}
	if err := os.RemoveAll(final); err != nil {
		return fmt.Errorf("failed to remove old index: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("failed to rename index: %w", err)
	}
	return nil
}

// Load reads index.json from an index directory.
func Load(dir string) (*SearchIndex, error) {
	data, err := os.ReadFile(filepath.Join(dir, JSONFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoIndex
		}
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	var idx SearchIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("failed to parse index: %w", err)
	}
	if idx.Version > Version {
		return nil, fmt.Errorf("index version %d is newer than supported version %d", idx.Version, Version)
	}
	return &idx, nil
}

func writeAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
