package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sha1n/blog-archiver/internal/domain"
)

// Problem is one inconsistency found by Check.
type Problem struct {
	Path   string
	Reason string
}

func (p Problem) String() string {
	return p.Path + ": " + p.Reason
}

// CheckReport summarizes an archive consistency check.
type CheckReport struct {
	Records  int
	Problems []Problem
}

// OK reports whether the archive is consistent.
func (r *CheckReport) OK() bool {
	return len(r.Problems) == 0
}

// Check verifies that every JSON record is valid, has a Markdown twin whose
// front matter agrees with it, and holds a slug no other record uses. It
// also reports Markdown files without a JSON record.
func (s *Store) Check() (*CheckReport, error) {
	report := &CheckReport{}
	add := func(path, format string, args ...any) {
		report.Problems = append(report.Problems, Problem{Path: path, Reason: fmt.Sprintf(format, args...)})
	}
	owners := map[string]string{}

	for _, src := range domain.Sources {
		files, err := s.jsonFiles(src)
		if err != nil {
			return nil, err
		}
		seen := map[string]bool{}
		for _, path := range files {
			report.Records++
			slug := strings.TrimSuffix(filepath.Base(path), jsonExt)
			seen[slug] = true

			p, err := readPost(path)
			if err != nil {
				add(path, "unreadable record: %v", err)
				continue
			}
			if p.Slug != slug {
				add(path, "slug %q does not match file name", p.Slug)
			}
			if p.Source != src {
				add(path, "source %q stored under %s", p.Source, src)
			}
			if err := domain.Validate(p); err != nil {
				add(path, "%v", err)
			}
			if owner, ok := owners[p.Slug]; ok {
				add(path, "slug %q already used by %s", p.Slug, owner)
			} else {
				owners[p.Slug] = p.Key().String()
			}
			for _, ref := range p.MediaRefs {
				if !ref.Resolved() {
					continue
				}
				if _, err := os.Stat(filepath.Join(s.SourceDir(src), *ref.LocalPath)); err != nil {
					add(path, "media file %s is missing", *ref.LocalPath)
				}
			}

			mdPath := s.MarkdownPath(src, slug)
			checkMarkdown(mdPath, p, add)
		}

		orphans, err := orphanMarkdown(filepath.Join(s.SourceDir(src), PostsDir), seen)
		if err != nil {
			return nil, err
		}
		for _, path := range orphans {
			add(path, "markdown file has no JSON record")
		}
	}
	return report, nil
}

func checkMarkdown(path string, p *domain.Post, add func(path, format string, args ...any)) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		add(path, "markdown twin is missing")
		return
	}
	if err != nil {
		add(path, "unreadable markdown: %v", err)
		return
	}
	defer func() { _ = f.Close() }()

	doc, err := ParseMarkdown(f)
	if err != nil {
		add(path, "%v", err)
		return
	}
	want := frontMatterOf(p)
	if doc.Meta.ID != want.ID {
		add(path, "front matter id %q, want %q", doc.Meta.ID, want.ID)
	}
	if doc.Meta.Slug != want.Slug {
		add(path, "front matter slug %q, want %q", doc.Meta.Slug, want.Slug)
	}
	if doc.Meta.Source != want.Source {
		add(path, "front matter source %q, want %q", doc.Meta.Source, want.Source)
	}
	if doc.Meta.Modified != want.Modified {
		add(path, "front matter modified %q, want %q", doc.Meta.Modified, want.Modified)
	}
}

func orphanMarkdown(dir string, records map[string]bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, markdownExt) {
			continue
		}
		if !records[strings.TrimSuffix(name, markdownExt)] {
			out = append(out, filepath.Join(dir, name))
		}
	}
	return out, nil
}
