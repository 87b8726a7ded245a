package archive

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/adrg/frontmatter"
	"gopkg.in/yaml.v3"

	"github.com/sha1n/blog-archiver/internal/domain"
)

// FrontMatter is the metadata block at the top of every archived Markdown file.
type FrontMatter struct {
	ID         string   `yaml:"id"`
	Title      string   `yaml:"title"`
	Slug       string   `yaml:"slug"`
	Date       string   `yaml:"date"`
	Modified   string   `yaml:"modified"`
	Link       string   `yaml:"link"`
	Author     string   `yaml:"author"`
	Tags       []string `yaml:"tags"`
	Categories []string `yaml:"categories"`
	Source     string   `yaml:"source"`
}

// MarkdownDocument is a parsed Markdown file.
type MarkdownDocument struct {
	Meta FrontMatter
	Body string
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func frontMatterOf(p *domain.Post) FrontMatter {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	categories := p.Categories
	if categories == nil {
		categories = []string{}
	}
	return FrontMatter{
		ID:         p.ID,
		Title:      p.Title,
		Slug:       p.Slug,
		Date:       formatTime(&p.DatePublished),
		Modified:   formatTime(p.DateModified),
		Link:       p.Link,
		Author:     p.Author,
		Tags:       tags,
		Categories: categories,
		Source:     string(p.Source),
	}
}

// RenderMarkdown serializes a post as front matter followed by the title
// heading, the excerpt (when present) and the content body.
func RenderMarkdown(p *domain.Post) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(frontMatterOf(p)); err != nil {
		return nil, fmt.Errorf("failed to encode front matter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode front matter: %w", err)
	}
	buf.WriteString("---\n\n")

	// A newline in the title would end the heading early.
	fmt.Fprintf(&buf, "# %s\n\n", strings.Join(strings.Fields(p.Title), " "))
	if excerpt := HTMLToMarkdown(p.ExcerptHTML); excerpt != "" {
		buf.WriteString(prefixLines(excerpt, "> ", ">"))
		buf.WriteString("\n\n")
	}
	if body := HTMLToMarkdown(p.ContentHTML); body != "" {
		buf.WriteString(body)
		buf.WriteString("\n")
	}
	return buf.Bytes(), nil
}

// ParseMarkdown splits an archived Markdown file into front matter and body.
func ParseMarkdown(r io.Reader) (*MarkdownDocument, error) {
	var doc MarkdownDocument
	body, err := frontmatter.MustParse(r, &doc.Meta)
	if err != nil {
		return nil, fmt.Errorf("failed to parse front matter: %w", err)
	}
	doc.Body = strings.TrimLeft(string(body), "\n")
	return &doc, nil
}
