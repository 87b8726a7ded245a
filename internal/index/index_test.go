package index

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/sha1n/blog-archiver/internal/domain"
)

func newTokenizer(t *testing.T) *Tokenizer {
	t.Helper()
	tok, err := NewTokenizer()
	if err != nil {
		t.Fatalf("NewTokenizer failed: %v", err)
	}
	return tok
}

func post(src domain.Source, id, title, content string, published time.Time, tags, cats []string) *domain.Post {
	return &domain.Post{
		ID:            id,
		Source:        src,
		Slug:          "post-" + id,
		Title:         title,
		ContentHTML:   content,
		DatePublished: published,
		Link:          "https://example.com/" + id,
		Tags:          tags,
		Categories:    cats,
		MediaRefs:     []domain.MediaRef{},
	}
}

func day(d int) time.Time {
	return time.Date(2021, 3, d, 12, 0, 0, 0, time.UTC)
}

func corpus() []*domain.Post {
	return []*domain.Post{
		post(domain.SourceWordPress, "10", "Bayesian statistics", "<p>A <b>Bayesian</b> take on statistics.</p>", day(3), []string{"bayesian", "stats"}, []string{"math"}),
		post(domain.SourceWordPress, "9", "Priors", "<p>Bayesian priors, again bayesian.</p>", day(5), []string{"bayesian"}, []string{}),
		post(domain.SourceBlogger, "77", "Garden notes", "<p>Tomatoes and basil.</p>", day(3), []string{}, []string{"garden"}),
	}
}

func TestTokenizer(t *testing.T) {
	tok := newTokenizer(t)

	tests := []struct {
		text string
		want []string
	}{
		{"Bayesian Statistics", []string{"bayesian", "statistics"}},
		{"The cat, and the hat!", []string{"cat", "hat"}},
		{"the and of", nil},
		{"", nil},
	}
	for _, tt := range tests {
		got := tok.Tokens(tt.text)
		if !slices.Equal(got, tt.want) {
			t.Errorf("Tokens(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}

	freq := tok.Frequencies("bayes bayes rule")
	if freq["bayes"] != 2 || freq["rule"] != 1 {
		t.Errorf("Frequencies = %v", freq)
	}
	if got := tok.Unique("b a b c"); !slices.Equal(got, []string{"b", "c"}) {
		t.Errorf("Unique = %v, want [b c]", got)
	}
}

func TestPlainText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"<p>Bay<b>es</b>ian</p><p>rule</p>", "Bayesian rule"},
		{"<ul><li>one</li><li>two</li></ul>", "one two"},
		{"<p>x</p><script>var a = 1;</script><style>p{}</style>", "x"},
		{"fish &amp; chips", "fish & chips"},
		{"  ", ""},
	}
	for _, tt := range tests {
		if got := PlainText(tt.in); got != tt.want {
			t.Errorf("PlainText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuild_Structure(t *testing.T) {
	idx := Build(corpus(), newTokenizer(t))

	if len(idx.Posts) != 3 {
		t.Fatalf("Expected 3 posts, got %d", len(idx.Posts))
	}

	// Newest first; equal dates ordered by key.
	wantDate := []string{"wordpress:9", "blogger:77", "wordpress:10"}
	if !slices.Equal(idx.ByDate, wantDate) {
		t.Errorf("ByDate = %v, want %v", idx.ByDate, wantDate)
	}

	if got := idx.ByTag["bayesian"]; !slices.Equal(got, []string{"wordpress:9", "wordpress:10"}) {
		t.Errorf("ByTag[bayesian] = %v", got)
	}
	if got := idx.ByCategory["garden"]; !slices.Equal(got, []string{"blogger:77"}) {
		t.Errorf("ByCategory[garden] = %v", got)
	}

	bayesian := idx.Terms["bayesian"]
	want := []Posting{{Key: "wordpress:9", TF: 2}, {Key: "wordpress:10", TF: 2}}
	if !slices.Equal(bayesian, want) {
		t.Errorf("Terms[bayesian] = %v, want %v", bayesian, want)
	}
	if _, ok := idx.Terms["the"]; ok {
		t.Error("Stop words should not be indexed")
	}
	if _, ok := idx.Terms["Bayesian"]; ok {
		t.Error("Terms should be case-folded")
	}
}

func TestBuild_Deterministic(t *testing.T) {
	tok := newTokenizer(t)
	posts := corpus()

	first, err := Build(posts, tok).Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	reversed := slices.Clone(posts)
	slices.Reverse(reversed)
	second, err := Build(reversed, tok).Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Error("Expected identical serialized index regardless of input order")
	}
	if Digest(first) != Digest(second) {
		t.Error("Expected identical digests")
	}
}

func TestBuilder_BuildWritesArtifacts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	b := NewBuilder(dir, newTokenizer(t))
	ctx := context.Background()

	res, err := b.Build(ctx, corpus())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !res.Changed || res.Posts != 3 || res.Terms == 0 {
		t.Errorf("Unexpected first result: %+v", res)
	}
	for _, name := range []string{JSONFile, DigestFile, DBFile, BleveDir} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("Expected %s to exist: %v", name, err)
		}
	}
	for _, name := range []string{JSONFile + ".tmp", DBFile + ".tmp", BleveDir + ".tmp"} {
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Errorf("Temp artifact %s should not remain", name)
		}
	}

	digest, _ := os.ReadFile(filepath.Join(dir, DigestFile))
	if strings.TrimSpace(string(digest)) != res.Digest {
		t.Errorf("Digest file = %q, want %q", digest, res.Digest)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dir, DBFile))
	if err != nil {
		t.Fatalf("Open db failed: %v", err)
	}
	defer func() { _ = db.Close() }()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM postings WHERE term = 'bayesian'").Scan(&n); err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 bayesian postings, got %d", n)
	}
	var stored string
	if err := db.QueryRow("SELECT value FROM meta WHERE name = 'digest'").Scan(&stored); err != nil || stored != res.Digest {
		t.Errorf("meta digest = %q, %v; want %q", stored, err, res.Digest)
	}
}

func TestBuilder_ChangeDetection(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	b := NewBuilder(dir, newTokenizer(t))
	ctx := context.Background()
	posts := corpus()

	first, err := b.Build(ctx, posts)
	if err != nil {
		t.Fatalf("First Build failed: %v", err)
	}
	firstJSON, _ := os.ReadFile(filepath.Join(dir, JSONFile))
	dbInfo, _ := os.Stat(filepath.Join(dir, DBFile))

	second, err := b.Build(ctx, posts)
	if err != nil {
		t.Fatalf("Second Build failed: %v", err)
	}
	if second.Changed {
		t.Error("Expected unchanged store to report Changed=false")
	}
	if second.Digest != first.Digest {
		t.Errorf("Digest changed: %s -> %s", first.Digest, second.Digest)
	}
	secondJSON, _ := os.ReadFile(filepath.Join(dir, JSONFile))
	if !bytes.Equal(firstJSON, secondJSON) {
		t.Error("Expected byte-identical index.json")
	}
	if info, _ := os.Stat(filepath.Join(dir, DBFile)); !info.ModTime().Equal(dbInfo.ModTime()) {
		t.Error("Expected query database to be kept when nothing changed")
	}

	// A missing database is rebuilt even when the digest matches.
	if err := os.Remove(filepath.Join(dir, DBFile)); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := b.Build(ctx, posts); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, DBFile)); err != nil {
		t.Errorf("Expected database to be rebuilt: %v", err)
	}

	posts[0].Title = "Bayesian statistics, revised"
	third, err := b.Build(ctx, posts)
	if err != nil {
		t.Fatalf("Third Build failed: %v", err)
	}
	if !third.Changed || third.Digest == first.Digest {
		t.Errorf("Expected changed digest after edit, got %+v", third)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); err != ErrNoIndex {
		t.Errorf("Expected ErrNoIndex, got %v", err)
	}

	if _, err := NewBuilder(dir, newTokenizer(t)).Build(context.Background(), corpus()); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	idx, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if idx.Version != Version || len(idx.ByDate) != 3 {
		t.Errorf("Unexpected loaded index: version %d, %d posts", idx.Version, len(idx.ByDate))
	}
	if got := idx.Posts["blogger:77"].Categories; !slices.Equal(got, []string{"garden"}) {
		t.Errorf("Categories = %v, want [garden]", got)
	}
}
