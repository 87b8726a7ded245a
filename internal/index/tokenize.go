package index

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/registry"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Tokenizer case-folds text, splits it on Unicode word boundaries (which
// strips punctuation) and drops English stop words. The index builder and
// the query engine share it so both sides produce the same terms.
type Tokenizer struct {
	analyzer analysis.Analyzer
}

// NewTokenizer creates a tokenizer backed by bleve's standard analyzer.
func NewTokenizer() (*Tokenizer, error) {
	a, err := registry.NewCache().AnalyzerNamed(standard.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to load analyzer: %w", err)
	}
	return &Tokenizer{analyzer: a}, nil
}

// Tokens returns the terms of text in order, including repeats.
func (t *Tokenizer) Tokens(text string) []string {
	stream := t.analyzer.Analyze([]byte(text))
	out := make([]string, 0, len(stream))
	for _, tok := range stream {
		if len(tok.Term) > 0 {
			out = append(out, string(tok.Term))
		}
	}
	return out
}

// Frequencies counts the occurrences of each term in text.
func (t *Tokenizer) Frequencies(text string) map[string]int {
	freq := make(map[string]int)
	for _, term := range t.Tokens(text) {
		freq[term]++
	}
	return freq
}

// Unique returns the distinct terms of text in first-seen order.
func (t *Tokenizer) Unique(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, term := range t.Tokens(text) {
		if !seen[term] {
			seen[term] = true
			out = append(out, term)
		}
	}
	return out
}

// inlineAtoms are elements that do not separate words.
var inlineAtoms = map[atom.Atom]bool{
	atom.A: true, atom.Abbr: true, atom.B: true, atom.Cite: true, atom.Code: true,
	atom.Em: true, atom.I: true, atom.Kbd: true, atom.Mark: true, atom.Q: true,
	atom.S: true, atom.Small: true, atom.Span: true, atom.Strong: true, atom.Sub: true,
	atom.Sup: true, atom.U: true, atom.Del: true, atom.Ins: true,
}

// PlainText extracts the readable text of an HTML fragment. Text from
// block elements is separated by spaces; scripts and styles are dropped.
func PlainText(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	doc.Find("script, style, noscript").Remove()

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			sb.WriteString(n.Data)
			return
		case n.Type == html.ElementNode && !inlineAtoms[n.DataAtom]:
			sb.WriteByte(' ')
			defer sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range doc.Nodes {
		walk(n)
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}
