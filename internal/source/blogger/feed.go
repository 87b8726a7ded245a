package blogger

import (
	"encoding/xml"
	"strings"
)

const (
	schemeKind  = "http://schemas.google.com/g/2005#kind"
	kindPost    = "http://schemas.google.com/blogger/2008/kind#post"
	schemeLabel = "http://www.blogger.com/atom/ns#"

	typePost   = "POST"
	statusLive = "LIVE"
)

// Element names below are matched by local name so both the legacy export
// and the Takeout feed (which moves type/status/filename into the
// blogger namespace) decode into the same struct.

type entry struct {
	ID         string     `xml:"id"`
	Title      text       `xml:"title"`
	Content    text       `xml:"content"`
	Summary    text       `xml:"summary"`
	Published  string     `xml:"published"`
	Updated    string     `xml:"updated"`
	Authors    []author   `xml:"author"`
	Categories []category `xml:"category"`
	Links      []link     `xml:"link"`
	Type       string     `xml:"type"`
	Status     string     `xml:"status"`
	Filename   string     `xml:"filename"`
}

type text struct {
	Type  string `xml:"type,attr"`
	Chars string `xml:",chardata"`
	Inner string `xml:",innerxml"`
}

// Value returns the element's content. Escaped html and plain text arrive as
// character data; xhtml arrives as inline markup.
func (t text) Value() string {
	if t.Type == "xhtml" {
		return strings.TrimSpace(t.Inner)
	}
	return strings.TrimSpace(t.Chars)
}

type author struct {
	Name string `xml:"name"`
}

type category struct {
	Scheme string `xml:"scheme,attr"`
	Term   string `xml:"term,attr"`
}

type link struct {
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
	Href string `xml:"href,attr"`
}

// isPost reports whether the entry is a post, as opposed to a comment,
// page, template or settings record.
func (e *entry) isPost() bool {
	if e.Type != "" {
		return strings.EqualFold(strings.TrimSpace(e.Type), typePost)
	}
	for _, c := range e.Categories {
		if c.Scheme == schemeKind {
			return c.Term == kindPost
		}
	}
	return false
}

// isLive reports whether the entry is published. Legacy exports carry no
// status and only contain published posts.
func (e *entry) isLive() bool {
	s := strings.TrimSpace(e.Status)
	return s == "" || strings.EqualFold(s, statusLive)
}

func (e *entry) labels() []string {
	var out []string
	for _, c := range e.Categories {
		if c.Scheme == "" || c.Scheme == schemeLabel {
			out = append(out, c.Term)
		}
	}
	return out
}

func (e *entry) permalink() string {
	for _, l := range e.Links {
		if l.Rel == "alternate" && (l.Type == "" || l.Type == "text/html") {
			return l.Href
		}
	}
	return ""
}

func (e *entry) authorName() string {
	for _, a := range e.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			return name
		}
	}
	return ""
}

// isFeedRoot reports whether a start element opens an Atom feed.
func isFeedRoot(se xml.StartElement) bool {
	return se.Name.Local == "feed"
}
