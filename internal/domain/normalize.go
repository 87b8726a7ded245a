package domain

import (
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxSlugLength bounds slugs derived from titles.
const MaxSlugLength = 100

var (
	reSlugStrip    = regexp.MustCompile(`[^\p{L}\p{N}\s_-]+`)
	reSlugCollapse = regexp.MustCompile(`[\s_-]+`)
)

// NormalizeTags lowercases, trims and deduplicates labels, dropping empties.
// The result is sorted so it behaves as a set with a deterministic order.
func NormalizeTags(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		t := strings.ToLower(strings.Join(strings.Fields(r), " "))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// NormalizeCategories applies the tag rules to categories. The two sets stay
// in separate namespaces; only the normalization is shared.
func NormalizeCategories(raw []string) []string {
	return NormalizeTags(raw)
}

// Slugify derives a URL-safe slug from a title.
func Slugify(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	s = reSlugStrip.ReplaceAllString(s, "")
	s = reSlugCollapse.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if utf8.RuneCountInString(s) > MaxSlugLength {
		s = strings.TrimRight(string([]rune(s)[:MaxSlugLength]), "-")
	}
	if s == "" {
		return "untitled"
	}
	return s
}

// NormalizeDates drops a modification time that precedes the publish time.
func NormalizeDates(p *Post) {
	if p.DateModified != nil && p.DateModified.Before(p.DatePublished) {
		p.DateModified = nil
	}
}

// Validate checks the canonical invariants of a post.
func Validate(p *Post) error {
	key := p.Key()
	fail := func(reason string) error {
		return &SchemaError{Key: key, Reason: reason}
	}

	if !p.Source.Valid() {
		return fail("unknown source " + string(p.Source))
	}
	if !validID(p.ID) {
		return fail("id is not a stable identifier")
	}
	if p.Slug == "" {
		return fail("slug is empty")
	}
	if !ValidSlug(p.Slug) {
		return fail("slug is not URL-safe: " + p.Slug)
	}
	if p.DatePublished.IsZero() {
		return fail("date_published is missing")
	}
	if p.DateModified != nil && p.DateModified.Before(p.DatePublished) {
		return fail("date_modified precedes date_published")
	}
	if slices.Contains(p.Tags, "") {
		return fail("tags contain an empty string")
	}
	if slices.Contains(p.Categories, "") {
		return fail("categories contain an empty string")
	}
	return nil
}

// ValidSlug reports whether s can be used as a file name and URL segment.
// Only letters, digits and the unreserved marks - _ . ~ are allowed, and a
// slug cannot start with a dot.
func ValidSlug(s string) bool {
	if s == "" || s[0] == '.' {
		return false
	}
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		if !strings.ContainsRune("-_.~", r) {
			return false
		}
	}
	return true
}

func validID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}
