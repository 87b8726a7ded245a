package search

import (
	"fmt"
	"strings"
	"time"
)

// dateLayouts are the accepted filter date formats. Bare dates mean midnight UTC.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// ParseDate parses a filter bound. An empty string yields the zero time,
// which disables the bound.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD or RFC 3339", s)
}

// ParseRange parses since and until bounds and rejects an empty range.
func ParseRange(since, until string) (time.Time, time.Time, error) {
	from, err := ParseDate(since)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("since: %w", err)
	}
	to, err := ParseDate(until)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("until: %w", err)
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("since (%s) must be before until (%s)", since, until)
	}
	return from, to, nil
}
