package wordpress

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// wpTimeLayout is the REST API's timestamp format. Values carry no zone;
// the *_gmt variants are UTC and the plain variants are site-local.
const wpTimeLayout = "2006-01-02T15:04:05"

type rendered struct {
	Rendered string `json:"rendered"`
}

// apiPost mirrors the subset of /wp/v2/posts fields the adapter consumes.
type apiPost struct {
	ID            json.Number `json:"id"`
	Slug          string      `json:"slug"`
	Status        string      `json:"status"`
	Date          string      `json:"date"`
	DateGMT       string      `json:"date_gmt"`
	Modified      string      `json:"modified"`
	ModifiedGMT   string      `json:"modified_gmt"`
	Link          string      `json:"link"`
	Title         rendered    `json:"title"`
	Content       rendered    `json:"content"`
	Excerpt       rendered    `json:"excerpt"`
	Author        int64       `json:"author"`
	Categories    []int64     `json:"categories"`
	Tags          []int64     `json:"tags"`
	FeaturedMedia int64       `json:"featured_media"`
	Embedded      *embedded   `json:"_embedded"`
}

type embedded struct {
	Author        []embeddedAuthor `json:"author"`
	Terms         [][]embeddedTerm `json:"wp:term"`
	FeaturedMedia []embeddedMedia  `json:"wp:featuredmedia"`
}

type embeddedAuthor struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type embeddedTerm struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Taxonomy string `json:"taxonomy"`
}

type embeddedMedia struct {
	ID        int64  `json:"id"`
	SourceURL string `json:"source_url"`
}

// apiError is the body WordPress returns alongside 4xx/5xx statuses.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const codeInvalidPage = "rest_post_invalid_page_number"

// parseTime prefers the GMT value and falls back to the local one, which is
// then interpreted as UTC. An empty result is reported as the zero time.
func parseTime(gmt, local string) (time.Time, error) {
	for _, v := range []string{gmt, local} {
		v = strings.TrimSpace(v)
		if v == "" || strings.HasPrefix(v, "0000-00-00") {
			continue
		}
		if t, err := time.ParseInLocation(wpTimeLayout, v, time.UTC); err == nil {
			return t, nil
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.UTC(), nil
		}
		return time.Time{}, fmt.Errorf("invalid timestamp %q", v)
	}
	return time.Time{}, nil
}
