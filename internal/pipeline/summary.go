package pipeline

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/sha1n/blog-archiver/internal/domain"
)

// Summary is the end-of-run report.
type Summary struct {
	RunID  string
	Source domain.Source

	Fetched int
	Created int
	Updated int
	Skipped int

	// Failures counts per-item failures by kind.
	Failures map[domain.ErrorKind]int

	MediaDownloaded int
	MediaReused     int

	Duration time.Duration

	// Fatal is the error that aborted the run, if any.
	Fatal error
}

func newSummary(runID string, src domain.Source) *Summary {
	return &Summary{
		RunID:    runID,
		Source:   src,
		Failures: make(map[domain.ErrorKind]int),
	}
}

// Written returns the number of records created or updated.
func (s *Summary) Written() int {
	return s.Created + s.Updated
}

// Failed returns the number of posts that could not be archived. Media
// failures are excluded since the post is archived regardless.
func (s *Summary) Failed() int {
	n := 0
	for kind, c := range s.Failures {
		if kind != domain.KindMedia {
			n += c
		}
	}
	return n
}

// record counts a failure under its kind. Errors outside the taxonomy are
// counted as fetch failures.
func (s *Summary) record(err error) {
	kind, ok := domain.KindOf(err)
	if !ok {
		kind = domain.KindFetch
	}
	s.Failures[kind]++
}

// fail counts and logs a failure. Schema and store errors are logged at
// error level; the rest are expected on a degraded source and logged at warn.
func (s *Summary) fail(log *slog.Logger, err error) {
	s.record(err)
	kind, _ := domain.KindOf(err)
	switch kind {
	case domain.KindSchema, domain.KindStore:
		log.Error("Post failed", "kind", string(kind), "error", err)
	default:
		log.Warn("Post skipped", "kind", string(kind), "error", err)
	}
}

// Print writes a human readable summary.
func (s *Summary) Print(w io.Writer) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Run %s (%s)\n", s.RunID, s.Source)
	fmt.Fprintf(&sb, "  fetched:  %d\n", s.Fetched)
	fmt.Fprintf(&sb, "  written:  %d (created %d, updated %d)\n", s.Written(), s.Created, s.Updated)
	fmt.Fprintf(&sb, "  skipped:  %d\n", s.Skipped)
	fmt.Fprintf(&sb, "  media:    %d downloaded, %d reused, %d failed\n", s.MediaDownloaded, s.MediaReused, s.Failures[domain.KindMedia])
	fmt.Fprintf(&sb, "  failures: %d", s.Failed())
	var parts []string
	for _, kind := range domain.ErrorKinds {
		if kind == domain.KindMedia || s.Failures[kind] == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %d", kind, s.Failures[kind]))
	}
	if len(parts) > 0 {
		fmt.Fprintf(&sb, " (%s)", strings.Join(parts, ", "))
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "  duration: %s\n", s.Duration.Round(time.Millisecond))
	if s.Fatal != nil {
		fmt.Fprintf(&sb, "  aborted:  %v\n", s.Fatal)
	}
	_, _ = io.WriteString(w, sb.String())
}
