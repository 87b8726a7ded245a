package app

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"

	"github.com/sha1n/blog-archiver/internal/search"
)

var stripMarks = strings.NewReplacer("<mark>", "", "</mark>", "", "\n", " ")

// RunQuery prints the posts matching text and the filter flags, best first.
func RunQuery(ctx context.Context, params RunParams, flags *pflag.FlagSet, text string) error {
	settings, err := params.settings(flags)
	if err != nil {
		return err
	}

	tag, _ := flags.GetString("tag")
	category, _ := flags.GetString("category")
	since, _ := flags.GetString("since")
	until, _ := flags.GetString("until")
	from, to, err := search.ParseRange(since, until)
	if err != nil {
		return Fatal(fmt.Errorf("invalid configuration: %w", err))
	}

	engine, err := openEngine(settings)
	if err != nil {
		return Fatal(err)
	}
	defer func() { _ = engine.Close() }()

	results, err := engine.Query(ctx, text, search.Filters{
		Tag:      tag,
		Category: category,
		Since:    from,
		Until:    to,
		Limit:    settings.Search.MaxResults,
	})
	if err != nil {
		return Fatal(err)
	}
	printResults(params.stdout(), results)
	return nil
}

func printResults(w io.Writer, results []search.Result) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No posts found.")
		return
	}
	for i, r := range results {
		fmt.Fprintf(w, "%2d. %s  %s\n", i+1, r.Published.Format("2006-01-02"), r.Title)
		fmt.Fprintf(w, "    %s", r.Slug)
		if r.Score > 0 {
			fmt.Fprintf(w, "  score %d", r.Score)
		}
		if r.Link != "" {
			fmt.Fprintf(w, "  %s", r.Link)
		}
		fmt.Fprintln(w)
		if len(r.Fragments) > 0 {
			fmt.Fprintf(w, "    %s\n", strings.TrimSpace(stripMarks.Replace(r.Fragments[0])))
		}
	}
}

// RunTags prints every tag and category with its post count.
func RunTags(ctx context.Context, params RunParams, flags *pflag.FlagSet) error {
	settings, err := params.settings(flags)
	if err != nil {
		return err
	}

	engine, err := openEngine(settings)
	if err != nil {
		return Fatal(err)
	}
	defer func() { _ = engine.Close() }()

	tags, err := engine.Tags(ctx)
	if err != nil {
		return Fatal(err)
	}
	categories, err := engine.Categories(ctx)
	if err != nil {
		return Fatal(err)
	}

	w := params.stdout()
	printLabels(w, "Tags", tags)
	printLabels(w, "Categories", categories)
	return nil
}

func printLabels(w io.Writer, heading string, labels []search.LabelCount) {
	fmt.Fprintf(w, "%s (%d)\n", heading, len(labels))
	for _, l := range labels {
		fmt.Fprintf(w, "  %-30s %d\n", l.Label, l.Count)
	}
}
