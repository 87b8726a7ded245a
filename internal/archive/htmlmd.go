package archive

import (
	"log/slog"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
)

var mdConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(
			commonmark.WithBulletListMarker("-"),
			commonmark.WithHorizontalRule("---"),
			commonmark.WithCodeBlockFence("```"),
		),
		table.NewTablePlugin(),
	),
)

// HTMLToMarkdown renders post HTML as Markdown. Markdown metacharacters in
// text are escaped so prose never turns into headings, lists or emphasis.
// Text without markup passes through unchanged apart from whitespace, so the
// conversion is idempotent on plain text.
func HTMLToMarkdown(src string) string {
	if strings.TrimSpace(src) == "" {
		return ""
	}
	md, err := mdConverter.ConvertString(src)
	if err != nil {
		slog.Warn("Failed to convert HTML to Markdown", "error", err)
		return strings.TrimSpace(src)
	}
	return strings.TrimSpace(md)
}

func prefixLines(s, prefix, emptyPrefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line == "" {
			lines[i] = emptyPrefix
		} else {
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n")
}
