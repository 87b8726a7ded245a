package app

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/sha1n/blog-archiver/internal/domain"
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version     string
	Build       string
	ProgramName string
}

func (b BuildInfo) versionString() string {
	if b.Build == "" || b.Build == "unknown" {
		return b.Version
	}
	return b.Version + " (build " + b.Build + ")"
}

// NewRootCommand builds the command tree.
func NewRootCommand(info BuildInfo, params RunParams) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          info.ProgramName,
		Short:        "Blog archiver",
		Long:         "Archives WordPress and Blogger posts as JSON and Markdown, indexes them and serves search over MCP",
		Version:      info.versionString(),
		SilenceUsage: true,
	}
	rootCmd.SetVersionTemplate(`{{.Version}}
`)
	RegisterGlobalFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		newFetchCommand(params),
		newIndexCommand(params),
		newQueryCommand(params),
		newTagsCommand(params),
		newCheckCommand(params),
		newServeCommand(info, params),
	)
	return rootCmd
}

func newFetchCommand(params RunParams) *cobra.Command {
	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Archive posts from a source",
	}

	wordpressCmd := &cobra.Command{
		Use:   "wordpress [url]",
		Short: "Archive posts from a WordPress site through its REST API",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if err := cmd.Flags().Set("url", args[0]); err != nil {
					return err
				}
			}
			return RunFetch(cmd.Context(), params, cmd.Flags(), domain.SourceWordPress)
		},
	}
	RegisterWordPressFlags(wordpressCmd.Flags())

	bloggerCmd := &cobra.Command{
		Use:   "blogger <feed.atom|takeout.zip>",
		Short: "Archive posts from a Blogger export",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if err := cmd.Flags().Set("export-path", args[0]); err != nil {
					return err
				}
			}
			return RunFetch(cmd.Context(), params, cmd.Flags(), domain.SourceBlogger)
		},
	}
	RegisterBloggerFlags(bloggerCmd.Flags())

	fetchCmd.AddCommand(wordpressCmd, bloggerCmd)
	return fetchCmd
}

func newIndexCommand(params RunParams) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Rebuild the search index from the archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunIndex(cmd.Context(), params, cmd.Flags())
		},
	}
	RegisterIndexFlags(cmd.Flags())
	return cmd
}

func newQueryCommand(params RunParams) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query [text...]",
		Short: "Search the archive; every word must match",
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunQuery(cmd.Context(), params, cmd.Flags(), strings.Join(args, " "))
		},
	}
	RegisterQueryFlags(cmd.Flags())
	return cmd
}

func newTagsCommand(params RunParams) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tags",
		Short: "List tags and categories with post counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunTags(cmd.Context(), params, cmd.Flags())
		},
	}
	RegisterIndexFlags(cmd.Flags())
	return cmd
}

func newCheckCommand(params RunParams) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify that every archived record is consistent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunCheck(cmd.Context(), params, cmd.Flags())
		},
	}
	RegisterArchiveFlags(cmd.Flags())
	return cmd
}

func newServeCommand(info BuildInfo, params RunParams) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve archive search over MCP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunServe(cmd.Context(), params, cmd.Flags(), info.Version)
		},
	}
	RegisterServeFlags(cmd.Flags())
	return cmd
}
