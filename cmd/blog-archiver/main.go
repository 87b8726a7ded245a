package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sha1n/blog-archiver/internal/app"
)

var (
	// Version is injected at build time
	Version = "dev"
	// Build is injected at build time
	Build = "unknown"
	// ProgramName is injected at build time
	ProgramName = "blog-archiver"
)

func main() {
	runMain(os.Args, os.Exit)
}

func runMain(args []string, exit func(int)) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Execute(ctx, Version, Build, ProgramName, args[1:]); err != nil {
		exit(app.ExitCode(err))
	}
}

// Execute is the entry point for the CLI, extracted for testing
func Execute(ctx context.Context, version, build, programName string, args []string) error {
	return execute(ctx, app.BuildInfo{Version: version, Build: build, ProgramName: programName}, app.DefaultRunParams(), args)
}

func execute(ctx context.Context, info app.BuildInfo, params app.RunParams, args []string) error {
	rootCmd := app.NewRootCommand(info, params)
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}
