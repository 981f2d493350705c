// Package main is the taskforge CLI entry point. It is a thin cobra tree
// over the orchestrator packages (internal/recruit through
// internal/runindex): every subcommand builds its collaborators from flags
// and environment variables and calls straight into the library, with no
// HTTP/SSE server layer — that surface stays a documented contract for an
// external front-end, per the non-goal on a long-running daemon.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "taskforge",
		Short: "taskforge - local-first autonomous agent orchestrator",
		Long: `taskforge recruits specialist agents for a natural-language task, drives
each through a bounded tool-calling conversation against a sandboxed
workspace, and persists the run for inspection, resume, and search.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	root.AddCommand(
		buildRunCmd(),
		buildPlanCmd(),
		buildResumeCmd(),
		buildLogsCmd(),
	)
	return root
}

