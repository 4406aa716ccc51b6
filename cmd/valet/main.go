// Package main provides the CLI entry point for the valet assistant runtime.
//
// Valet connects an LLM-driven assistant to tools, named sub-agents, a
// persistent scheduler, declarative workflows, webhook triggers, and a file
// monitor, all behind one permission and audit chokepoint.
//
// # Basic Usage
//
// Start the server:
//
//	valet serve
//
// # Environment Variables
//
// Configuration is read from VALET_-prefixed environment variables, e.g.
// VALET_ANTHROPIC_API_KEY, VALET_DATA_DIR, VALET_WEBHOOK_SECRET. See the
// config package for the full list.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "valet",
		Short: "Valet - personal AI assistant runtime",
		Long: `Valet runs an LLM-driven assistant with tool execution, named
sub-agents, scheduled jobs, declarative workflows, webhook triggers, and
filesystem monitoring.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildJobsCmd(),
		buildWorkflowsCmd(),
	)

	return rootCmd
}
