// Package main provides the CLI entry point for the smart-home agent.
//
// The agent mediates between a human operator (currently over Telegram),
// a remote LLM provider (Anthropic, OpenAI, Google, or Bedrock), and a
// Home-Assistant-style controller: it runs a bounded tool-calling loop per
// conversation turn, gated by an operating mode and a rate limiter, and
// logs every message and tool call to a local audit database.
//
// Start the agent:
//
//	agent serve --config agent.json5
//
// # Environment Variables
//
// The LLM provider, model, API key and base URL, the controller URL and
// token, the Telegram token, the audit database path, the metrics port and
// the log level can be overridden with AGENT_-prefixed environment
// variables; see internal/config for the exact mapping. Other fields are
// set only in the config file. Provider API keys
// and the controller token are normally supplied this way rather than in
// the config file.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() so tests can build and inspect the tree directly.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agent",
		Short: "Conversational agent bridging a chat channel to a home controller",
		Long: `A conversational agent that takes instructions over a chat channel
(currently Telegram), reasons about them with a remote LLM provider, and
carries out changes through a Home-Assistant-style controller, subject to
an operating mode and a rate limiter.`,
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(buildServeCmd(), buildDoctorCmd())
	return rootCmd
}
