// Package main provides the CLI entry point for the arena batch simulation
// orchestrator.
//
// Arena runs batches of LLM-driven strategy games against configured decision
// backends, meters every model call against cost budgets, and writes a
// deterministic artifact tree per experiment.
//
// # Basic Usage
//
// Run an experiment:
//
//	arena run --config experiment.yaml
//
// Validate a config without running anything:
//
//	arena validate --config experiment.yaml
//
// Resume an aborted experiment from its checkpoints:
//
//	arena resume --config experiment.yaml --checkpoint-db checkpoints.db
//
// # Environment Variables
//
// Provider credentials come from the environment:
//
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
//   - GEMINI_API_KEY: Google API key for Gemini models
//   - OPENROUTER_API_KEY: OpenRouter API key for aggregated models
//   - DEEPSEEK_API_KEY, XAI_API_KEY: further provider keys
//
// The mock and ollama providers need no credentials.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/arena/internal/observability"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := observability.NewLogger(observability.LogConfig{Level: "info"})
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "arena",
		Short: "Arena - batch orchestrator for LLM-driven strategy games",
		Long: `Arena runs experiments: batches of simultaneous games whose seats are
played by configured decision backends. Every model call is metered against
cost budgets, interrupted runs resume from checkpoints, and each experiment
leaves a deterministic artifact tree.

Backends are addressed as [provider:]model[@baseUrl][#apiKey], for example
openai:gpt-4o, claude-3-5-sonnet-20241022, or ollama:llama3:8b.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildResumeCmd(),
		buildValidateCmd(),
	)
	return rootCmd
}
