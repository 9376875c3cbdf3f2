// commands.go contains all cobra command definitions and their flag
// configurations. Each command builder wires its flags to a handler in
// handlers.go.
package main

import (
	"github.com/spf13/cobra"
)

// runFlags are the overrides the run and resume commands layer on top of the
// config file.
type runFlags struct {
	configPath   string
	jobs         int
	concurrency  int
	maxPhases    int
	backend      string
	assigns      []string
	output       string
	analyze      bool
	logLevel     string
	logFormat    string
	checkpointDB string
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Path to experiment config file (.yaml or .json)")
	cmd.Flags().IntVar(&f.jobs, "jobs", 0, "Number of jobs to synthesize (overrides job_count)")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "Maximum simultaneous jobs (overrides config)")
	cmd.Flags().IntVar(&f.maxPhases, "max-phases", 0, "Phase ceiling per game, 0 = unlimited (overrides config)")
	cmd.Flags().StringVar(&f.backend, "backend", "", "Default backend address, e.g. openai:gpt-4o")
	cmd.Flags().StringArrayVar(&f.assigns, "assign", nil, "Seat a power explicitly, power=address (repeatable)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Artifact output directory (overrides config)")
	cmd.Flags().BoolVar(&f.analyze, "analyze", false, "Write the per-model analysis artifact")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.Flags().StringVar(&f.logFormat, "log-format", "json", "Log format: json or text")
	cmd.Flags().StringVar(&f.checkpointDB, "checkpoint-db", "", "SQLite checkpoint database path (enables resume)")
}

// buildRunCmd creates the "run" command, the primary entry point.
func buildRunCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an experiment to completion",
		Long: `Run every job of an experiment through the worker pool.

The experiment comes from --config, from flags, or both; flags override the
file. The process exits non-zero unless the experiment completes.`,
		Example: `  # Seven mock seats, three games
  arena run --backend mock --jobs 3

  # A config file with one seat pinned to a different model
  arena run -c experiment.yaml --assign france=anthropic:claude-3-5-sonnet-20241022

  # Resumable run
  arena run -c experiment.yaml --checkpoint-db checkpoints.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExperiment(cmd, flags)
		},
	}
	flags.register(cmd)
	return cmd
}

// buildResumeCmd creates the "resume" command.
func buildResumeCmd() *cobra.Command {
	var flags runFlags
	var continuePending bool
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume an aborted experiment from its checkpoints",
		Long: `Re-enter every checkpointed job at its saved position instead of replaying
it from the start. Requires the checkpoint database the original run wrote.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return resumeExperiment(cmd, flags, continuePending)
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&continuePending, "continue-pending", true,
		"Also run jobs that never started")
	return cmd
}

// buildValidateCmd creates the "validate" command.
func buildValidateCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate an experiment config without running it",
		Long: `Load, normalize, and credential-check an experiment. Prints the resolved
backend list and job plan. Exits non-zero on any configuration error.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateExperiment(cmd, flags)
		},
	}
	flags.register(cmd)
	return cmd
}
