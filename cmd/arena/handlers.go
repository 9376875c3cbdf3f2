// handlers.go contains the command implementations: config assembly, the
// credential preflight, orchestrator wiring, and artifact persistence.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/arena/internal/address"
	"github.com/haasonsaas/arena/internal/checkpoint"
	"github.com/haasonsaas/arena/internal/engine"
	"github.com/haasonsaas/arena/internal/experiment"
	"github.com/haasonsaas/arena/internal/observability"
	"github.com/haasonsaas/arena/internal/orchestrator"
	"github.com/haasonsaas/arena/internal/results"
	"github.com/haasonsaas/arena/internal/secrets"
)

func runExperiment(cmd *cobra.Command, flags runFlags) error {
	cfg, logger, err := prepare(flags)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	o, store, err := buildOrchestrator(cmd, cfg, logger, flags.checkpointDB)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	res, err := o.Run(ctx)
	if err != nil {
		return err
	}
	return finishRun(cmd, cfg, res, flags)
}

func resumeExperiment(cmd *cobra.Command, flags runFlags, continuePending bool) error {
	if flags.checkpointDB == "" {
		return fmt.Errorf("resume requires --checkpoint-db")
	}
	cfg, logger, err := prepare(flags)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	o, store, err := buildOrchestrator(cmd, cfg, logger, flags.checkpointDB)
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := o.Resume(ctx, continuePending)
	if err != nil {
		return err
	}
	return finishRun(cmd, cfg, res, flags)
}

func validateExperiment(cmd *cobra.Command, flags runFlags) error {
	cfg, _, err := prepare(flags)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Experiment: %s\n", cfg.ID)
	if cfg.Name != "" {
		fmt.Fprintf(out, "Name:       %s\n", cfg.Name)
	}
	fmt.Fprintf(out, "Jobs:        %d (concurrency %d)\n", len(cfg.Jobs), cfg.Concurrency)
	fmt.Fprintf(out, "Output:      %s\n", cfg.OutputDir)
	fmt.Fprintln(out, "Backends:")
	for _, entry := range cfg.Backends {
		// Addresses may carry inline keys; never echo them.
		fmt.Fprintf(out, "  - %s: %s\n", entry.Name, observability.Redact(entry.Address))
	}
	fmt.Fprintln(out, "Config is valid.")
	return nil
}

// prepare assembles the normalized experiment from the config file and flag
// overrides, builds the logger, and runs the credential preflight.
func prepare(flags runFlags) (*experiment.ExperimentConfig, *slog.Logger, error) {
	var cfg *experiment.ExperimentConfig
	if flags.configPath != "" {
		loaded, err := experiment.Load(flags.configPath)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	} else {
		cfg = &experiment.ExperimentConfig{}
	}
	if err := applyFlags(cfg, flags); err != nil {
		return nil, nil, err
	}

	cfg, err := experiment.Normalize(cfg)
	if err != nil {
		return nil, nil, err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.LogLevel,
		Format: flags.logFormat,
	})
	slog.SetDefault(logger)

	if missing := missingCredentials(cfg); len(missing) > 0 {
		return nil, nil, fmt.Errorf("missing credentials: set %s", strings.Join(missing, ", "))
	}
	return cfg, logger, nil
}

// applyFlags layers CLI overrides onto the declarative config.
func applyFlags(cfg *experiment.ExperimentConfig, flags runFlags) error {
	if flags.backend != "" {
		cfg.DefaultBackend = flags.backend
	}
	if flags.jobs > 0 {
		if len(cfg.Jobs) > 0 {
			return fmt.Errorf("--jobs conflicts with an explicit job list in the config")
		}
		cfg.JobCount = flags.jobs
	}
	if flags.concurrency > 0 {
		cfg.Concurrency = flags.concurrency
	}
	if flags.maxPhases > 0 {
		cfg.MaxPhases = flags.maxPhases
	}
	if flags.output != "" {
		cfg.OutputDir = flags.output
	}
	if flags.analyze {
		cfg.Analyze = true
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}

	if len(flags.assigns) == 0 {
		return nil
	}
	assigns, err := parseAssigns(flags.assigns)
	if err != nil {
		return err
	}
	if len(cfg.Jobs) == 0 {
		// Synthesize the job list here so the seat overrides have jobs to
		// attach to.
		if cfg.ID == "" {
			cfg.ID = uuid.NewString()
		}
		count := cfg.JobCount
		if count <= 0 {
			count = 1
		}
		cfg.Jobs = make([]experiment.JobConfig, count)
		for i := range cfg.Jobs {
			cfg.Jobs[i] = experiment.JobConfig{ID: fmt.Sprintf("%s-job-%d", cfg.ID, i+1)}
		}
		cfg.JobCount = 0
	}
	for i := range cfg.Jobs {
		job := &cfg.Jobs[i]
		if job.Assignments == nil {
			job.Assignments = make(map[experiment.Power]experiment.Assignment, len(assigns))
		}
		for power, a := range assigns {
			job.Assignments[power] = a
		}
	}
	return nil
}

// parseAssigns parses repeated power=address pairs.
func parseAssigns(items []string) (map[experiment.Power]experiment.Assignment, error) {
	out := make(map[experiment.Power]experiment.Assignment, len(items))
	for _, item := range items {
		parts := strings.SplitN(item, "=", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
			return nil, fmt.Errorf("invalid --assign %q, expected power=address", item)
		}
		power := experiment.Power(strings.ToLower(strings.TrimSpace(parts[0])))
		if !power.Valid() {
			return nil, fmt.Errorf("invalid --assign %q: unknown power %q", item, parts[0])
		}
		out[power] = experiment.Assignment{Address: strings.TrimSpace(parts[1])}
	}
	return out, nil
}

// missingCredentials runs the provider credential preflight over the resolved
// backend list.
func missingCredentials(cfg *experiment.ExperimentConfig) []string {
	backends := make([]address.Backend, 0, len(cfg.Backends))
	for _, entry := range cfg.Backends {
		if b, ok := cfg.Backend(entry.Name); ok {
			backends = append(backends, b)
		}
	}
	return secrets.Validate(secrets.EnvResolver{}, backends)
}

// buildOrchestrator wires the simulated engine, checkpoint store, metrics,
// and progress printer.
func buildOrchestrator(cmd *cobra.Command, cfg *experiment.ExperimentConfig, logger *slog.Logger, checkpointDB string) (*orchestrator.Orchestrator, *checkpoint.SQLiteStore, error) {
	var store *checkpoint.SQLiteStore
	var opts orchestrator.Options
	opts.Logger = logger
	opts.Metrics = orchestrator.NewMetrics(prometheus.DefaultRegisterer)
	if checkpointDB != "" {
		s, err := checkpoint.OpenSQLite(checkpointDB)
		if err != nil {
			return nil, nil, err
		}
		store = s
		opts.Checkpoints = s
	}

	o := orchestrator.New(cfg, engine.NewSimulated(), opts)

	out := cmd.OutOrStdout()
	total := len(cfg.Jobs)
	o.OnEvent(func(evt orchestrator.Event) {
		switch evt.Type {
		case orchestrator.EventJobCompleted, orchestrator.EventJobFailed:
			done := evt.Progress.Completed + evt.Progress.Failed + evt.Progress.TimedOut
			line := fmt.Sprintf("[%d/%d] %s %s", done, total, evt.JobID, evt.Result.Status)
			if evt.Result.Winner != "" {
				line += fmt.Sprintf(" winner=%s", evt.Result.Winner)
			}
			if evt.Err != "" {
				line += fmt.Sprintf(" (%s)", observability.Redact(evt.Err))
			}
			fmt.Fprintln(out, line)
		}
	})
	return o, store, nil
}

// finishRun persists artifacts and converts a non-complete terminal status
// into a process failure.
func finishRun(cmd *cobra.Command, cfg *experiment.ExperimentConfig, res *results.ExperimentResults, flags runFlags) error {
	if err := results.Persist(cfg.OutputDir, cfg, res, cfg.Analyze); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Experiment %s %s: %d completed, %d failed, %d timed out. Total cost $%.4f.\n",
		res.ExperimentID, res.Status,
		res.Stats.Completed, res.Stats.Failed, res.Stats.TimedOut, res.Stats.TotalCost)
	fmt.Fprintf(out, "Artifacts written to %s\n", cfg.OutputDir)

	if res.Status != results.ExperimentCompleted {
		if flags.checkpointDB != "" {
			fmt.Fprintf(out, "Resume with: arena resume -c <config> --checkpoint-db %s\n", flags.checkpointDB)
		}
		return fmt.Errorf("experiment %s %s", res.ExperimentID, res.Status)
	}
	return nil
}
