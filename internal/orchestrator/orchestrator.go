// Package orchestrator drives a normalized experiment: it fans jobs out to a
// bounded worker pool, meters every decision call through a per-job budget
// governor, persists checkpoints, and folds terminal records into experiment
// results. One failing job never takes down its siblings.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/arena/internal/budget"
	"github.com/haasonsaas/arena/internal/checkpoint"
	"github.com/haasonsaas/arena/internal/engine"
	"github.com/haasonsaas/arena/internal/experiment"
	"github.com/haasonsaas/arena/internal/pricing"
	"github.com/haasonsaas/arena/internal/results"
)

// ErrBudgetExceeded is the error a game stops with when its governor denies
// further spend.
var ErrBudgetExceeded = errors.New("budget exceeded")

// ErrAlreadyRunning is returned by Run and Resume while a run is in flight.
var ErrAlreadyRunning = errors.New("orchestrator already running")

// Options carries optional collaborators. Zero values get safe defaults.
type Options struct {
	// Checkpoints persists critical state. Nil disables checkpointing.
	Checkpoints checkpoint.Store

	// Pricer overrides the config-derived pricer, for tests.
	Pricer *pricing.Pricer

	Logger  *slog.Logger
	Metrics *Metrics
}

// Orchestrator runs the jobs of one experiment. Create with New; a single
// orchestrator runs at most one experiment at a time.
type Orchestrator struct {
	cfg    *experiment.ExperimentConfig
	eng    engine.Engine
	store  checkpoint.Store
	pricer *pricing.Pricer
	logger *slog.Logger
	mtr    *Metrics

	seq     atomic.Uint64
	onEvent atomic.Pointer[func(Event)]

	mu       sync.Mutex
	running  bool
	aborted  bool
	cancel   context.CancelFunc
	progress Progress
	finished []results.JobResult
}

// New creates an orchestrator for a normalized config. The engine is the
// game-driving collaborator; the built-in Simulated engine serves dry runs.
func New(cfg *experiment.ExperimentConfig, eng engine.Engine, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pricer := opts.Pricer
	if pricer == nil {
		pricer = pricing.NewPricer(cfg.Pricing)
	}
	return &Orchestrator{
		cfg:    cfg,
		eng:    eng,
		store:  opts.Checkpoints,
		pricer: pricer,
		logger: logger.With("component", "orchestrator", "experiment", cfg.ID),
		mtr:    opts.Metrics,
	}
}

// OnEvent registers the event consumer. Events arrive from worker goroutines;
// Seq orders them.
func (o *Orchestrator) OnEvent(fn func(Event)) {
	o.onEvent.Store(&fn)
}

// IsRunning reports whether a run is in flight.
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Abort requests a cooperative stop. In-flight jobs are interrupted at their
// next suspension point and produce no terminal record; their checkpoints
// survive for a later Resume. Abort is one-way and idempotent.
func (o *Orchestrator) Abort() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.aborted {
		return
	}
	o.aborted = true
	if o.cancel != nil {
		o.cancel()
	}
}

// Results returns a snapshot of the terminal records so far, in completion
// order.
func (o *Orchestrator) Results() []results.JobResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]results.JobResult(nil), o.finished...)
}

// workItem is one scheduled game, optionally re-entered from a checkpoint.
type workItem struct {
	job   experiment.JobConfig
	state *engine.CriticalState
}

// Run drives every job of the experiment to a terminal state and returns the
// folded results. Respects ctx cancellation and Abort.
func (o *Orchestrator) Run(ctx context.Context) (*results.ExperimentResults, error) {
	items := make([]workItem, len(o.cfg.Jobs))
	for i, job := range o.cfg.Jobs {
		items[i] = workItem{job: job}
	}
	return o.run(ctx, items)
}

// Resume re-enters every checkpointed job from its latest critical state.
// When continuePending is true, jobs with no checkpoint and no terminal
// record run fresh as well.
func (o *Orchestrator) Resume(ctx context.Context, continuePending bool) (*results.ExperimentResults, error) {
	if o.store == nil {
		return nil, errors.New("resume requires a checkpoint store")
	}
	states, err := o.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	byJob := make(map[string]engine.CriticalState, len(states))
	for _, st := range states {
		byJob[st.JobID] = st
	}

	var items []workItem
	for _, job := range o.cfg.Jobs {
		if st, ok := byJob[job.ID]; ok {
			state := st
			items = append(items, workItem{job: job, state: &state})
			o.logger.Info("resuming job from checkpoint", "job", job.ID, "clock", st.Clock.String())
			continue
		}
		if continuePending {
			items = append(items, workItem{job: job})
		}
	}
	return o.run(ctx, items)
}

func (o *Orchestrator) run(ctx context.Context, items []workItem) (*results.ExperimentResults, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.running = true
	o.cancel = cancel
	o.finished = nil
	o.progress = Progress{Pending: len(items)}
	aborted := o.aborted
	o.mu.Unlock()
	defer cancel()

	if aborted {
		cancel()
	}

	startedAt := time.Now()
	o.emit(Event{Type: EventExperimentStarted})
	o.logger.Info("experiment started",
		"jobs", len(items), "concurrency", o.cfg.Concurrency)

	sem := make(chan struct{}, o.cfg.Concurrency)
	var wg sync.WaitGroup

dispatch:
	for _, item := range items {
		select {
		case <-runCtx.Done():
			break dispatch
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(item workItem) {
			defer wg.Done()
			defer func() { <-sem }()
			o.runJob(runCtx, item)
		}(item)
	}
	wg.Wait()

	o.mu.Lock()
	o.running = false
	o.cancel = nil
	wasAborted := o.aborted
	finished := append([]results.JobResult(nil), o.finished...)
	o.mu.Unlock()

	status := results.ExperimentCompleted
	if wasAborted || ctx.Err() != nil {
		status = results.ExperimentAborted
	}

	res := &results.ExperimentResults{
		ExperimentID: o.cfg.ID,
		Name:         o.cfg.Name,
		Status:       status,
		StartedAt:    startedAt,
		FinishedAt:   time.Now(),
		Jobs:         finished,
		Stats:        results.Fold(finished),
	}

	evtType := EventExperimentCompleted
	if status == results.ExperimentAborted {
		evtType = EventExperimentAborted
	}
	o.emit(Event{Type: evtType, Stats: res.Stats})
	o.logger.Info("experiment finished",
		"status", string(status),
		"completed", res.Stats.Completed,
		"failed", res.Stats.Failed,
		"timed_out", res.Stats.TimedOut,
		"total_cost", res.Stats.TotalCost,
		"duration", res.FinishedAt.Sub(res.StartedAt))
	return res, nil
}

func (o *Orchestrator) runJob(ctx context.Context, item workItem) {
	job := item.job
	logger := o.logger.With("job", job.ID)

	o.mu.Lock()
	o.progress.Pending--
	o.progress.Running++
	o.mu.Unlock()
	o.emit(Event{Type: EventJobStarted, JobID: job.ID})
	if o.mtr != nil {
		o.mtr.ActiveJobs.Inc()
		defer o.mtr.ActiveJobs.Dec()
	}
	startedAt := time.Now()

	spec, err := o.buildSpec(job)
	if err != nil {
		o.finishJob(ctx, job, spec, nil, nil, startedAt, err)
		return
	}

	governor := budget.NewGovernor(o.pricer, o.cfg.Budget)
	governor.OnBudgetStatus(func(n budget.Notice) {
		logger.Warn("budget status transition",
			"scope", string(n.Scope), "entity", n.Entity,
			"status", string(n.Status), "cost", n.Cost, "ceiling", n.Ceiling)
		if o.mtr != nil {
			o.mtr.BudgetNotices.WithLabelValues(string(n.Scope), string(n.Status)).Inc()
		}
	})

	hooks := engine.Hooks{
		OnMeteredCall: func(call engine.MeteredCall) error {
			rec := governor.Record(string(call.Power), call.Model, call.Phase,
				call.Stage, call.Clock.String(), call.InputTokens, call.OutputTokens)
			if o.mtr != nil {
				o.mtr.MeteredCalls.WithLabelValues(call.Model, call.Phase).Inc()
				o.mtr.TokensUsed.WithLabelValues(call.Model, "input").Add(float64(call.InputTokens))
				o.mtr.TokensUsed.WithLabelValues(call.Model, "output").Add(float64(call.OutputTokens))
				o.mtr.CostTotal.WithLabelValues(call.Model).Add(rec.Cost)
			}
			if d := governor.CheckBudget(string(call.Power)); !d.Allowed {
				return fmt.Errorf("%w: %s", ErrBudgetExceeded, d.Message)
			}
			return nil
		},
		OnCheckpoint: func(state engine.CriticalState) error {
			if o.store == nil {
				return nil
			}
			if err := o.store.Save(ctx, state); err != nil {
				return fmt.Errorf("save checkpoint: %w", err)
			}
			if o.mtr != nil {
				o.mtr.CheckpointsSaved.Inc()
			}
			logger.Debug("checkpoint saved", "clock", state.Clock.String())
			return nil
		},
	}

	// Engine faults stay contained to this job.
	outcome, err := func() (out *engine.Outcome, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("engine panicked", "panic", r)
				err = fmt.Errorf("engine panic: %v", r)
			}
		}()
		if item.state != nil {
			return o.eng.ResumeGame(ctx, spec, *item.state, hooks)
		}
		return o.eng.DriveGame(ctx, spec, hooks)
	}()

	// An interrupted job keeps its checkpoints and produces no terminal
	// record.
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		o.mu.Lock()
		o.progress.Running--
		o.progress.Pending++
		o.mu.Unlock()
		logger.Info("job interrupted", "resumable", o.store != nil)
		return
	}

	o.finishJob(ctx, job, spec, outcome, governor.Report(), startedAt, err)
}

// finishJob records a terminal state, clears the job's checkpoints, and
// emits the completion event.
func (o *Orchestrator) finishJob(ctx context.Context, job experiment.JobConfig, spec engine.GameSpec, outcome *engine.Outcome, usage *budget.Report, startedAt time.Time, err error) {
	finishedAt := time.Now()
	result := results.JobResult{
		ExperimentID: o.cfg.ID,
		JobID:        job.ID,
		StartedAt:    startedAt,
		FinishedAt:   finishedAt,
		Duration:     finishedAt.Sub(startedAt),
		Usage:        usage,
	}
	if len(spec.Seats) > 0 {
		result.Models = make(map[experiment.Power]string, len(spec.Seats))
		for power, seat := range spec.Seats {
			result.Models[power] = seat.Backend.Model
		}
	}
	if outcome != nil {
		result.Winner = outcome.Winner
		result.Draw = outcome.Draw
		result.FinalClock = outcome.FinalClock
		result.Scores = outcome.Scores
		result.Phases = outcome.Phases
		result.Quality = outcome.Quality
		result.LogPath = outcome.LogPath
		result.Snapshots = outcome.SnapshotPaths
	}

	switch {
	case err == nil:
		result.Status = results.StatusCompleted
	case errors.Is(err, engine.ErrPhaseLimit):
		result.Status = results.StatusTimeout
		result.Error = err.Error()
	default:
		result.Status = results.StatusFailed
		result.Error = err.Error()
	}

	// Terminal jobs never resume; drop their checkpoints even when the run
	// context is already gone.
	if o.store != nil {
		if derr := o.store.Delete(context.WithoutCancel(ctx), job.ID); derr != nil {
			o.logger.Warn("delete checkpoints", "job", job.ID, "error", derr)
		}
	}

	o.mu.Lock()
	o.progress.Running--
	switch result.Status {
	case results.StatusCompleted:
		o.progress.Completed++
	case results.StatusTimeout:
		o.progress.TimedOut++
	default:
		o.progress.Failed++
	}
	o.finished = append(o.finished, result)
	o.mu.Unlock()

	if o.mtr != nil {
		o.mtr.JobsTotal.WithLabelValues(string(result.Status)).Inc()
		o.mtr.JobDuration.Observe(result.Duration.Seconds())
	}

	evt := Event{Type: EventJobCompleted, JobID: job.ID, Result: &result}
	logFn := o.logger.Info
	if result.Status != results.StatusCompleted {
		evt.Type = EventJobFailed
		evt.Err = result.Error
		logFn = o.logger.Warn
	}
	o.emit(evt)
	logFn("job finished",
		"job", job.ID,
		"status", string(result.Status),
		"winner", string(result.Winner),
		"phases", result.Phases,
		"duration", result.Duration)
}

// buildSpec binds every power to a resolved backend, falling back to the
// job's default and then the experiment's.
func (o *Orchestrator) buildSpec(job experiment.JobConfig) (engine.GameSpec, error) {
	fallback := job.DefaultBackend
	if fallback == "" {
		fallback = o.cfg.DefaultBackend
	}

	seats := make(map[experiment.Power]engine.Seat, len(experiment.AllPowers()))
	for _, power := range experiment.AllPowers() {
		name := fallback
		var overrides map[string]any
		if a, ok := job.Assignments[power]; ok {
			name = a.Backend
			overrides = a.Overrides
		}
		backend, ok := o.cfg.Backend(name)
		if !ok {
			return engine.GameSpec{}, fmt.Errorf("job %s: power %s: unresolved backend %q", job.ID, power, name)
		}
		seats[power] = engine.Seat{Backend: backend, Overrides: overrides}
	}

	return engine.GameSpec{
		ExperimentID:      o.cfg.ID,
		JobID:             job.ID,
		Seats:             seats,
		Seed:              jobSeed(o.cfg.ID, job),
		MaxPhases:         o.cfg.MaxPhases,
		PhaseDelay:        o.cfg.Engine.PhaseDelay.Std(),
		NegotiationRounds: o.cfg.Engine.NegotiationRounds,
	}, nil
}

// jobSeed derives a stable per-job seed when the config leaves it unset, so
// reruns of the same experiment replay the same games.
func jobSeed(experimentID string, job experiment.JobConfig) int64 {
	if job.Seed != 0 {
		return job.Seed
	}
	h := fnv.New64a()
	h.Write([]byte(experimentID))
	h.Write([]byte{'/'})
	h.Write([]byte(job.ID))
	return int64(h.Sum64())
}

func (o *Orchestrator) emit(evt Event) {
	fn := o.onEvent.Load()
	if fn == nil {
		return
	}
	o.mu.Lock()
	evt.Progress = o.progress
	o.mu.Unlock()
	evt.Seq = o.seq.Add(1)
	evt.Timestamp = time.Now()
	evt.ExperimentID = o.cfg.ID
	(*fn)(evt)
}
