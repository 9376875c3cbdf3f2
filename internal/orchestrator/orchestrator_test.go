package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/arena/internal/budget"
	"github.com/haasonsaas/arena/internal/checkpoint"
	"github.com/haasonsaas/arena/internal/engine"
	"github.com/haasonsaas/arena/internal/experiment"
	"github.com/haasonsaas/arena/internal/results"
)

func testConfig(t *testing.T, jobs, concurrency int) *experiment.ExperimentConfig {
	t.Helper()
	cfg, err := experiment.Normalize(&experiment.ExperimentConfig{
		ID:             "exp",
		JobCount:       jobs,
		Concurrency:    concurrency,
		DefaultBackend: "mock",
	})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	return cfg
}

func instantWin(spec engine.GameSpec) *engine.Outcome {
	return &engine.Outcome{
		Winner:     experiment.PowerFrance,
		FinalClock: engine.Clock{Year: 1905, Phase: "fall_movement"},
		Scores:     map[experiment.Power]int{experiment.PowerFrance: 18},
		Phases:     10,
	}
}

func TestRun_AllJobsComplete(t *testing.T) {
	cfg := testConfig(t, 4, 2)
	eng := engine.Func{Drive: func(ctx context.Context, spec engine.GameSpec, hooks engine.Hooks) (*engine.Outcome, error) {
		return instantWin(spec), nil
	}}

	res, err := New(cfg, eng, Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Status != results.ExperimentCompleted {
		t.Errorf("Status = %q, want completed", res.Status)
	}
	if len(res.Jobs) != 4 || res.Stats.Completed != 4 {
		t.Errorf("jobs = %d, completed = %d, want 4/4", len(res.Jobs), res.Stats.Completed)
	}
}

func TestRun_ConcurrencyCeiling(t *testing.T) {
	const limit = 2
	cfg := testConfig(t, 8, limit)

	var active, peak int64
	eng := engine.Func{Drive: func(ctx context.Context, spec engine.GameSpec, hooks engine.Hooks) (*engine.Outcome, error) {
		n := atomic.AddInt64(&active, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt64(&active, -1)
		return instantWin(spec), nil
	}}

	if _, err := New(cfg, eng, Options{}).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := atomic.LoadInt64(&peak); got > limit {
		t.Errorf("peak concurrency = %d, want <= %d", got, limit)
	}
}

func TestRun_FaultIsolation(t *testing.T) {
	cfg := testConfig(t, 4, 1)
	boom := errors.New("backend unreachable")
	eng := engine.Func{Drive: func(ctx context.Context, spec engine.GameSpec, hooks engine.Hooks) (*engine.Outcome, error) {
		if spec.JobID == "exp-job-2" {
			return nil, boom
		}
		return instantWin(spec), nil
	}}

	res, err := New(cfg, eng, Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Status != results.ExperimentCompleted {
		t.Errorf("Status = %q, want completed despite one failure", res.Status)
	}
	if res.Stats.Completed != 3 || res.Stats.Failed != 1 {
		t.Errorf("completed/failed = %d/%d, want 3/1", res.Stats.Completed, res.Stats.Failed)
	}
	for _, job := range res.Jobs {
		if job.JobID == "exp-job-2" {
			if job.Status != results.StatusFailed || job.Error != boom.Error() {
				t.Errorf("failed job = %+v", job)
			}
		}
	}
}

func TestRun_PanicIsolation(t *testing.T) {
	cfg := testConfig(t, 3, 1)
	eng := engine.Func{Drive: func(ctx context.Context, spec engine.GameSpec, hooks engine.Hooks) (*engine.Outcome, error) {
		if spec.JobID == "exp-job-1" {
			panic("corrupted board state")
		}
		return instantWin(spec), nil
	}}

	res, err := New(cfg, eng, Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Stats.Completed != 2 || res.Stats.Failed != 1 {
		t.Errorf("completed/failed = %d/%d, want 2/1", res.Stats.Completed, res.Stats.Failed)
	}
}

func TestRun_PhaseLimitIsTimeout(t *testing.T) {
	cfg := testConfig(t, 1, 1)
	eng := engine.Func{Drive: func(ctx context.Context, spec engine.GameSpec, hooks engine.Hooks) (*engine.Outcome, error) {
		return &engine.Outcome{Phases: 5}, engine.ErrPhaseLimit
	}}

	res, err := New(cfg, eng, Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Jobs[0].Status != results.StatusTimeout {
		t.Errorf("Status = %q, want timeout", res.Jobs[0].Status)
	}
	if res.Stats.TimedOut != 1 {
		t.Errorf("TimedOut = %d, want 1", res.Stats.TimedOut)
	}
}

func TestRun_BudgetExceededFailsJob(t *testing.T) {
	cfg := testConfig(t, 2, 1)
	cfg.Budget = budget.Policy{MaxJobCost: 0.000001}

	eng := engine.Func{Drive: func(ctx context.Context, spec engine.GameSpec, hooks engine.Hooks) (*engine.Outcome, error) {
		if spec.JobID == "exp-job-1" {
			call := engine.MeteredCall{
				Power: experiment.PowerFrance, Model: "gpt-4o",
				Phase: "movement", Stage: "orders",
				Clock:       engine.Clock{Year: 1901, Phase: "spring_movement"},
				InputTokens: 1_000_000,
			}
			if err := hooks.OnMeteredCall(call); err != nil {
				return nil, err
			}
		}
		return instantWin(spec), nil
	}}

	res, err := New(cfg, eng, Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Stats.Failed != 1 || res.Stats.Completed != 1 {
		t.Errorf("failed/completed = %d/%d, want 1/1 (budgets are per job)", res.Stats.Failed, res.Stats.Completed)
	}
	for _, job := range res.Jobs {
		if job.JobID != "exp-job-1" {
			continue
		}
		if job.Status != results.StatusFailed || !strings.Contains(job.Error, "budget exceeded") {
			t.Errorf("budget-stopped job = %+v", job)
		}
		if job.Usage == nil || job.Usage.TotalCalls != 1 {
			t.Errorf("usage not recorded for the stopped job: %+v", job.Usage)
		}
	}
}

func TestRun_AbortInterruptsWithoutResults(t *testing.T) {
	cfg := testConfig(t, 4, 2)
	store := checkpoint.NewMemoryStore()

	started := make(chan string, 4)
	eng := engine.Func{Drive: func(ctx context.Context, spec engine.GameSpec, hooks engine.Hooks) (*engine.Outcome, error) {
		started <- spec.JobID
		if hooks.OnCheckpoint != nil {
			cp := engine.CriticalState{
				JobID:    spec.JobID,
				Clock:    engine.Clock{Year: 1902, Phase: "spring_negotiation"},
				Snapshot: []byte(`{}`),
				SavedAt:  time.Now(),
			}
			if err := hooks.OnCheckpoint(cp); err != nil {
				return nil, err
			}
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	o := New(cfg, eng, Options{Checkpoints: store})
	go func() {
		<-started
		<-started
		o.Abort()
	}()

	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Status != results.ExperimentAborted {
		t.Errorf("Status = %q, want aborted", res.Status)
	}
	if len(res.Jobs) != 0 {
		t.Errorf("interrupted jobs produced %d terminal records, want 0", len(res.Jobs))
	}

	states, _ := store.List(context.Background())
	if len(states) == 0 {
		t.Error("no checkpoints survived the abort")
	}

	o.Abort() // idempotent
}

func TestResume_ReentersCheckpointedJobs(t *testing.T) {
	cfg := testConfig(t, 3, 1)
	store := checkpoint.NewMemoryStore()
	_ = store.Save(context.Background(), engine.CriticalState{
		JobID:    "exp-job-2",
		Clock:    engine.Clock{Year: 1903, Phase: "spring_negotiation"},
		Snapshot: []byte(`{"year":1903}`),
	})

	var resumed, fresh []string
	var mu sync.Mutex
	eng := engine.Func{
		Drive: func(ctx context.Context, spec engine.GameSpec, hooks engine.Hooks) (*engine.Outcome, error) {
			mu.Lock()
			fresh = append(fresh, spec.JobID)
			mu.Unlock()
			return instantWin(spec), nil
		},
		Resume: func(ctx context.Context, spec engine.GameSpec, state engine.CriticalState, hooks engine.Hooks) (*engine.Outcome, error) {
			mu.Lock()
			resumed = append(resumed, spec.JobID)
			mu.Unlock()
			if state.Clock.Year != 1903 {
				t.Errorf("resume clock = %v", state.Clock)
			}
			return instantWin(spec), nil
		},
	}

	res, err := New(cfg, eng, Options{Checkpoints: store}).Resume(context.Background(), true)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if len(resumed) != 1 || resumed[0] != "exp-job-2" {
		t.Errorf("resumed = %v, want [exp-job-2]", resumed)
	}
	if len(fresh) != 2 {
		t.Errorf("fresh = %v, want the two uncheckpointed jobs", fresh)
	}
	if res.Stats.Completed != 3 {
		t.Errorf("Completed = %d, want 3", res.Stats.Completed)
	}

	// Terminal jobs clear their checkpoints.
	if states, _ := store.List(context.Background()); len(states) != 0 {
		t.Errorf("%d checkpoints left after all jobs finished, want 0", len(states))
	}
}

func TestResume_CheckpointedOnlyWithoutContinue(t *testing.T) {
	cfg := testConfig(t, 3, 1)
	store := checkpoint.NewMemoryStore()
	_ = store.Save(context.Background(), engine.CriticalState{
		JobID: "exp-job-1", Snapshot: []byte(`{}`),
	})

	eng := engine.Func{Drive: func(ctx context.Context, spec engine.GameSpec, hooks engine.Hooks) (*engine.Outcome, error) {
		return instantWin(spec), nil
	}}

	res, err := New(cfg, eng, Options{Checkpoints: store}).Resume(context.Background(), false)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if len(res.Jobs) != 1 || res.Jobs[0].JobID != "exp-job-1" {
		t.Errorf("jobs = %+v, want only the checkpointed one", res.Jobs)
	}
}

func TestRun_Events(t *testing.T) {
	cfg := testConfig(t, 2, 1)
	eng := engine.Func{Drive: func(ctx context.Context, spec engine.GameSpec, hooks engine.Hooks) (*engine.Outcome, error) {
		return instantWin(spec), nil
	}}

	var mu sync.Mutex
	var events []Event
	o := New(cfg, eng, Options{})
	o.OnEvent(func(evt Event) {
		mu.Lock()
		events = append(events, evt)
		mu.Unlock()
	})

	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	// started + 2x(job started + job completed) + finished
	if len(events) != 6 {
		t.Fatalf("event count = %d, want 6: %+v", len(events), events)
	}
	if events[0].Type != EventExperimentStarted {
		t.Errorf("first event = %q", events[0].Type)
	}
	last := events[len(events)-1]
	if last.Type != EventExperimentCompleted || last.Stats == nil {
		t.Errorf("last event = %+v", last)
	}
	for i := 1; i < len(events); i++ {
		if events[i].Seq <= events[i-1].Seq {
			t.Errorf("Seq not increasing at %d: %d then %d", i, events[i-1].Seq, events[i].Seq)
		}
	}
	if last.Progress.Completed != 2 || last.Progress.Pending != 0 {
		t.Errorf("final progress = %+v", last.Progress)
	}
}

func TestRun_RejectsConcurrentRun(t *testing.T) {
	cfg := testConfig(t, 1, 1)
	release := make(chan struct{})
	eng := engine.Func{Drive: func(ctx context.Context, spec engine.GameSpec, hooks engine.Hooks) (*engine.Outcome, error) {
		<-release
		return instantWin(spec), nil
	}}

	o := New(cfg, eng, Options{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := o.Run(context.Background()); err != nil {
			t.Errorf("Run() error = %v", err)
		}
	}()

	for !o.IsRunning() {
		time.Sleep(time.Millisecond)
	}
	if _, err := o.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() error = %v, want ErrAlreadyRunning", err)
	}
	close(release)
	<-done
}

func TestRun_SimulatedEngineEndToEnd(t *testing.T) {
	cfg := testConfig(t, 2, 2)
	cfg.MaxPhases = 40

	mtr := NewMetrics(prometheus.NewRegistry())
	res, err := New(cfg, engine.NewSimulated(), Options{Metrics: mtr}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(res.Jobs))
	}
	for _, job := range res.Jobs {
		if job.Status != results.StatusCompleted && job.Status != results.StatusTimeout {
			t.Errorf("job %s status = %q", job.JobID, job.Status)
		}
		if job.Usage == nil || job.Usage.TotalCalls == 0 {
			t.Errorf("job %s has no metered usage", job.JobID)
		}
		if job.Models[experiment.PowerFrance] == "" {
			t.Errorf("job %s lost its seat models", job.JobID)
		}
	}
}

func TestJobSeed_StableAndDistinct(t *testing.T) {
	a := jobSeed("exp", experiment.JobConfig{ID: "exp-job-1"})
	b := jobSeed("exp", experiment.JobConfig{ID: "exp-job-1"})
	c := jobSeed("exp", experiment.JobConfig{ID: "exp-job-2"})
	if a != b {
		t.Error("seed not stable for the same job")
	}
	if a == c {
		t.Error("distinct jobs share a seed")
	}
	if got := jobSeed("exp", experiment.JobConfig{ID: "x", Seed: 99}); got != 99 {
		t.Errorf("explicit seed = %d, want 99", got)
	}
}
