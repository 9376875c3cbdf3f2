// Package engine defines the contract between the orchestrator and the game
// engine collaborator: the orchestrator treats a game as an opaque unit of
// work that reports metered decision calls, emits durable checkpoints, and
// produces a single outcome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/arena/internal/address"
	"github.com/haasonsaas/arena/internal/experiment"
)

// ErrPhaseLimit is returned by an engine when a game hits its configured
// phase ceiling. The orchestrator converts it into a timeout status rather
// than a failure.
var ErrPhaseLimit = errors.New("phase ceiling reached")

// Clock is a simulated-time coordinate: a game year plus a phase name.
type Clock struct {
	Year  int    `json:"year"`
	Phase string `json:"phase"`
}

func (c Clock) String() string {
	return fmt.Sprintf("%d/%s", c.Year, c.Phase)
}

// Seat binds one power to its resolved decision backend for the duration of
// a game. Overrides are behavioral tunables the engine interprets.
type Seat struct {
	Backend   address.Backend
	Overrides map[string]any
}

// GameSpec is everything an engine needs to drive one game.
type GameSpec struct {
	ExperimentID      string
	JobID             string
	Seats             map[experiment.Power]Seat
	Seed              int64
	MaxPhases         int // 0 = unlimited
	PhaseDelay        time.Duration
	NegotiationRounds int
	LogPath           string
}

// MeteredCall describes one priced decision call, reported to the
// orchestrator before the engine proceeds.
type MeteredCall struct {
	Power        experiment.Power
	Model        string
	Phase        string // coarse stage tag, e.g. "negotiation"
	Stage        string // sub-stage tag, e.g. "message"
	Clock        Clock
	InputTokens  int64
	OutputTokens int64
}

// CriticalState is one durable checkpoint: enough to re-enter the game at
// the recorded clock. The snapshot is opaque to everything but the engine.
type CriticalState struct {
	JobID    string    `json:"job_id"`
	Clock    Clock     `json:"clock"`
	Snapshot []byte    `json:"snapshot"`
	SavedAt  time.Time `json:"saved_at"`
}

// QualityStats are engine-reported per-game quality rates.
type QualityStats struct {
	InvalidMoveRate float64 `json:"invalid_move_rate"`
	LieRate         float64 `json:"lie_rate"`
}

// Outcome is the terminal record an engine produces for one game. A game
// with no winner and no draw is unresolved.
type Outcome struct {
	Winner        experiment.Power         `json:"winner,omitempty"`
	Draw          bool                     `json:"draw,omitempty"`
	FinalClock    Clock                    `json:"final_clock"`
	Scores        map[experiment.Power]int `json:"scores"`
	Phases        int                      `json:"phases"`
	Quality       *QualityStats            `json:"quality,omitempty"`
	LogPath       string                   `json:"log_path,omitempty"`
	SnapshotPaths []string                 `json:"snapshot_paths,omitempty"`
}

// Hooks are the orchestrator's taps into a running game. OnMeteredCall may
// return an error to stop the game (budget governance); engines must
// propagate that error unmodified. Both hooks may be nil.
type Hooks struct {
	OnMeteredCall func(MeteredCall) error
	OnCheckpoint  func(CriticalState) error
}

// Engine drives games. Implementations must honor context cancellation at
// every suspension point.
type Engine interface {
	// DriveGame runs one game from its beginning to a terminal state.
	DriveGame(ctx context.Context, spec GameSpec, hooks Hooks) (*Outcome, error)

	// ResumeGame re-enters an interrupted game at the checkpointed clock
	// instead of restarting it.
	ResumeGame(ctx context.Context, spec GameSpec, state CriticalState, hooks Hooks) (*Outcome, error)
}

// Func adapts plain functions into an Engine, for tests and wiring.
type Func struct {
	Drive  func(ctx context.Context, spec GameSpec, hooks Hooks) (*Outcome, error)
	Resume func(ctx context.Context, spec GameSpec, state CriticalState, hooks Hooks) (*Outcome, error)
}

// DriveGame calls the wrapped Drive function.
func (f Func) DriveGame(ctx context.Context, spec GameSpec, hooks Hooks) (*Outcome, error) {
	if f.Drive == nil {
		return nil, errors.New("engine drive function is nil")
	}
	return f.Drive(ctx, spec, hooks)
}

// ResumeGame calls the wrapped Resume function, falling back to Drive when
// none is set.
func (f Func) ResumeGame(ctx context.Context, spec GameSpec, state CriticalState, hooks Hooks) (*Outcome, error) {
	if f.Resume == nil {
		return f.DriveGame(ctx, spec, hooks)
	}
	return f.Resume(ctx, spec, state, hooks)
}
