package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/haasonsaas/arena/internal/experiment"
)

const (
	simStartYear = 1901
	simEndYear   = 1912
	simWinScore  = 18
)

var simPhases = []string{
	"spring_negotiation",
	"spring_movement",
	"fall_negotiation",
	"fall_movement",
	"winter_adjustment",
}

// Simulated is the built-in deterministic engine. It plays a coarse
// supply-center random walk seeded per game: useful for dry runs, budget
// rehearsals, and tests, with token counts drawn from the same seed so two
// runs of the same spec meter identically.
type Simulated struct{}

// NewSimulated returns the built-in engine.
func NewSimulated() *Simulated { return &Simulated{} }

// simState is the checkpoint snapshot payload.
type simState struct {
	Year   int                      `json:"year"`
	Scores map[experiment.Power]int `json:"scores"`
	Phases int                      `json:"phases"`
}

// DriveGame plays a game from the opening position.
func (s *Simulated) DriveGame(ctx context.Context, spec GameSpec, hooks Hooks) (*Outcome, error) {
	return s.play(ctx, spec, hooks, openingState())
}

// ResumeGame re-enters a game at its checkpointed year.
func (s *Simulated) ResumeGame(ctx context.Context, spec GameSpec, state CriticalState, hooks Hooks) (*Outcome, error) {
	var snap simState
	if err := json.Unmarshal(state.Snapshot, &snap); err != nil {
		return nil, fmt.Errorf("decode checkpoint snapshot for job %s: %w", state.JobID, err)
	}
	if snap.Scores == nil {
		return nil, fmt.Errorf("checkpoint snapshot for job %s has no scores", state.JobID)
	}
	return s.play(ctx, spec, hooks, snap)
}

func openingState() simState {
	scores := make(map[experiment.Power]int, len(experiment.AllPowers()))
	for _, p := range experiment.AllPowers() {
		scores[p] = 3
	}
	scores[experiment.PowerRussia] = 4
	return simState{Year: simStartYear, Scores: scores}
}

func (s *Simulated) play(ctx context.Context, spec GameSpec, hooks Hooks, state simState) (*Outcome, error) {
	rng := rand.New(rand.NewSource(spec.Seed))
	rounds := spec.NegotiationRounds
	if rounds <= 0 {
		rounds = 1
	}

	outcome := &Outcome{
		Scores:  state.Scores,
		Phases:  state.Phases,
		LogPath: spec.LogPath,
	}
	invalid, lies, calls := 0, 0, 0

	finish := func(clock Clock) {
		outcome.FinalClock = clock
		if calls > 0 {
			outcome.Quality = &QualityStats{
				InvalidMoveRate: float64(invalid) / float64(calls),
				LieRate:         float64(lies) / float64(calls),
			}
		}
	}

	for year := state.Year; year <= simEndYear; year++ {
		for _, phase := range simPhases {
			clock := Clock{Year: year, Phase: phase}

			if err := ctx.Err(); err != nil {
				finish(clock)
				return outcome, err
			}
			if spec.MaxPhases > 0 && outcome.Phases >= spec.MaxPhases {
				finish(clock)
				return outcome, ErrPhaseLimit
			}

			if spec.PhaseDelay > 0 {
				select {
				case <-ctx.Done():
					finish(clock)
					return outcome, ctx.Err()
				case <-time.After(spec.PhaseDelay):
				}
			}

			// Powers act in board order so the rng stream is stable.
			for _, power := range experiment.AllPowers() {
				if outcome.Scores[power] <= 0 {
					continue
				}
				seat, ok := spec.Seats[power]
				if !ok {
					continue
				}

				callsThisPhase := 1
				stage, tag := "orders", "movement"
				switch phase {
				case "spring_negotiation", "fall_negotiation":
					callsThisPhase = rounds
					stage, tag = "message", "negotiation"
				case "winter_adjustment":
					stage, tag = "builds", "adjustment"
				}

				for i := 0; i < callsThisPhase; i++ {
					call := MeteredCall{
						Power:        power,
						Model:        seat.Backend.Model,
						Phase:        tag,
						Stage:        stage,
						Clock:        clock,
						InputTokens:  int64(800 + rng.Intn(1200)),
						OutputTokens: int64(100 + rng.Intn(400)),
					}
					calls++
					if rng.Intn(25) == 0 {
						invalid++
					}
					if tag == "negotiation" && rng.Intn(6) == 0 {
						lies++
					}
					if hooks.OnMeteredCall != nil {
						if err := hooks.OnMeteredCall(call); err != nil {
							finish(clock)
							return outcome, err
						}
					}
				}
			}

			if phase == "winter_adjustment" {
				transferCenter(rng, outcome.Scores)
			}

			outcome.Phases++

			if winner, ok := leaderAt(outcome.Scores, simWinScore); ok {
				outcome.Winner = winner
				finish(clock)
				return outcome, nil
			}
		}

		if hooks.OnCheckpoint != nil {
			snap, err := json.Marshal(simState{
				Year:   year + 1,
				Scores: outcome.Scores,
				Phases: outcome.Phases,
			})
			if err != nil {
				return nil, fmt.Errorf("encode checkpoint snapshot: %w", err)
			}
			cp := CriticalState{
				JobID:    spec.JobID,
				Clock:    Clock{Year: year + 1, Phase: simPhases[0]},
				Snapshot: snap,
				SavedAt:  time.Now(),
			}
			if err := hooks.OnCheckpoint(cp); err != nil {
				finish(cp.Clock)
				return outcome, err
			}
		}
	}

	// Year limit: a unique leader wins, otherwise the survivors draw.
	final := Clock{Year: simEndYear, Phase: simPhases[len(simPhases)-1]}
	if winner, unique := soleLeader(outcome.Scores); unique {
		outcome.Winner = winner
	} else {
		outcome.Draw = true
	}
	finish(final)
	return outcome, nil
}

// transferCenter moves one supply center from a random holder to a random
// gainer, in board order for rng stability.
func transferCenter(rng *rand.Rand, scores map[experiment.Power]int) {
	powers := experiment.AllPowers()
	gainer := powers[rng.Intn(len(powers))]
	loser := powers[rng.Intn(len(powers))]
	if gainer == loser || scores[loser] <= 0 {
		return
	}
	scores[loser]--
	scores[gainer]++
}

func leaderAt(scores map[experiment.Power]int, threshold int) (experiment.Power, bool) {
	for _, p := range experiment.AllPowers() {
		if scores[p] >= threshold {
			return p, true
		}
	}
	return "", false
}

func soleLeader(scores map[experiment.Power]int) (experiment.Power, bool) {
	var best experiment.Power
	bestScore, ties := -1, 0
	for _, p := range experiment.AllPowers() {
		switch {
		case scores[p] > bestScore:
			best, bestScore, ties = p, scores[p], 1
		case scores[p] == bestScore:
			ties++
		}
	}
	return best, ties == 1
}
