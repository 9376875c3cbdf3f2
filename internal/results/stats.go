package results

import (
	"time"

	"github.com/haasonsaas/arena/internal/experiment"
)

// PowerStats aggregates outcomes for one power across completed jobs.
type PowerStats struct {
	Wins         int     `json:"wins"`
	Draws        int     `json:"draws"`
	MeanScore    float64 `json:"mean_score"`
	TotalCost    float64 `json:"total_cost"`
	TotalCalls   int     `json:"total_calls"`
	GamesCounted int     `json:"games_counted"`
}

// ModelStats aggregates quality and spend for one model id across jobs.
// Quality means weight each completed game once per model seated in it,
// regardless of how many seats the model held.
type ModelStats struct {
	Seats        int     `json:"seats"`
	Wins         int     `json:"wins"`
	TotalCost    float64 `json:"total_cost"`
	TotalCalls   int     `json:"total_calls"`
	GamesCounted int     `json:"games_counted"`
	MeanInvalid  float64 `json:"mean_invalid_move_rate,omitempty"`
	MeanLieRate  float64 `json:"mean_lie_rate,omitempty"`
}

// ExperimentStats is a pure fold over job results. Mean figures cover
// completed jobs only; win and draw counts cover jobs with a determinate
// outcome. TotalCost alone spans every job with a usage report, failed and
// timed-out included, because that money was spent either way.
type ExperimentStats struct {
	Jobs         int           `json:"jobs"`
	Completed    int           `json:"completed"`
	Failed       int           `json:"failed"`
	TimedOut     int           `json:"timed_out"`
	Resolved     int           `json:"resolved"`
	Draws        int           `json:"draws"`
	MeanPhases   float64       `json:"mean_phases,omitempty"`
	MeanDuration time.Duration `json:"mean_duration_ns,omitempty"`
	MeanCost     float64       `json:"mean_cost,omitempty"`
	TotalCost    float64       `json:"total_cost"`
	MeanInvalid  float64       `json:"mean_invalid_move_rate,omitempty"`
	MeanLieRate  float64       `json:"mean_lie_rate,omitempty"`

	ByPower map[experiment.Power]*PowerStats `json:"by_power,omitempty"`
	ByModel map[string]*ModelStats           `json:"by_model,omitempty"`
}

// Fold computes experiment statistics from job results. It never mutates its
// input and is deterministic for a given input order.
func Fold(jobs []JobResult) *ExperimentStats {
	stats := &ExperimentStats{
		Jobs:    len(jobs),
		ByPower: make(map[experiment.Power]*PowerStats),
		ByModel: make(map[string]*ModelStats),
	}

	var phases, quality int
	var invalidSum, lieSum, completedCost float64
	var durations time.Duration

	for i := range jobs {
		job := &jobs[i]
		if job.Usage != nil {
			stats.TotalCost += job.Usage.TotalCost
		}

		switch job.Status {
		case StatusFailed:
			stats.Failed++
			continue
		case StatusTimeout:
			stats.TimedOut++
			continue
		}
		stats.Completed++
		phases += job.Phases
		durations += job.Duration
		if job.Usage != nil {
			completedCost += job.Usage.TotalCost
		}

		if job.Quality != nil {
			quality++
			invalidSum += job.Quality.InvalidMoveRate
			lieSum += job.Quality.LieRate
		}

		if job.Winner != "" || job.Draw {
			stats.Resolved++
		}
		if job.Draw {
			stats.Draws++
		}

		for _, power := range experiment.AllPowers() {
			model, seated := job.Models[power]
			score, scored := job.Scores[power]
			if !seated && !scored {
				continue
			}
			ps := stats.ByPower[power]
			if ps == nil {
				ps = &PowerStats{}
				stats.ByPower[power] = ps
			}
			ps.GamesCounted++
			ps.MeanScore += float64(score)
			if job.Winner == power {
				ps.Wins++
			}
			if job.Draw && score > 0 {
				ps.Draws++
			}
			if job.Usage != nil {
				if agg, ok := job.Usage.ByPower[string(power)]; ok {
					ps.TotalCost += agg.Cost
					ps.TotalCalls += agg.Calls
				}
			}

			if seated {
				ms := stats.ByModel[model]
				if ms == nil {
					ms = &ModelStats{}
					stats.ByModel[model] = ms
				}
				ms.Seats++
				if job.Winner == power {
					ms.Wins++
				}
			}
		}

		if job.Quality != nil {
			// One quality sample per model per game, however many seats
			// the model held.
			counted := make(map[string]bool, len(job.Models))
			for _, model := range job.Models {
				if counted[model] {
					continue
				}
				counted[model] = true
				ms := stats.ByModel[model]
				if ms == nil {
					ms = &ModelStats{}
					stats.ByModel[model] = ms
				}
				ms.GamesCounted++
				ms.MeanInvalid += job.Quality.InvalidMoveRate
				ms.MeanLieRate += job.Quality.LieRate
			}
		}

		if job.Usage != nil {
			for model, agg := range job.Usage.ByModel {
				ms := stats.ByModel[model]
				if ms == nil {
					ms = &ModelStats{}
					stats.ByModel[model] = ms
				}
				ms.TotalCost += agg.Cost
				ms.TotalCalls += agg.Calls
			}
		}
	}

	if stats.Completed > 0 {
		stats.MeanPhases = float64(phases) / float64(stats.Completed)
		stats.MeanDuration = durations / time.Duration(stats.Completed)
		// MeanCost scopes numerator and denominator to completed jobs;
		// failed-job spend shows up in TotalCost only.
		stats.MeanCost = completedCost / float64(stats.Completed)
	}
	if quality > 0 {
		stats.MeanInvalid = invalidSum / float64(quality)
		stats.MeanLieRate = lieSum / float64(quality)
	}
	for _, ps := range stats.ByPower {
		if ps.GamesCounted > 0 {
			ps.MeanScore /= float64(ps.GamesCounted)
		}
	}
	for _, ms := range stats.ByModel {
		if ms.GamesCounted > 0 {
			ms.MeanInvalid /= float64(ms.GamesCounted)
			ms.MeanLieRate /= float64(ms.GamesCounted)
		}
	}
	return stats
}
