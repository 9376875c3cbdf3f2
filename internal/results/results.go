// Package results defines the terminal records of jobs and experiments, the
// statistics fold over them, and artifact persistence.
package results

import (
	"time"

	"github.com/haasonsaas/arena/internal/budget"
	"github.com/haasonsaas/arena/internal/engine"
	"github.com/haasonsaas/arena/internal/experiment"
)

// JobStatus is the terminal state of one job.
type JobStatus string

const (
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusTimeout   JobStatus = "timeout"
)

// ExperimentStatus is the terminal state of a whole run.
type ExperimentStatus string

const (
	ExperimentCompleted ExperimentStatus = "completed"
	ExperimentAborted   ExperimentStatus = "aborted"
)

// JobResult is the immutable terminal record of one job. Interrupted jobs
// never produce one; they are represented by their checkpoints instead.
type JobResult struct {
	ExperimentID string                              `json:"experiment_id"`
	JobID        string                              `json:"job_id"`
	Status       JobStatus                           `json:"status"`
	Error        string                              `json:"error,omitempty"`
	StartedAt    time.Time                           `json:"started_at"`
	FinishedAt   time.Time                           `json:"finished_at"`
	Duration     time.Duration                       `json:"duration_ns"`
	Winner       experiment.Power                    `json:"winner,omitempty"`
	Draw         bool                                `json:"draw,omitempty"`
	FinalClock   engine.Clock                        `json:"final_clock"`
	Scores       map[experiment.Power]int            `json:"scores,omitempty"`
	Phases       int                                 `json:"phases"`
	Models       map[experiment.Power]string         `json:"models,omitempty"`
	Quality      *engine.QualityStats                `json:"quality,omitempty"`
	Usage        *budget.Report                      `json:"usage,omitempty"`
	LogPath      string                              `json:"log_path,omitempty"`
	Snapshots    []string                            `json:"snapshot_paths,omitempty"`
}

// Resolved reports whether the game reached a determinate outcome.
func (r *JobResult) Resolved() bool {
	return r.Status == StatusCompleted && (r.Winner != "" || r.Draw)
}

// ExperimentResults is the full record of one run.
type ExperimentResults struct {
	ExperimentID string            `json:"experiment_id"`
	Name         string            `json:"name,omitempty"`
	Status       ExperimentStatus  `json:"status"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
	Jobs         []JobResult       `json:"jobs"`
	Stats        *ExperimentStats  `json:"stats,omitempty"`
}
