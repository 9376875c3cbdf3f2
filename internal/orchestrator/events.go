package orchestrator

import (
	"time"

	"github.com/haasonsaas/arena/internal/results"
)

// EventType identifies a lifecycle event emitted by the orchestrator.
type EventType string

const (
	EventExperimentStarted   EventType = "experiment_started"
	EventJobStarted          EventType = "job_started"
	EventJobCompleted        EventType = "job_completed"
	EventJobFailed           EventType = "job_failed"
	EventExperimentCompleted EventType = "experiment_completed"
	EventExperimentAborted   EventType = "experiment_aborted"
)

// Progress is a point-in-time snapshot of job states.
type Progress struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	TimedOut  int `json:"timed_out"`
}

// Event is one observation of the run. Seq increases monotonically per
// orchestrator, so consumers can order events arriving from worker
// goroutines.
type Event struct {
	Seq          uint64                   `json:"seq"`
	Type         EventType                `json:"type"`
	Timestamp    time.Time                `json:"timestamp"`
	ExperimentID string                   `json:"experiment_id"`
	JobID        string                   `json:"job_id,omitempty"`
	Progress     Progress                 `json:"progress"`
	Result       *results.JobResult       `json:"result,omitempty"`
	Err          string                   `json:"error,omitempty"`
	Stats        *results.ExperimentStats `json:"stats,omitempty"`
}
