package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/haasonsaas/arena/internal/experiment"
)

// Persist writes the run's artifact tree under outputDir:
//
//	config.json               normalized experiment config
//	results.json              full ExperimentResults
//	jobs/<jobId>/result.json  per-job terminal record
//	jobs/<jobId>/usage.json   per-job usage report, when present
//	analysis/summary.json     fold output, when analyze is on
//	analysis/models.json      per-model breakdown, when analyze is on
//
// Partial artifacts from an earlier run of the same experiment id are
// overwritten file by file, never deleted wholesale.
func Persist(outputDir string, cfg *experiment.ExperimentConfig, res *ExperimentResults, analyze bool) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	if err := writeJSON(filepath.Join(outputDir, "config.json"), cfg); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(outputDir, "results.json"), res); err != nil {
		return err
	}

	for i := range res.Jobs {
		job := &res.Jobs[i]
		dir := filepath.Join(outputDir, "jobs", job.JobID)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create job dir for %s: %w", job.JobID, err)
		}
		if err := writeJSON(filepath.Join(dir, "result.json"), job); err != nil {
			return err
		}
		if job.Usage != nil {
			if err := writeJSON(filepath.Join(dir, "usage.json"), job.Usage); err != nil {
				return err
			}
		}
	}

	// Without the analyze flag the fold still travels inside results.json;
	// the analysis directory is the opt-in breakout.
	if analyze && res.Stats != nil {
		dir := filepath.Join(outputDir, "analysis")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create analysis dir: %w", err)
		}
		if err := writeJSON(filepath.Join(dir, "summary.json"), res.Stats); err != nil {
			return err
		}
		if err := writeJSON(filepath.Join(dir, "models.json"), res.Stats.ByModel); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
