// Package experiment defines the declarative experiment description and the
// normalizer that expands it into a concrete, deterministic list of jobs.
package experiment

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/arena/internal/address"
	"github.com/haasonsaas/arena/internal/budget"
	"github.com/haasonsaas/arena/internal/pricing"
)

// ErrInvalidConfig marks configuration errors. These fail fast, before any
// job starts.
var ErrInvalidConfig = errors.New("invalid experiment config")

func configErrf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Power is a seat in a single game. The set is fixed and small.
type Power string

const (
	PowerAustria Power = "austria"
	PowerEngland Power = "england"
	PowerFrance  Power = "france"
	PowerGermany Power = "germany"
	PowerItaly   Power = "italy"
	PowerRussia  Power = "russia"
	PowerTurkey  Power = "turkey"
)

// AllPowers returns every power in board order.
func AllPowers() []Power {
	return []Power{
		PowerAustria, PowerEngland, PowerFrance,
		PowerGermany, PowerItaly, PowerRussia, PowerTurkey,
	}
}

// Valid reports whether p names a known power.
func (p Power) Valid() bool {
	for _, q := range AllPowers() {
		if p == q {
			return true
		}
	}
	return false
}

// Duration wraps time.Duration so config files can spell delays as "250ms".
type Duration time.Duration

// UnmarshalYAML accepts either a duration string or integer nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return d.set(raw)
}

// UnmarshalJSON accepts either a duration string or integer nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d *Duration) set(raw any) error {
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(v)
	case int64:
		*d = Duration(v)
	case float64:
		*d = Duration(int64(v))
	default:
		return fmt.Errorf("duration must be a string or integer, got %T", raw)
	}
	return nil
}

// MarshalJSON writes the duration in time.Duration string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// MarshalYAML writes the duration in time.Duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// BackendEntry is one named entry in the experiment's backend list.
type BackendEntry struct {
	Name    string `yaml:"name" json:"name"`
	Address string `yaml:"address" json:"address"`
}

// Assignment binds one power to a decision backend, either by reference to a
// shared backend entry or by an inline address string. Overrides are
// engine-facing behavioral tunables, passed through opaquely.
type Assignment struct {
	Backend   string         `yaml:"backend,omitempty" json:"backend,omitempty"`
	Address   string         `yaml:"address,omitempty" json:"address,omitempty"`
	Overrides map[string]any `yaml:"overrides,omitempty" json:"overrides,omitempty"`
}

// JobConfig is one unit of schedulable work: a single game.
type JobConfig struct {
	ID             string               `yaml:"id" json:"id"`
	Assignments    map[Power]Assignment `yaml:"assignments,omitempty" json:"assignments,omitempty"`
	DefaultBackend string               `yaml:"default_backend,omitempty" json:"default_backend,omitempty"`
	Seed           int64                `yaml:"seed,omitempty" json:"seed,omitempty"`
}

// EngineConfig holds engine-facing tunables the orchestrator passes through
// without interpreting.
type EngineConfig struct {
	PhaseDelay        Duration `yaml:"phase_delay,omitempty" json:"phase_delay,omitempty"`
	NegotiationRounds int      `yaml:"negotiation_rounds,omitempty" json:"negotiation_rounds,omitempty"`
}

// ExperimentConfig is the declarative root of one experiment.
type ExperimentConfig struct {
	ID             string         `yaml:"id" json:"id"`
	Name           string         `yaml:"name,omitempty" json:"name,omitempty"`
	Backends       []BackendEntry `yaml:"backends,omitempty" json:"backends,omitempty"`
	JobCount       int            `yaml:"job_count,omitempty" json:"job_count,omitempty"`
	Concurrency    int            `yaml:"concurrency,omitempty" json:"concurrency,omitempty"`
	MaxPhases      int            `yaml:"max_phases,omitempty" json:"max_phases,omitempty"`
	DefaultBackend string         `yaml:"default_backend,omitempty" json:"default_backend,omitempty"`
	Jobs           []JobConfig    `yaml:"jobs,omitempty" json:"jobs,omitempty"`
	OutputDir      string         `yaml:"output_dir,omitempty" json:"output_dir,omitempty"`
	Analyze        bool           `yaml:"analyze,omitempty" json:"analyze,omitempty"`
	LogLevel       string         `yaml:"log_level,omitempty" json:"log_level,omitempty"`
	Engine         EngineConfig   `yaml:"engine,omitempty" json:"engine,omitempty"`
	Pricing        pricing.Table  `yaml:"pricing,omitempty" json:"pricing,omitempty"`
	Budget         budget.Policy  `yaml:"budget,omitempty" json:"budget,omitempty"`

	// resolved maps every backend name (including aliases collapsed during
	// deduplication) to its parsed address. Populated by Normalize.
	resolved map[string]address.Backend
}

// Backend returns the resolved address for a backend name. Only meaningful
// after Normalize.
func (c *ExperimentConfig) Backend(name string) (address.Backend, bool) {
	b, ok := c.resolved[name]
	return b, ok
}

// Clone returns a deep copy of the config.
func (c *ExperimentConfig) Clone() *ExperimentConfig {
	out := *c
	out.Backends = append([]BackendEntry(nil), c.Backends...)
	out.Pricing = append(pricing.Table(nil), c.Pricing...)
	out.Jobs = make([]JobConfig, len(c.Jobs))
	for i, j := range c.Jobs {
		out.Jobs[i] = j
		if j.Assignments != nil {
			out.Jobs[i].Assignments = make(map[Power]Assignment, len(j.Assignments))
			for p, a := range j.Assignments {
				if a.Overrides != nil {
					ov := make(map[string]any, len(a.Overrides))
					for k, v := range a.Overrides {
						ov[k] = v
					}
					a.Overrides = ov
				}
				out.Jobs[i].Assignments[p] = a
			}
		}
	}
	if c.resolved != nil {
		out.resolved = make(map[string]address.Backend, len(c.resolved))
		for k, v := range c.resolved {
			out.resolved[k] = v
		}
	}
	return &out
}

// Load reads an experiment config from a YAML or JSON file, validates it
// against the document schema, and decodes it. The result is not yet
// normalized.
func Load(path string) (*ExperimentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read experiment config: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	var jsonBytes []byte
	switch ext {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, configErrf("parse yaml: %v", err)
		}
		jsonBytes, err = json.Marshal(doc)
		if err != nil {
			return nil, configErrf("convert yaml document: %v", err)
		}
	case ".json":
		jsonBytes = data
	default:
		return nil, configErrf("unsupported config extension %q (want .yaml, .yml, or .json)", ext)
	}

	if err := ValidateDocument(jsonBytes); err != nil {
		return nil, err
	}

	var cfg ExperimentConfig
	if ext == ".json" {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, configErrf("decode json: %v", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, configErrf("decode yaml: %v", err)
		}
	}
	return &cfg, nil
}
