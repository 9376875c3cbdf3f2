package experiment

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/haasonsaas/arena/internal/address"
)

// Normalize expands a partially-specified experiment into a concrete one:
// every job is listed explicitly, every backend reference resolves, and the
// backend list holds each distinct canonical address exactly once. The input
// is not mutated.
//
// Normalize is deterministic given its inputs; auto-generated job ids are
// "{experimentID}-job-{n}" with n in submission order, 1-indexed.
func Normalize(in *ExperimentConfig) (*ExperimentConfig, error) {
	cfg := in.Clone()

	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 1
	}
	if cfg.Concurrency < 0 {
		return nil, configErrf("concurrency must be >= 1, got %d", cfg.Concurrency)
	}
	if cfg.MaxPhases < 0 {
		return nil, configErrf("max_phases must be >= 0, got %d", cfg.MaxPhases)
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "results/" + cfg.ID
	}

	idx := newBackendIndex()
	for _, entry := range cfg.Backends {
		if entry.Name == "" {
			return nil, configErrf("backend entry with empty name")
		}
		if _, err := idx.addNamed(entry); err != nil {
			return nil, err
		}
	}

	if cfg.DefaultBackend != "" {
		if !idx.has(cfg.DefaultBackend) {
			// A default given as an inline address instead of a reference
			// gets promoted into the backend list.
			name, err := idx.addInline(cfg.DefaultBackend)
			if err != nil {
				return nil, configErrf("default backend: %v", err)
			}
			cfg.DefaultBackend = name
		}
	}

	if len(cfg.Jobs) == 0 {
		if cfg.JobCount <= 0 {
			return nil, configErrf("experiment %q has no jobs: set job_count or provide an explicit job list", cfg.ID)
		}
		if cfg.DefaultBackend == "" {
			return nil, configErrf("synthesized jobs need a default_backend")
		}
		cfg.Jobs = make([]JobConfig, cfg.JobCount)
		for i := range cfg.Jobs {
			cfg.Jobs[i] = JobConfig{ID: fmt.Sprintf("%s-job-%d", cfg.ID, i+1)}
		}
	}

	seen := make(map[string]bool, len(cfg.Jobs))
	for i := range cfg.Jobs {
		job := &cfg.Jobs[i]
		if job.ID == "" {
			return nil, configErrf("job %d has an empty id", i+1)
		}
		if seen[job.ID] {
			return nil, configErrf("duplicate job id %q", job.ID)
		}
		seen[job.ID] = true

		if job.DefaultBackend != "" && !idx.has(job.DefaultBackend) {
			return nil, configErrf("job %q: unknown default backend %q", job.ID, job.DefaultBackend)
		}

		for power, a := range job.Assignments {
			if !power.Valid() {
				return nil, configErrf("job %q: unknown power %q", job.ID, power)
			}
			switch {
			case a.Backend != "" && a.Address != "":
				return nil, configErrf("job %q: power %q sets both backend and address", job.ID, power)
			case a.Backend != "":
				if !idx.has(a.Backend) {
					return nil, configErrf("job %q: power %q references unknown backend %q", job.ID, power, a.Backend)
				}
			case a.Address != "":
				name, err := idx.addInline(a.Address)
				if err != nil {
					return nil, configErrf("job %q: power %q: %v", job.ID, power, err)
				}
				a.Backend = name
				a.Address = ""
				job.Assignments[power] = a
			default:
				return nil, configErrf("job %q: power %q has neither backend nor address", job.ID, power)
			}
		}

		// Every unassigned power falls back to the job's default, then the
		// experiment's.
		if len(job.Assignments) < len(AllPowers()) {
			fallback := job.DefaultBackend
			if fallback == "" {
				fallback = cfg.DefaultBackend
			}
			if fallback == "" {
				return nil, configErrf("job %q leaves powers unassigned and no default_backend is set", job.ID)
			}
		}
	}

	if cfg.DefaultBackend != "" && !idx.has(cfg.DefaultBackend) {
		return nil, configErrf("unknown default backend %q", cfg.DefaultBackend)
	}

	cfg.Backends = idx.entries
	cfg.resolved = idx.byName
	return cfg, nil
}

// backendIndex builds the deduplicated backend list. Deduplication is keyed
// by the canonical address string, so two references to the same address
// always land on the same entry.
type backendIndex struct {
	entries  []BackendEntry
	byName   map[string]address.Backend
	byCanon  map[string]string // canonical address -> entry name
	nameUsed map[string]bool
}

func newBackendIndex() *backendIndex {
	return &backendIndex{
		byName:   make(map[string]address.Backend),
		byCanon:  make(map[string]string),
		nameUsed: make(map[string]bool),
	}
}

func (x *backendIndex) has(name string) bool {
	_, ok := x.byName[name]
	return ok
}

// addNamed registers an explicit backend-list entry. A second name for an
// already-known canonical address becomes an alias of the first entry rather
// than a duplicate list row.
func (x *backendIndex) addNamed(entry BackendEntry) (string, error) {
	if x.nameUsed[entry.Name] {
		return "", configErrf("duplicate backend name %q", entry.Name)
	}
	b, err := address.Resolve(entry.Address)
	if err != nil {
		return "", fmt.Errorf("backend %q: %w", entry.Name, err)
	}
	canon := b.String()
	x.nameUsed[entry.Name] = true
	x.byName[entry.Name] = b
	if _, dup := x.byCanon[canon]; !dup {
		x.byCanon[canon] = entry.Name
		x.entries = append(x.entries, BackendEntry{Name: entry.Name, Address: canon})
	}
	return x.byCanon[canon], nil
}

// addInline registers an inline address and returns the entry name that now
// serves it.
func (x *backendIndex) addInline(spec string) (string, error) {
	b, err := address.Resolve(spec)
	if err != nil {
		return "", err
	}
	canon := b.String()
	if name, ok := x.byCanon[canon]; ok {
		return name, nil
	}
	name := canon
	for i := 2; x.nameUsed[name]; i++ {
		name = fmt.Sprintf("%s-%d", canon, i)
	}
	x.nameUsed[name] = true
	x.byName[name] = b
	x.byCanon[canon] = name
	x.entries = append(x.entries, BackendEntry{Name: name, Address: canon})
	return name, nil
}
