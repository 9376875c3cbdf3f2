// Package checkpoint stores durable game snapshots keyed by job id and
// simulated-time coordinate, so an aborted experiment can re-enter each
// interrupted job where it left off.
package checkpoint

import (
	"context"
	"sync"

	"github.com/haasonsaas/arena/internal/engine"
)

// Store persists critical state. Implementations keep every snapshot but
// only need to serve the latest per job.
type Store interface {
	// Save records a checkpoint.
	Save(ctx context.Context, state engine.CriticalState) error

	// Latest returns the most recent checkpoint for a job, if any.
	Latest(ctx context.Context, jobID string) (engine.CriticalState, bool, error)

	// List returns the latest checkpoint of every job, in first-saved order.
	List(ctx context.Context) ([]engine.CriticalState, error)

	// Delete removes all checkpoints for a job, typically once it reaches a
	// terminal state.
	Delete(ctx context.Context, jobID string) error
}

// MemoryStore keeps checkpoints in memory.
type MemoryStore struct {
	mu     sync.RWMutex
	latest map[string]engine.CriticalState
	order  []string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{latest: make(map[string]engine.CriticalState)}
}

func (s *MemoryStore) Save(ctx context.Context, state engine.CriticalState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.latest[state.JobID]; !ok {
		s.order = append(s.order, state.JobID)
	}
	state.Snapshot = append([]byte(nil), state.Snapshot...)
	s.latest[state.JobID] = state
	return nil
}

func (s *MemoryStore) Latest(ctx context.Context, jobID string) (engine.CriticalState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.latest[jobID]
	if ok {
		state.Snapshot = append([]byte(nil), state.Snapshot...)
	}
	return state, ok, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]engine.CriticalState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]engine.CriticalState, 0, len(s.order))
	for _, id := range s.order {
		if state, ok := s.latest[id]; ok {
			state.Snapshot = append([]byte(nil), state.Snapshot...)
			out = append(out, state)
		}
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.latest[jobID]; ok {
		delete(s.latest, jobID)
		for i, id := range s.order {
			if id == jobID {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	return nil
}
