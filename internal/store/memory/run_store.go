package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/alanyoungcy/predexchange/internal/domain"
)

// RunStore is an in-memory domain.RunStore. Runs are cloned on the way in
// and out so callers never share state with the store.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]*domain.SimRun
}

// NewRunStore returns an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]*domain.SimRun)}
}

// Put stores run once.
func (s *RunStore) Put(_ context.Context, run *domain.SimRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.RunID]; ok {
		return fmt.Errorf("memory: run %s: %w", run.RunID, domain.ErrAlreadyExists)
	}
	s.runs[run.RunID] = run.Clone()
	return nil
}

// Get returns a copy of the stored run.
func (s *RunStore) Get(_ context.Context, runID string) (*domain.SimRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("memory: run %s: %w", runID, domain.ErrNotFound)
	}
	return run.Clone(), nil
}

// List returns fill-less copies of the newest runs, optionally for one asset.
func (s *RunStore) List(_ context.Context, assetID string, limit int) ([]*domain.SimRun, error) {
	s.mu.RLock()
	out := make([]*domain.SimRun, 0, len(s.runs))
	for _, run := range s.runs {
		if assetID == "" || run.AssetID == assetID {
			out = append(out, run.Summary())
		}
	}
	s.mu.RUnlock()

	domain.SortRunsNewest(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
