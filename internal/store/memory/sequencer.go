package memory

import (
	"context"
	"sync"
)

// Sequencer allocates per-asset sequences in process.
type Sequencer struct {
	mu   sync.Mutex
	last map[string]int64
}

// NewSequencer returns a Sequencer starting every asset at 1.
func NewSequencer() *Sequencer {
	return &Sequencer{last: make(map[string]int64)}
}

// Next returns the asset's next sequence.
func (s *Sequencer) Next(_ context.Context, assetID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[assetID]++
	return s.last[assetID], nil
}

// Seed raises the asset's counter to at least last.
func (s *Sequencer) Seed(_ context.Context, assetID string, last int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[assetID] = max(s.last[assetID], last)
	return nil
}
