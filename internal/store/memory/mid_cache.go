package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/alanyoungcy/predexchange/internal/domain"
)

// MidCache is an in-process domain.MidCache.
type MidCache struct {
	mu   sync.RWMutex
	mids map[string]domain.LastMid
}

// NewMidCache returns an empty MidCache.
func NewMidCache() *MidCache {
	return &MidCache{mids: make(map[string]domain.LastMid)}
}

func (c *MidCache) SetMid(_ context.Context, m domain.LastMid) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mids[m.AssetID] = m
	return nil
}

func (c *MidCache) GetMid(_ context.Context, assetID string) (domain.LastMid, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.mids[assetID]
	if !ok {
		return domain.LastMid{}, fmt.Errorf("memory: mid %s: %w", assetID, domain.ErrNotFound)
	}
	return m, nil
}
