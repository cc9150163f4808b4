package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/predexchange/internal/domain"
)

// Factory returns a fresh, uninitialised strategy instance.
type Factory func() Strategy

// StrategyInfo describes a registered strategy for listing APIs.
type StrategyInfo struct {
	Name     string         `json:"name"`
	Defaults map[string]any `json:"defaults,omitempty"`
}

// Registry maps strategy names to factories. It is safe for concurrent use;
// every lookup yields a new instance so parallel runs never share state.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// DefaultRegistry returns a Registry holding the built-in strategies.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(MMInventoryName, func() Strategy { return NewMMInventory() })
	return r
}

// Register adds a factory under the given name, replacing any existing one.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// New builds a strategy by name. Unknown names wrap domain.ErrUnknownStrategy.
func (r *Registry) New(name string) (Strategy, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy %q: not registered: %w", name, domain.ErrUnknownStrategy)
	}
	return f(), nil
}

// List returns the names of all registered strategies in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ListInfo returns every registered strategy with its default parameters.
func (r *Registry) ListInfo() []StrategyInfo {
	names := r.List()
	infos := make([]StrategyInfo, 0, len(names))
	for _, n := range names {
		s, err := r.New(n)
		if err != nil {
			continue
		}
		info := StrategyInfo{Name: n}
		if d, ok := s.(Describer); ok {
			info.Defaults = d.Defaults()
		}
		infos = append(infos, info)
	}
	return infos
}
