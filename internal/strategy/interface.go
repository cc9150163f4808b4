package strategy

import (
	"context"

	"github.com/alanyoungcy/predexchange/internal/domain"
)

// Strategy computes desired resting quotes from book updates. A Strategy
// instance belongs to exactly one simulation run and is never shared.
type Strategy interface {
	Name() string
	Init(ctx context.Context, cfg Config) error
	// OnBookUpdate is called for every valid book state. The returned quotes
	// replace all previously returned quotes.
	OnBookUpdate(ctx context.Context, in Input) ([]domain.Quote, error)
}

// Config holds per-run strategy configuration.
type Config struct {
	Params map[string]any
}

// Input is what a strategy sees on each book update.
type Input struct {
	TS        int64
	State     domain.BookState
	Inventory float64
	AvgCost   float64
}

// Describer is implemented by strategies that publish their default
// parameters.
type Describer interface {
	Defaults() map[string]any
}

// floatParam reads a numeric parameter. Values decoded from JSON arrive as
// float64, values from TOML as int64 or float64.
func (c Config) floatParam(key string, def float64) float64 {
	switch v := c.Params[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}
