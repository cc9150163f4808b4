package strategy

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/predexchange/internal/domain"
)

// MMInventoryName is the registry name of the reference market maker.
const MMInventoryName = "mm_inventory"

const (
	defaultSpreadFrac  = 0.01
	defaultSkewPerUnit = 0.001
	defaultMMSize      = 10.0
	// fallbackSpread is used when the book reports no spread.
	fallbackSpread = 0.01
)

// MMInventory quotes one bid and one ask around mid. The half-spread is the
// larger of half the book spread and spread_frac of mid; both quotes shift
// down by inventory*skew_per_unit so a long position sells more eagerly.
type MMInventory struct {
	spreadFrac  float64
	skewPerUnit float64
	size        float64
}

// NewMMInventory returns an MMInventory with default parameters.
func NewMMInventory() *MMInventory {
	return &MMInventory{
		spreadFrac:  defaultSpreadFrac,
		skewPerUnit: defaultSkewPerUnit,
		size:        defaultMMSize,
	}
}

// Name returns the strategy identifier.
func (m *MMInventory) Name() string { return MMInventoryName }

// Defaults reports the parameters used when none are given.
func (m *MMInventory) Defaults() map[string]any {
	return map[string]any{
		"spread_frac":   defaultSpreadFrac,
		"skew_per_unit": defaultSkewPerUnit,
		"size":          defaultMMSize,
	}
}

// Init reads spread_frac, skew_per_unit and size from cfg.Params.
func (m *MMInventory) Init(_ context.Context, cfg Config) error {
	m.spreadFrac = cfg.floatParam("spread_frac", defaultSpreadFrac)
	m.skewPerUnit = cfg.floatParam("skew_per_unit", defaultSkewPerUnit)
	m.size = cfg.floatParam("size", defaultMMSize)
	if m.spreadFrac < 0 {
		return fmt.Errorf("%s: spread_frac must be >= 0, got %g", MMInventoryName, m.spreadFrac)
	}
	if m.size <= 0 {
		return fmt.Errorf("%s: size must be > 0, got %g", MMInventoryName, m.size)
	}
	return nil
}

// OnBookUpdate returns a fresh bid/ask pair, or nothing without a mid.
func (m *MMInventory) OnBookUpdate(_ context.Context, in Input) ([]domain.Quote, error) {
	mid, ok := in.State.Mid()
	if !ok {
		return nil, nil
	}
	spread, ok := in.State.Spread()
	if !ok || spread == 0 {
		spread = fallbackSpread
	}
	half := max(spread/2, m.spreadFrac*mid)
	skew := in.Inventory * m.skewPerUnit
	return []domain.Quote{
		{Side: domain.SideBuy, Price: clamp01(mid - half - skew), Size: m.size},
		{Side: domain.SideSell, Price: clamp01(mid + half - skew), Size: m.size},
	}, nil
}

func clamp01(p float64) float64 {
	return min(1, max(0, p))
}
