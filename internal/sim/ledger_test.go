package sim

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/predexchange/internal/domain"
)

func buy(p, s float64) domain.Fill  { return domain.Fill{Side: domain.SideBuy, Price: p, Size: s} }
func sell(p, s float64) domain.Fill { return domain.Fill{Side: domain.SideSell, Price: p, Size: s} }

func TestLedgerWeightedAverageCost(t *testing.T) {
	steps := []struct {
		fill      domain.Fill
		inventory float64
		avgCost   float64
		realized  float64
	}{
		{buy(0.40, 10), 10, 0.40, 0},
		{buy(0.50, 10), 20, 0.45, 0},
		{sell(0.60, 15), 5, 0.45, 2.25},
		// Flips short: 5 realize, 5 open at the fill price.
		{sell(0.30, 10), -5, 0.30, 1.5},
		{buy(0.20, 5), 0, 0, 2.0},
	}

	var l Ledger
	for i, st := range steps {
		l.Apply(st.fill)
		assert.InDelta(t, st.inventory, l.Inventory(), 1e-12, "step %d inventory", i)
		assert.InDelta(t, st.avgCost, l.AvgCost(), 1e-12, "step %d avg cost", i)
		assert.InDelta(t, st.realized, l.RealizedPnL(), 1e-12, "step %d realized", i)
	}
	assert.Equal(t, len(steps), l.FillCount())
}

func TestLedgerShortSide(t *testing.T) {
	var l Ledger
	l.Apply(sell(0.60, 10))
	l.Apply(sell(0.40, 10))
	assert.InDelta(t, -20, l.Inventory(), 1e-12)
	assert.InDelta(t, 0.50, l.AvgCost(), 1e-12)

	l.Apply(buy(0.30, 10))
	assert.InDelta(t, 2.0, l.RealizedPnL(), 1e-12)
	assert.InDelta(t, 0.50, l.AvgCost(), 1e-12)
}

func TestLedgerConservation(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var a, b Ledger
	var fills []domain.Fill
	for range 500 {
		f := domain.Fill{
			Side:  domain.SideBuy,
			Price: float64(rng.Intn(100)) / 100,
			// Venue sizes carry two decimals.
			Size: float64(1+rng.Intn(2000)) / 100,
		}
		if rng.Intn(2) == 0 {
			f.Side = domain.SideSell
		}
		fills = append(fills, f)
		a.Apply(f)
	}
	for _, f := range fills {
		b.Apply(f)
	}
	assert.Equal(t, NetSize(fills), a.Inventory())
	assert.Equal(t, a.Inventory(), b.Inventory())
	assert.Equal(t, a.RealizedPnL(), b.RealizedPnL())
	assert.Equal(t, a.AvgCost(), b.AvgCost())
}

func TestLedgerFractionalSizes(t *testing.T) {
	fills := []domain.Fill{buy(0.40, 0.1), buy(0.40, 0.2)}
	var l Ledger
	for _, f := range fills {
		l.Apply(f)
	}
	// A float64 running sum would give 0.30000000000000004.
	assert.Equal(t, 0.3, l.Inventory())
	assert.Equal(t, 0.3, NetSize(fills))

	l.Apply(sell(0.50, 0.3))
	assert.Equal(t, 0.0, l.Inventory())
	assert.Equal(t, 0.03, l.RealizedPnL())
}
