package orderbook

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predexchange/internal/domain"
)

var engines = []Engine{EngineMap, EngineLadder}

func TestBookOrdering(t *testing.T) {
	for _, e := range engines {
		t.Run(string(e), func(t *testing.T) {
			b := NewBook(e)
			b.Set(domain.SideBuy, 0.40, 100)
			b.Set(domain.SideBuy, 0.42, 10)
			b.Set(domain.SideBuy, 0.41, 50)
			b.Set(domain.SideSell, 0.45, 5)
			b.Set(domain.SideSell, 0.43, 7)

			bids, asks := b.Levels()
			assert.Equal(t, []domain.PriceLevel{{Price: 0.42, Size: 10}, {Price: 0.41, Size: 50}, {Price: 0.40, Size: 100}}, bids)
			assert.Equal(t, []domain.PriceLevel{{Price: 0.43, Size: 7}, {Price: 0.45, Size: 5}}, asks)
		})
	}
}

func TestBookReplaceAndRemove(t *testing.T) {
	for _, e := range engines {
		t.Run(string(e), func(t *testing.T) {
			b := NewBook(e)
			b.Set(domain.SideBuy, 0.40, 100)
			b.Set(domain.SideBuy, 0.40, 30)
			b.Set(domain.SideSell, 0.43, 7)
			b.Set(domain.SideSell, 0.43, 0)
			b.Set(domain.SideSell, 0.99, 0) // removing a missing level is a no-op

			bids, asks := b.Levels()
			assert.Equal(t, []domain.PriceLevel{{Price: 0.40, Size: 30}}, bids)
			assert.Empty(t, asks)

			b.Reset()
			bids, asks = b.Levels()
			assert.Empty(t, bids)
			assert.Empty(t, asks)
		})
	}
}

func TestBookSnapsToGrid(t *testing.T) {
	for _, e := range engines {
		b := NewBook(e)
		b.Set(domain.SideBuy, 0.1+0.2, 1) // 0.30000000000000004
		b.Set(domain.SideBuy, 0.3, 2)
		bids, _ := b.Levels()
		require.Len(t, bids, 1, e)
		assert.Equal(t, 0.3, bids[0].Price)
		assert.Equal(t, 2.0, bids[0].Size)
	}
}

// The engines must agree on every intermediate state.
func TestEnginesAgree(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	m, l := NewBook(EngineMap), NewBook(EngineLadder)
	for i := 0; i < 5000; i++ {
		side := domain.SideBuy
		if rng.Intn(2) == 1 {
			side = domain.SideSell
		}
		price := float64(rng.Intn(100)) / 100
		size := float64(rng.Intn(4)) * 10 // zero a quarter of the time
		if rng.Intn(500) == 0 {
			m.Reset()
			l.Reset()
		}
		m.Set(side, price, size)
		l.Set(side, price, size)

		mb, ma := m.Levels()
		lb, la := l.Levels()
		require.Equal(t, mb, lb, "bids diverged at step %d", i)
		require.Equal(t, ma, la, "asks diverged at step %d", i)
	}
}

func TestParseEngine(t *testing.T) {
	e, err := ParseEngine("")
	require.NoError(t, err)
	assert.Equal(t, EngineLadder, e)

	e, err = ParseEngine("MAP")
	require.NoError(t, err)
	assert.Equal(t, EngineMap, e)

	_, err = ParseEngine("rust")
	assert.Error(t, err)
}
