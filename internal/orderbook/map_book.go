package orderbook

import (
	"sort"

	"github.com/alanyoungcy/predexchange/internal/domain"
)

// mapBook stores each side as price -> size and sorts on read.
type mapBook struct {
	bids map[float64]float64
	asks map[float64]float64
}

func newMapBook() *mapBook {
	return &mapBook{
		bids: make(map[float64]float64),
		asks: make(map[float64]float64),
	}
}

func (b *mapBook) Reset() {
	clear(b.bids)
	clear(b.asks)
}

func (b *mapBook) Set(side domain.Side, price, size float64) {
	levels := b.asks
	if side == domain.SideBuy {
		levels = b.bids
	}
	p := RoundPrice(price)
	if size == 0 {
		delete(levels, p)
		return
	}
	levels[p] = size
}

func (b *mapBook) Levels() (bids, asks []domain.PriceLevel) {
	bids = collect(b.bids)
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })
	asks = collect(b.asks)
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })
	return bids, asks
}

func collect(m map[float64]float64) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(m))
	for p, s := range m {
		out = append(out, domain.PriceLevel{Price: p, Size: s})
	}
	return out
}
