package orderbook

import (
	"sort"

	"github.com/alanyoungcy/predexchange/internal/domain"
)

type rung struct {
	tick int64
	size float64
}

// ladderBook keeps both sides as slices sorted best-first by integer tick:
// bids descending, asks ascending. Updates are a binary search plus a splice.
type ladderBook struct {
	bids []rung
	asks []rung
}

func newLadderBook() *ladderBook {
	return &ladderBook{}
}

func (b *ladderBook) Reset() {
	b.bids = b.bids[:0]
	b.asks = b.asks[:0]
}

func (b *ladderBook) Set(side domain.Side, price, size float64) {
	tick := PriceTicks(price)
	if side == domain.SideBuy {
		b.bids = setRung(b.bids, tick, size, func(t int64) bool { return t <= tick })
		return
	}
	b.asks = setRung(b.asks, tick, size, func(t int64) bool { return t >= tick })
}

// setRung finds the first rung at or past tick in best-first order.
func setRung(rungs []rung, tick int64, size float64, atOrPast func(int64) bool) []rung {
	i := sort.Search(len(rungs), func(i int) bool { return atOrPast(rungs[i].tick) })
	found := i < len(rungs) && rungs[i].tick == tick
	switch {
	case size == 0 && found:
		return append(rungs[:i], rungs[i+1:]...)
	case size == 0:
		return rungs
	case found:
		rungs[i].size = size
		return rungs
	}
	rungs = append(rungs, rung{})
	copy(rungs[i+1:], rungs[i:])
	rungs[i] = rung{tick: tick, size: size}
	return rungs
}

func (b *ladderBook) Levels() (bids, asks []domain.PriceLevel) {
	return toLevels(b.bids), toLevels(b.asks)
}

func toLevels(rungs []rung) []domain.PriceLevel {
	out := make([]domain.PriceLevel, len(rungs))
	for i, r := range rungs {
		out[i] = domain.PriceLevel{Price: float64(r.tick) / priceScale, Size: r.size}
	}
	return out
}
