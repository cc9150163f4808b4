package replay

import "github.com/alanyoungcy/predexchange/internal/domain"

// top is the best level on each side.
type top struct {
	bid, ask       domain.PriceLevel
	hasBid, hasAsk bool
}

func topOf(s domain.BookState) top {
	var t top
	t.bid, t.hasBid = s.BestBid()
	t.ask, t.hasAsk = s.BestAsk()
	return t
}

// ofiTracker accumulates order-flow imbalance across consecutive non-crossed
// states, one-sided ones included. The first observed state only sets the reference.
type ofiTracker struct {
	prev top
	ok   bool
	acc  float64
}

func (t *ofiTracker) observe(s domain.BookState) {
	cur := topOf(s)
	if t.ok {
		t.acc += ofiContribution(t.prev, cur)
	}
	t.prev, t.ok = cur, true
}

// take returns the accumulated OFI and resets the accumulator.
func (t *ofiTracker) take() float64 {
	v := t.acc
	t.acc = 0
	return v
}

// ofiContribution is the best-level order-flow imbalance between two states.
// Positive values are buy pressure.
func ofiContribution(prev, cur top) float64 {
	return bidFlow(prev, cur) - askFlow(prev, cur)
}

// bidFlow is the size added at the best bid: the new size when the bid
// improves, the size change when it holds, minus the old size when it
// worsens or disappears.
func bidFlow(prev, cur top) float64 {
	switch {
	case cur.hasBid && (!prev.hasBid || cur.bid.Price > prev.bid.Price):
		return cur.bid.Size
	case cur.hasBid && cur.bid.Price == prev.bid.Price:
		return cur.bid.Size - prev.bid.Size
	case prev.hasBid:
		return -prev.bid.Size
	}
	return 0
}

// askFlow mirrors bidFlow for the ask side, where improving means lower.
func askFlow(prev, cur top) float64 {
	switch {
	case cur.hasAsk && (!prev.hasAsk || cur.ask.Price < prev.ask.Price):
		return cur.ask.Size
	case cur.hasAsk && cur.ask.Price == prev.ask.Price:
		return cur.ask.Size - prev.ask.Size
	case prev.hasAsk:
		return -prev.ask.Size
	}
	return 0
}
