package domain

import "strings"

// Side is the side of a book level, quote or fill.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide accepts BUY/SELL (and BID/ASK) in any case.
func ParseSide(s string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "BID":
		return SideBuy, true
	case "SELL", "ASK":
		return SideSell, true
	}
	return "", false
}

// Sign returns +1 for buys and -1 for sells.
func (s Side) Sign() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// PriceLevel is an aggregated resting size at one price. A Size of 0 in a
// delta means "remove this level".
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// Delta is one level change carried by a price_change event.
type Delta struct {
	Side  Side
	Price float64
	Size  float64
}

// Trade is a last-trade print. Size is 0 when the venue did not report it.
type Trade struct {
	Side       Side    `json:"side"`
	Price      float64 `json:"price"`
	Size       float64 `json:"size"`
	FeeRateBps int64   `json:"fee_rate_bps,omitempty"`
}

// BookState is an immutable image of one asset's order book after an event.
// Bids are strictly descending by price, asks strictly ascending. The level
// slices are never modified once a BookState has been handed out, so states
// may be retained by consumers without copying.
type BookState struct {
	MarketID string       `json:"market_id"`
	AssetID  string       `json:"asset_id"`
	Bids     []PriceLevel `json:"bids"`
	Asks     []PriceLevel `json:"asks"`
	// Crossed is set when best bid >= best ask. Crossed states are excluded
	// from mid, spread, OFI and fill derivations.
	Crossed bool `json:"crossed"`
}

// BestBid returns the top bid level, if any.
func (s BookState) BestBid() (PriceLevel, bool) {
	if len(s.Bids) == 0 {
		return PriceLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the top ask level, if any.
func (s BookState) BestAsk() (PriceLevel, bool) {
	if len(s.Asks) == 0 {
		return PriceLevel{}, false
	}
	return s.Asks[0], true
}

// Valid reports whether both sides are populated and the book is not crossed.
func (s BookState) Valid() bool {
	return len(s.Bids) > 0 && len(s.Asks) > 0 && !s.Crossed
}

// Mid returns (best_bid + best_ask) / 2 for valid states.
func (s BookState) Mid() (float64, bool) {
	if !s.Valid() {
		return 0, false
	}
	return (s.Bids[0].Price + s.Asks[0].Price) / 2, true
}

// Spread returns best_ask - best_bid for valid states.
func (s BookState) Spread() (float64, bool) {
	if !s.Valid() {
		return 0, false
	}
	return s.Asks[0].Price - s.Bids[0].Price, true
}

// Depth sums the sizes of the top n levels on each side. n <= 0 sums every
// level.
func (s BookState) Depth(n int) (bid, ask float64) {
	return sumTop(s.Bids, n), sumTop(s.Asks, n)
}

func sumTop(levels []PriceLevel, n int) float64 {
	if n <= 0 || n > len(levels) {
		n = len(levels)
	}
	var total float64
	for _, l := range levels[:n] {
		total += l.Size
	}
	return total
}
