// Package orderbook rebuilds L2 order-book state from the raw event log.
//
// Two interchangeable Book engines are provided and picked at construction
// time: a hash-map book that sorts on read, and a ladder book that keeps both
// sides sorted by integer price ticks. Both produce identical states for the
// same input.
package orderbook

import (
	"fmt"
	"math"
	"strings"

	"github.com/alanyoungcy/predexchange/internal/domain"
)

// Engine names a Book implementation.
type Engine string

const (
	EngineMap    Engine = "map"
	EngineLadder Engine = "ladder"
)

// ParseEngine maps a config value to an Engine. Empty selects the ladder.
func ParseEngine(s string) (Engine, error) {
	switch Engine(strings.ToLower(strings.TrimSpace(s))) {
	case "", EngineLadder:
		return EngineLadder, nil
	case EngineMap:
		return EngineMap, nil
	}
	return "", fmt.Errorf("orderbook: unknown engine %q (valid: map, ladder)", s)
}

// Book is a mutable L2 book for a single asset. Implementations are owned by
// one reconstruction pass and are not safe for concurrent use.
type Book interface {
	// Reset drops every level on both sides.
	Reset()
	// Set inserts or replaces the level at price. A size of 0 removes it.
	Set(side domain.Side, price, size float64)
	// Levels returns freshly allocated copies of both sides, bids descending
	// and asks ascending.
	Levels() (bids, asks []domain.PriceLevel)
}

// NewBook returns an empty Book for the given engine.
func NewBook(e Engine) Book {
	if e == EngineMap {
		return newMapBook()
	}
	return newLadderBook()
}

// priceScale is the resolution of the price grid: prices are kept to 1e-6.
const priceScale = 1_000_000

// PriceTicks converts a price to integer grid ticks.
func PriceTicks(p float64) int64 {
	return int64(math.Round(p * priceScale))
}

// RoundPrice snaps p to the 1e-6 price grid.
func RoundPrice(p float64) float64 {
	return float64(PriceTicks(p)) / priceScale
}
