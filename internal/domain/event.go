package domain

import "encoding/json"

// EventType is the canonical kind of a logged market event.
type EventType string

const (
	EventBookSnapshot EventType = "book_snapshot"
	EventPriceChange  EventType = "price_change"
	EventTrade        EventType = "trade"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventBookSnapshot, EventPriceChange, EventTrade:
		return true
	}
	return false
}

// RawEvent is one immutable entry of the append-only event log.
//
// Events of one asset are totally ordered by (IngestTS, Sequence). Sequence
// is strictly increasing per asset and is assigned at ingest time; it is the
// only tie-breaker when two events share an IngestTS.
type RawEvent struct {
	ID         int64           `json:"id,omitempty"`
	Venue      string          `json:"venue"`
	MarketID   string          `json:"market_id"`
	AssetID    string          `json:"asset_id"`
	EventType  EventType       `json:"event_type"`
	ExchangeTS int64           `json:"exchange_ts,omitempty"`
	IngestTS   int64           `json:"ingest_ts"` // unix milliseconds
	Sequence   int64           `json:"sequence"`
	Payload    json.RawMessage `json:"payload"`
}

// Before reports whether e sorts strictly before other in log order.
func (e RawEvent) Before(other RawEvent) bool {
	if e.IngestTS != other.IngestTS {
		return e.IngestTS < other.IngestTS
	}
	return e.Sequence < other.Sequence
}

// MarketCount is the number of logged events for one market.
type MarketCount struct {
	MarketID string `json:"market_id"`
	Count    int64  `json:"count"`
}

// EventStats summarises the event log.
type EventStats struct {
	TotalEvents int64         `json:"total_events"`
	MinIngestTS int64         `json:"min_ingest_ts"`
	MaxIngestTS int64         `json:"max_ingest_ts"`
	ByMarket    []MarketCount `json:"by_market"`
}

// StatsTopMarkets is how many markets EventStats.ByMarket lists.
const StatsTopMarkets = 20
