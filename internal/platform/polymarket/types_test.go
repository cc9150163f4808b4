package polymarket

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predexchange/internal/domain"
	"github.com/alanyoungcy/predexchange/internal/orderbook"
)

const bookFrame = `{
  "event_type": "book",
  "asset_id": "A",
  "market": "0xm",
  "bids": [{"price": "0.40", "size": "100"}],
  "asks": [{"price": "0.42", "size": "80"}],
  "timestamp": "1700000000123",
  "hash": "0xabc"
}`

const priceChangeFrame = `{
  "event_type": "price_change",
  "market": "0xm",
  "timestamp": "1700000001000",
  "price_changes": [
    {"asset_id": "A", "side": "BUY", "price": "0.41", "size": "50", "best_bid": "0.41", "best_ask": "0.42"},
    {"asset_id": "B", "side": "SELL", "price": "0.59", "size": "20", "best_bid": "0.57", "best_ask": "0.59"},
    {"asset_id": "A", "side": "SELL", "price": "0.43", "size": "5", "best_bid": "0.41", "best_ask": "0.42"}
  ]
}`

const tradeFrame = `{
  "event_type": "last_trade_price",
  "asset_id": "A",
  "market": "0xm",
  "side": "BUY",
  "price": "0.42",
  "size": "3",
  "fee_rate_bps": "0",
  "timestamp": 1700000001500
}`

func TestNormalizeBook(t *testing.T) {
	evs, err := Normalize([]byte(bookFrame))
	require.NoError(t, err)
	require.Len(t, evs, 1)

	ev := evs[0]
	assert.Equal(t, Venue, ev.Venue)
	assert.Equal(t, "0xm", ev.MarketID)
	assert.Equal(t, "A", ev.AssetID)
	assert.Equal(t, domain.EventBookSnapshot, ev.EventType)
	assert.Equal(t, int64(1700000000123), ev.ExchangeTS)
	assert.Zero(t, ev.IngestTS)
	assert.Zero(t, ev.Sequence)
	assert.JSONEq(t, bookFrame, string(ev.Payload))
}

func TestNormalizeSplitsPriceChangeByAsset(t *testing.T) {
	evs, err := Normalize([]byte(priceChangeFrame))
	require.NoError(t, err)
	require.Len(t, evs, 2)

	assert.Equal(t, "A", evs[0].AssetID)
	assert.Equal(t, "B", evs[1].AssetID)
	for _, ev := range evs {
		assert.Equal(t, domain.EventPriceChange, ev.EventType)
		assert.Equal(t, int64(1700000001000), ev.ExchangeTS)
	}

	var a struct {
		PriceChanges []struct {
			AssetID string `json:"asset_id"`
			Side    string `json:"side"`
		} `json:"price_changes"`
	}
	require.NoError(t, json.Unmarshal(evs[0].Payload, &a))
	require.Len(t, a.PriceChanges, 2)
	assert.Equal(t, "BUY", a.PriceChanges[0].Side)
	assert.Equal(t, "SELL", a.PriceChanges[1].Side)
}

func TestNormalizeTrade(t *testing.T) {
	evs, err := Normalize([]byte(tradeFrame))
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, domain.EventTrade, evs[0].EventType)
	assert.Equal(t, int64(1700000001500), evs[0].ExchangeTS)
}

func TestNormalizeArrayFrame(t *testing.T) {
	frame := "[" + bookFrame + "," + tradeFrame + "]"
	evs, err := Normalize([]byte(frame))
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, domain.EventBookSnapshot, evs[0].EventType)
	assert.Equal(t, domain.EventTrade, evs[1].EventType)
}

func TestNormalizeIgnores(t *testing.T) {
	for name, frame := range map[string]string{
		"pong":          "PONG",
		"empty":         "  ",
		"tick size":     `{"event_type":"tick_size_change","asset_id":"A"}`,
		"empty array":   `[]`,
		"no event type": `{"asset_id":"A"}`,
	} {
		t.Run(name, func(t *testing.T) {
			evs, err := Normalize([]byte(frame))
			require.NoError(t, err)
			assert.Empty(t, evs)
		})
	}
}

func TestNormalizeRejects(t *testing.T) {
	for name, frame := range map[string]string{
		"bad json":         `{"event_type":`,
		"book no asset":    `{"event_type":"book","bids":[],"asks":[]}`,
		"trade no asset":   `{"event_type":"last_trade_price","price":"0.5"}`,
		"bad timestamp":    `{"event_type":"book","asset_id":"A","timestamp":"soon"}`,
		"change no asset":  `{"event_type":"price_change","side":"BUY","price":"0.5","size":"1"}`,
		"bad change entry": `{"event_type":"price_change","price_changes":[42]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Normalize([]byte(frame))
			assert.Error(t, err)
		})
	}
}

func TestNormalizedEventsReplay(t *testing.T) {
	var events []domain.RawEvent
	for _, frame := range []string{bookFrame, priceChangeFrame, tradeFrame} {
		evs, err := Normalize([]byte(frame))
		require.NoError(t, err)
		for _, ev := range evs {
			if ev.AssetID == "A" {
				events = append(events, ev)
			}
		}
	}
	require.Len(t, events, 3)

	r := orderbook.New(orderbook.EngineMap)
	for i, ev := range events {
		ev.IngestTS = int64(i) * 1000
		ev.Sequence = int64(i + 1)
		u, err := r.Apply(ev)
		require.NoError(t, err)
		assert.False(t, u.Skipped, "event %d", i)
	}

	state := r.State()
	mid, ok := state.Mid()
	require.True(t, ok)
	assert.InDelta(t, 0.415, mid, 1e-9)
	assert.Len(t, state.Asks, 2)
	assert.Zero(t, r.Diagnostics().Malformed)
}
