package polymarket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/alanyoungcy/predexchange/internal/domain"
)

// Venue is the venue name stamped on every normalised event.
const Venue = "polymarket"

// Market channel event types.
const (
	msgBook           = "book"
	msgPriceChange    = "price_change"
	msgLastTradePrice = "last_trade_price"
)

// flexInt64 unmarshals from a JSON number or a numeric string, since the
// market channel sends "timestamp" as a string.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexInt64(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// Some frames carry fractional seconds-style values.
		fl, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return fmt.Errorf("timestamp %q: %w", s, err)
		}
		n = int64(fl)
	}
	*f = flexInt64(n)
	return nil
}

// WSMessage is the envelope shared by every market channel frame. Only the
// routing fields are decoded; the level data stays in the raw payload.
type WSMessage struct {
	EventType    string            `json:"event_type"`
	Market       string            `json:"market"`
	MarketID     string            `json:"market_id"`
	AssetID      string            `json:"asset_id"`
	Timestamp    flexInt64         `json:"timestamp"`
	PriceChanges []json.RawMessage `json:"price_changes"`
}

func (m *WSMessage) marketID() string {
	if m.Market != "" {
		return m.Market
	}
	return m.MarketID
}

// priceChangePayload is the per-asset payload logged for a price_change frame.
type priceChangePayload struct {
	EventType    string            `json:"event_type"`
	Market       string            `json:"market,omitempty"`
	Timestamp    int64             `json:"timestamp,omitempty"`
	PriceChanges []json.RawMessage `json:"price_changes"`
}

// SubscribeMessage is the market channel subscription command.
type SubscribeMessage struct {
	Type      string   `json:"type"`
	AssetsIDs []string `json:"assets_ids"`
}

// NewMarketSubscription builds the subscription for the given assets.
func NewMarketSubscription(assetIDs []string) SubscribeMessage {
	return SubscribeMessage{Type: "MARKET", AssetsIDs: assetIDs}
}

// Normalize converts one WebSocket frame into RawEvents. A frame may hold a
// single message or a JSON array of them. Messages of other types and
// non-JSON keep-alive frames yield nothing. The returned events carry no
// ingest_ts or sequence; the recorder assigns both.
//
// A price_change message touching several assets becomes one event per asset,
// each payload keeping only that asset's entries.
func Normalize(raw []byte) ([]domain.RawEvent, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}

	switch raw[0] {
	case '[':
		var msgs []json.RawMessage
		if err := json.Unmarshal(raw, &msgs); err != nil {
			return nil, fmt.Errorf("polymarket: decode frame: %w", err)
		}
		var out []domain.RawEvent
		for _, m := range msgs {
			evs, err := normalizeOne(m)
			if err != nil {
				return out, err
			}
			out = append(out, evs...)
		}
		return out, nil
	case '{':
		return normalizeOne(raw)
	default:
		// PONG and other text frames.
		return nil, nil
	}
}

func normalizeOne(raw json.RawMessage) ([]domain.RawEvent, error) {
	var msg WSMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("polymarket: decode message: %w", err)
	}

	base := domain.RawEvent{
		Venue:      Venue,
		MarketID:   msg.marketID(),
		ExchangeTS: int64(msg.Timestamp),
	}

	switch msg.EventType {
	case msgBook:
		if msg.AssetID == "" {
			return nil, fmt.Errorf("polymarket: book message without asset_id")
		}
		ev := base
		ev.AssetID = msg.AssetID
		ev.EventType = domain.EventBookSnapshot
		ev.Payload = append(json.RawMessage(nil), raw...)
		return []domain.RawEvent{ev}, nil

	case msgLastTradePrice:
		if msg.AssetID == "" {
			return nil, fmt.Errorf("polymarket: trade message without asset_id")
		}
		ev := base
		ev.AssetID = msg.AssetID
		ev.EventType = domain.EventTrade
		ev.Payload = append(json.RawMessage(nil), raw...)
		return []domain.RawEvent{ev}, nil

	case msgPriceChange:
		return splitPriceChange(base, &msg, raw)

	default:
		return nil, nil
	}
}

// splitPriceChange groups price_changes entries by asset, preserving the
// order in which assets first appear.
func splitPriceChange(base domain.RawEvent, msg *WSMessage, raw json.RawMessage) ([]domain.RawEvent, error) {
	if len(msg.PriceChanges) == 0 {
		// Legacy single-asset frame with the change inline.
		if msg.AssetID == "" {
			return nil, fmt.Errorf("polymarket: price_change without asset_id")
		}
		ev := base
		ev.AssetID = msg.AssetID
		ev.EventType = domain.EventPriceChange
		ev.Payload = append(json.RawMessage(nil), raw...)
		return []domain.RawEvent{ev}, nil
	}

	var order []string
	byAsset := make(map[string][]json.RawMessage)
	for _, entry := range msg.PriceChanges {
		var head struct {
			AssetID string `json:"asset_id"`
		}
		if err := json.Unmarshal(entry, &head); err != nil {
			return nil, fmt.Errorf("polymarket: decode price change: %w", err)
		}
		asset := head.AssetID
		if asset == "" {
			asset = msg.AssetID
		}
		if asset == "" {
			continue
		}
		if _, ok := byAsset[asset]; !ok {
			order = append(order, asset)
		}
		byAsset[asset] = append(byAsset[asset], entry)
	}

	out := make([]domain.RawEvent, 0, len(order))
	for _, asset := range order {
		payload, err := json.Marshal(priceChangePayload{
			EventType:    msgPriceChange,
			Market:       base.MarketID,
			Timestamp:    base.ExchangeTS,
			PriceChanges: byAsset[asset],
		})
		if err != nil {
			return nil, fmt.Errorf("polymarket: encode price change: %w", err)
		}
		ev := base
		ev.AssetID = asset
		ev.EventType = domain.EventPriceChange
		ev.Payload = payload
		out = append(out, ev)
	}
	return out, nil
}
