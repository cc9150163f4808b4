// Package eventtest builds RawEvents with Polymarket-shaped payloads for
// tests of the replay and simulation layers.
package eventtest

import (
	"encoding/json"
	"iter"
	"strconv"

	"github.com/alanyoungcy/predexchange/internal/domain"
)

// Market is the market id stamped on generated events.
const Market = "0xmarket"

// L is a (price, size) pair.
type L [2]float64

func num(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func levels(ls []L) []map[string]string {
	out := make([]map[string]string, 0, len(ls))
	for _, l := range ls {
		out = append(out, map[string]string{"price": num(l[0]), "size": num(l[1])})
	}
	return out
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Snapshot returns a book_snapshot event.
func Snapshot(asset string, ts, seq int64, bids, asks []L) domain.RawEvent {
	return domain.RawEvent{
		Venue:     "polymarket",
		MarketID:  Market,
		AssetID:   asset,
		EventType: domain.EventBookSnapshot,
		IngestTS:  ts,
		Sequence:  seq,
		Payload: mustJSON(map[string]any{
			"event_type": "book",
			"asset_id":   asset,
			"bids":       levels(bids),
			"asks":       levels(asks),
		}),
	}
}

// Change is one level delta for PriceChange.
type Change struct {
	Side  string
	Price float64
	Size  float64
}

// Bid and Ask build Changes.
func Bid(price, size float64) Change { return Change{Side: "BUY", Price: price, Size: size} }
func Ask(price, size float64) Change { return Change{Side: "SELL", Price: price, Size: size} }

// PriceChange returns a price_change event carrying the given deltas.
func PriceChange(asset string, ts, seq int64, changes ...Change) domain.RawEvent {
	pcs := make([]map[string]string, 0, len(changes))
	for _, c := range changes {
		pcs = append(pcs, map[string]string{
			"asset_id": asset,
			"side":     c.Side,
			"price":    num(c.Price),
			"size":     num(c.Size),
		})
	}
	return domain.RawEvent{
		Venue:     "polymarket",
		MarketID:  Market,
		AssetID:   asset,
		EventType: domain.EventPriceChange,
		IngestTS:  ts,
		Sequence:  seq,
		Payload:   mustJSON(map[string]any{"event_type": "price_change", "price_changes": pcs}),
	}
}

// Trade returns a trade event. A zero size is omitted from the payload.
func Trade(asset string, ts, seq int64, price, size float64) domain.RawEvent {
	p := map[string]any{"event_type": "last_trade_price", "asset_id": asset, "side": "BUY", "price": num(price)}
	if size > 0 {
		p["size"] = num(size)
	}
	return domain.RawEvent{
		Venue:     "polymarket",
		MarketID:  Market,
		AssetID:   asset,
		EventType: domain.EventTrade,
		IngestTS:  ts,
		Sequence:  seq,
		Payload:   mustJSON(p),
	}
}

// Raw returns an event with an arbitrary type and payload.
func Raw(asset string, ts, seq int64, typ domain.EventType, payload string) domain.RawEvent {
	return domain.RawEvent{
		Venue:     "polymarket",
		MarketID:  Market,
		AssetID:   asset,
		EventType: typ,
		IngestTS:  ts,
		Sequence:  seq,
		Payload:   json.RawMessage(payload),
	}
}

// Seq adapts a slice to the EventLog read shape.
func Seq(events ...domain.RawEvent) iter.Seq2[domain.RawEvent, error] {
	return func(yield func(domain.RawEvent, error) bool) {
		for _, ev := range events {
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// Example is the three-event reference stream: a book at t=0, an improved
// bid at t=1000 and a trade at 0.42 at t=1500.
func Example(asset string) []domain.RawEvent {
	return []domain.RawEvent{
		Snapshot(asset, 0, 1, []L{{0.40, 100}}, []L{{0.42, 80}}),
		PriceChange(asset, 1000, 2, Bid(0.41, 50)),
		Trade(asset, 1500, 3, 0.42, 0),
	}
}
