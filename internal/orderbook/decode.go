package orderbook

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predexchange/internal/domain"
)

// Payloads follow the Polymarket market channel. Numbers arrive either as
// JSON strings ("0.42") or as JSON numbers; decimal.Decimal accepts both.

type wireLevel struct {
	Price *decimal.Decimal `json:"price"`
	Size  *decimal.Decimal `json:"size"`
}

type bookPayload struct {
	Bids  []wireLevel `json:"bids"`
	Asks  []wireLevel `json:"asks"`
	Buys  []wireLevel `json:"buys"`
	Sells []wireLevel `json:"sells"`
}

type wireChange struct {
	AssetID string           `json:"asset_id"`
	Side    string           `json:"side"`
	Price   *decimal.Decimal `json:"price"`
	Size    *decimal.Decimal `json:"size"`
}

type priceChangePayload struct {
	Changes []wireChange `json:"price_changes"`
	// A payload may also carry a single change inline.
	wireChange
}

type tradePayload struct {
	Side       string           `json:"side"`
	Price      *decimal.Decimal `json:"price"`
	Size       *decimal.Decimal `json:"size"`
	FeeRateBps *decimal.Decimal `json:"fee_rate_bps"`
}

// malformedError carries the diagnostics reason for a rejected event.
type malformedError struct {
	reason string
	detail string
}

func (e *malformedError) Error() string {
	return fmt.Sprintf("orderbook: malformed event (%s): %s", e.reason, e.detail)
}

func (e *malformedError) Unwrap() error { return domain.ErrMalformedEvent }

func malformed(reason, format string, args ...any) error {
	return &malformedError{reason: reason, detail: fmt.Sprintf(format, args...)}
}

func decodeSnapshot(payload json.RawMessage) (bids, asks []domain.PriceLevel, err error) {
	var p bookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, nil, malformed(domain.ReasonBadPayload, "book: %v", err)
	}
	rawBids, rawAsks := p.Bids, p.Asks
	if len(rawBids) == 0 {
		rawBids = p.Buys
	}
	if len(rawAsks) == 0 {
		rawAsks = p.Sells
	}
	if bids, err = toPriceLevels(rawBids); err != nil {
		return nil, nil, err
	}
	if asks, err = toPriceLevels(rawAsks); err != nil {
		return nil, nil, err
	}
	return bids, asks, nil
}

func toPriceLevels(raw []wireLevel) ([]domain.PriceLevel, error) {
	out := make([]domain.PriceLevel, 0, len(raw))
	for i, l := range raw {
		if l.Price == nil || l.Size == nil {
			return nil, malformed(domain.ReasonBadPayload, "level %d: missing price or size", i)
		}
		price, size, err := checkLevel(*l.Price, *l.Size)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.PriceLevel{Price: price, Size: size})
	}
	return out, nil
}

// checkLevel enforces price in [0,1] and size >= 0.
func checkLevel(p, s decimal.Decimal) (float64, float64, error) {
	if p.IsNegative() || p.GreaterThan(decimal.NewFromInt(1)) {
		return 0, 0, malformed(domain.ReasonOutOfRange, "price %s outside [0,1]", p)
	}
	if s.IsNegative() {
		return 0, 0, malformed(domain.ReasonOutOfRange, "negative size %s", s)
	}
	return RoundPrice(p.InexactFloat64()), s.InexactFloat64(), nil
}

// decodeDeltas returns the changes that apply to assetID. Changes tagged with
// a different asset are ignored; untagged changes apply.
func decodeDeltas(payload json.RawMessage, assetID string) ([]domain.Delta, error) {
	var p priceChangePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, malformed(domain.ReasonBadPayload, "price_change: %v", err)
	}
	changes := p.Changes
	if len(changes) == 0 && p.Price != nil {
		changes = []wireChange{p.wireChange}
	}

	out := make([]domain.Delta, 0, len(changes))
	for i, c := range changes {
		if c.AssetID != "" && assetID != "" && c.AssetID != assetID {
			continue
		}
		side, ok := domain.ParseSide(c.Side)
		if !ok {
			return nil, malformed(domain.ReasonBadPayload, "change %d: bad side %q", i, c.Side)
		}
		if c.Price == nil || c.Size == nil {
			return nil, malformed(domain.ReasonBadPayload, "change %d: missing price or size", i)
		}
		price, size, err := checkLevel(*c.Price, *c.Size)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Delta{Side: side, Price: price, Size: size})
	}
	if len(out) == 0 {
		return nil, malformed(domain.ReasonNoChanges, "price_change carries no changes for %s", assetID)
	}
	return out, nil
}

func decodeTrade(payload json.RawMessage) (domain.Trade, error) {
	var p tradePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return domain.Trade{}, malformed(domain.ReasonBadPayload, "trade: %v", err)
	}
	if p.Price == nil {
		return domain.Trade{}, malformed(domain.ReasonBadPayload, "trade: missing price")
	}
	size := decimal.Zero
	if p.Size != nil {
		size = *p.Size
	}
	price, sz, err := checkLevel(*p.Price, size)
	if err != nil {
		return domain.Trade{}, err
	}
	t := domain.Trade{Price: price, Size: sz}
	if side, ok := domain.ParseSide(p.Side); ok {
		t.Side = side
	}
	if p.FeeRateBps != nil {
		t.FeeRateBps = p.FeeRateBps.IntPart()
	}
	return t, nil
}
