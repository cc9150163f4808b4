package orderbook

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/alanyoungcy/predexchange/internal/domain"
)

// Update is the book state after one consumed event.
type Update struct {
	TS       int64
	Sequence int64
	Type     domain.EventType
	// State is the book after the event. For trades and skipped events it is
	// the unchanged prior state.
	State domain.BookState
	// Trade is set for trade events.
	Trade *domain.Trade
	// Skipped marks events that were malformed or could not be applied.
	Skipped bool
}

// Mutated reports whether the event changed the book.
func (u Update) Mutated() bool {
	return !u.Skipped && (u.Type == domain.EventBookSnapshot || u.Type == domain.EventPriceChange)
}

// Reconstructor folds one asset's ordered event stream into book states. It
// holds no clock or random state, so equal inputs give equal outputs.
type Reconstructor struct {
	book Book

	assetID  string
	marketID string
	hasBook  bool
	state    domain.BookState

	seen    bool
	lastTS  int64
	lastSeq int64

	diag domain.Diagnostics
}

// New returns a Reconstructor backed by the given engine.
func New(engine Engine) *Reconstructor {
	return &Reconstructor{book: NewBook(engine)}
}

// Reset forgets all state, including the bound asset and diagnostics.
func (r *Reconstructor) Reset() {
	r.book.Reset()
	r.assetID, r.marketID = "", ""
	r.hasBook = false
	r.state = domain.BookState{}
	r.seen = false
	r.lastTS, r.lastSeq = 0, 0
	r.diag = domain.Diagnostics{}
}

// Diagnostics returns a copy of the anomaly tally so far.
func (r *Reconstructor) Diagnostics() domain.Diagnostics {
	return r.diag.Clone()
}

// State returns the current book state.
func (r *Reconstructor) State() domain.BookState {
	return r.state
}

// Replay resets the reconstructor and lazily yields one Update per input
// event. The first error ends the sequence: a read error from events, the
// context error on cancellation, or a wrapped domain.ErrOutOfOrder.
func (r *Reconstructor) Replay(ctx context.Context, events iter.Seq2[domain.RawEvent, error]) iter.Seq2[Update, error] {
	return func(yield func(Update, error) bool) {
		r.Reset()
		for ev, err := range events {
			if err != nil {
				yield(Update{}, err)
				return
			}
			if err := ctx.Err(); err != nil {
				yield(Update{}, err)
				return
			}
			u, err := r.Apply(ev)
			if err != nil {
				yield(Update{}, err)
				return
			}
			if !yield(u, nil) {
				return
			}
		}
	}
}

// Apply consumes a single event. The first event binds the asset. Malformed
// events and events for another asset are tallied and reported as skipped;
// the only error is domain.ErrOutOfOrder.
func (r *Reconstructor) Apply(ev domain.RawEvent) (Update, error) {
	u := Update{TS: ev.IngestTS, Sequence: ev.Sequence, Type: ev.EventType}

	if r.assetID == "" {
		r.assetID = ev.AssetID
		r.state.AssetID = ev.AssetID
	} else if ev.AssetID != r.assetID {
		return r.skip(u, malformed(domain.ReasonAssetMismatch, "event for %s in %s stream", ev.AssetID, r.assetID)), nil
	}

	if r.seen && (ev.IngestTS < r.lastTS || (ev.IngestTS == r.lastTS && ev.Sequence <= r.lastSeq)) {
		return Update{}, fmt.Errorf("orderbook: %s event (%d,%d) after (%d,%d): %w",
			ev.AssetID, ev.IngestTS, ev.Sequence, r.lastTS, r.lastSeq, domain.ErrOutOfOrder)
	}
	r.seen = true
	r.lastTS, r.lastSeq = ev.IngestTS, ev.Sequence
	if ev.MarketID != "" && ev.MarketID != r.marketID {
		r.marketID = ev.MarketID
		r.state.MarketID = ev.MarketID
	}

	switch ev.EventType {
	case domain.EventBookSnapshot:
		bids, asks, err := decodeSnapshot(ev.Payload)
		if err != nil {
			return r.skip(u, err), nil
		}
		r.book.Reset()
		for _, l := range bids {
			r.book.Set(domain.SideBuy, l.Price, l.Size)
		}
		for _, l := range asks {
			r.book.Set(domain.SideSell, l.Price, l.Size)
		}
		r.hasBook = true
		r.refresh()

	case domain.EventPriceChange:
		deltas, err := decodeDeltas(ev.Payload, r.assetID)
		if err != nil {
			return r.skip(u, err), nil
		}
		if !r.hasBook {
			r.diag.DeltasBeforeBook++
			u.Skipped = true
			u.State = r.state
			return u, nil
		}
		for _, d := range deltas {
			r.book.Set(d.Side, d.Price, d.Size)
		}
		r.refresh()

	case domain.EventTrade:
		t, err := decodeTrade(ev.Payload)
		if err != nil {
			return r.skip(u, err), nil
		}
		u.Trade = &t

	default:
		return r.skip(u, malformed(domain.ReasonUnknownType, "event type %q", ev.EventType)), nil
	}

	u.State = r.state
	return u, nil
}

// refresh publishes a new immutable state from the book.
func (r *Reconstructor) refresh() {
	bids, asks := r.book.Levels()
	crossed := len(bids) > 0 && len(asks) > 0 && bids[0].Price >= asks[0].Price
	if crossed {
		r.diag.CrossedStates++
	}
	r.state = domain.BookState{
		MarketID: r.marketID,
		AssetID:  r.assetID,
		Bids:     bids,
		Asks:     asks,
		Crossed:  crossed,
	}
}

func (r *Reconstructor) skip(u Update, err error) Update {
	reason := domain.ReasonBadPayload
	var me *malformedError
	if errors.As(err, &me) {
		reason = me.reason
	}
	r.diag.AddMalformed(reason)
	u.Skipped = true
	u.State = r.state
	return u
}
