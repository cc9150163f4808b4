// Package sim runs strategies against replayed books with a touch-fill model
// and settles the result into a SimRun.
package sim

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/predexchange/internal/domain"
	"github.com/alanyoungcy/predexchange/internal/orderbook"
	"github.com/alanyoungcy/predexchange/internal/strategy"
)

// Phase is the per-run state machine position.
type Phase int

const (
	PhaseAwaitingBook Phase = iota
	PhaseQuoting
	PhaseFilling
	PhaseSettled
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingBook:
		return "awaiting_book"
	case PhaseQuoting:
		return "quoting"
	case PhaseFilling:
		return "filling"
	case PhaseSettled:
		return "settled"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Engine builds strategies from a registry and simulates them over event
// streams. An Engine is stateless between runs and safe for concurrent use.
type Engine struct {
	strategies *strategy.Registry
	bookEngine orderbook.Engine
	now        func() time.Time
	newID      func() string
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock sets the clock used for SimRun.CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator sets the run id generator.
func WithIDGenerator(f func() string) Option {
	return func(e *Engine) { e.newID = f }
}

// NewEngine returns an Engine using the given registry and book engine.
func NewEngine(strategies *strategy.Registry, bookEngine orderbook.Engine, opts ...Option) *Engine {
	e := &Engine{
		strategies: strategies,
		bookEngine: bookEngine,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run simulates req over events and returns the settled SimRun. Any read
// error, ordering violation, strategy error or cancellation fails the whole
// run; no partial result is returned.
func (e *Engine) Run(ctx context.Context, req domain.SimRequest, events iter.Seq2[domain.RawEvent, error]) (*domain.SimRun, error) {
	s, err := e.strategies.New(req.StrategyName)
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx, strategy.Config{Params: req.Params}); err != nil {
		return nil, fmt.Errorf("sim: init %s: %w: %w", req.StrategyName, domain.ErrStrategyFailure, err)
	}

	recon := orderbook.New(e.bookEngine)
	r := newRun(s, req.FillLatencyMS)
	for u, err := range recon.Replay(ctx, events) {
		if err != nil {
			return nil, fmt.Errorf("sim: %s on %s: %w", req.StrategyName, req.AssetID, err)
		}
		if err := r.step(ctx, u); err != nil {
			return nil, fmt.Errorf("sim: %s on %s at %d: %w", req.StrategyName, req.AssetID, u.TS, err)
		}
	}
	r.phase = PhaseSettled

	return &domain.SimRun{
		RunID:           e.newID(),
		StrategyName:    s.Name(),
		MarketID:        req.MarketID,
		AssetID:         req.AssetID,
		Params:          req.Params,
		StartTS:         req.StartTS,
		EndTS:           req.EndTS,
		EventsProcessed: r.events,
		Fills:           r.fills,
		FillCount:       r.ledger.FillCount(),
		RealizedPnL:     r.ledger.RealizedPnL(),
		FinalInventory:  r.ledger.Inventory(),
		AvgCost:         r.ledger.AvgCost(),
		Diagnostics:     recon.Diagnostics(),
		CreatedAt:       e.now().UTC(),
	}, nil
}

// run is the mutable state of one simulation. It never escapes Run.
type run struct {
	strategy  strategy.Strategy
	latencyMS int64

	phase  Phase
	quotes restingQuotes
	ledger Ledger
	fills  []domain.Fill
	events int64
}

func newRun(s strategy.Strategy, latencyMS int64) *run {
	return &run{strategy: s, latencyMS: latencyMS, fills: []domain.Fill{}}
}

// step consumes one update. Trades fill resting quotes unless the book is
// crossed; valid book mutations first fill against the opposing best level
// and then ask the strategy for a new quote set. While crossed, quotes keep
// resting untouched until an update clears the cross.
func (r *run) step(ctx context.Context, u orderbook.Update) error {
	r.events++

	if u.Trade != nil && len(r.quotes) > 0 && !u.State.Crossed {
		var fills []domain.Fill
		r.quotes, fills = r.quotes.touchTrade(*u.Trade, u.TS+r.latencyMS)
		r.book(fills)
	}

	if !u.Mutated() || !u.State.Valid() {
		return nil
	}
	if r.phase == PhaseAwaitingBook {
		r.phase = PhaseQuoting
	}
	if len(r.quotes) > 0 {
		var fills []domain.Fill
		r.quotes, fills = r.quotes.touchBook(u.State, u.TS+r.latencyMS)
		r.book(fills)
	}

	qs, err := r.strategy.OnBookUpdate(ctx, strategy.Input{
		TS:        u.TS,
		State:     u.State,
		Inventory: r.ledger.Inventory(),
		AvgCost:   r.ledger.AvgCost(),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStrategyFailure, err)
	}
	if r.quotes, err = normalizeQuotes(qs); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStrategyFailure, err)
	}
	r.phase = PhaseQuoting
	return nil
}

func (r *run) book(fills []domain.Fill) {
	if len(fills) == 0 {
		return
	}
	r.phase = PhaseFilling
	for _, f := range fills {
		r.ledger.Apply(f)
		r.fills = append(r.fills, f)
	}
}
