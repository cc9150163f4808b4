package replay

import (
	"fmt"
	"iter"
	"math"

	"github.com/alanyoungcy/predexchange/internal/domain"
	"github.com/alanyoungcy/predexchange/internal/orderbook"
)

// HeatmapParams configures Heatmap.
type HeatmapParams struct {
	ResolutionMS   int64
	TickSize       float64
	TicksAroundMid int
}

func (p HeatmapParams) validate() error {
	switch {
	case p.ResolutionMS <= 0:
		return fmt.Errorf("replay: resolution_ms must be positive, got %d: %w", p.ResolutionMS, domain.ErrInvalidQuery)
	case p.TickSize <= 0 || p.TickSize > 1:
		return fmt.Errorf("replay: tick_size must be in (0,1], got %g: %w", p.TickSize, domain.ErrInvalidQuery)
	case p.TicksAroundMid < 1:
		return fmt.Errorf("replay: ticks_around_mid must be at least 1, got %d: %w", p.TicksAroundMid, domain.ErrInvalidQuery)
	}
	return nil
}

// Heatmap emits one BookSnapshot per window that saw a valid book, using the
// last valid state in the window. Levels are kept within TicksAroundMid ticks
// of the mid, clamped to [0,1], and aggregated into TickSize bins.
func Heatmap(updates iter.Seq2[orderbook.Update, error], p HeatmapParams) iter.Seq2[domain.BookSnapshot, error] {
	return func(yield func(domain.BookSnapshot, error) bool) {
		if err := p.validate(); err != nil {
			yield(domain.BookSnapshot{}, err)
			return
		}

		var (
			started    bool
			bucket     int64
			pending    domain.BookState
			pendingTS  int64
			hasPending bool
		)
		flush := func() bool {
			if !hasPending {
				return true
			}
			hasPending = false
			return yield(binSnapshot(bucket, pendingTS, pending, p), nil)
		}

		for u, err := range updates {
			if err != nil {
				yield(domain.BookSnapshot{}, err)
				return
			}
			b := bucketStart(u.TS, p.ResolutionMS)
			if started && b != bucket {
				if !flush() {
					return
				}
			}
			started, bucket = true, b
			if !u.Skipped && u.State.Valid() {
				pending, pendingTS, hasPending = u.State, u.TS, true
			}
		}
		flush()
	}
}

func binSnapshot(start, sourceTS int64, s domain.BookState, p HeatmapParams) domain.BookSnapshot {
	mid, _ := s.Mid()
	band := float64(p.TicksAroundMid) * p.TickSize
	lo, hi := math.Max(0, mid-band), math.Min(1, mid+band)
	return domain.BookSnapshot{
		TS:       start,
		SourceTS: sourceTS,
		Mid:      mid,
		Bids:     binLevels(s.Bids, lo, hi, p.TickSize),
		Asks:     binLevels(s.Asks, lo, hi, p.TickSize),
	}
}

// binLevels keeps levels with lo <= price <= hi and sums sizes per tick bin.
// Input order is preserved, and since binning is monotone equal bins are
// always adjacent.
func binLevels(levels []domain.PriceLevel, lo, hi, tick float64) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(levels))
	for _, l := range levels {
		if l.Price < lo || l.Price > hi {
			continue
		}
		bin := orderbook.RoundPrice(math.Round(l.Price/tick) * tick)
		if n := len(out); n > 0 && out[n-1].Price == bin {
			out[n-1].Size += l.Size
			continue
		}
		out = append(out, domain.PriceLevel{Price: bin, Size: l.Size})
	}
	return out
}
