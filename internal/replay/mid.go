package replay

import (
	"iter"

	"github.com/alanyoungcy/predexchange/internal/domain"
	"github.com/alanyoungcy/predexchange/internal/orderbook"
)

// MidSeries yields one point per applied update carrying the last valid mid,
// or nil when no valid book has been seen yet. Skipped events produce no
// point.
func MidSeries(updates iter.Seq2[orderbook.Update, error]) iter.Seq2[domain.MidPoint, error] {
	return func(yield func(domain.MidPoint, error) bool) {
		var (
			last float64
			ok   bool
		)
		for u, err := range updates {
			if err != nil {
				yield(domain.MidPoint{}, err)
				return
			}
			if u.Skipped {
				continue
			}
			if m, valid := u.State.Mid(); valid {
				last, ok = m, true
			}
			pt := domain.MidPoint{TS: u.TS}
			if ok {
				v := last
				pt.Mid = &v
			}
			if !yield(pt, nil) {
				return
			}
		}
	}
}
