package sim

import (
	"fmt"

	"github.com/alanyoungcy/predexchange/internal/domain"
	"github.com/alanyoungcy/predexchange/internal/orderbook"
)

// restingQuotes is the strategy's outstanding quote set. Fills use a
// touch rule with no queue position: a quote fills as soon as the opposing
// price reaches it, up to the opposing size.
type restingQuotes []domain.Quote

// normalizeQuotes snaps prices to the book grid and drops empty quotes.
func normalizeQuotes(qs []domain.Quote) (restingQuotes, error) {
	out := make(restingQuotes, 0, len(qs))
	for _, q := range qs {
		if q.Side != domain.SideBuy && q.Side != domain.SideSell {
			return nil, fmt.Errorf("quote side %q", q.Side)
		}
		if q.Price < 0 || q.Price > 1 || q.Size < 0 {
			return nil, fmt.Errorf("quote %s %g@%g out of range", q.Side, q.Size, q.Price)
		}
		if q.Size == 0 {
			continue
		}
		q.Price = orderbook.RoundPrice(q.Price)
		out = append(out, q)
	}
	return out, nil
}

// touchBook fills quotes against the opposing best level of a valid state.
func (rq restingQuotes) touchBook(s domain.BookState, ts int64) (restingQuotes, []domain.Fill) {
	bid, _ := s.BestBid()
	ask, _ := s.BestAsk()
	return rq.fill(ts, func(q domain.Quote) (float64, bool) {
		if q.Side == domain.SideBuy {
			return ask.Size, ask.Price <= q.Price
		}
		return bid.Size, bid.Price >= q.Price
	})
}

// touchTrade fills quotes against a printed trade. A trade without size
// fills the whole quote.
func (rq restingQuotes) touchTrade(t domain.Trade, ts int64) (restingQuotes, []domain.Fill) {
	return rq.fill(ts, func(q domain.Quote) (float64, bool) {
		size := t.Size
		if size == 0 {
			size = q.Size
		}
		if q.Side == domain.SideBuy {
			return size, t.Price <= q.Price
		}
		return size, t.Price >= q.Price
	})
}

// fill applies touch to every quote. Residual size keeps resting.
func (rq restingQuotes) fill(ts int64, touch func(domain.Quote) (float64, bool)) (restingQuotes, []domain.Fill) {
	var fills []domain.Fill
	rest := rq[:0:0]
	for _, q := range rq {
		avail, touched := touch(q)
		if !touched || avail <= 0 {
			rest = append(rest, q)
			continue
		}
		size := min(q.Size, avail)
		fills = append(fills, domain.Fill{TS: ts, Side: q.Side, Price: q.Price, Size: size})
		q.Size -= size
		if q.Size > 0 {
			rest = append(rest, q)
		}
	}
	return rest, fills
}
