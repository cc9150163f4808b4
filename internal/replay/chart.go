// Package replay derives time series from reconstructed book states: fixed
// resolution chart buckets, tick-binned heatmap snapshots and the mid-only
// series. Every function consumes a lazy update stream and produces a lazy
// result stream; nothing is materialised beyond the current window.
package replay

import (
	"fmt"
	"iter"

	"github.com/alanyoungcy/predexchange/internal/domain"
	"github.com/alanyoungcy/predexchange/internal/orderbook"
)

// Chart partitions updates into half-open buckets of resolutionMS starting at
// the first event's bucket boundary. Each bucket reports mid, spread and top
// depthN depth from the last valid state at or before the bucket's end, plus
// the OFI accumulated inside the bucket. Windows without events still emit a
// bucket carrying the last known values forward. On error the buckets already
// yielded form a valid prefix.
func Chart(updates iter.Seq2[orderbook.Update, error], resolutionMS int64, depthN int) iter.Seq2[domain.ChartBucket, error] {
	return func(yield func(domain.ChartBucket, error) bool) {
		if resolutionMS <= 0 {
			yield(domain.ChartBucket{}, fmt.Errorf("replay: resolution_ms must be positive, got %d: %w", resolutionMS, domain.ErrInvalidQuery))
			return
		}

		var (
			started bool
			bucket  int64
			last    domain.BookState
			hasLast bool
			flow    ofiTracker
		)
		emit := func() bool {
			return yield(newChartBucket(bucket, last, hasLast, depthN, flow.take()), nil)
		}

		for u, err := range updates {
			if err != nil {
				yield(domain.ChartBucket{}, err)
				return
			}
			b := bucketStart(u.TS, resolutionMS)
			if !started {
				started, bucket = true, b
			}
			for bucket < b {
				if !emit() {
					return
				}
				bucket += resolutionMS
			}
			if !u.Mutated() || u.State.Crossed {
				continue
			}
			// One-sided states still move OFI: a side emptying out is
			// the removal of its best level.
			flow.observe(u.State)
			if u.State.Valid() {
				last, hasLast = u.State, true
			}
		}
		if started {
			emit()
		}
	}
}

func newChartBucket(start int64, s domain.BookState, ok bool, depthN int, ofi float64) domain.ChartBucket {
	b := domain.ChartBucket{BucketStartTS: start, OFI: ofi}
	if !ok {
		return b
	}
	mid, _ := s.Mid()
	spread, _ := s.Spread()
	bid, ask := s.Depth(depthN)
	b.Mid, b.Spread, b.DepthBid, b.DepthAsk = &mid, &spread, &bid, &ask
	return b
}

// bucketStart floors ts to a multiple of res.
func bucketStart(ts, res int64) int64 {
	b := ts / res * res
	if ts < 0 && ts%res != 0 {
		b -= res
	}
	return b
}

// Collect drains seq. On error it returns the items yielded so far together
// with the error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}
