// Package memory provides in-process implementations of the storage
// contracts, used by tests and the memory storage backend.
package memory

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/predexchange/internal/domain"
)

// EventLog is an in-memory domain.EventLog. Events are kept per asset,
// ordered by (ingest_ts, sequence); a duplicate key is ignored.
type EventLog struct {
	mu      sync.RWMutex
	byAsset map[string][]domain.RawEvent
	nextID  int64
	now     func() time.Time
}

// NewEventLog returns an empty EventLog.
func NewEventLog() *EventLog {
	return &EventLog{byAsset: make(map[string][]domain.RawEvent), now: time.Now}
}

// Append inserts events in order.
func (l *EventLog) Append(ctx context.Context, events []domain.RawEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range events {
		if ev.AssetID == "" {
			return fmt.Errorf("memory: append event without asset_id")
		}
		evs := l.byAsset[ev.AssetID]
		i := sort.Search(len(evs), func(i int) bool { return !evs[i].Before(ev) })
		if i < len(evs) && evs[i].IngestTS == ev.IngestTS && evs[i].Sequence == ev.Sequence {
			continue
		}
		l.nextID++
		ev.ID = l.nextID
		evs = append(evs, domain.RawEvent{})
		copy(evs[i+1:], evs[i:])
		evs[i] = ev
		l.byAsset[ev.AssetID] = evs
	}
	return nil
}

// Read yields the asset's events in [startTS, endTS]. An endTS of 0 means
// now. The range is copied when iteration starts.
func (l *EventLog) Read(ctx context.Context, assetID string, startTS, endTS int64) iter.Seq2[domain.RawEvent, error] {
	if endTS == 0 {
		endTS = l.now().UnixMilli()
	}
	return func(yield func(domain.RawEvent, error) bool) {
		l.mu.RLock()
		evs := l.byAsset[assetID]
		lo := sort.Search(len(evs), func(i int) bool { return evs[i].IngestTS >= startTS })
		hi := sort.Search(len(evs), func(i int) bool { return evs[i].IngestTS > endTS })
		var window []domain.RawEvent
		if lo < hi {
			window = append(window, evs[lo:hi]...)
		}
		l.mu.RUnlock()

		for _, ev := range window {
			if err := ctx.Err(); err != nil {
				yield(domain.RawEvent{}, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// Stats summarises the log.
func (l *EventLog) Stats(ctx context.Context) (domain.EventStats, error) {
	if err := ctx.Err(); err != nil {
		return domain.EventStats{}, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	var st domain.EventStats
	counts := make(map[string]int64)
	first := true
	for _, evs := range l.byAsset {
		if len(evs) == 0 {
			continue
		}
		st.TotalEvents += int64(len(evs))
		lo, hi := evs[0].IngestTS, evs[len(evs)-1].IngestTS
		if first || lo < st.MinIngestTS {
			st.MinIngestTS = lo
		}
		if first || hi > st.MaxIngestTS {
			st.MaxIngestTS = hi
		}
		first = false
		for _, ev := range evs {
			counts[ev.MarketID]++
		}
	}
	st.ByMarket = topMarkets(counts, domain.StatsTopMarkets)
	return st, nil
}

// LastSequence returns the highest stored sequence for the asset.
func (l *EventLog) LastSequence(_ context.Context, assetID string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var last int64
	for _, ev := range l.byAsset[assetID] {
		last = max(last, ev.Sequence)
	}
	return last, nil
}

func topMarkets(counts map[string]int64, n int) []domain.MarketCount {
	out := make([]domain.MarketCount, 0, len(counts))
	for m, c := range counts {
		out = append(out, domain.MarketCount{MarketID: m, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].MarketID < out[j].MarketID
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
