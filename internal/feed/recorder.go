// Package feed turns live market channel frames into logged RawEvents.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/predexchange/internal/domain"
	"github.com/alanyoungcy/predexchange/internal/orderbook"
	"github.com/alanyoungcy/predexchange/internal/platform/polymarket"
)

// RecorderConfig tunes batching and the live book engine.
type RecorderConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	// MaxBuffered bounds the events held while the log is failing. The
	// oldest are dropped beyond it. Zero means 50 batches.
	MaxBuffered int
	Engine      orderbook.Engine
}

// RecorderStats counts what the recorder has seen.
type RecorderStats struct {
	Frames   int64 `json:"frames"`
	Rejected int64 `json:"rejected"`
	Events   int64 `json:"events"`
	Flushed  int64 `json:"flushed"`
	Dropped  int64 `json:"dropped"`
}

// Recorder stamps normalised events with ingest_ts and sequence and appends
// them to the event log in batches. It also keeps a live book per asset and
// publishes the last mid whenever it changes.
//
// For each asset, events leave the recorder strictly ordered by
// (ingest_ts, sequence): ingest_ts is clamped to never go backwards and
// sequences come from the Sequencer.
type Recorder struct {
	log    domain.EventLog
	seq    domain.Sequencer
	mids   domain.MidCache  // optional
	bus    domain.SignalBus // optional
	cfg    RecorderConfig
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	buf     []domain.RawEvent
	lastTS  map[string]int64
	books   map[string]*orderbook.Reconstructor
	lastMid map[string]float64
	midVer  map[string]uint64
	stats   RecorderStats

	flushMu sync.Mutex
	// pubMu orders mid publishes; it is never held with mu across I/O.
	pubMu sync.Mutex
}

// midUpdate is a changed mid waiting to be published. ver is the asset's
// mid version when it was produced; older versions are never published
// after newer ones.
type midUpdate struct {
	mid domain.LastMid
	ver uint64
}

// RecorderOption customises a Recorder.
type RecorderOption func(*Recorder)

// WithMidCache keeps the last mid of every recorded asset in c.
func WithMidCache(c domain.MidCache) RecorderOption {
	return func(r *Recorder) { r.mids = c }
}

// WithSignalBus publishes LastMid updates on domain.MidChannel.
func WithSignalBus(b domain.SignalBus) RecorderOption {
	return func(r *Recorder) { r.bus = b }
}

// WithRecorderClock overrides the ingest clock.
func WithRecorderClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a Recorder appending to log.
func NewRecorder(log domain.EventLog, seq domain.Sequencer, cfg RecorderConfig, logger *slog.Logger, opts ...RecorderOption) *Recorder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.MaxBuffered <= 0 {
		cfg.MaxBuffered = 50 * cfg.BatchSize
	}
	if cfg.Engine == "" {
		cfg.Engine = orderbook.EngineMap
	}
	r := &Recorder{
		log:     log,
		seq:     seq,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "recorder")),
		now:     time.Now,
		lastTS:  make(map[string]int64),
		books:   make(map[string]*orderbook.Reconstructor),
		lastMid: make(map[string]float64),
		midVer:  make(map[string]uint64),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Seed raises each asset's sequence counter to the highest sequence already
// logged, so a restarted recorder never reuses one.
func (r *Recorder) Seed(ctx context.Context, src domain.SequenceSource, assetIDs []string) error {
	for _, id := range assetIDs {
		last, err := src.LastSequence(ctx, id)
		if err != nil {
			return fmt.Errorf("feed: seed %s: %w", id, err)
		}
		if err := r.seq.Seed(ctx, id, last); err != nil {
			return fmt.Errorf("feed: seed %s: %w", id, err)
		}
	}
	return nil
}

// HandleFrame is a polymarket.MessageHandler bound to ctx. Failures are
// logged, never returned, so one bad frame cannot stop the feed.
func (r *Recorder) HandleFrame(ctx context.Context) polymarket.MessageHandler {
	return func(raw []byte) {
		if err := r.Record(ctx, raw); err != nil {
			r.logger.Warn("record frame failed", slog.String("error", err.Error()))
		}
	}
}

// Record normalises one frame and buffers its events, flushing when the
// batch is full.
func (r *Recorder) Record(ctx context.Context, raw []byte) error {
	events, err := polymarket.Normalize(raw)

	r.mu.Lock()
	r.stats.Frames++
	if err != nil {
		r.stats.Rejected++
	}
	r.mu.Unlock()
	if err != nil && len(events) == 0 {
		return err
	}

	var (
		stampErr error
		mids     []midUpdate
	)
	for _, ev := range events {
		m, e := r.stamp(ctx, ev)
		if e != nil {
			stampErr = e
			break
		}
		if m != nil {
			mids = append(mids, *m)
		}
	}
	r.publishMids(ctx, mids)

	r.mu.Lock()
	full := len(r.buf) >= r.cfg.BatchSize
	r.mu.Unlock()
	if full {
		if ferr := r.Flush(ctx); ferr != nil {
			return errors.Join(err, stampErr, ferr)
		}
	}
	return errors.Join(err, stampErr)
}

// stamp assigns ingest_ts and sequence, buffers the event and feeds the live
// book. It returns the mid to publish when the event changed it. The
// sequence is taken under mu so that (ingest_ts, sequence) stays ordered.
func (r *Recorder) stamp(ctx context.Context, ev domain.RawEvent) (*midUpdate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := r.now().UnixMilli()
	if last, ok := r.lastTS[ev.AssetID]; ok && ts < last {
		ts = last
	}
	seq, err := r.seq.Next(ctx, ev.AssetID)
	if err != nil {
		return nil, fmt.Errorf("feed: sequence %s: %w", ev.AssetID, err)
	}
	r.lastTS[ev.AssetID] = ts
	ev.IngestTS = ts
	ev.Sequence = seq

	r.buf = append(r.buf, ev)
	r.stats.Events++
	if over := len(r.buf) - r.cfg.MaxBuffered; over > 0 {
		r.buf = append(r.buf[:0:0], r.buf[over:]...)
		r.stats.Dropped += int64(over)
		r.logger.Warn("event buffer full, dropped oldest", slog.Int("dropped", over))
	}

	return r.trackMid(ev), nil
}

// trackMid applies ev to the asset's live book and reports a changed mid.
// Caller holds r.mu.
func (r *Recorder) trackMid(ev domain.RawEvent) *midUpdate {
	if r.mids == nil && r.bus == nil {
		return nil
	}
	book, ok := r.books[ev.AssetID]
	if !ok {
		book = orderbook.New(r.cfg.Engine)
		r.books[ev.AssetID] = book
	}
	u, err := book.Apply(ev)
	if err != nil {
		// A sequence reset upstream; start the live book over.
		r.logger.Warn("live book reset", slog.String("asset_id", ev.AssetID), slog.String("error", err.Error()))
		book.Reset()
		return nil
	}
	if !u.Mutated() {
		return nil
	}
	mid, ok := u.State.Mid()
	if !ok || u.State.Crossed {
		return nil
	}
	if prev, seen := r.lastMid[ev.AssetID]; seen && prev == mid {
		return nil
	}
	r.lastMid[ev.AssetID] = mid
	r.midVer[ev.AssetID]++

	return &midUpdate{
		mid: domain.LastMid{
			MarketID:  u.State.MarketID,
			AssetID:   ev.AssetID,
			Mid:       mid,
			UpdatedAt: time.UnixMilli(ev.IngestTS).UTC(),
		},
		ver: r.midVer[ev.AssetID],
	}
}

// publishMids writes changed mids to the cache and the bus without holding
// mu. An update superseded by a newer one for the same asset is skipped.
func (r *Recorder) publishMids(ctx context.Context, updates []midUpdate) {
	if len(updates) == 0 {
		return
	}
	r.pubMu.Lock()
	defer r.pubMu.Unlock()

	for _, u := range updates {
		r.mu.Lock()
		stale := r.midVer[u.mid.AssetID] != u.ver
		r.mu.Unlock()
		if stale {
			continue
		}

		if r.mids != nil {
			if err := r.mids.SetMid(ctx, u.mid); err != nil {
				r.logger.Debug("set mid failed", slog.String("asset_id", u.mid.AssetID), slog.String("error", err.Error()))
			}
		}
		if r.bus != nil {
			payload, err := json.Marshal(u.mid)
			if err == nil {
				err = r.bus.Publish(ctx, domain.MidChannel(u.mid.AssetID), payload)
			}
			if err != nil {
				r.logger.Debug("publish mid failed", slog.String("asset_id", u.mid.AssetID), slog.String("error", err.Error()))
			}
		}
	}
}

// Flush appends everything buffered. On failure the events are put back in
// front of anything buffered since, so order is kept for the next attempt.
func (r *Recorder) Flush(ctx context.Context) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	batch := r.buf
	r.buf = nil
	r.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	if err := r.log.Append(ctx, batch); err != nil {
		r.mu.Lock()
		r.buf = append(batch, r.buf...)
		r.mu.Unlock()
		return fmt.Errorf("feed: append %d events: %w", len(batch), err)
	}

	r.mu.Lock()
	r.stats.Flushed += int64(len(batch))
	r.mu.Unlock()
	r.logger.Debug("flushed events", slog.Int("count", len(batch)))
	return nil
}

// Run flushes every FlushInterval until ctx is cancelled, then makes a final
// flush with a fresh deadline.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := r.Flush(fctx); err != nil {
				r.logger.Error("final flush failed", slog.String("error", err.Error()))
			}
			st := r.Stats()
			r.logger.Info("recorder stopped",
				slog.Int64("events", st.Events),
				slog.Int64("flushed", st.Flushed),
				slog.Int64("dropped", st.Dropped),
			)
			return ctx.Err()
		case <-ticker.C:
			if err := r.Flush(ctx); err != nil {
				r.logger.Warn("flush failed, will retry", slog.String("error", err.Error()))
			}
		}
	}
}

// Stats returns a snapshot of the counters.
func (r *Recorder) Stats() RecorderStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
