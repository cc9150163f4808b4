package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/predexchange/internal/domain"
	"github.com/alanyoungcy/predexchange/internal/orderbook"
	"github.com/alanyoungcy/predexchange/internal/replay"
)

// ReplayDefaults fill in query parameters the caller leaves at zero.
type ReplayDefaults struct {
	ResolutionMS   int64
	DepthN         int
	TickSize       float64
	TicksAroundMid int
}

// ChartQuery selects a chart series. EndTS 0 means now.
type ChartQuery struct {
	AssetID      string
	StartTS      int64
	EndTS        int64
	ResolutionMS int64
	DepthN       int
}

// ChartResult is an ordered bucket series. NoData is set when the range held
// no events for the asset.
type ChartResult struct {
	AssetID      string               `json:"asset_id"`
	StartTS      int64                `json:"start_ts"`
	EndTS        int64                `json:"end_ts"`
	ResolutionMS int64                `json:"resolution_ms"`
	DepthN       int                  `json:"depth_n"`
	NoData       bool                 `json:"no_data"`
	Buckets      []domain.ChartBucket `json:"buckets"`
	Diagnostics  domain.Diagnostics   `json:"diagnostics"`
}

// HeatmapQuery selects a heatmap series. EndTS 0 means now.
type HeatmapQuery struct {
	AssetID        string
	StartTS        int64
	EndTS          int64
	ResolutionMS   int64
	TickSize       float64
	TicksAroundMid int
}

// HeatmapResult is an ordered snapshot series.
type HeatmapResult struct {
	AssetID        string                `json:"asset_id"`
	StartTS        int64                 `json:"start_ts"`
	EndTS          int64                 `json:"end_ts"`
	ResolutionMS   int64                 `json:"resolution_ms"`
	TickSize       float64               `json:"tick_size"`
	TicksAroundMid int                   `json:"ticks_around_mid"`
	NoData         bool                  `json:"no_data"`
	Snapshots      []domain.BookSnapshot `json:"snapshots"`
	Diagnostics    domain.Diagnostics    `json:"diagnostics"`
}

// MidQuery selects a mid-only series. EndTS 0 means now.
type MidQuery struct {
	AssetID string
	StartTS int64
	EndTS   int64
}

// MidResult is the mid series at native event cadence.
type MidResult struct {
	AssetID     string             `json:"asset_id"`
	StartTS     int64              `json:"start_ts"`
	EndTS       int64              `json:"end_ts"`
	NoData      bool               `json:"no_data"`
	Points      []domain.MidPoint  `json:"points"`
	Diagnostics domain.Diagnostics `json:"diagnostics"`
}

// ReplayService serves the analytics query surfaces. Every query rebuilds the
// book from the event log; nothing is cached between calls.
type ReplayService struct {
	events   domain.EventLog
	stats    domain.EventStatter // optional
	mids     domain.MidCache     // optional
	engine   orderbook.Engine
	defaults ReplayDefaults
	logger   *slog.Logger
	now      func() time.Time
}

// NewReplayService creates a ReplayService. stats and mids may be nil.
func NewReplayService(
	events domain.EventLog,
	stats domain.EventStatter,
	mids domain.MidCache,
	engine orderbook.Engine,
	defaults ReplayDefaults,
	logger *slog.Logger,
) *ReplayService {
	return &ReplayService{
		events:   events,
		stats:    stats,
		mids:     mids,
		engine:   engine,
		defaults: defaults,
		logger:   logger.With(slog.String("component", "replay_service")),
		now:      time.Now,
	}
}

// Chart replays the range and aggregates it into fixed-width buckets. On
// cancellation the buckets completed so far are returned with the error.
func (s *ReplayService) Chart(ctx context.Context, q ChartQuery) (*ChartResult, error) {
	if q.ResolutionMS == 0 {
		q.ResolutionMS = s.defaults.ResolutionMS
	}
	if q.DepthN == 0 {
		q.DepthN = s.defaults.DepthN
	}
	end, err := s.resolveRange(q.AssetID, q.StartTS, q.EndTS)
	if err != nil {
		return nil, err
	}
	if q.DepthN < 1 {
		return nil, fmt.Errorf("replay_service: depth_n %d: %w", q.DepthN, domain.ErrInvalidQuery)
	}

	p := s.newPass(ctx, q.AssetID, q.StartTS, end)
	buckets, err := replay.Collect(replay.Chart(p.updates(), q.ResolutionMS, q.DepthN))
	res := &ChartResult{
		AssetID:      q.AssetID,
		StartTS:      q.StartTS,
		EndTS:        end,
		ResolutionMS: q.ResolutionMS,
		DepthN:       q.DepthN,
		NoData:       p.events == 0,
		Buckets:      nonNil(buckets),
		Diagnostics:  p.recon.Diagnostics(),
	}
	if err != nil {
		return res, fmt.Errorf("replay_service: chart %s: %w", q.AssetID, err)
	}
	s.refreshMid(ctx, p)
	return res, nil
}

// Heatmap replays the range and emits one tick-binned snapshot per window
// that saw a valid book.
func (s *ReplayService) Heatmap(ctx context.Context, q HeatmapQuery) (*HeatmapResult, error) {
	if q.ResolutionMS == 0 {
		q.ResolutionMS = s.defaults.ResolutionMS
	}
	if q.TickSize == 0 {
		q.TickSize = s.defaults.TickSize
	}
	if q.TicksAroundMid == 0 {
		q.TicksAroundMid = s.defaults.TicksAroundMid
	}
	end, err := s.resolveRange(q.AssetID, q.StartTS, q.EndTS)
	if err != nil {
		return nil, err
	}

	p := s.newPass(ctx, q.AssetID, q.StartTS, end)
	snaps, err := replay.Collect(replay.Heatmap(p.updates(), replay.HeatmapParams{
		ResolutionMS:   q.ResolutionMS,
		TickSize:       q.TickSize,
		TicksAroundMid: q.TicksAroundMid,
	}))
	res := &HeatmapResult{
		AssetID:        q.AssetID,
		StartTS:        q.StartTS,
		EndTS:          end,
		ResolutionMS:   q.ResolutionMS,
		TickSize:       q.TickSize,
		TicksAroundMid: q.TicksAroundMid,
		NoData:         p.events == 0,
		Snapshots:      nonNil(snaps),
		Diagnostics:    p.recon.Diagnostics(),
	}
	if err != nil {
		return res, fmt.Errorf("replay_service: heatmap %s: %w", q.AssetID, err)
	}
	s.refreshMid(ctx, p)
	return res, nil
}

// MidSeries replays the range and returns one mid point per applied update.
func (s *ReplayService) MidSeries(ctx context.Context, q MidQuery) (*MidResult, error) {
	end, err := s.resolveRange(q.AssetID, q.StartTS, q.EndTS)
	if err != nil {
		return nil, err
	}

	p := s.newPass(ctx, q.AssetID, q.StartTS, end)
	points, err := replay.Collect(replay.MidSeries(p.updates()))
	res := &MidResult{
		AssetID:     q.AssetID,
		StartTS:     q.StartTS,
		EndTS:       end,
		NoData:      p.events == 0,
		Points:      nonNil(points),
		Diagnostics: p.recon.Diagnostics(),
	}
	if err != nil {
		return res, fmt.Errorf("replay_service: mid series %s: %w", q.AssetID, err)
	}
	return res, nil
}

// LastMid returns the last known mid for an asset.
func (s *ReplayService) LastMid(ctx context.Context, assetID string) (domain.LastMid, error) {
	if strings.TrimSpace(assetID) == "" {
		return domain.LastMid{}, fmt.Errorf("replay_service: asset_id required: %w", domain.ErrInvalidQuery)
	}
	if s.mids == nil {
		return domain.LastMid{}, fmt.Errorf("replay_service: last mid %s: %w", assetID, domain.ErrNotFound)
	}
	m, err := s.mids.GetMid(ctx, assetID)
	if err != nil {
		return domain.LastMid{}, fmt.Errorf("replay_service: last mid %s: %w", assetID, err)
	}
	return m, nil
}

// Stats summarises the event log.
func (s *ReplayService) Stats(ctx context.Context) (domain.EventStats, error) {
	if s.stats == nil {
		return domain.EventStats{}, fmt.Errorf("replay_service: stats unsupported by event log: %w", domain.ErrNotFound)
	}
	st, err := s.stats.Stats(ctx)
	if err != nil {
		return domain.EventStats{}, fmt.Errorf("replay_service: stats: %w", err)
	}
	if st.ByMarket == nil {
		st.ByMarket = []domain.MarketCount{}
	}
	return st, nil
}

// resolveRange validates the range and pins an open end to now, once, so
// the whole pass sees a fixed horizon.
func (s *ReplayService) resolveRange(assetID string, startTS, endTS int64) (int64, error) {
	if strings.TrimSpace(assetID) == "" {
		return 0, fmt.Errorf("replay_service: asset_id required: %w", domain.ErrInvalidQuery)
	}
	if endTS == 0 {
		endTS = s.now().UnixMilli()
	}
	if startTS < 0 || endTS < startTS {
		return 0, fmt.Errorf("replay_service: range [%d, %d]: %w", startTS, endTS, domain.ErrInvalidQuery)
	}
	return endTS, nil
}

// pass is one replay over the log, remembering what it saw.
type pass struct {
	ctx    context.Context
	source iter.Seq2[domain.RawEvent, error]
	recon  *orderbook.Reconstructor

	events    int64
	lastMid   float64
	lastMidTS int64
	hasMid    bool
}

func (s *ReplayService) newPass(ctx context.Context, assetID string, startTS, endTS int64) *pass {
	return &pass{
		ctx:    ctx,
		source: s.events.Read(ctx, assetID, startTS, endTS),
		recon:  orderbook.New(s.engine),
	}
}

// updates replays the source, counting events and tracking the last valid mid.
func (p *pass) updates() iter.Seq2[orderbook.Update, error] {
	counted := func(yield func(domain.RawEvent, error) bool) {
		for ev, err := range p.source {
			if err == nil {
				p.events++
			}
			if !yield(ev, err) {
				return
			}
		}
	}
	return func(yield func(orderbook.Update, error) bool) {
		for u, err := range p.recon.Replay(p.ctx, counted) {
			if err == nil && u.Mutated() {
				if mid, ok := u.State.Mid(); ok && !u.State.Crossed {
					p.lastMid, p.lastMidTS, p.hasMid = mid, u.TS, true
				}
			}
			if !yield(u, err) {
				return
			}
		}
	}
}

// refreshMid stores the pass's last mid unless the cache already holds a
// newer one, so historical queries never overwrite live values.
func (s *ReplayService) refreshMid(ctx context.Context, p *pass) {
	if s.mids == nil || !p.hasMid {
		return
	}
	state := p.recon.State()
	at := time.UnixMilli(p.lastMidTS).UTC()

	cur, err := s.mids.GetMid(ctx, state.AssetID)
	switch {
	case err == nil && !cur.UpdatedAt.Before(at):
		return
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		s.logger.Debug("get mid failed", slog.String("asset_id", state.AssetID), slog.String("error", err.Error()))
		return
	}

	m := domain.LastMid{MarketID: state.MarketID, AssetID: state.AssetID, Mid: p.lastMid, UpdatedAt: at}
	if err := s.mids.SetMid(ctx, m); err != nil {
		s.logger.Debug("set mid failed", slog.String("asset_id", state.AssetID), slog.String("error", err.Error()))
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
