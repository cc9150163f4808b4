package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/predexchange/internal/blob/s3"
	"github.com/alanyoungcy/predexchange/internal/domain"
	"github.com/alanyoungcy/predexchange/internal/feed"
	"github.com/alanyoungcy/predexchange/internal/orderbook"
	"github.com/alanyoungcy/predexchange/internal/server"
	"github.com/alanyoungcy/predexchange/internal/server/handler"
	"github.com/alanyoungcy/predexchange/internal/server/ws"
	"github.com/alanyoungcy/predexchange/internal/service"
	"github.com/alanyoungcy/predexchange/internal/sim"
	"github.com/alanyoungcy/predexchange/internal/strategy"
)

// services holds the service layer shared by the modes.
type services struct {
	replay *service.ReplayService
	sim    *service.SimService
	export *service.ExportService // nil without blob storage
}

func (a *App) buildServices(deps *Dependencies) (*services, error) {
	replayEngine, err := orderbook.ParseEngine(a.cfg.Replay.Engine)
	if err != nil {
		return nil, fmt.Errorf("app: replay engine: %w", err)
	}
	simEngine, err := orderbook.ParseEngine(a.cfg.Sim.Engine)
	if err != nil {
		return nil, fmt.Errorf("app: sim engine: %w", err)
	}

	reg := strategy.DefaultRegistry()
	svcs := &services{
		replay: service.NewReplayService(deps.Events, deps.Events, deps.MidCache, replayEngine, service.ReplayDefaults{
			ResolutionMS:   a.cfg.Replay.ResolutionMS,
			DepthN:         a.cfg.Replay.DepthN,
			TickSize:       a.cfg.Replay.TickSize,
			TicksAroundMid: a.cfg.Replay.TicksAroundMid,
		}, a.logger),
		sim: service.NewSimService(sim.NewEngine(reg, simEngine), deps.Events, deps.RunStore, reg, a.cfg.Sim.Parallelism, a.logger),
	}
	if deps.BlobWriter != nil && deps.BlobReader != nil {
		exporter := s3blob.NewExporter(deps.Events, deps.BlobWriter, deps.BlobReader, a.cfg.Export.Prefix, a.cfg.Export.Compression)
		svcs.export = service.NewExportService(exporter, a.cfg.Export.Parallelism, a.logger)
	}
	return svcs, nil
}

// ServeMode runs the HTTP API and the live mid WebSocket hub until ctx is
// cancelled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	svcs, err := a.buildServices(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(deps.SignalBus, a.cfg.Mode, a.cfg.Server.CORSOrigins, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.cfg.Mode, deps.Checks, a.logger),
		Replay: handler.NewReplayHandler(svcs.replay, a.logger),
		Sim:    handler.NewSimHandler(svcs.sim, a.logger),
		Hub:    hub,
	}
	if svcs.export != nil && a.cfg.Export.HTTP {
		handlers.Export = handler.NewExportHandler(svcs.export, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}

// RecordMode takes the single-writer lease, then streams the configured
// assets from the market channel into the event log until ctx is cancelled.
func (a *App) RecordMode(ctx context.Context, deps *Dependencies) error {
	assets := a.cfg.Polymarket.AssetIDs
	a.logger.InfoContext(ctx, "starting record mode", slog.Int("assets", len(assets)))

	ttl := a.cfg.Recorder.LockTTL.Duration
	lease, err := deps.LockManager.Acquire(ctx, feed.WriterLockKey, ttl)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return fmt.Errorf("app: another recorder holds the event log: %w", err)
		}
		return fmt.Errorf("app: acquire writer lease: %w", err)
	}

	engine, err := orderbook.ParseEngine(a.cfg.Replay.Engine)
	if err != nil {
		lease.Release()
		return fmt.Errorf("app: replay engine: %w", err)
	}
	rec := feed.NewRecorder(deps.Events, deps.Sequencer, feed.RecorderConfig{
		BatchSize:     a.cfg.Recorder.BatchSize,
		FlushInterval: a.cfg.Recorder.FlushInterval.Duration,
		MaxBuffered:   a.cfg.Recorder.MaxBuffered,
		Engine:        engine,
	}, a.logger, feed.WithMidCache(deps.MidCache), feed.WithSignalBus(deps.SignalBus))

	if err := rec.Seed(ctx, deps.Events, assets); err != nil {
		lease.Release()
		return fmt.Errorf("app: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return feed.HoldLease(ctx, lease, ttl, a.logger)
	})

	g.Go(func() error {
		return rec.Run(ctx)
	})

	wsFeed := feed.NewPolymarketWSFeed(a.cfg.Polymarket.WSURL, assets, rec.HandleFrame(ctx), feed.Backoff{
		Base: a.cfg.Polymarket.ReconnectBase.Duration,
		Max:  a.cfg.Polymarket.ReconnectMax.Duration,
	}, a.logger)
	g.Go(func() error {
		defer wsFeed.Close()
		return wsFeed.Run(ctx)
	})

	err = g.Wait()
	st := rec.Stats()
	a.logger.Info("record mode stopped",
		slog.Int64("frames", st.Frames),
		slog.Int64("events", st.Events),
		slog.Int64("flushed", st.Flushed),
		slog.Int64("rejected", st.Rejected),
		slog.Int64("dropped", st.Dropped),
	)
	return err
}

// SimulateMode runs the configured strategy over every configured asset, in
// parallel, and persists the runs.
func (a *App) SimulateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting simulate mode",
		slog.String("strategy", a.cfg.Sim.Strategy),
		slog.Int("assets", len(a.cfg.Sim.AssetIDs)),
	)

	svcs, err := a.buildServices(deps)
	if err != nil {
		return err
	}

	reqs := make([]domain.SimRequest, 0, len(a.cfg.Sim.AssetIDs))
	for _, asset := range a.cfg.Sim.AssetIDs {
		reqs = append(reqs, domain.SimRequest{
			MarketID:      a.cfg.Sim.MarketID,
			AssetID:       asset,
			StrategyName:  a.cfg.Sim.Strategy,
			Params:        a.cfg.Sim.Params,
			StartTS:       a.cfg.Sim.StartTS,
			EndTS:         a.cfg.Sim.EndTS,
			FillLatencyMS: a.cfg.Sim.FillLatencyMS,
		})
	}

	start := time.Now()
	runs, err := svcs.sim.RunBatch(ctx, reqs)
	if err != nil {
		return fmt.Errorf("app: simulate: %w", err)
	}

	var pnl float64
	for _, run := range runs {
		pnl += run.RealizedPnL
	}
	a.logger.InfoContext(ctx, "simulate mode finished",
		slog.Int("runs", len(runs)),
		slog.Float64("total_realized_pnl", pnl),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// ExportMode writes the configured assets' event ranges to S3 as Parquet.
func (a *App) ExportMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting export mode", slog.Int("assets", len(a.cfg.Export.AssetIDs)))

	svcs, err := a.buildServices(deps)
	if err != nil {
		return err
	}
	if svcs.export == nil {
		return errors.New("app: export mode needs S3 blob storage")
	}

	reqs := make([]service.ExportRequest, 0, len(a.cfg.Export.AssetIDs))
	for _, asset := range a.cfg.Export.AssetIDs {
		reqs = append(reqs, service.ExportRequest{
			AssetID: asset,
			StartTS: a.cfg.Export.StartTS,
			EndTS:   a.cfg.Export.EndTS,
		})
	}

	results, err := svcs.export.ExportAll(ctx, reqs)
	if err != nil {
		return fmt.Errorf("app: export: %w", err)
	}

	var written, events int64
	for _, res := range results {
		if !res.NoData {
			written++
			events += res.Events
		}
	}
	a.logger.InfoContext(ctx, "export mode finished",
		slog.Int64("files", written),
		slog.Int64("events", events),
	)
	return nil
}
