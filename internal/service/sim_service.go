package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/predexchange/internal/domain"
	"github.com/alanyoungcy/predexchange/internal/sim"
	"github.com/alanyoungcy/predexchange/internal/strategy"
)

// Run listing bounds.
const (
	DefaultRunListLimit = 50
	MaxRunListLimit     = 500
)

// SimService runs simulations over the event log and persists each settled
// run exactly once.
type SimService struct {
	engine      *sim.Engine
	events      domain.EventLog
	runs        domain.RunStore
	strategies  *strategy.Registry
	parallelism int
	logger      *slog.Logger
	now         func() time.Time
}

// NewSimService creates a SimService. parallelism bounds RunBatch; values
// below 1 mean 1.
func NewSimService(
	engine *sim.Engine,
	events domain.EventLog,
	runs domain.RunStore,
	strategies *strategy.Registry,
	parallelism int,
	logger *slog.Logger,
) *SimService {
	return &SimService{
		engine:      engine,
		events:      events,
		runs:        runs,
		strategies:  strategies,
		parallelism: max(parallelism, 1),
		logger:      logger.With(slog.String("component", "sim_service")),
		now:         time.Now,
	}
}

// Run simulates req and stores the result. A failed run stores nothing.
func (s *SimService) Run(ctx context.Context, req domain.SimRequest) (*domain.SimRun, error) {
	req, err := s.normalize(req)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	run, err := s.engine.Run(ctx, req, s.events.Read(ctx, req.AssetID, req.StartTS, req.EndTS))
	if err != nil {
		s.logger.WarnContext(ctx, "simulation failed",
			slog.String("strategy", req.StrategyName),
			slog.String("asset_id", req.AssetID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("sim_service: %w", err)
	}
	if err := s.runs.Put(ctx, run); err != nil {
		return nil, fmt.Errorf("sim_service: store run %s: %w", run.RunID, err)
	}

	s.logger.InfoContext(ctx, "simulation settled",
		slog.String("run_id", run.RunID),
		slog.String("strategy", run.StrategyName),
		slog.String("asset_id", run.AssetID),
		slog.Int64("events", run.EventsProcessed),
		slog.Int("fills", run.FillCount),
		slog.Float64("realized_pnl", run.RealizedPnL),
		slog.Float64("final_inventory", run.FinalInventory),
		slog.Duration("elapsed", time.Since(started)),
	)
	return run, nil
}

// RunBatch simulates independent requests concurrently, at most parallelism
// at a time. Results keep the order of reqs. The first failure cancels the
// remaining runs; runs that already settled stay stored.
func (s *SimService) RunBatch(ctx context.Context, reqs []domain.SimRequest) ([]*domain.SimRun, error) {
	out := make([]*domain.SimRun, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, req := range reqs {
		g.Go(func() error {
			run, err := s.Run(gctx, req)
			if err != nil {
				return fmt.Errorf("asset %s: %w", req.AssetID, err)
			}
			out[i] = run
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns a stored run.
func (s *SimService) Get(ctx context.Context, runID string) (*domain.SimRun, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, fmt.Errorf("sim_service: run_id required: %w", domain.ErrInvalidQuery)
	}
	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("sim_service: get run %s: %w", runID, err)
	}
	return run, nil
}

// List returns the newest stored runs without fills, for one asset or all
// of them. A zero limit means DefaultRunListLimit.
func (s *SimService) List(ctx context.Context, assetID string, limit int) ([]*domain.SimRun, error) {
	switch {
	case limit == 0:
		limit = DefaultRunListLimit
	case limit < 0 || limit > MaxRunListLimit:
		return nil, fmt.Errorf("sim_service: limit %d outside [1, %d]: %w", limit, MaxRunListLimit, domain.ErrInvalidQuery)
	}
	runs, err := s.runs.List(ctx, strings.TrimSpace(assetID), limit)
	if err != nil {
		return nil, fmt.Errorf("sim_service: list runs: %w", err)
	}
	if runs == nil {
		runs = []*domain.SimRun{}
	}
	return runs, nil
}

// Strategies lists the registered strategies with their default parameters.
func (s *SimService) Strategies() []strategy.StrategyInfo {
	return s.strategies.ListInfo()
}

// normalize validates req and pins an open end to now.
func (s *SimService) normalize(req domain.SimRequest) (domain.SimRequest, error) {
	req.AssetID = strings.TrimSpace(req.AssetID)
	req.StrategyName = strings.TrimSpace(req.StrategyName)
	if req.AssetID == "" {
		return req, fmt.Errorf("sim_service: asset_id required: %w", domain.ErrInvalidQuery)
	}
	if req.StrategyName == "" {
		return req, fmt.Errorf("sim_service: strategy required: %w", domain.ErrInvalidQuery)
	}
	if req.EndTS == 0 {
		req.EndTS = s.now().UnixMilli()
	}
	if req.StartTS < 0 || req.EndTS < req.StartTS {
		return req, fmt.Errorf("sim_service: range [%d, %d]: %w", req.StartTS, req.EndTS, domain.ErrInvalidQuery)
	}
	if req.FillLatencyMS < 0 {
		return req, fmt.Errorf("sim_service: fill_latency_ms %d: %w", req.FillLatencyMS, domain.ErrInvalidQuery)
	}
	return req, nil
}
