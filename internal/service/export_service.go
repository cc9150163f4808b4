package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/predexchange/internal/domain"
)

// EventExporter writes raw events to columnar files in object storage.
type EventExporter interface {
	Export(ctx context.Context, assetID string, startTS, endTS int64) (domain.ExportResult, error)
	List(ctx context.Context, assetID string) ([]domain.BlobInfo, error)
}

// ExportRequest selects the events to export. EndTS 0 means now.
type ExportRequest struct {
	AssetID string `json:"asset_id"`
	StartTS int64  `json:"start_ts"`
	EndTS   int64  `json:"end_ts"`
}

// ExportService exports raw event ranges.
type ExportService struct {
	exporter    EventExporter
	parallelism int
	logger      *slog.Logger
}

// NewExportService creates an ExportService.
func NewExportService(exporter EventExporter, parallelism int, logger *slog.Logger) *ExportService {
	return &ExportService{
		exporter:    exporter,
		parallelism: max(parallelism, 1),
		logger:      logger.With(slog.String("component", "export_service")),
	}
}

// Export writes one asset's range.
func (s *ExportService) Export(ctx context.Context, req ExportRequest) (domain.ExportResult, error) {
	req.AssetID = strings.TrimSpace(req.AssetID)
	if req.AssetID == "" {
		return domain.ExportResult{}, fmt.Errorf("export_service: asset_id required: %w", domain.ErrInvalidQuery)
	}
	if req.StartTS < 0 || (req.EndTS != 0 && req.EndTS < req.StartTS) {
		return domain.ExportResult{}, fmt.Errorf("export_service: range [%d, %d]: %w", req.StartTS, req.EndTS, domain.ErrInvalidQuery)
	}

	res, err := s.exporter.Export(ctx, req.AssetID, req.StartTS, req.EndTS)
	if err != nil {
		return domain.ExportResult{}, fmt.Errorf("export_service: %w", err)
	}
	if res.NoData {
		s.logger.InfoContext(ctx, "export skipped, no events", slog.String("asset_id", req.AssetID))
	} else {
		s.logger.InfoContext(ctx, "export written",
			slog.String("asset_id", req.AssetID),
			slog.String("path", res.Path),
			slog.Int64("events", res.Events),
			slog.Int64("bytes", res.Bytes),
		)
	}
	return res, nil
}

// ExportAll exports each request concurrently and returns results in
// request order.
func (s *ExportService) ExportAll(ctx context.Context, reqs []ExportRequest) ([]domain.ExportResult, error) {
	out := make([]domain.ExportResult, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := s.Export(gctx, req)
			if err != nil {
				return err
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// List returns existing exports, optionally for one asset.
func (s *ExportService) List(ctx context.Context, assetID string) ([]domain.BlobInfo, error) {
	infos, err := s.exporter.List(ctx, strings.TrimSpace(assetID))
	if err != nil {
		return nil, fmt.Errorf("export_service: list: %w", err)
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	return infos, nil
}
