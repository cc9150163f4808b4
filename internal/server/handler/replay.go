package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/predexchange/internal/domain"
	"github.com/alanyoungcy/predexchange/internal/service"
)

// ReplayService is what the replay handler needs from the service layer.
type ReplayService interface {
	Chart(ctx context.Context, q service.ChartQuery) (*service.ChartResult, error)
	Heatmap(ctx context.Context, q service.HeatmapQuery) (*service.HeatmapResult, error)
	MidSeries(ctx context.Context, q service.MidQuery) (*service.MidResult, error)
	LastMid(ctx context.Context, assetID string) (domain.LastMid, error)
	Stats(ctx context.Context) (domain.EventStats, error)
}

// ReplayHandler serves the analytics query endpoints.
type ReplayHandler struct {
	svc    ReplayService
	logger *slog.Logger
}

// NewReplayHandler creates a ReplayHandler.
func NewReplayHandler(svc ReplayService, logger *slog.Logger) *ReplayHandler {
	return &ReplayHandler{svc: svc, logger: logger}
}

// Chart returns fixed-resolution mid, spread, depth and OFI buckets.
// GET /api/assets/{asset_id}/chart?start_ts=&end_ts=&resolution_ms=&depth_n=
func (h *ReplayHandler) Chart(w http.ResponseWriter, r *http.Request) {
	q := query(r)
	cq := service.ChartQuery{
		AssetID:      pathParam(r, "asset_id"),
		StartTS:      q.int64("start_ts"),
		EndTS:        q.int64("end_ts"),
		ResolutionMS: q.int64("resolution_ms"),
		DepthN:       q.int("depth_n"),
	}
	if q.err != nil {
		writeError(w, http.StatusBadRequest, q.err.Error())
		return
	}
	res, err := h.svc.Chart(r.Context(), cq)
	if err != nil {
		writeServiceError(w, r, h.logger, "chart", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Heatmap returns tick-binned depth snapshots around mid.
// GET /api/assets/{asset_id}/heatmap?start_ts=&end_ts=&resolution_ms=&tick_size=&ticks_around_mid=
func (h *ReplayHandler) Heatmap(w http.ResponseWriter, r *http.Request) {
	q := query(r)
	hq := service.HeatmapQuery{
		AssetID:        pathParam(r, "asset_id"),
		StartTS:        q.int64("start_ts"),
		EndTS:          q.int64("end_ts"),
		ResolutionMS:   q.int64("resolution_ms"),
		TickSize:       q.float("tick_size"),
		TicksAroundMid: q.int("ticks_around_mid"),
	}
	if q.err != nil {
		writeError(w, http.StatusBadRequest, q.err.Error())
		return
	}
	res, err := h.svc.Heatmap(r.Context(), hq)
	if err != nil {
		writeServiceError(w, r, h.logger, "heatmap", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Mid returns the mid series at native event cadence.
// GET /api/assets/{asset_id}/mid?start_ts=&end_ts=
func (h *ReplayHandler) Mid(w http.ResponseWriter, r *http.Request) {
	q := query(r)
	mq := service.MidQuery{
		AssetID: pathParam(r, "asset_id"),
		StartTS: q.int64("start_ts"),
		EndTS:   q.int64("end_ts"),
	}
	if q.err != nil {
		writeError(w, http.StatusBadRequest, q.err.Error())
		return
	}
	res, err := h.svc.MidSeries(r.Context(), mq)
	if err != nil {
		writeServiceError(w, r, h.logger, "mid series", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// LastMid returns the cached last mid.
// GET /api/assets/{asset_id}/last-mid
func (h *ReplayHandler) LastMid(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.LastMid(r.Context(), pathParam(r, "asset_id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "last mid", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Stats summarises the event log.
// GET /api/events/stats
func (h *ReplayHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "event stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
