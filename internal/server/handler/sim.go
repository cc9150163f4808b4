package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/predexchange/internal/domain"
	"github.com/alanyoungcy/predexchange/internal/strategy"
)

// SimService is what the simulation handler needs from the service layer.
type SimService interface {
	Run(ctx context.Context, req domain.SimRequest) (*domain.SimRun, error)
	Get(ctx context.Context, runID string) (*domain.SimRun, error)
	List(ctx context.Context, assetID string, limit int) ([]*domain.SimRun, error)
	Strategies() []strategy.StrategyInfo
}

// SimHandler serves strategy listing and simulation runs.
type SimHandler struct {
	svc    SimService
	logger *slog.Logger
}

// NewSimHandler creates a SimHandler.
func NewSimHandler(svc SimService, logger *slog.Logger) *SimHandler {
	return &SimHandler{svc: svc, logger: logger}
}

type listStrategiesResponse struct {
	Strategies []strategy.StrategyInfo `json:"strategies"`
}

// ListStrategies returns the registered strategies and their defaults.
// GET /api/strategies
func (h *SimHandler) ListStrategies(w http.ResponseWriter, r *http.Request) {
	infos := h.svc.Strategies()
	if infos == nil {
		infos = []strategy.StrategyInfo{}
	}
	writeJSON(w, http.StatusOK, listStrategiesResponse{Strategies: infos})
}

// CreateRun runs a simulation synchronously and returns the settled run.
// POST /api/sim/runs
func (h *SimHandler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req domain.SimRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	run, err := h.svc.Run(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, "simulation", err)
		return
	}
	w.Header().Set("Location", "/api/sim/runs/"+run.RunID)
	writeJSON(w, http.StatusCreated, run)
}

// GetRun returns a stored run.
// GET /api/sim/runs/{run_id}
func (h *SimHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.svc.Get(r.Context(), pathParam(r, "run_id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get run", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type listRunsResponse struct {
	Runs []*domain.SimRun `json:"runs"`
}

// ListRuns returns the newest stored runs without their fills.
// GET /api/sim/runs?asset_id=&limit=
func (h *SimHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := query(r)
	limit := q.int("limit")
	if q.err != nil {
		writeError(w, http.StatusBadRequest, q.err.Error())
		return
	}
	runs, err := h.svc.List(r.Context(), r.URL.Query().Get("asset_id"), limit)
	if err != nil {
		writeServiceError(w, r, h.logger, "list runs", err)
		return
	}
	writeJSON(w, http.StatusOK, listRunsResponse{Runs: runs})
}
