package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/predexchange/internal/domain"
	"github.com/alanyoungcy/predexchange/internal/service"
)

// ExportService is what the export handler needs from the service layer.
type ExportService interface {
	Export(ctx context.Context, req service.ExportRequest) (domain.ExportResult, error)
	List(ctx context.Context, assetID string) ([]domain.BlobInfo, error)
}

// ExportHandler serves Parquet exports of raw events.
type ExportHandler struct {
	svc    ExportService
	logger *slog.Logger
}

// NewExportHandler creates an ExportHandler.
func NewExportHandler(svc ExportService, logger *slog.Logger) *ExportHandler {
	return &ExportHandler{svc: svc, logger: logger}
}

// Create exports one asset's event range.
// POST /api/exports
func (h *ExportHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.ExportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.Export(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, "export", err)
		return
	}
	status := http.StatusCreated
	if res.NoData {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

type listExportsResponse struct {
	Exports []domain.BlobInfo `json:"exports"`
}

// List returns existing exports.
// GET /api/exports?asset_id=
func (h *ExportHandler) List(w http.ResponseWriter, r *http.Request) {
	infos, err := h.svc.List(r.Context(), r.URL.Query().Get("asset_id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "list exports", err)
		return
	}
	writeJSON(w, http.StatusOK, listExportsResponse{Exports: infos})
}
