package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"DeckPilot/logger"
	"DeckPilot/model"
	"DeckPilot/storage"
)

// ReportLister reads archived session reports. *storage.ReportStore
// implements it.
type ReportLister interface {
	ListReports(ctx context.Context, day string) ([]storage.ObjectInfo, error)
	GetReport(ctx context.Context, name string) (*model.SessionReport, error)
}

// ReportsHandler lists archived session reports: GET /api/reports?day=2024/06/01.
func (h *APIHandler) ReportsHandler(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		writeError(w, http.StatusNotImplemented, "report archive not configured")
		return
	}
	objects, err := h.reports.ListReports(r.Context(), r.URL.Query().Get("day"))
	if err != nil {
		logger.Error("failed to list reports", logger.ErrorField(err))
		writeError(w, http.StatusBadGateway, "failed to list reports")
		return
	}
	if objects == nil {
		objects = []storage.ObjectInfo{}
	}
	writeJSON(w, http.StatusOK, objects)
}

// ReportHandler returns one archived report by object name:
// GET /api/reports/reports/2024/06/01/<session>-220512.json.
func (h *APIHandler) ReportHandler(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		writeError(w, http.StatusNotImplemented, "report archive not configured")
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/api/reports/")
	if name == "" || strings.Contains(name, "..") || !strings.HasSuffix(name, ".json") {
		writeError(w, http.StatusBadRequest, "invalid report name")
		return
	}

	report, err := h.reports.GetReport(r.Context(), name)
	switch {
	case errors.Is(err, storage.ErrReportNotFound):
		writeError(w, http.StatusNotFound, "report not found")
		return
	case err != nil:
		logger.Error("failed to read report", logger.String("object", name), logger.ErrorField(err))
		writeError(w, http.StatusBadGateway, "failed to read report")
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000")
	writeJSON(w, http.StatusOK, report)
}
