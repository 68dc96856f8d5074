package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/whistle/whistle-server/internal/middleware"
	"github.com/whistle/whistle-server/internal/models"
	"github.com/whistle/whistle-server/internal/services"
	"github.com/whistle/whistle-server/internal/store"
	"go.uber.org/zap"
)

// ReportHandler handles report endpoints
type ReportHandler struct {
	svc    *services.ReportService
	logger *zap.SugaredLogger
}

// NewReportHandler creates a new report handler
func NewReportHandler(svc *services.ReportService, logger *zap.SugaredLogger) *ReportHandler {
	return &ReportHandler{svc: svc, logger: logger}
}

// Submit handles POST /api/v1/reports
// Anonymous: no auth and no client identifiers are recorded.
func (h *ReportHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req models.CreateReportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	report, err := h.svc.Create(r.Context(), &req)
	if err != nil {
		h.fail(w, err, "Failed to submit report")
		return
	}

	respondJSON(w, http.StatusCreated, models.CreateReportResponse{
		ID:        report.ID,
		Message:   report.Message,
		CreatedAt: report.CreatedAt,
	})
}

// Status handles GET /api/v1/reports/{id}/status
func (h *ReportHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err, "Failed to fetch report status")
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// List handles GET /api/v1/reports (admin)
func (h *ReportHandler) List(w http.ResponseWriter, r *http.Request) {
	status := models.ReportStatus(r.URL.Query().Get("status"))

	reports, err := h.svc.List(r.Context(), status)
	if err != nil {
		h.fail(w, err, "Failed to fetch reports")
		return
	}
	respondJSON(w, http.StatusOK, models.GetReportsResponse{Reports: reports, Total: len(reports)})
}

// Get handles GET /api/v1/reports/{id} (admin)
func (h *ReportHandler) Get(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err, "Failed to fetch report")
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// Update handles PUT /api/v1/reports/{id} (admin)
func (h *ReportHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateReportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	admin := middleware.AdminFromContext(r.Context())
	report, err := h.svc.Update(r.Context(), chi.URLParam(r, "id"), req, admin)
	if err != nil {
		h.fail(w, err, "Failed to update report")
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// fail maps service errors onto status codes.
func (h *ReportHandler) fail(w http.ResponseWriter, err error, fallback string) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		respondError(w, http.StatusBadRequest, verr.Reason)
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "Report not found")
	default:
		h.logger.Errorw(fallback, "error", err)
		respondError(w, http.StatusInternalServerError, fallback)
	}
}
