package handlers

import (
	"net/http"
	"time"

	"github.com/whistle/whistle-server/internal/models"
	"github.com/whistle/whistle-server/internal/notify"
	"github.com/whistle/whistle-server/internal/store"
	"go.uber.org/zap"
)

// Version is reported by the health endpoints.
const Version = "1.0.0"

var startTime = time.Now()

// HealthHandler provides health check endpoints
type HealthHandler struct {
	store   store.ReportStore
	hub     *notify.Hub
	storage string
	logger  *zap.SugaredLogger
}

// NewHealthHandler creates a new health handler. storage names the backend
// ("memory" or "postgres").
func NewHealthHandler(st store.ReportStore, hub *notify.Hub, storage string, logger *zap.SugaredLogger) *HealthHandler {
	return &HealthHandler{store: st, hub: hub, storage: storage, logger: logger}
}

// Check handles GET /api/v1/health (liveness probe)
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, models.HealthStatus{
		Status:  "ok",
		Version: Version,
		Uptime:  time.Since(startTime).String(),
		Viewers: h.hub.Count(),
	})
}

// Ready handles GET /api/v1/health/ready (readiness probe)
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warnw("Storage ping failed", "storage", h.storage, "error", err)
		respondJSON(w, http.StatusServiceUnavailable, models.HealthStatus{
			Status:  "not ready",
			Version: Version,
			Storage: h.storage + ": disconnected",
			Viewers: h.hub.Count(),
		})
		return
	}

	respondJSON(w, http.StatusOK, models.HealthStatus{
		Status:  "ready",
		Version: Version,
		Uptime:  time.Since(startTime).String(),
		Storage: h.storage + ": connected",
		Viewers: h.hub.Count(),
	})
}
