package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/whistle/whistle-server/internal/auth"
	"github.com/whistle/whistle-server/internal/events"
	"github.com/whistle/whistle-server/internal/models"
	"github.com/whistle/whistle-server/internal/notify"
	"go.uber.org/zap"
)

// NotificationHandler serves the live viewer stream and email alert endpoints
type NotificationHandler struct {
	hub        *notify.Hub
	notifier   *notify.Notifier
	buffer     int
	adminEmail string
	logger     *zap.SugaredLogger
}

// NewNotificationHandler creates a new notification handler. Each viewer
// may fall buffer events behind before it is dropped.
func NewNotificationHandler(hub *notify.Hub, notifier *notify.Notifier, buffer int, adminEmail string, logger *zap.SugaredLogger) *NotificationHandler {
	return &NotificationHandler{
		hub:        hub,
		notifier:   notifier,
		buffer:     buffer,
		adminEmail: adminEmail,
		logger:     logger,
	}
}

// Stream handles GET /api/v1/notifications/stream?token=
// Browsers cannot set headers on an EventSource, so the token travels in the
// query string; the cookie and bearer header are accepted too.
func (h *NotificationHandler) Stream(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = auth.TokenFromRequest(r)
	}

	sink := notify.NewQueueSink(h.buffer)
	conn, err := h.hub.Subscribe(r.Context(), token, sink)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			respondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		if errors.Is(err, notify.ErrHubClosed) {
			respondError(w, http.StatusServiceUnavailable, "Server is shutting down")
			return
		}
		h.logger.Warnw("Failed to open notification stream", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to open stream")
		return
	}
	defer h.hub.Disconnect(conn.ID)

	rc := http.NewResponseController(w)
	// The server write timeout would otherwise cut the stream.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Warnw("Streaming unsupported by response writer", "error", err)
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sink.Done():
			return
		case ev := <-sink.Events():
			data, err := events.Encode(ev)
			if err != nil {
				h.logger.Errorw("Failed to encode event", "type", ev.Type(), "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// Settings handles GET /api/v1/notifications/settings
func (h *NotificationHandler) Settings(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, models.NotificationSettings{
		EmailEnabled: h.notifier.EmailEnabled(),
		PushEnabled:  true,
		UrgentAlerts: true,
		Categories: []models.ReportCategory{
			models.CategoryHarassment,
			models.CategoryMedical,
			models.CategoryEmergency,
			models.CategorySafety,
			models.CategoryFeedback,
		},
		AdminEmail: h.adminEmail,
	})
}

// Email handles POST /api/v1/notifications/email
// Re-sends the urgent alert for a report.
func (h *NotificationHandler) Email(w http.ResponseWriter, r *http.Request) {
	var req models.AlertRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ReportID == "" {
		respondError(w, http.StatusBadRequest, "Report ID is required")
		return
	}
	if !req.Category.Valid() {
		respondError(w, http.StatusBadRequest, "Invalid category")
		return
	}
	if !req.Severity.Valid() {
		respondError(w, http.StatusBadRequest, "Invalid severity level")
		return
	}

	err := h.notifier.SendAlert(r.Context(), events.ReportInfo{
		ReportID:  req.ReportID,
		Category:  req.Category,
		Severity:  req.Severity,
		Timestamp: time.Now(),
	})
	if err != nil {
		h.logger.Errorw("Email notification failed", "report_id", req.ReportID, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to send email notification")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Email notification sent"})
}

// TestEmail handles POST /api/v1/notifications/test-email
func (h *NotificationHandler) TestEmail(w http.ResponseWriter, r *http.Request) {
	if err := h.notifier.SendTest(r.Context()); err != nil {
		h.logger.Errorw("Test email failed", "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   "Email service test failed",
		})
		return
	}

	message := "Test email sent"
	if !h.notifier.EmailEnabled() {
		message = "Email service not configured, alert was logged"
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": message})
}
