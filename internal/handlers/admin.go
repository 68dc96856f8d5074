package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/whistle/whistle-server/internal/auth"
	"github.com/whistle/whistle-server/internal/models"
	"go.uber.org/zap"
)

const invalidCredentials = "Invalid username or password"

// AdminHandler handles admin sign-in
type AdminHandler struct {
	issuer       *auth.Issuer
	creds        *auth.Credentials
	failureDelay time.Duration
	secureCookie bool
	logger       *zap.SugaredLogger
	sleep        func(ctx context.Context, d time.Duration)
}

// NewAdminHandler creates a new admin handler. Failed logins are answered
// after failureDelay.
func NewAdminHandler(issuer *auth.Issuer, creds *auth.Credentials, failureDelay time.Duration, secureCookie bool, logger *zap.SugaredLogger) *AdminHandler {
	return &AdminHandler{
		issuer:       issuer,
		creds:        creds,
		failureDelay: failureDelay,
		secureCookie: secureCookie,
		logger:       logger,
		sleep:        sleepCtx,
	}
}

// Login handles POST /api/v1/admin/login
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.AdminAuthRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, models.AdminAuthResponse{Error: "Invalid request body"})
		return
	}

	if err := h.creds.Check(req.Username, req.Password); err != nil {
		h.logger.Warnw("Failed admin login attempt")
		h.sleep(r.Context(), h.failureDelay)
		respondJSON(w, http.StatusUnauthorized, models.AdminAuthResponse{Error: invalidCredentials})
		return
	}

	token, err := h.issuer.Issue(req.Username)
	if err != nil {
		h.logger.Errorw("Failed to issue admin token", "error", err)
		respondJSON(w, http.StatusInternalServerError, models.AdminAuthResponse{Error: "Authentication failed"})
		return
	}

	http.SetCookie(w, auth.SessionCookie(token, h.issuer.TTL(), h.secureCookie))
	h.logger.Infow("Admin signed in", "admin", req.Username)
	respondJSON(w, http.StatusOK, models.AdminAuthResponse{Success: true, Token: token})
}

// Logout handles POST /api/v1/admin/logout
func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie := auth.SessionCookie("", 0, h.secureCookie)
	cookie.MaxAge = -1
	http.SetCookie(w, cookie)
	respondJSON(w, http.StatusOK, models.AdminAuthResponse{Success: true})
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
