// Package services contains business logic layers.
// Services are called by handlers and talk to the storage collaborators.
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/whistle/whistle-server/internal/models"
	"github.com/whistle/whistle-server/internal/store"
	"go.uber.org/zap"
)

// EncryptedPlaceholder replaces the message of a sealed report.
const EncryptedPlaceholder = "[ENCRYPTED]"

// ReportNotifier is told about every stored report. It must not block or
// fail the submission.
type ReportNotifier interface {
	NotifyNewReport(r *models.Report)
}

// ReportService handles report business logic
type ReportService struct {
	store    store.ReportStore
	activity *ActivityLogService
	notifier ReportNotifier
	logger   *zap.SugaredLogger
	now      func() time.Time
}

// NewReportService creates a new report service
func NewReportService(st store.ReportStore, activity *ActivityLogService, notifier ReportNotifier, logger *zap.SugaredLogger) *ReportService {
	return &ReportService{
		store:    st,
		activity: activity,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Create validates and stores a submission, then notifies live viewers.
func (s *ReportService) Create(ctx context.Context, req *models.CreateReportRequest) (*models.Report, error) {
	if err := ValidateSubmission(req); err != nil {
		return nil, err
	}

	severity := req.Severity
	if severity == "" {
		severity = models.SeverityMedium
	}

	r := &models.Report{
		ID:        uuid.NewString(),
		Severity:  severity,
		Status:    models.StatusPending,
		CreatedAt: s.now().UTC(),
	}
	if severity == models.SeverityUrgent {
		r.Status = models.StatusFlagged
	}

	if req.IsEncrypted {
		env := *req.EncryptedData
		r.Message = EncryptedPlaceholder
		r.Category = models.CategoryEncrypted
		r.IsEncrypted = true
		r.EncryptedData = &env
	} else {
		r.Message = strings.TrimSpace(req.Message)
		r.Category = req.Category
		r.PhotoURL = req.PhotoURL
		r.VideoURL = req.VideoURL
		if req.VideoMetadata != nil {
			meta := *req.VideoMetadata
			r.VideoMetadata = &meta
		}
	}

	if err := s.store.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("store report: %w", err)
	}

	if err := s.activity.Log(ctx, r.ID, models.ActivitySubmission, "Report received", ActorSystem); err != nil {
		s.logger.Warnw("Failed to log submission", "report_id", r.ID, "error", err)
	}

	s.logger.Infow("Report submitted",
		"id", r.ID,
		"encrypted", r.IsEncrypted,
		"severity", r.Severity,
		"status", r.Status,
	)

	s.notifier.NotifyNewReport(r)
	return r, nil
}

// Get returns the full report. Admin only.
func (s *ReportService) Get(ctx context.Context, id string) (*models.Report, error) {
	return s.store.Get(ctx, id)
}

// Status returns the public status view of a report.
func (s *ReportService) Status(ctx context.Context, id string) (*models.ReportStatusResponse, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	status := models.StatusOf(r)
	return &status, nil
}

// List returns reports newest first, optionally filtered by status.
func (s *ReportService) List(ctx context.Context, status models.ReportStatus) ([]models.Report, error) {
	if status != "" && !status.Valid() {
		return nil, invalid("Invalid status filter")
	}
	reports, err := s.store.List(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return reports, nil
}

// Update applies an admin's status change or response and records who did it.
func (s *ReportService) Update(ctx context.Context, id string, req models.UpdateReportRequest, actor string) (*models.Report, error) {
	if req.Status == nil && req.AdminResponse == nil {
		return nil, invalid("Nothing to update")
	}
	if req.Status != nil && !req.Status.Valid() {
		return nil, invalid("Invalid status")
	}
	if req.AdminResponse != nil {
		resp := strings.TrimSpace(*req.AdminResponse)
		req.AdminResponse = &resp
	}

	before, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.Update(ctx, id, req, s.now().UTC())
	if err != nil {
		return nil, err
	}

	if req.Status != nil && *req.Status != before.Status {
		desc := fmt.Sprintf("Status changed from %s to %s", before.Status, *req.Status)
		if err := s.activity.Log(ctx, id, models.ActivityStatusChange, desc, actor); err != nil {
			s.logger.Warnw("Failed to log status change", "report_id", id, "error", err)
		}
	}
	if req.AdminResponse != nil {
		if err := s.activity.Log(ctx, id, models.ActivityAdminResponse, "Response sent to reporter", actor); err != nil {
			s.logger.Warnw("Failed to log admin response", "report_id", id, "error", err)
		}
	}

	s.logger.Infow("Report updated", "id", id, "status", updated.Status, "actor", actor)
	return updated, nil
}
