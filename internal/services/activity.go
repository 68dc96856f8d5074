package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/whistle/whistle-server/internal/models"
	"github.com/whistle/whistle-server/internal/store"
	"go.uber.org/zap"
)

// ActorSystem is recorded for actions the server takes on its own.
const ActorSystem = "SYSTEM"

// ActivityLogService handles activity log business logic
type ActivityLogService struct {
	store  store.ActivityStore
	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewActivityLogService creates a new activity log service
func NewActivityLogService(st store.ActivityStore, logger *zap.SugaredLogger) *ActivityLogService {
	return &ActivityLogService{store: st, logger: logger, now: time.Now}
}

// Log records an action taken on a report. The description must not contain
// report content.
func (s *ActivityLogService) Log(ctx context.Context, reportID string, typ models.ActivityType, description, actor string) error {
	entry := &models.ActivityLog{
		ID:          uuid.NewString(),
		ReportID:    reportID,
		Type:        typ,
		Description: description,
		Actor:       actor,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.LogActivity(ctx, entry); err != nil {
		return fmt.Errorf("log activity: %w", err)
	}

	s.logger.Infow("Activity logged",
		"actor", actor,
		"type", typ,
		"report_id", reportID,
	)
	return nil
}

// FetchByReport returns activity logs for one report, newest first
func (s *ActivityLogService) FetchByReport(ctx context.Context, reportID string, limit int) ([]models.ActivityLog, error) {
	logs, err := s.store.ActivityForReport(ctx, reportID, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch activity for report: %w", err)
	}
	return logs, nil
}

// FetchRecent returns recent activity logs across all reports
func (s *ActivityLogService) FetchRecent(ctx context.Context, limit int) ([]models.ActivityLog, error) {
	logs, err := s.store.RecentActivity(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch recent activity: %w", err)
	}
	return logs, nil
}
