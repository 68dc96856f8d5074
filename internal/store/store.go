// Package store persists reports and the admin activity log.
//
// Memory keeps everything in process (cleared on restart); Postgres backs the
// same interfaces with pgx.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/whistle/whistle-server/internal/models"
)

// ErrNotFound is returned when a report id is unknown.
var ErrNotFound = errors.New("report not found")

// ReportStore is the storage collaborator for reports.
type ReportStore interface {
	Create(ctx context.Context, r *models.Report) error
	Get(ctx context.Context, id string) (*models.Report, error)
	// List returns reports newest first. An empty status returns all.
	List(ctx context.Context, status models.ReportStatus) ([]models.Report, error)
	Update(ctx context.Context, id string, req models.UpdateReportRequest, now time.Time) (*models.Report, error)
	Ping(ctx context.Context) error
}

// ActivityStore records admin accountability entries.
type ActivityStore interface {
	LogActivity(ctx context.Context, entry *models.ActivityLog) error
	RecentActivity(ctx context.Context, limit int) ([]models.ActivityLog, error)
	ActivityForReport(ctx context.Context, reportID string, limit int) ([]models.ActivityLog, error)
}

// Store combines both collaborators.
type Store interface {
	ReportStore
	ActivityStore
	Close()
}

// applyUpdate mutates r in place according to req.
func applyUpdate(r *models.Report, req models.UpdateReportRequest, now time.Time) {
	if req.Status != nil {
		r.Status = *req.Status
	}
	if req.AdminResponse != nil {
		resp := *req.AdminResponse
		at := now
		r.AdminResponse = &resp
		r.AdminResponseAt = &at
	}
}
