package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/whistle/whistle-server/internal/models"
	"go.uber.org/zap"
)

// Schema is applied by Postgres.Migrate.
const Schema = `
CREATE TABLE IF NOT EXISTS reports (
	id                TEXT PRIMARY KEY,
	message           TEXT NOT NULL,
	category          TEXT NOT NULL,
	severity          TEXT NOT NULL,
	status            TEXT NOT NULL,
	photo_url         TEXT NOT NULL DEFAULT '',
	video_url         TEXT NOT NULL DEFAULT '',
	video_metadata    JSONB,
	is_encrypted      BOOLEAN NOT NULL DEFAULT FALSE,
	encrypted_data    JSONB,
	admin_response    TEXT,
	admin_response_at TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS reports_status_created_idx ON reports (status, created_at DESC);

CREATE TABLE IF NOT EXISTS activity_logs (
	id            TEXT PRIMARY KEY,
	report_id     TEXT NOT NULL,
	activity_type TEXT NOT NULL,
	description   TEXT NOT NULL,
	actor         TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS activity_logs_report_idx ON activity_logs (report_id, created_at DESC);
`

const reportColumns = `id, message, category, severity, status, photo_url, video_url, video_metadata,
	is_encrypted, encrypted_data, admin_response, admin_response_at, created_at`

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	db     *pgxpool.Pool
	logger *zap.SugaredLogger
}

// NewPostgres wraps an open pool.
func NewPostgres(db *pgxpool.Pool, logger *zap.SugaredLogger) *Postgres {
	return &Postgres{db: db, logger: logger}
}

// Migrate creates the tables if they do not exist.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Create stores a new report
func (s *Postgres) Create(ctx context.Context, r *models.Report) error {
	meta, err := marshalNullable(r.VideoMetadata)
	if err != nil {
		return fmt.Errorf("marshal video metadata: %w", err)
	}
	env, err := marshalNullable(r.EncryptedData)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	query := `
		INSERT INTO reports (` + reportColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = s.db.Exec(ctx, query,
		r.ID, r.Message, r.Category, r.Severity, r.Status,
		r.PhotoURL, r.VideoURL, meta,
		r.IsEncrypted, env,
		r.AdminResponse, r.AdminResponseAt, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// Get looks up a report by id
func (s *Postgres) Get(ctx context.Context, id string) (*models.Report, error) {
	row := s.db.QueryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id)
	r, err := scanReport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select report: %w", err)
	}
	return r, nil
}

// List returns reports newest first, optionally filtered by status
func (s *Postgres) List(ctx context.Context, status models.ReportStatus) ([]models.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	reports := make([]models.Report, 0)
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			s.logger.Warnw("Skipping unreadable report row", "error", err)
			continue
		}
		reports = append(reports, *r)
	}
	return reports, rows.Err()
}

// Update applies an admin update and returns the new state
func (s *Postgres) Update(ctx context.Context, id string, req models.UpdateReportRequest, now time.Time) (*models.Report, error) {
	var status *string
	if req.Status != nil {
		v := string(*req.Status)
		status = &v
	}

	query := `
		UPDATE reports SET
			status            = COALESCE($2::text, status),
			admin_response    = CASE WHEN $3::boolean THEN $4 ELSE admin_response END,
			admin_response_at = CASE WHEN $3::boolean THEN $5 ELSE admin_response_at END
		WHERE id = $1
		RETURNING ` + reportColumns

	row := s.db.QueryRow(ctx, query, id, status, req.AdminResponse != nil, req.AdminResponse, now)
	r, err := scanReport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update report: %w", err)
	}
	return r, nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// LogActivity records an admin or system action
func (s *Postgres) LogActivity(ctx context.Context, entry *models.ActivityLog) error {
	query := `
		INSERT INTO activity_logs (id, report_id, activity_type, description, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.Exec(ctx, query,
		entry.ID, entry.ReportID, entry.Type, entry.Description, entry.Actor, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert activity log: %w", err)
	}
	return nil
}

// RecentActivity returns the newest activity across all reports
func (s *Postgres) RecentActivity(ctx context.Context, limit int) ([]models.ActivityLog, error) {
	query := `
		SELECT id, report_id, activity_type, description, actor, created_at
		FROM activity_logs
		ORDER BY created_at DESC
		LIMIT $1
	`
	return s.queryActivity(ctx, query, limit)
}

// ActivityForReport returns the newest activity for one report
func (s *Postgres) ActivityForReport(ctx context.Context, reportID string, limit int) ([]models.ActivityLog, error) {
	query := `
		SELECT id, report_id, activity_type, description, actor, created_at
		FROM activity_logs
		WHERE report_id = $2
		ORDER BY created_at DESC
		LIMIT $1
	`
	return s.queryActivity(ctx, query, limit, reportID)
}

func (s *Postgres) queryActivity(ctx context.Context, query string, args ...any) ([]models.ActivityLog, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query activity logs: %w", err)
	}
	defer rows.Close()

	var logs []models.ActivityLog
	for rows.Next() {
		var log models.ActivityLog
		if err := rows.Scan(&log.ID, &log.ReportID, &log.Type,
			&log.Description, &log.Actor, &log.CreatedAt); err != nil {
			s.logger.Warnw("Skipping unreadable activity row", "error", err)
			continue
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func (s *Postgres) Close() {
	s.db.Close()
}

func scanReport(row pgx.Row) (*models.Report, error) {
	var (
		r    models.Report
		meta []byte
		env  []byte
	)
	err := row.Scan(&r.ID, &r.Message, &r.Category, &r.Severity, &r.Status,
		&r.PhotoURL, &r.VideoURL, &meta,
		&r.IsEncrypted, &env,
		&r.AdminResponse, &r.AdminResponseAt, &r.CreatedAt)
	if err != nil {
		return nil, err
	}

	if len(meta) > 0 {
		r.VideoMetadata = &models.VideoMetadata{}
		if err := json.Unmarshal(meta, r.VideoMetadata); err != nil {
			return nil, fmt.Errorf("decode video metadata: %w", err)
		}
	}
	if len(env) > 0 {
		r.EncryptedData = &models.EncryptedEnvelope{}
		if err := json.Unmarshal(env, r.EncryptedData); err != nil {
			return nil, fmt.Errorf("decode envelope: %w", err)
		}
	}
	return &r, nil
}

// marshalNullable returns nil for a nil pointer so the column stays NULL.
func marshalNullable[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

var _ Store = (*Postgres)(nil)
