// Package models defines the data structures used across the application.
// Report payloads may arrive encrypted; the server stores envelopes verbatim
// and never holds the key needed to open them.
package models

import (
	"time"
)

// ReportCategory classifies an incident report.
type ReportCategory string

const (
	CategoryHarassment ReportCategory = "harassment"
	CategoryMedical    ReportCategory = "medical"
	CategoryEmergency  ReportCategory = "emergency"
	CategorySafety     ReportCategory = "safety"
	CategoryFeedback   ReportCategory = "feedback"

	// CategoryEncrypted is a placeholder for reports whose real category is
	// sealed inside the envelope. Submitters cannot choose it.
	CategoryEncrypted ReportCategory = "encrypted"
)

// Valid reports whether c is one of the categories a submitter may pick.
func (c ReportCategory) Valid() bool {
	switch c {
	case CategoryHarassment, CategoryMedical, CategoryEmergency, CategorySafety, CategoryFeedback:
		return true
	}
	return false
}

// ReportStatus tracks a report through review.
type ReportStatus string

const (
	StatusPending  ReportStatus = "pending"
	StatusReviewed ReportStatus = "reviewed"
	StatusFlagged  ReportStatus = "flagged"
	StatusResolved ReportStatus = "resolved"
)

func (s ReportStatus) Valid() bool {
	switch s {
	case StatusPending, StatusReviewed, StatusFlagged, StatusResolved:
		return true
	}
	return false
}

// ReportSeverity is the submitter's own priority estimate.
type ReportSeverity string

const (
	SeverityLow    ReportSeverity = "low"
	SeverityMedium ReportSeverity = "medium"
	SeverityHigh   ReportSeverity = "high"
	SeverityUrgent ReportSeverity = "urgent"
)

func (s ReportSeverity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityUrgent:
		return true
	}
	return false
}

// VideoMetadata describes an attached video. Limits are enforced by the
// services package.
type VideoMetadata struct {
	DurationSeconds float64 `json:"duration_seconds"`
	SizeBytes       int64   `json:"size_bytes"`
	Format          string  `json:"format"` // MIME type
	IsRecorded      bool    `json:"is_recorded"`
	Width           int     `json:"width,omitempty"`
	Height          int     `json:"height,omitempty"`
	UploadMethod    string  `json:"upload_method,omitempty"` // "direct" | "resumable"
}

// ReportPayload is the plaintext content of a report before encryption.
type ReportPayload struct {
	Message       string         `json:"message"`
	Category      ReportCategory `json:"category"`
	PhotoURL      string         `json:"photo_url,omitempty"`
	VideoURL      string         `json:"video_url,omitempty"`
	VideoMetadata *VideoMetadata `json:"video_metadata,omitempty"`
}

// EncryptedEnvelope is the sealed form of a ReportPayload. It is produced
// once by the submitter and never mutated afterwards.
type EncryptedEnvelope struct {
	EncryptedMessage       string `json:"encrypted_message"`
	EncryptedCategory      string `json:"encrypted_category"`
	EncryptedPhotoURL      string `json:"encrypted_photo_url,omitempty"`
	EncryptedVideoURL      string `json:"encrypted_video_url,omitempty"`
	EncryptedVideoMetadata string `json:"encrypted_video_metadata,omitempty"`
	IV                     string `json:"iv"`        // hex, 16 bytes
	Timestamp              string `json:"timestamp"` // RFC 3339
}

// Report is the server-owned record of a submission.
type Report struct {
	ID              string             `json:"id" db:"id"`
	Message         string             `json:"message" db:"message"`
	Category        ReportCategory     `json:"category" db:"category"`
	Severity        ReportSeverity     `json:"severity" db:"severity"`
	Status          ReportStatus       `json:"status" db:"status"`
	PhotoURL        string             `json:"photo_url,omitempty" db:"photo_url"`
	VideoURL        string             `json:"video_url,omitempty" db:"video_url"`
	VideoMetadata   *VideoMetadata     `json:"video_metadata,omitempty" db:"video_metadata"`
	IsEncrypted     bool               `json:"is_encrypted" db:"is_encrypted"`
	EncryptedData   *EncryptedEnvelope `json:"encrypted_data,omitempty" db:"encrypted_data"`
	AdminResponse   *string            `json:"admin_response,omitempty" db:"admin_response"`
	AdminResponseAt *time.Time         `json:"admin_response_at,omitempty" db:"admin_response_at"`
	CreatedAt       time.Time          `json:"created_at" db:"created_at"`
}

// CreateReportRequest is the body of POST /reports. Either the plaintext
// fields or EncryptedData are used, depending on IsEncrypted.
type CreateReportRequest struct {
	Message       string             `json:"message"`
	Category      ReportCategory     `json:"category"`
	Severity      ReportSeverity     `json:"severity,omitempty"`
	PhotoURL      string             `json:"photo_url,omitempty"`
	VideoURL      string             `json:"video_url,omitempty"`
	VideoMetadata *VideoMetadata     `json:"video_metadata,omitempty"`
	EncryptedData *EncryptedEnvelope `json:"encrypted_data,omitempty"`
	IsEncrypted   bool               `json:"is_encrypted"`
}

// CreateReportResponse is deliberately minimal: the anonymous caller never
// sees server-computed fields such as status.
type CreateReportResponse struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// ReportStatusResponse is returned to anyone holding a report id. It never
// carries report content.
type ReportStatusResponse struct {
	ID              string       `json:"id"`
	Status          ReportStatus `json:"status"`
	CreatedAt       time.Time    `json:"created_at"`
	AdminResponse   *string      `json:"admin_response"`
	AdminResponseAt *time.Time   `json:"admin_response_at"`
}

// StatusOf projects a report onto its public status view.
func StatusOf(r *Report) ReportStatusResponse {
	return ReportStatusResponse{
		ID:              r.ID,
		Status:          r.Status,
		CreatedAt:       r.CreatedAt,
		AdminResponse:   r.AdminResponse,
		AdminResponseAt: r.AdminResponseAt,
	}
}

// GetReportsResponse is the admin listing.
type GetReportsResponse struct {
	Reports []Report `json:"reports"`
	Total   int      `json:"total"`
}

// UpdateReportRequest is the body of PUT /reports/{id}.
type UpdateReportRequest struct {
	Status        *ReportStatus `json:"status,omitempty"`
	AdminResponse *string       `json:"admin_response,omitempty"`
}

// AdminAuthRequest is the login body.
type AdminAuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AdminAuthResponse is the login result.
type AdminAuthResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ActivityType labels an entry in the activity log.
type ActivityType string

const (
	ActivitySubmission    ActivityType = "submission"
	ActivityStatusChange  ActivityType = "status_change"
	ActivityAdminResponse ActivityType = "admin_response"
)

// ActivityLog records who did what to which report. It never holds report
// content.
type ActivityLog struct {
	ID          string       `json:"id" db:"id"`
	ReportID    string       `json:"report_id" db:"report_id"`
	Type        ActivityType `json:"activity_type" db:"activity_type"`
	Description string       `json:"description" db:"description"`
	Actor       string       `json:"actor" db:"actor"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
}

// NotificationSettings is returned by GET /notifications/settings.
type NotificationSettings struct {
	EmailEnabled bool             `json:"emailEnabled"`
	PushEnabled  bool             `json:"pushEnabled"`
	UrgentAlerts bool             `json:"urgentAlerts"`
	Categories   []ReportCategory `json:"categories"`
	AdminEmail   string           `json:"adminEmail,omitempty"`
}

// AlertRequest is the body of POST /notifications/email.
type AlertRequest struct {
	ReportID string         `json:"reportId"`
	Category ReportCategory `json:"category"`
	Severity ReportSeverity `json:"severity"`
}

// HealthStatus represents the server health check response
type HealthStatus struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime,omitempty"`
	Storage string `json:"storage,omitempty"`
	Viewers int    `json:"viewers"`
}
