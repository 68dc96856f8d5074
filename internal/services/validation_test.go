package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/whistle/whistle-server/internal/models"
)

func validEnvelope() *models.EncryptedEnvelope {
	return &models.EncryptedEnvelope{
		EncryptedMessage:  "c2VhbGVkIG1lc3NhZ2U=",
		EncryptedCategory: "c2VhbGVkIGNhdGVnb3J5",
		IV:                "00112233445566778899aabbccddeeff",
		Timestamp:         "2026-03-01T12:00:00Z",
	}
}

func video(size int64) *models.VideoMetadata {
	return &models.VideoMetadata{DurationSeconds: 60, SizeBytes: size, Format: "video/mp4"}
}

func TestValidateSubmission(t *testing.T) {
	tests := []struct {
		name    string
		req     models.CreateReportRequest
		wantErr string
	}{
		{
			name: "plain ok",
			req:  models.CreateReportRequest{Message: "broken lock", Category: models.CategorySafety},
		},
		{
			name:    "plain blank message",
			req:     models.CreateReportRequest{Message: "   ", Category: models.CategorySafety},
			wantErr: "Message is required",
		},
		{
			name:    "plain missing category",
			req:     models.CreateReportRequest{Message: "x"},
			wantErr: "Category is required",
		},
		{
			name:    "plain bogus category",
			req:     models.CreateReportRequest{Message: "x", Category: "bogus"},
			wantErr: "Invalid category",
		},
		{
			name:    "plain placeholder category",
			req:     models.CreateReportRequest{Message: "x", Category: models.CategoryEncrypted},
			wantErr: "Invalid category",
		},
		{
			name:    "bad severity",
			req:     models.CreateReportRequest{Message: "x", Category: models.CategoryMedical, Severity: "critical"},
			wantErr: "Invalid severity level",
		},
		{
			name: "encrypted ok",
			req:  models.CreateReportRequest{IsEncrypted: true, EncryptedData: validEnvelope(), Severity: models.SeverityUrgent},
		},
		{
			name:    "encrypted without envelope",
			req:     models.CreateReportRequest{IsEncrypted: true, Message: "plain leaks"},
			wantErr: "Encrypted data is incomplete",
		},
		{
			name: "encrypted missing category",
			req: models.CreateReportRequest{IsEncrypted: true, EncryptedData: func() *models.EncryptedEnvelope {
				e := validEnvelope()
				e.EncryptedCategory = ""
				return e
			}()},
			wantErr: "Encrypted data is incomplete",
		},
		{
			name: "encrypted short iv",
			req: models.CreateReportRequest{IsEncrypted: true, EncryptedData: func() *models.EncryptedEnvelope {
				e := validEnvelope()
				e.IV = "0011"
				return e
			}()},
			wantErr: "Encrypted data has an invalid IV",
		},
		{
			name: "encrypted non-base64 field",
			req: models.CreateReportRequest{IsEncrypted: true, EncryptedData: func() *models.EncryptedEnvelope {
				e := validEnvelope()
				e.EncryptedPhotoURL = "not base64!"
				return e
			}()},
			wantErr: "Encrypted data is malformed",
		},
		{
			name:    "bad video format",
			req:     models.CreateReportRequest{Message: "x", Category: models.CategorySafety, VideoMetadata: &models.VideoMetadata{SizeBytes: 10, Format: "video/avi"}},
			wantErr: "Unsupported video format. Please use MP4, WebM, or MOV",
		},
		{
			name:    "video too long",
			req:     models.CreateReportRequest{Message: "x", Category: models.CategorySafety, VideoMetadata: &models.VideoMetadata{DurationSeconds: 301, Format: "video/webm"}},
			wantErr: "Video too long. Maximum duration is 5 minutes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSubmission(&tt.req)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantErr, verr.Reason)
		})
	}
}

func TestVideoSizeLimitAppliesToBothBranches(t *testing.T) {
	plain := func(meta *models.VideoMetadata) *models.CreateReportRequest {
		return &models.CreateReportRequest{Message: "x", Category: models.CategorySafety, VideoMetadata: meta}
	}
	sealed := func(meta *models.VideoMetadata) *models.CreateReportRequest {
		return &models.CreateReportRequest{IsEncrypted: true, EncryptedData: validEnvelope(), VideoMetadata: meta}
	}

	for name, build := range map[string]func(*models.VideoMetadata) *models.CreateReportRequest{
		"plain":     plain,
		"encrypted": sealed,
	} {
		t.Run(name, func(t *testing.T) {
			var verr *ValidationError
			assert.ErrorAs(t, ValidateSubmission(build(video(101*1024*1024))), &verr)
			assert.NoError(t, ValidateSubmission(build(video(100*1024*1024))))
		})
	}
}
