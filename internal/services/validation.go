package services

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/whistle/whistle-server/internal/models"
)

// Video policy limits. Clients may check them before uploading; the server
// check in ValidateSubmission is the one that counts.
const (
	MaxVideoSizeBytes       int64   = 100 * 1024 * 1024
	MaxVideoDurationSeconds float64 = 300
)

// AllowedVideoFormats are the accepted video MIME types.
var AllowedVideoFormats = []string{"video/mp4", "video/webm", "video/quicktime"}

// ValidationError is a user-correctable problem with a submission.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ValidateSubmission applies the acceptance rules for POST /reports. Sealed
// envelopes are checked for shape only; the server cannot open them.
func ValidateSubmission(req *models.CreateReportRequest) error {
	if req.IsEncrypted {
		if err := validateEnvelope(req.EncryptedData); err != nil {
			return err
		}
	} else {
		if strings.TrimSpace(req.Message) == "" {
			return invalid("Message is required")
		}
		if req.Category == "" {
			return invalid("Category is required")
		}
		if !req.Category.Valid() {
			return invalid("Invalid category")
		}
	}

	if req.Severity != "" && !req.Severity.Valid() {
		return invalid("Invalid severity level")
	}

	if req.VideoMetadata != nil {
		if err := ValidateVideo(req.VideoMetadata); err != nil {
			return err
		}
	}
	return nil
}

// ValidateVideo checks attached video metadata against the policy limits.
func ValidateVideo(meta *models.VideoMetadata) error {
	if meta.SizeBytes < 0 || meta.SizeBytes > MaxVideoSizeBytes {
		return invalid("Video file too large. Maximum size is %dMB", MaxVideoSizeBytes/(1024*1024))
	}
	if meta.DurationSeconds < 0 || meta.DurationSeconds > MaxVideoDurationSeconds {
		return invalid("Video too long. Maximum duration is %d minutes", int(MaxVideoDurationSeconds)/60)
	}
	for _, f := range AllowedVideoFormats {
		if meta.Format == f {
			return nil
		}
	}
	return invalid("Unsupported video format. Please use MP4, WebM, or MOV")
}

func validateEnvelope(env *models.EncryptedEnvelope) error {
	if env == nil || env.EncryptedMessage == "" || env.EncryptedCategory == "" {
		return invalid("Encrypted data is incomplete")
	}

	iv, err := hex.DecodeString(env.IV)
	if err != nil || len(iv) != 16 {
		return invalid("Encrypted data has an invalid IV")
	}

	fields := []string{
		env.EncryptedMessage,
		env.EncryptedCategory,
		env.EncryptedPhotoURL,
		env.EncryptedVideoURL,
		env.EncryptedVideoMetadata,
	}
	for _, f := range fields {
		if f == "" {
			continue
		}
		if _, err := base64.StdEncoding.DecodeString(f); err != nil {
			return invalid("Encrypted data is malformed")
		}
	}
	return nil
}
