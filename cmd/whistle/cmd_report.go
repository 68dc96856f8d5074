package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/whistle/whistle-server/internal/models"
	"github.com/whistle/whistle-server/internal/services"
)

var (
	submitMessage  string
	submitCategory string
	submitSeverity string
	submitPhotoURL string
	submitVideoURL string
	submitEncrypt  bool

	videoSize     int64
	videoDuration float64
	videoFormat   string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit an anonymous report",
	Long: `Submits a report without any account. With --encrypt the content is
sealed with WHISTLE_ENCRYPTION_KEY before it leaves this machine.`,
	Args: cobra.NoArgs,
	RunE: runSubmit,
}

var statusCmd = &cobra.Command{
	Use:   "status <report-id>",
	Short: "Check the review status of a report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := newClient().Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Report:    %s\n", status.ID)
		fmt.Fprintf(out, "Status:    %s\n", status.Status)
		fmt.Fprintf(out, "Submitted: %s\n", status.CreatedAt.Local().Format("2006-01-02 15:04"))
		if status.AdminResponse != nil {
			fmt.Fprintf(out, "Response:  %s\n", *status.AdminResponse)
		}
		return nil
	},
}

func init() {
	f := submitCmd.Flags()
	f.StringVarP(&submitMessage, "message", "m", "", "what happened (required)")
	f.StringVarP(&submitCategory, "category", "c", "", "harassment, medical, emergency, safety or feedback (required)")
	f.StringVarP(&submitSeverity, "severity", "s", "", "low, medium, high or urgent (default medium)")
	f.StringVar(&submitPhotoURL, "photo-url", "", "link to a photo")
	f.StringVar(&submitVideoURL, "video-url", "", "link to an uploaded video")
	f.Int64Var(&videoSize, "video-size", 0, "video size in bytes")
	f.Float64Var(&videoDuration, "video-duration", 0, "video length in seconds")
	f.StringVar(&videoFormat, "video-format", "video/mp4", "video MIME type")
	f.BoolVarP(&submitEncrypt, "encrypt", "e", false, "encrypt the report content")
	_ = submitCmd.MarkFlagRequired("message")
	_ = submitCmd.MarkFlagRequired("category")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	payload := models.ReportPayload{
		Message:  strings.TrimSpace(submitMessage),
		Category: models.ReportCategory(submitCategory),
		PhotoURL: submitPhotoURL,
		VideoURL: submitVideoURL,
	}
	if submitVideoURL != "" {
		payload.VideoMetadata = &models.VideoMetadata{
			DurationSeconds: videoDuration,
			SizeBytes:       videoSize,
			Format:          videoFormat,
			UploadMethod:    "direct",
		}
		// Catch oversized videos before anything is sent.
		if err := services.ValidateVideo(payload.VideoMetadata); err != nil {
			return err
		}
	}

	req := &models.CreateReportRequest{Severity: models.ReportSeverity(submitSeverity)}
	if submitEncrypt {
		c, err := codec()
		if err != nil {
			return err
		}
		if c == nil {
			return fmt.Errorf("--encrypt needs WHISTLE_ENCRYPTION_KEY; generate one with `whistle keygen`")
		}
		env, err := c.Encrypt(payload)
		if err != nil {
			return fmt.Errorf("failed to encrypt report: %w", err)
		}
		req.IsEncrypted = true
		req.EncryptedData = env
		req.VideoMetadata = payload.VideoMetadata
	} else {
		req.Message = payload.Message
		req.Category = payload.Category
		req.PhotoURL = payload.PhotoURL
		req.VideoURL = payload.VideoURL
		req.VideoMetadata = payload.VideoMetadata
	}

	logger.Debugw("Submitting report", "encrypted", req.IsEncrypted, "severity", req.Severity)
	resp, err := newClient().Submit(cmd.Context(), req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Report submitted.")
	fmt.Fprintf(out, "Report ID: %s\n", resp.ID)
	fmt.Fprintln(out, "Keep this ID to check the status later. It is the only link to your report.")
	return nil
}
