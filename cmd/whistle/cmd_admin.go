package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/whistle/whistle-server/internal/models"
)

var (
	loginUser string

	reportsStatus string

	respondStatus  string
	respondMessage string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in as an admin and print a session token",
	Long: `Reads the password from WHISTLE_ADMIN_PASSWORD or, when unset, from the
first line of standard input. Export the printed token as WHISTLE_ADMIN_TOKEN.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		password := os.Getenv("WHISTLE_ADMIN_PASSWORD")
		if password == "" {
			fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("failed to read password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}

		token, err := newClient().Login(cmd.Context(), loginUser, password)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "List reports, newest first",
	Long:  `Lists reports for review. Encrypted reports are opened locally when WHISTLE_ENCRYPTION_KEY is set.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := requireToken()
		if err != nil {
			return err
		}
		c, err := codec()
		if err != nil {
			return err
		}

		list, err := newClient().Reports(cmd.Context(), token, models.ReportStatus(reportsStatus))
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d report(s)\n", list.Total)
		for _, r := range list.Reports {
			message, category := r.Message, r.Category
			if r.IsEncrypted && r.EncryptedData != nil && c != nil {
				p := c.DecryptForDisplay(r.EncryptedData)
				message, category = p.Message, p.Category
			}

			fmt.Fprintf(out, "\n%s  [%s] %s/%s  %s\n", r.ID, r.Status, category, r.Severity,
				r.CreatedAt.Local().Format("2006-01-02 15:04"))
			fmt.Fprintf(out, "  %s\n", message)
			if r.AdminResponse != nil {
				fmt.Fprintf(out, "  response: %s\n", *r.AdminResponse)
			}
		}
		return nil
	},
}

var respondCmd = &cobra.Command{
	Use:   "respond <report-id>",
	Short: "Change a report's status or reply to the submitter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := requireToken()
		if err != nil {
			return err
		}

		var req models.UpdateReportRequest
		if cmd.Flags().Changed("status") {
			s := models.ReportStatus(respondStatus)
			req.Status = &s
		}
		if cmd.Flags().Changed("message") {
			req.AdminResponse = &respondMessage
		}
		if req.Status == nil && req.AdminResponse == nil {
			return fmt.Errorf("nothing to update: pass --status and/or --message")
		}

		r, err := newClient().Update(cmd.Context(), token, args[0], req)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Report %s is now %s\n", r.ID, r.Status)
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginUser, "username", "u", "admin", "admin username")
	reportsCmd.Flags().StringVar(&reportsStatus, "status", "", "only show reports with this status")
	respondCmd.Flags().StringVar(&respondStatus, "status", "", "pending, reviewed, flagged or resolved")
	respondCmd.Flags().StringVarP(&respondMessage, "message", "m", "", "response shown to the submitter")
}
