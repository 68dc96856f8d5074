// Package main implements the whistle command-line client: anonymous report
// submission, status lookup, admin review and live notifications.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/whistle/whistle-server/internal/client"
	"github.com/whistle/whistle-server/internal/config"
	"github.com/whistle/whistle-server/internal/envelope"
	"go.uber.org/zap"
)

var (
	verbose   bool
	serverURL string
	adminTok  string

	cfg    *config.ClientConfig
	logger *zap.SugaredLogger
)

var rootCmd = &cobra.Command{
	Use:           "whistle",
	Short:         "Anonymous incident reporting client",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.LoadClient()
		if serverURL != "" {
			cfg.ServerURL = serverURL
		}
		if adminTok != "" {
			cfg.AdminToken = adminTok
		}

		var zl *zap.Logger
		var err error
		if verbose {
			zl, err = zap.NewDevelopment()
		} else {
			zl = zap.NewNop()
		}
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		logger = zl.Sugar()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (default $WHISTLE_SERVER_URL)")
	rootCmd.PersistentFlags().StringVar(&adminTok, "token", "", "admin session token (default $WHISTLE_ADMIN_TOKEN)")

	rootCmd.AddCommand(keygenCmd, submitCmd, statusCmd, loginCmd, reportsCmd, respondCmd, watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newClient() *client.Client {
	return client.New(cfg.ServerURL, 30*time.Second, logger)
}

func requireToken() (string, error) {
	if cfg.AdminToken == "" {
		return "", fmt.Errorf("admin token required: run `whistle login` and set WHISTLE_ADMIN_TOKEN or pass --token")
	}
	return cfg.AdminToken, nil
}

// codec returns nil when no key is configured.
func codec() (*envelope.Codec, error) {
	if cfg.EncryptionKey == "" {
		return nil, nil
	}
	key, err := envelope.ParseKey(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	return envelope.NewCodec(key)
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a report encryption key",
	Long:  `Prints a random 256-bit key in hex. Share it with submitters and admins as WHISTLE_ENCRYPTION_KEY; the server never needs it.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := envelope.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}
