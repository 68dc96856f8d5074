package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/whistle/whistle-server/internal/agent"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Show new reports as they arrive",
	Long: `Subscribes to the live notification stream and raises an alert for each
new report. Lost connections are retried with exponential backoff; after five
failed attempts the watcher gives up.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := requireToken()
		if err != nil {
			return err
		}

		alerter := agent.NewTerminalAlerter(cmd.OutOrStdout())
		a := agent.New(newClient(), token, alerter, logger,
			agent.WithStateHook(func(s agent.State) {
				logger.Debugw("Notification state changed", "state", s.String())
			}),
		)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		go func() {
			<-ctx.Done()
			a.Disconnect()
		}()

		return a.Run(context.Background())
	},
}
