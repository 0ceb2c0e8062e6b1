package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

var runOnceCmd = &cobra.Command{
	Use:   "run-once",
	Short: "Process every due import once and print the summary",
	Long: `Runs a single scheduler tick: every enabled configuration whose scheduled or
retry slot has passed is imported, in order, and the summary is printed.

Suitable for an external cron or a Kubernetes CronJob in place of 'fern serve'.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, logger := appConfig, appLogger
		shutdownTracing, err := tracing.Setup(ctx, cfg.AppName, tracing.OTLPConfig{
			Enabled:  cfg.OTLPEnabled,
			Endpoint: cfg.OTLPEndpoint,
			Protocol: cfg.OTLPProtocol,
			Insecure: cfg.OTLPInsecure,
		})
		if err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}
		defer func() { _ = shutdownTracing(context.WithoutCancel(ctx)) }()

		a, err := newApp(ctx, cfg, logger, appOptions{pipeline: true})
		if err != nil {
			return err
		}
		defer func() { _ = a.close(context.WithoutCancel(ctx)) }()

		summary, err := a.driver.Execute(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), summary)
		return nil
	},
}
