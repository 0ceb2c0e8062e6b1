package main

import (
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/fern/config"
)

var rootCmd = &cobra.Command{
	Use:   "fern",
	Short: "Fern - scheduled external data imports into the content index",
	Long: `Fern pulls JSON from external APIs on a schedule, maps it onto content
types and pushes it to the search index as bulk payloads.

Configuration is read from the environment, optionally seeded from a .env file.

Examples:
  # Run the admin API and the import scheduler
  fern serve

  # Process every due import once and exit
  fern run-once

  # Copy configurations between environments
  fern configs export --out imports.yaml --redact
  fern configs import imports.yaml --dry-run`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(envFiles...)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		appConfig = cfg

		logger, err := newLogger(cfg)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		appLogger = logger
		return nil
	},
}

var (
	envFiles []string

	// set by PersistentPreRunE for every subcommand
	appConfig *config.Config
	appLogger ectologger.Logger
)

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "Env files to load before reading the environment")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runOnceCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(configsCmd)
	rootCmd.AddCommand(payloadCmd)
}

func newLogger(cfg *config.Config) (ectologger.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zcfg = zap.NewDevelopmentConfig()
	}
	if level, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}

	zapLogger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), nil
}
