package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !appConfig.UseDatabase() {
			return errors.New("DB_HOST is not set, there is no database to migrate")
		}

		a, err := newApp(cmd.Context(), appConfig, appLogger, appOptions{migrate: true})
		if err != nil {
			return err
		}
		appLogger.Info("Migrations applied")
		return a.close(context.WithoutCancel(cmd.Context()))
	},
}
