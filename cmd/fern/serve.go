package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/fern/internal/handlers"
	"github.com/Ramsey-B/fern/pkg/jobs"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the admin API and the import scheduler",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
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

	a, err := newApp(ctx, cfg, logger, appOptions{pipeline: true, migrate: true})
	if err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(echomw.Recover())
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))

	a.checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	handlers.NewImportHandler(a.configs, a.history, a.scheduler, a.executor, a.driver, logger).RegisterRoutes(api)
	handlers.NewPayloadHandler().RegisterRoutes(api)

	cron := jobs.NewCronHost(logger)
	if cfg.SchedulerEnabled {
		if err := cron.AddJob(a.driver, cfg.SchedulerCron); err != nil {
			return err
		}
	} else {
		logger.Warn("Scheduler is disabled, imports only run on demand")
	}
	if cfg.HistoryRetention > 0 {
		if err := cron.AddJob(jobs.NewHistoryCleanupJob(a.scheduler, cfg.HistoryRetention), cfg.HistoryCleanupCron); err != nil {
			return err
		}
	}
	cron.Start(ctx)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           e,
		ReadTimeout:       time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Infof("Starting %s %s on :%d", cfg.AppName, cfg.Version, cfg.Port)
		if err := e.StartServer(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()
	a.checker.SetReady(true)

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err = <-serverErr:
		logger.WithError(err).Error("HTTP server stopped")
	}

	a.checker.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	// stop taking ticks, then let the running import finish
	a.driver.Stop()
	cron.Stop()

	if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.WithError(shutdownErr).Error("Failed to shut down HTTP server")
	}
	if closeErr := a.close(shutdownCtx); closeErr != nil {
		logger.WithError(closeErr).Error("Failed to stop dependencies")
	}
	if traceErr := shutdownTracing(shutdownCtx); traceErr != nil {
		logger.WithError(traceErr).Warn("Failed to flush traces")
	}

	logger.Info("Shutdown complete")
	return err
}
