// Package jobs hosts the periodic entry points of the service: the import
// driver that runs due configurations and the history cleanup job.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/appctx"
	"github.com/Ramsey-B/fern/pkg/importer"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/locking"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/notifications"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/scheduler"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"

	// DefaultLockTTL outlives the fetch and sync timeouts combined
	DefaultLockTTL = 5 * time.Minute
)

// ErrAlreadyRunning is returned when another run holds the configuration's lock
var ErrAlreadyRunning = errors.New("import is already running")

type outcome string

const (
	outcomeSuccess outcome = "success"
	outcomeFailed  outcome = "failed"
	outcomeSkipped outcome = "skipped"
)

// Summary counts the configurations one tick processed
type Summary struct {
	Processed int
	Success   int
	Failed    int
	Skipped   int
}

func (s Summary) String() string {
	return fmt.Sprintf("Processed %d imports. Success: %d, Failed: %d, Skipped: %d",
		s.Processed, s.Success, s.Failed, s.Skipped)
}

func (s *Summary) add(o outcome) {
	s.Processed++
	switch o {
	case outcomeSuccess:
		s.Success++
	case outcomeFailed:
		s.Failed++
	default:
		s.Skipped++
	}
}

// Config holds driver settings
type Config struct {
	LockTTL time.Duration
}

// Driver runs due import configurations one after another
type Driver struct {
	configs    repositories.ConfigurationStore
	scheduler  *scheduler.Scheduler
	executor   *importer.Executor
	dispatcher *notifications.Dispatcher
	locker     locking.RunLocker
	events     kafka.Publisher
	config     Config
	logger     ectologger.Logger

	stopping atomic.Bool
}

func NewDriver(
	configs repositories.ConfigurationStore,
	sched *scheduler.Scheduler,
	executor *importer.Executor,
	dispatcher *notifications.Dispatcher,
	locker locking.RunLocker,
	events kafka.Publisher,
	config Config,
	logger ectologger.Logger,
) *Driver {
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}
	if locker == nil {
		locker = locking.NewMemoryLocker()
	}
	if events == nil {
		events = kafka.NoopPublisher{}
	}

	return &Driver{
		configs:    configs,
		scheduler:  sched,
		executor:   executor,
		dispatcher: dispatcher,
		locker:     locker,
		events:     events,
		config:     config,
		logger:     logger,
	}
}

// Name identifies the driver in the cron host
func (d *Driver) Name() string {
	return "import-driver"
}

// Stop asks a running tick to finish after its current configuration.
func (d *Driver) Stop() {
	d.stopping.Store(true)
}

func (d *Driver) stopped(ctx context.Context) bool {
	return d.stopping.Load() || ctx.Err() != nil
}

// Run satisfies the cron Job interface
func (d *Driver) Run(ctx context.Context) error {
	summary, err := d.Execute(ctx)
	if err != nil {
		return err
	}
	d.logger.WithContext(ctx).Info(summary)
	return nil
}

// Execute runs one tick: every configuration due now, sequentially. A
// failing configuration never aborts the tick. The returned string
// summarizes what was processed.
func (d *Driver) Execute(ctx context.Context) (string, error) {
	ctx = appctx.SetRunID(ctx, uuid.NewString())
	ctx, span := tracing.StartSpan(ctx, "Driver.Execute")
	defer span.End()

	log := d.logger.WithContext(ctx)

	now := d.scheduler.Now()
	due, err := d.scheduler.GetDueConfigurations(ctx, now)
	if err != nil {
		log.WithError(err).Error("Failed to load due import configurations")
		return "", err
	}
	metrics.RecordTick(len(due))

	var summary Summary
	for i := range due {
		if d.stopped(ctx) {
			log.WithFields(map[string]any{
				"remaining": len(due) - i,
			}).Warn("Stop requested, leaving remaining configurations for the next tick")
			break
		}

		cfg := due[i]
		_, o, err := d.run(ctx, &cfg, TriggerScheduled)
		if errors.Is(err, ErrAlreadyRunning) {
			log.WithFields(map[string]any{
				"configuration_id": cfg.ID,
			}).Info("Import already running, skipping")
		} else if err != nil {
			log.WithError(err).WithFields(map[string]any{
				"configuration_id": cfg.ID,
			}).Error("Import could not be processed")
		}
		summary.add(o)
	}

	log.WithFields(map[string]any{
		"processed": summary.Processed,
		"success":   summary.Success,
		"failed":    summary.Failed,
		"skipped":   summary.Skipped,
	}).Debug("Import tick finished")

	return summary.String(), nil
}

// RunConfiguration runs one configuration now, outside its schedule. A run
// already in progress is reported as 409.
func (d *Driver) RunConfiguration(ctx context.Context, id uuid.UUID) (*models.ImportResult, error) {
	ctx = appctx.SetRunID(ctx, uuid.NewString())
	ctx, span := tracing.StartSpan(ctx, "Driver.RunConfiguration")
	defer span.End()

	cfg, err := d.configs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	result, _, err := d.run(ctx, cfg, TriggerManual)
	if errors.Is(err, ErrAlreadyRunning) {
		return nil, httperror.NewHTTPErrorf(http.StatusConflict, "import configuration %s is already running", id)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// run processes one configuration under its run lock. The error is only set
// when the attempt could not start; import failures are in the result.
func (d *Driver) run(ctx context.Context, cfg *models.ImportConfiguration, trigger string) (*models.ImportResult, outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "Driver.run")
	defer span.End()

	log := d.logger.WithContext(ctx).WithFields(map[string]any{
		"configuration_id": cfg.ID,
		"configuration":    cfg.Name,
		"trigger":          trigger,
	})

	lease, err := d.locker.TryAcquire(ctx, locking.KeyFor(cfg.ID), d.config.LockTTL)
	if errors.Is(err, locking.ErrLocked) {
		metrics.RecordLockContention(trigger)
		return nil, outcomeSkipped, ErrAlreadyRunning
	}
	if err != nil {
		return nil, outcomeSkipped, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Warn("Failed to release run lock")
		}
	}()

	scheduled := trigger == TriggerScheduled
	wasRetry := cfg.ConsecutiveFailures > 0
	retryAttempt := cfg.ConsecutiveFailures

	if err := d.scheduler.MarkRunning(ctx, cfg, scheduled); err != nil {
		return nil, outcomeFailed, fmt.Errorf("failed to mark import running: %w", err)
	}

	result := d.execute(ctx, cfg)
	d.scheduler.RecordExecution(ctx, cfg.ID, result, wasRetry, retryAttempt, scheduled)

	o := outcomeSuccess
	switch {
	case result.IsSkipped():
		o = outcomeSkipped
		if err := d.scheduler.SkipExecution(ctx, cfg, result.ErrorMessage()); err != nil {
			log.WithError(err).Error("Failed to advance schedule of skipped import")
		}
	default:
		if !result.Success {
			o = outcomeFailed
		} else {
			count := result.ItemsImported
			cfg.LastItemCount = &count
		}

		state, err := d.scheduler.UpdateConfigurationAfterExecution(ctx, cfg, result.Success, result.ErrorMessage())
		if err != nil {
			log.WithError(err).Error("Failed to update import schedule")
			break
		}
		if state.RetriesExhausted {
			d.dispatcher.SendFailureNotification(ctx, cfg, result, cfg.ConsecutiveFailures)
		}
		if state.Recovered {
			d.dispatcher.SendRecoveryNotification(ctx, cfg, result)
		}
	}

	if err := d.events.PublishImportEvent(ctx, d.event(ctx, cfg, result, trigger)); err != nil {
		log.WithError(err).Warn("Failed to publish import event")
	}
	metrics.RecordImport(string(o), trigger, result.Duration,
		result.ItemsReceived, result.ItemsImported, result.ItemsSkipped, result.ItemsFailed)

	return result, o, nil
}

// execute resolves the target schema and runs the import. A schema that
// cannot be resolved fails the attempt the same way a fetch would.
func (d *Driver) execute(ctx context.Context, cfg *models.ImportConfiguration) *models.ImportResult {
	schema, err := d.executor.ResolveSchema(ctx, cfg)
	if err != nil {
		d.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"configuration_id": cfg.ID,
		}).Warn("Failed to resolve content type schema")
		return importer.FailedResult(err)
	}
	return d.executor.ExecuteImport(ctx, cfg, schema, cfg.SourceID)
}

func (d *Driver) event(ctx context.Context, cfg *models.ImportConfiguration, result *models.ImportResult, trigger string) *kafka.ImportEvent {
	evt := kafka.NewImportEvent(cfg, result, trigger)
	evt.RunID = appctx.GetRunID(ctx)
	evt.Timestamp = d.scheduler.Now()
	return evt
}
