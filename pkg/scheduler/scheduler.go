// Package scheduler decides when configurations run and moves them through
// their schedule states after each attempt.
package scheduler

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// retryDelays is indexed by consecutive failure count, capped at the last entry
var retryDelays = []time.Duration{
	time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
}

// ExecutionOutcome describes what an attempt did to a configuration's state
type ExecutionOutcome struct {
	PreviousFailures int
	// Recovered is set when a success follows one or more failures.
	Recovered bool
	// RetriesExhausted is set once per exhaustion: the failure count reached
	// MaxRetries and no failure alert was sent since the last success.
	RetriesExhausted bool
}

// Scheduler owns the scheduling fields of import configurations
type Scheduler struct {
	configs repositories.ConfigurationStore
	history repositories.HistoryStore
	logger  ectologger.Logger
	now     func() time.Time
}

func NewScheduler(configs repositories.ConfigurationStore, history repositories.HistoryStore, logger ectologger.Logger) *Scheduler {
	return &Scheduler{
		configs: configs,
		history: history,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock replaces the wall clock, for tests
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Now returns the scheduler's current time in UTC
func (s *Scheduler) Now() time.Time {
	return s.now().UTC()
}

// GetDueConfigurations returns every enabled configuration due at now, each once.
func (s *Scheduler) GetDueConfigurations(ctx context.Context, now time.Time) ([]models.ImportConfiguration, error) {
	ctx, span := tracing.StartSpan(ctx, "Scheduler.GetDueConfigurations")
	defer span.End()

	configs, err := s.configs.ListDue(ctx, now.UTC())
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]struct{}, len(configs))
	due := configs[:0]
	for _, cfg := range configs {
		if _, ok := seen[cfg.ID]; ok {
			continue
		}
		seen[cfg.ID] = struct{}{}
		due = append(due, cfg)
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"due": len(due),
		"now": now,
	}).Debug("Resolved due configurations")
	return due, nil
}

// CalculateNextRunTime returns the first slot of cfg's schedule strictly after
// from, in UTC. The bool is false for frequency none. An unparsable time of
// day is read as midnight.
func CalculateNextRunTime(cfg *models.ImportConfiguration, from time.Time) (time.Time, bool) {
	from = from.UTC()
	hour, minute, second, err := cfg.TimeOfDayClock()
	if err != nil {
		hour, minute, second = 0, 0, 0
	}

	switch cfg.Frequency {
	case models.FrequencyHourly:
		return from.Add(time.Hour), true

	case models.FrequencyDaily:
		next := time.Date(from.Year(), from.Month(), from.Day(), hour, minute, second, 0, time.UTC)
		if !next.After(from) {
			next = next.AddDate(0, 0, 1)
		}
		return next, true

	case models.FrequencyWeekly:
		weekday := time.Sunday
		if cfg.DayOfWeek != nil {
			weekday = time.Weekday(((*cfg.DayOfWeek % 7) + 7) % 7)
		}
		next := time.Date(from.Year(), from.Month(), from.Day(), hour, minute, second, 0, time.UTC)
		next = next.AddDate(0, 0, (int(weekday)-int(next.Weekday())+7)%7)
		if !next.After(from) {
			next = next.AddDate(0, 0, 7)
		}
		return next, true

	case models.FrequencyMonthly:
		day := 1
		if cfg.DayOfMonth != nil {
			day = min(max(*cfg.DayOfMonth, 1), 31)
		}
		next := monthSlot(from.Year(), from.Month(), day, hour, minute, second)
		if !next.After(from) {
			next = monthSlot(from.Year(), from.Month()+1, day, hour, minute, second)
		}
		return next, true
	}

	return time.Time{}, false
}

// monthSlot builds the slot on day of the given month, clamped to its last day.
// month may overflow into the next year.
func monthSlot(year int, month time.Month, day, hour, minute, second int) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	lastDay := first.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(first.Year(), first.Month(), day, hour, minute, second, 0, time.UTC)
}

// CalculateRetryDelay returns the backoff after the given number of
// consecutive failures: 1m, 5m, 15m, then 30m.
func CalculateRetryDelay(consecutiveFailures int) time.Duration {
	if consecutiveFailures <= 0 {
		return 0
	}
	if consecutiveFailures > len(retryDelays) {
		return retryDelays[len(retryDelays)-1]
	}
	return retryDelays[consecutiveFailures-1]
}

// RecordExecution appends one history row for the attempt. A store failure is
// logged and swallowed so the caller's loop is never interrupted; the row is
// returned either way.
func (s *Scheduler) RecordExecution(ctx context.Context, configID uuid.UUID, result *models.ImportResult, wasRetry bool, retryAttempt int, wasScheduled bool) *models.ImportExecutionHistory {
	ctx, span := tracing.StartSpan(ctx, "Scheduler.RecordExecution")
	defer span.End()

	if result == nil {
		result = models.FailedImportResult("import produced no result")
	}

	row := result.ToHistory(configID, s.Now(), wasRetry, retryAttempt, wasScheduled)
	if err := s.history.Append(ctx, &row); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"configuration_id": configID,
			"success":          result.Success,
		}).Error("Failed to record import execution")
	}
	return &row
}

// MarkRunning moves cfg into running and persists it. Scheduled runs pass
// through due; a configuration left running by a dead process is recovered
// through due as well.
//
// A scheduled run consumes the slot that fired: a scheduled slot at or before
// now moves to the next occurrence, so a failed attempt is picked up again
// by its retry slot and not by the stale scheduled one.
func (s *Scheduler) MarkRunning(ctx context.Context, cfg *models.ImportConfiguration, scheduled bool) error {
	ctx, span := tracing.StartSpan(ctx, "Scheduler.MarkRunning")
	defer span.End()

	var events []Event
	if cfg.ScheduleState == models.ScheduleStateRunning {
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"configuration_id": cfg.ID,
		}).Warn("Recovering configuration left in running state")
		events = append(events, EventBecameDue)
	} else if scheduled && cfg.ScheduleState != models.ScheduleStateDue {
		events = append(events, EventBecameDue)
	}
	events = append(events, EventStarted)

	if err := fire(cfg, events...); err != nil {
		return err
	}

	if scheduled && cfg.NextScheduledRunAt != nil {
		now := s.Now()
		if !cfg.NextScheduledRunAt.After(now) {
			cfg.NextScheduledRunAt = nil
			if next, ok := CalculateNextRunTime(cfg, now); ok {
				cfg.NextScheduledRunAt = &next
			}
		}
	}
	return s.configs.UpdateSchedule(ctx, cfg)
}

// UpdateConfigurationAfterExecution applies the attempt's outcome to cfg and
// persists it in one update.
//
// Success clears the failure counter, the retry slot and the failure alert
// marker, and advances the scheduled slot from now. Failure increments the
// counter and sets the retry slot from the backoff table, leaving the
// scheduled slot alone so the normal cadence still arrives.
func (s *Scheduler) UpdateConfigurationAfterExecution(ctx context.Context, cfg *models.ImportConfiguration, wasSuccess bool, errorMessage string) (ExecutionOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "Scheduler.UpdateConfigurationAfterExecution")
	defer span.End()

	now := s.Now()
	outcome := ExecutionOutcome{PreviousFailures: cfg.ConsecutiveFailures}

	if err := s.ensureRunning(cfg); err != nil {
		return outcome, err
	}

	cfg.LastRunAt = &now

	if wasSuccess {
		if err := fire(cfg, EventSucceeded, EventRescheduled); err != nil {
			return outcome, err
		}
		outcome.Recovered = cfg.ConsecutiveFailures > 0
		cfg.ConsecutiveFailures = 0
		cfg.NextRetryAt = nil
		cfg.FailureNotifiedAt = nil
		cfg.NextScheduledRunAt = nil
		if next, ok := CalculateNextRunTime(cfg, now); ok {
			cfg.NextScheduledRunAt = &next
		}
		settle(cfg)
	} else {
		if err := fire(cfg, EventFailed, EventRetryScheduled); err != nil {
			return outcome, err
		}
		cfg.ConsecutiveFailures++
		retryAt := now.Add(CalculateRetryDelay(cfg.ConsecutiveFailures))
		cfg.NextRetryAt = &retryAt

		if cfg.MaxRetries > 0 && cfg.ConsecutiveFailures >= cfg.MaxRetries && cfg.FailureNotifiedAt == nil {
			outcome.RetriesExhausted = true
			cfg.FailureNotifiedAt = &now
		}
	}

	if err := s.configs.UpdateSchedule(ctx, cfg); err != nil {
		return outcome, err
	}

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"configuration_id":     cfg.ID,
		"schedule_state":       cfg.ScheduleState,
		"consecutive_failures": cfg.ConsecutiveFailures,
		"next_scheduled_run":   cfg.NextScheduledRunAt,
		"next_retry":           cfg.NextRetryAt,
	})
	if wasSuccess {
		log.Info("Import succeeded")
	} else {
		log.Warnf("Import failed: %s", errorMessage)
	}
	return outcome, nil
}

// SkipExecution handles an attempt that could not run because the
// configuration itself is invalid. The scheduled slot advances so the
// configuration is not picked up again on the next tick, the retry slot is
// cleared and the failure counter is left as it was.
func (s *Scheduler) SkipExecution(ctx context.Context, cfg *models.ImportConfiguration, reason string) error {
	ctx, span := tracing.StartSpan(ctx, "Scheduler.SkipExecution")
	defer span.End()

	if err := s.ensureRunning(cfg); err != nil {
		return err
	}
	if err := fire(cfg, EventSkipped); err != nil {
		return err
	}

	now := s.Now()
	cfg.NextRetryAt = nil
	cfg.NextScheduledRunAt = nil
	if next, ok := CalculateNextRunTime(cfg, now); ok {
		cfg.NextScheduledRunAt = &next
	}
	settle(cfg)

	if err := s.configs.UpdateSchedule(ctx, cfg); err != nil {
		return err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"configuration_id":   cfg.ID,
		"next_scheduled_run": cfg.NextScheduledRunAt,
	}).Warnf("Skipped import: %s", reason)
	return nil
}

// InitializeSchedule sets the first future slot and clears stale retry state.
// It is called when scheduling is enabled or changed for a configuration.
func (s *Scheduler) InitializeSchedule(ctx context.Context, cfg *models.ImportConfiguration) error {
	ctx, span := tracing.StartSpan(ctx, "Scheduler.InitializeSchedule")
	defer span.End()

	if err := fire(cfg, EventInitialize); err != nil {
		return err
	}

	cfg.ConsecutiveFailures = 0
	cfg.NextRetryAt = nil
	cfg.FailureNotifiedAt = nil
	cfg.NextScheduledRunAt = nil
	if next, ok := CalculateNextRunTime(cfg, s.Now()); ok {
		cfg.NextScheduledRunAt = &next
	}
	settle(cfg)

	if err := s.configs.UpdateSchedule(ctx, cfg); err != nil {
		return err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"configuration_id":   cfg.ID,
		"frequency":          cfg.Frequency,
		"next_scheduled_run": cfg.NextScheduledRunAt,
	}).Info("Initialized import schedule")
	return nil
}

// GetStatistics aggregates the history of one configuration, optionally from a date
func (s *Scheduler) GetStatistics(ctx context.Context, configID uuid.UUID, fromDate *time.Time) (models.ExecutionStatistics, error) {
	ctx, span := tracing.StartSpan(ctx, "Scheduler.GetStatistics")
	defer span.End()

	return s.history.Statistics(ctx, configID, fromDate)
}

// PruneHistory deletes history rows older than the retention window
func (s *Scheduler) PruneHistory(ctx context.Context, retention time.Duration) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "Scheduler.PruneHistory")
	defer span.End()

	cutoff := s.Now().Add(-retention)
	deleted, err := s.history.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"cutoff":  cutoff,
		"deleted": deleted,
	}).Info("Pruned import history")
	return deleted, nil
}

func (s *Scheduler) ensureRunning(cfg *models.ImportConfiguration) error {
	if cfg.ScheduleState == models.ScheduleStateRunning {
		return nil
	}
	return fire(cfg, EventStarted)
}
