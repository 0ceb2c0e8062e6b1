package jobs_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/expressions"
	"github.com/Ramsey-B/fern/pkg/fetcher"
	"github.com/Ramsey-B/fern/pkg/importer"
	"github.com/Ramsey-B/fern/pkg/indexer"
	"github.com/Ramsey-B/fern/pkg/jobs"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/locking"
	"github.com/Ramsey-B/fern/pkg/mapper"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/notifications"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/scheduler"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*kafka.ImportEvent
}

func (p *recordingPublisher) PublishImportEvent(_ context.Context, evt *kafka.ImportEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

type harness struct {
	now       time.Time
	configs   *repositories.MemoryConfigurationStore
	history   *repositories.MemoryHistoryStore
	scheduler *scheduler.Scheduler
	index     *indexer.RecordingClient
	alerts    *notifications.Recorder
	events    *recordingPublisher
	locker    *locking.MemoryLocker
	driver    *jobs.Driver
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := testLogger()

	h := &harness{
		now:     time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		configs: repositories.NewMemoryConfigurationStore(),
		history: repositories.NewMemoryHistoryStore(),
		index:   &indexer.RecordingClient{},
		alerts:  &notifications.Recorder{},
		events:  &recordingPublisher{},
		locker:  locking.NewMemoryLocker(),
	}

	h.scheduler = scheduler.NewScheduler(h.configs, h.history, logger)
	h.scheduler.SetClock(func() time.Time { return h.now })

	f := fetcher.NewFetcher(fetcher.NewClient(fetcher.DefaultClientConfig(), logger), expressions.NewEvaluator(16), logger)
	executor := importer.NewExecutor(f, mapper.NewFieldMapper(logger), h.index, nil,
		importer.Timeouts{Test: time.Second, Fetch: time.Second, Sync: time.Second}, logger)

	h.driver = jobs.NewDriver(h.configs, h.scheduler, executor,
		notifications.NewDispatcher(h.alerts, logger), h.locker, h.events, jobs.Config{}, logger)
	return h
}

func (h *harness) create(t *testing.T, cfg *models.ImportConfiguration) *models.ImportConfiguration {
	t.Helper()
	require.NoError(t, h.configs.Create(context.Background(), cfg))
	return cfg
}

func (h *harness) reload(t *testing.T, id uuid.UUID) *models.ImportConfiguration {
	t.Helper()
	cfg, err := h.configs.GetByID(context.Background(), id)
	require.NoError(t, err)
	return cfg
}

func serve(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func strPtr(s string) *string { return &s }
func timePtr(t time.Time) *time.Time { return &t }

func dailyConfig(name, url string) *models.ImportConfiguration {
	cfg := &models.ImportConfiguration{
		Name:            name,
		SourceID:        "src-1",
		ContentTypeName: "Product",
		IsEnabled:       true,
		ExternalAPIURL:  url,
		AuthType:        models.AuthTypeNone,
		Frequency:       models.FrequencyDaily,
		TimeOfDay:       strPtr("02:00"),
		MaxRetries:      3,
		ScheduleState:   models.ScheduleStateScheduled,
	}
	cfg.FieldMappings.Data = []models.FieldMapping{
		{SourcePath: "id", TargetProperty: "id", IsIDField: true},
		{SourcePath: "name", TargetProperty: "name"},
	}
	return cfg
}

func TestExecute_RetryExhaustionNotifiesOnce(t *testing.T) {
	h := newHarness(t)
	server := serve(t, http.StatusInternalServerError, `{"error":"down"}`)

	cfg := dailyConfig("products", server.URL)
	cfg.ScheduleState = models.ScheduleStateRetryPending
	cfg.ConsecutiveFailures = 3
	cfg.NextRetryAt = timePtr(h.now.Add(-time.Minute))
	cfg.NextScheduledRunAt = timePtr(h.now.Add(14 * time.Hour))
	h.create(t, cfg)

	summary, err := h.driver.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Processed 1 imports. Success: 0, Failed: 1, Skipped: 0", summary)

	stored := h.reload(t, cfg.ID)
	assert.Equal(t, 4, stored.ConsecutiveFailures)
	assert.Equal(t, models.ScheduleStateRetryPending, stored.ScheduleState)
	require.NotNil(t, stored.NextRetryAt)
	assert.Equal(t, h.now.Add(30*time.Minute), *stored.NextRetryAt)
	require.NotNil(t, stored.NextScheduledRunAt)
	assert.Equal(t, h.now.Add(14*time.Hour), *stored.NextScheduledRunAt, "scheduled slot is untouched by a failure")
	require.NotNil(t, stored.FailureNotifiedAt)

	rows, err := h.history.ListByConfiguration(context.Background(), cfg.ID, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Success)
	assert.True(t, rows[0].WasRetry)
	assert.Equal(t, 3, rows[0].RetryAttempt)
	assert.True(t, rows[0].WasScheduled)
	require.NotNil(t, rows[0].ErrorMessage)
	assert.Contains(t, *rows[0].ErrorMessage, "500")

	alerts := h.alerts.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, notifications.KindFailure, alerts[0].Kind)
	assert.Contains(t, alerts[0].Content, "failed 4 consecutive times")

	// the next retry is not due yet
	summary, err = h.driver.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Processed 0 imports. Success: 0, Failed: 0, Skipped: 0", summary)

	h.now = h.now.Add(31 * time.Minute)
	_, err = h.driver.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, h.reload(t, cfg.ID).ConsecutiveFailures)
	assert.Len(t, h.alerts.Alerts(), 1, "failure alert is sent once per exhaustion")
	assert.Equal(t, 2, h.history.Len())
}

func TestExecute_FailedScheduledRunWaitsForRetrySlot(t *testing.T) {
	h := newHarness(t)
	server := serve(t, http.StatusInternalServerError, `{"error":"down"}`)

	cfg := dailyConfig("products", server.URL)
	cfg.NextScheduledRunAt = timePtr(h.now)
	h.create(t, cfg)

	_, err := h.driver.Execute(context.Background())
	require.NoError(t, err)

	stored := h.reload(t, cfg.ID)
	assert.Equal(t, 1, stored.ConsecutiveFailures)
	require.NotNil(t, stored.NextRetryAt)
	assert.Equal(t, h.now.Add(time.Minute), *stored.NextRetryAt)
	require.NotNil(t, stored.NextScheduledRunAt)
	assert.Equal(t, time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC), *stored.NextScheduledRunAt, "the fired slot is consumed")

	// ticks before the retry slot do not run the import again
	for i := 0; i < 3; i++ {
		h.now = h.now.Add(10 * time.Second)
		summary, err := h.driver.Execute(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "Processed 0 imports. Success: 0, Failed: 0, Skipped: 0", summary)
	}
	assert.Equal(t, 1, h.reload(t, cfg.ID).ConsecutiveFailures)
	assert.Equal(t, 1, h.history.Len())

	h.now = time.Date(2026, 3, 10, 12, 1, 0, 0, time.UTC)
	summary, err := h.driver.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Processed 1 imports. Success: 0, Failed: 1, Skipped: 0", summary)

	stored = h.reload(t, cfg.ID)
	assert.Equal(t, 2, stored.ConsecutiveFailures)
	assert.Equal(t, h.now.Add(5*time.Minute), *stored.NextRetryAt)
	assert.Equal(t, time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC), *stored.NextScheduledRunAt)
}

func TestExecute_SuccessAfterFailuresRecovers(t *testing.T) {
	h := newHarness(t)
	server := serve(t, http.StatusOK, `[{"id":"a","name":"A"},{"id":"b","name":"B"}]`)

	cfg := dailyConfig("products", server.URL)
	cfg.ScheduleState = models.ScheduleStateRetryPending
	cfg.ConsecutiveFailures = 4
	cfg.NextRetryAt = timePtr(h.now)
	cfg.FailureNotifiedAt = timePtr(h.now.Add(-time.Hour))
	h.create(t, cfg)

	summary, err := h.driver.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Processed 1 imports. Success: 1, Failed: 0, Skipped: 0", summary)

	stored := h.reload(t, cfg.ID)
	assert.Zero(t, stored.ConsecutiveFailures)
	assert.Nil(t, stored.NextRetryAt)
	assert.Nil(t, stored.FailureNotifiedAt)
	assert.Equal(t, models.ScheduleStateScheduled, stored.ScheduleState)
	require.NotNil(t, stored.NextScheduledRunAt)
	assert.Equal(t, time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC), *stored.NextScheduledRunAt)
	require.NotNil(t, stored.LastItemCount)
	assert.Equal(t, 2, *stored.LastItemCount)

	require.Len(t, h.index.Payloads, 1)

	alerts := h.alerts.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, notifications.KindRecovery, alerts[0].Kind)

	require.Len(t, h.events.events, 1)
	evt := h.events.events[0]
	assert.Equal(t, kafka.EventImportSucceeded, evt.Type)
	assert.Equal(t, jobs.TriggerScheduled, evt.Trigger)
	assert.Equal(t, 2, evt.ItemsImported)
	assert.NotEmpty(t, evt.RunID)
}

func TestExecute_SummaryCountsEachOutcome(t *testing.T) {
	h := newHarness(t)
	ok := serve(t, http.StatusOK, `[{"id":"a","name":"A"}]`)
	broken := serve(t, http.StatusBadGateway, `bad gateway`)

	due := timePtr(h.now.Add(-time.Minute))

	good := dailyConfig("good", ok.URL)
	good.NextScheduledRunAt = due
	h.create(t, good)

	failing := dailyConfig("failing", broken.URL)
	failing.NextScheduledRunAt = due
	h.create(t, failing)

	invalid := dailyConfig("invalid", "not a url")
	invalid.NextScheduledRunAt = due
	invalid.ConsecutiveFailures = 1
	invalid.NextRetryAt = due
	h.create(t, invalid)

	notDue := dailyConfig("later", ok.URL)
	notDue.NextScheduledRunAt = timePtr(h.now.Add(time.Hour))
	h.create(t, notDue)

	disabled := dailyConfig("disabled", ok.URL)
	disabled.IsEnabled = false
	disabled.NextScheduledRunAt = due
	h.create(t, disabled)

	summary, err := h.driver.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Processed 3 imports. Success: 1, Failed: 1, Skipped: 1", summary)

	skipped := h.reload(t, invalid.ID)
	assert.Equal(t, 1, skipped.ConsecutiveFailures, "a configuration error leaves the failure counter alone")
	assert.Nil(t, skipped.NextRetryAt)
	require.NotNil(t, skipped.NextScheduledRunAt)
	assert.True(t, skipped.NextScheduledRunAt.After(h.now))

	rows, err := h.history.ListByConfiguration(context.Background(), invalid.ID, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1, "a skipped attempt still leaves one history row")

	assert.Equal(t, 3, h.history.Len())
	assert.Equal(t, 1, h.reload(t, failing.ID).ConsecutiveFailures)
	assert.Nil(t, h.reload(t, notDue.ID).LastRunAt)
	assert.Nil(t, h.reload(t, disabled.ID).LastRunAt)

	types := map[string]int{}
	for _, evt := range h.events.events {
		types[evt.Type]++
	}
	assert.Equal(t, map[string]int{
		kafka.EventImportSucceeded: 1,
		kafka.EventImportFailed:    1,
		kafka.EventImportSkipped:   1,
	}, types)
}

func TestExecute_LockedConfigurationIsSkipped(t *testing.T) {
	h := newHarness(t)
	server := serve(t, http.StatusOK, `[{"id":"a","name":"A"}]`)

	cfg := dailyConfig("products", server.URL)
	cfg.NextScheduledRunAt = timePtr(h.now.Add(-time.Minute))
	h.create(t, cfg)

	lease, err := h.locker.TryAcquire(context.Background(), locking.KeyFor(cfg.ID), time.Minute)
	require.NoError(t, err)

	summary, err := h.driver.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Processed 1 imports. Success: 0, Failed: 0, Skipped: 1", summary)
	assert.Zero(t, h.history.Len(), "a run that never started writes no history")
	assert.Empty(t, h.index.Payloads)

	_, err = h.driver.RunConfiguration(context.Background(), cfg.ID)
	require.Error(t, err)
	assert.True(t, httperror.IsHTTPError(err))
	assert.Equal(t, http.StatusConflict, httperror.GetStatusCode(err))

	require.NoError(t, lease.Release(context.Background()))

	result, err := h.driver.RunConfiguration(context.Background(), cfg.ID)
	require.NoError(t, err)
	assert.True(t, result.Success, result.ErrorMessage())

	rows, err := h.history.ListByConfiguration(context.Background(), cfg.ID, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].WasScheduled)
}

func TestRunConfiguration_UnknownID(t *testing.T) {
	h := newHarness(t)

	_, err := h.driver.RunConfiguration(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
}

func TestRunConfiguration_ManualRunOfUnscheduledConfiguration(t *testing.T) {
	h := newHarness(t)
	server := serve(t, http.StatusOK, `[{"id":"a","name":"A"}]`)

	cfg := dailyConfig("manual", server.URL)
	cfg.Frequency = models.FrequencyNone
	cfg.ScheduleState = models.ScheduleStateUnscheduled
	h.create(t, cfg)

	result, err := h.driver.RunConfiguration(context.Background(), cfg.ID)
	require.NoError(t, err)
	assert.True(t, result.Success)

	stored := h.reload(t, cfg.ID)
	assert.Equal(t, models.ScheduleStateUnscheduled, stored.ScheduleState)
	assert.Nil(t, stored.NextScheduledRunAt)
	require.Len(t, h.events.events, 1)
	assert.Equal(t, jobs.TriggerManual, h.events.events[0].Trigger)
}

func TestExecute_StopLeavesRemainingConfigurations(t *testing.T) {
	h := newHarness(t)
	server := serve(t, http.StatusOK, `[{"id":"a","name":"A"}]`)

	for _, name := range []string{"one", "two"} {
		cfg := dailyConfig(name, server.URL)
		cfg.NextScheduledRunAt = timePtr(h.now.Add(-time.Minute))
		h.create(t, cfg)
	}

	h.driver.Stop()

	summary, err := h.driver.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Processed 0 imports. Success: 0, Failed: 0, Skipped: 0", summary)
	assert.Zero(t, h.history.Len())
}

func TestExecute_CanceledContextStopsTick(t *testing.T) {
	h := newHarness(t)
	server := serve(t, http.StatusOK, `[{"id":"a","name":"A"}]`)

	cfg := dailyConfig("one", server.URL)
	cfg.NextScheduledRunAt = timePtr(h.now.Add(-time.Minute))
	h.create(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := h.driver.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Processed 0 imports. Success: 0, Failed: 0, Skipped: 0", summary)
}

func TestSummaryString(t *testing.T) {
	s := jobs.Summary{Processed: 5, Success: 3, Failed: 1, Skipped: 1}
	assert.Equal(t, "Processed 5 imports. Success: 3, Failed: 1, Skipped: 1", s.String())
}
