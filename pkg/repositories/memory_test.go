package repositories_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/repositories"
)

func assertNotFound(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, httperror.IsHTTPError(err), "expected HTTP error, got: %v", err)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
}

func timePtr(t time.Time) *time.Time { return &t }

func TestMemoryConfigurationStore_CRUD(t *testing.T) {
	ctx := context.Background()
	store := repositories.NewMemoryConfigurationStore()

	cfg := &models.ImportConfiguration{Name: "products", IsEnabled: true, MaxRetries: 3}
	cfg.Headers.Data = map[string]string{"X-Tenant": "a"}
	require.NoError(t, store.Create(ctx, cfg))
	require.NotEqual(t, uuid.Nil, cfg.ID)
	assert.Equal(t, models.ScheduleStateUnscheduled, cfg.ScheduleState)

	// the store holds its own copy
	cfg.Headers.Data["X-Tenant"] = "b"
	got, err := store.GetByID(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Headers.Data["X-Tenant"])

	got.Name = "products v2"
	got.ConsecutiveFailures = 9
	require.NoError(t, store.Update(ctx, got))

	got, err = store.GetByID(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, "products v2", got.Name)
	assert.Zero(t, got.ConsecutiveFailures, "Update does not touch scheduler fields")

	got.ConsecutiveFailures = 2
	got.ScheduleState = models.ScheduleStateRetryPending
	require.NoError(t, store.UpdateSchedule(ctx, got))
	got, err = store.GetByID(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ConsecutiveFailures)
	assert.Equal(t, models.ScheduleStateRetryPending, got.ScheduleState)

	require.NoError(t, store.Delete(ctx, cfg.ID))
	_, err = store.GetByID(ctx, cfg.ID)
	assertNotFound(t, err)
	assertNotFound(t, store.Delete(ctx, cfg.ID))
}

func TestMemoryConfigurationStore_ListDue(t *testing.T) {
	ctx := context.Background()
	store := repositories.NewMemoryConfigurationStore()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	scheduledNow := &models.ImportConfiguration{Name: "boundary", IsEnabled: true, NextScheduledRunAt: timePtr(now)}
	future := &models.ImportConfiguration{Name: "future", IsEnabled: true, NextScheduledRunAt: timePtr(now.Add(time.Second))}
	retryDue := &models.ImportConfiguration{Name: "retry", IsEnabled: true, Frequency: models.FrequencyNone,
		ConsecutiveFailures: 1, NextRetryAt: timePtr(now.Add(-time.Minute))}
	both := &models.ImportConfiguration{Name: "both", IsEnabled: true, NextScheduledRunAt: timePtr(now.Add(-time.Hour)),
		ConsecutiveFailures: 2, NextRetryAt: timePtr(now.Add(-time.Minute))}
	staleRetry := &models.ImportConfiguration{Name: "stale retry", IsEnabled: true, NextRetryAt: timePtr(now.Add(-time.Minute))}
	disabled := &models.ImportConfiguration{Name: "disabled", NextScheduledRunAt: timePtr(now.Add(-time.Hour))}

	for _, cfg := range []*models.ImportConfiguration{scheduledNow, future, retryDue, both, staleRetry, disabled} {
		require.NoError(t, store.Create(ctx, cfg))
	}

	due, err := store.ListDue(ctx, now)
	require.NoError(t, err)

	names := map[string]int{}
	for _, cfg := range due {
		names[cfg.Name]++
	}
	assert.Equal(t, map[string]int{"boundary": 1, "retry": 1, "both": 1}, names)
}

func TestMemoryHistoryStore(t *testing.T) {
	ctx := context.Background()
	store := repositories.NewMemoryHistoryStore()
	configID := uuid.New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	stats, err := store.Statistics(ctx, configID, nil)
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
	assert.Zero(t, stats.SuccessRate)

	rows := []models.ImportExecutionHistory{
		{ConfigurationID: configID, ExecutedAt: base, Success: true, ItemsImported: 10, DurationMs: 100},
		{ConfigurationID: configID, ExecutedAt: base.Add(time.Hour), Success: false, DurationMs: 300},
		{ConfigurationID: configID, ExecutedAt: base.Add(2 * time.Hour), Success: true, ItemsImported: 5, DurationMs: 200},
		{ConfigurationID: uuid.New(), ExecutedAt: base, Success: false},
	}
	for i := range rows {
		require.NoError(t, store.Append(ctx, &rows[i]))
	}

	listed, err := store.ListByConfiguration(ctx, configID, 2)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, base.Add(2*time.Hour), listed[0].ExecutedAt)

	stats, err = store.Statistics(ctx, configID, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Successful)
	assert.InDelta(t, 66.666, stats.SuccessRate, 0.01)
	assert.InDelta(t, 200, stats.AverageDurationMs, 0.001)
	assert.EqualValues(t, 15, stats.TotalItemsImported)

	from := base.Add(30 * time.Minute)
	stats, err = store.Statistics(ctx, configID, &from)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.InDelta(t, 50, stats.SuccessRate, 0.001)

	deleted, err := store.DeleteOlderThan(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)
	assert.Equal(t, 2, store.Len())
}
