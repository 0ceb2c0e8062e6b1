package repositories_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/testinfra"
	"github.com/Ramsey-B/fern/pkg/appctx"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/repositories"
)

// getTestDB connects to the database named by FERN_TEST_DATABASE_DSN, whose
// schema must already be applied (`fern migrate`). With FERN_TEST_CONTAINERS
// set it starts a disposable Postgres and migrates it instead.
func getTestDB(t *testing.T) database.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

	dsn := os.Getenv("FERN_TEST_DATABASE_DSN")
	migrate := false
	if dsn == "" {
		testinfra.Require(t)
		pg, err := testinfra.StartPostgres(context.Background(), t)
		require.NoError(t, err)
		dsn, migrate = pg.DSN, true
	}

	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err, "Failed to connect to test database")
	t.Cleanup(func() { _ = db.Close() })

	if migrate {
		migrations := database.NewMigrationService(logger, database.MigrationConfig{FolderPath: "../../db/pg"})
		require.NoError(t, migrations.MigratePostgres(db.DB, "fern"))
	}

	return database.NewDatabaseInstance(db, logger)
}

func TestPostgresStores(t *testing.T) {
	db := getTestDB(t)
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	configs := repositories.NewConfigurationRepository(db, logger)
	history := repositories.NewHistoryRepository(db, logger)

	ctx := appctx.SetUserID(context.Background(), "integration-test")
	now := time.Now().UTC().Truncate(time.Microsecond)

	cfg := &models.ImportConfiguration{
		Name:            "pg-" + uuid.NewString(),
		SourceID:        "src",
		ContentTypeName: "Product",
		IsEnabled:       true,
		ExternalAPIURL:  "https://api.example.com/items",
		AuthType:        models.AuthTypeNone,
		Frequency:       models.FrequencyDaily,
		MaxRetries:      3,
	}
	cfg.Headers.Data = map[string]string{}
	cfg.FieldMappings.Data = []models.FieldMapping{{SourcePath: "id", TargetProperty: "id", IsIDField: true}}
	cfg.NextScheduledRunAt = &now

	require.NoError(t, configs.Create(ctx, cfg))
	t.Cleanup(func() { _ = configs.Delete(context.Background(), cfg.ID) })
	require.NotNil(t, cfg.CreatedBy)

	got, err := configs.GetByID(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, cfg.Name, got.Name)
	assert.Equal(t, cfg.FieldMappings.Data, got.FieldMappings.Data)

	due, err := configs.ListDue(ctx, now)
	require.NoError(t, err)
	count := 0
	for _, d := range due {
		if d.ID == cfg.ID {
			count++
		}
	}
	assert.Equal(t, 1, count, "inclusive boundary, listed once")

	got.ConsecutiveFailures = 1
	got.NextRetryAt = &now
	got.ScheduleState = models.ScheduleStateRetryPending
	require.NoError(t, configs.UpdateSchedule(ctx, got))

	row := &models.ImportExecutionHistory{ConfigurationID: cfg.ID, ExecutedAt: now, Success: false, DurationMs: 120}
	require.NoError(t, history.Append(ctx, row))

	stats, err := history.Statistics(ctx, cfg.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Zero(t, stats.SuccessRate)

	require.NoError(t, configs.Delete(ctx, cfg.ID))
	rows, err := history.ListByConfiguration(ctx, cfg.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, rows, "history cascades with its configuration")

	_, err = configs.GetByID(ctx, cfg.ID)
	assertNotFound(t, err)
}
