package repositories

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/appctx"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const configurationsTable = "import_configurations"

var configurationStruct = database.NewStruct(new(models.ImportConfiguration))

// ConfigurationRepository is the Postgres ConfigurationStore
type ConfigurationRepository struct {
	*Repository
}

func NewConfigurationRepository(db database.DB, logger ectologger.Logger) *ConfigurationRepository {
	return &ConfigurationRepository{
		Repository: NewRepository(db, logger),
	}
}

// Create inserts a configuration. Ids are kept when set so exported
// configurations can be imported losslessly.
func (r *ConfigurationRepository) Create(ctx context.Context, cfg *models.ImportConfiguration) error {
	ctx, span := tracing.StartSpan(ctx, "ConfigurationRepository.Create")
	defer span.End()

	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	if cfg.ScheduleState == "" {
		cfg.ScheduleState = models.ScheduleStateUnscheduled
	}
	if cfg.CreatedBy == nil {
		if user := appctx.GetUserID(ctx); user != "" {
			cfg.CreatedBy = &user
		}
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(configurationsTable).
		Cols(
			"id", "name", "description", "source_id", "content_type_name", "language", "is_enabled",
			"external_api_url", "http_method", "headers", "auth_type", "auth_key", "auth_value",
			"field_mappings", "json_path",
			"frequency", "time_of_day", "day_of_week", "day_of_month", "max_retries",
			"created_by", "updated_by", "last_run_at", "last_item_count",
			"schedule_state", "next_scheduled_run_at", "next_retry_at", "consecutive_failures", "failure_notified_at",
			"created_at", "updated_at",
		).
		Values(
			cfg.ID, cfg.Name, cfg.Description, cfg.SourceID, cfg.ContentTypeName, cfg.Language, cfg.IsEnabled,
			cfg.ExternalAPIURL, cfg.HTTPMethod, cfg.Headers, cfg.AuthType, cfg.AuthKey, cfg.AuthValue,
			cfg.FieldMappings, cfg.JSONPath,
			cfg.Frequency, cfg.TimeOfDay, cfg.DayOfWeek, cfg.DayOfMonth, cfg.MaxRetries,
			cfg.CreatedBy, cfg.CreatedBy, cfg.LastRunAt, cfg.LastItemCount,
			cfg.ScheduleState, cfg.NextScheduledRunAt, cfg.NextRetryAt, cfg.ConsecutiveFailures, cfg.FailureNotifiedAt,
			database.Now(), database.Now(),
		).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	err := r.DB().QueryRowContext(ctx, query, args...).Scan(&cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"configuration_id": cfg.ID,
		}).Error("failed to create import configuration")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create import configuration")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"configuration_id": cfg.ID,
	}).Debugf("Created %s", configurationsTable)
	return nil
}

func (r *ConfigurationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ImportConfiguration, error) {
	ctx, span := tracing.StartSpan(ctx, "ConfigurationRepository.GetByID")
	defer span.End()

	sb := configurationStruct.SelectFrom(configurationsTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var cfg models.ImportConfiguration
	err := r.DB().GetContext(ctx, &cfg, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "import configuration %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"configuration_id": id,
		}).Error("failed to get import configuration by ID")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get import configuration")
	}

	return &cfg, nil
}

func (r *ConfigurationRepository) List(ctx context.Context) ([]models.ImportConfiguration, error) {
	ctx, span := tracing.StartSpan(ctx, "ConfigurationRepository.List")
	defer span.End()

	sb := configurationStruct.SelectFrom(configurationsTable)
	sb.OrderBy("name")

	query, args := sb.Build()
	var configs []models.ImportConfiguration
	if err := r.DB().SelectContext(ctx, &configs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list import configurations")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list import configurations")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"configuration_count": len(configs),
	}).Debugf("Listed %s", configurationsTable)
	return configs, nil
}

// ListDue selects each due row once: the two due conditions are OR'ed in a
// single predicate rather than unioned.
func (r *ConfigurationRepository) ListDue(ctx context.Context, now time.Time) ([]models.ImportConfiguration, error) {
	ctx, span := tracing.StartSpan(ctx, "ConfigurationRepository.ListDue")
	defer span.End()

	sb := configurationStruct.SelectFrom(configurationsTable)
	sb.Where(
		sb.Equal("is_enabled", true),
		sb.Or(
			sb.LessEqualThan("next_scheduled_run_at", now),
			sb.And(
				sb.GreaterThan("consecutive_failures", 0),
				sb.LessEqualThan("next_retry_at", now),
			),
		),
	)
	sb.OrderBy("id")

	query, args := sb.Build()
	var configs []models.ImportConfiguration
	if err := r.DB().SelectContext(ctx, &configs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list due import configurations")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list due import configurations")
	}

	return configs, nil
}

// Update writes the operator-editable fields
func (r *ConfigurationRepository) Update(ctx context.Context, cfg *models.ImportConfiguration) error {
	ctx, span := tracing.StartSpan(ctx, "ConfigurationRepository.Update")
	defer span.End()

	if user := appctx.GetUserID(ctx); user != "" {
		cfg.UpdatedBy = &user
	}

	ub := database.NewUpdateBuilder()
	ub.Update(configurationsTable).
		Set(
			ub.Assign("name", cfg.Name),
			ub.Assign("description", cfg.Description),
			ub.Assign("source_id", cfg.SourceID),
			ub.Assign("content_type_name", cfg.ContentTypeName),
			ub.Assign("language", cfg.Language),
			ub.Assign("is_enabled", cfg.IsEnabled),
			ub.Assign("external_api_url", cfg.ExternalAPIURL),
			ub.Assign("http_method", cfg.HTTPMethod),
			ub.Assign("headers", cfg.Headers),
			ub.Assign("auth_type", cfg.AuthType),
			ub.Assign("auth_key", cfg.AuthKey),
			ub.Assign("auth_value", cfg.AuthValue),
			ub.Assign("field_mappings", cfg.FieldMappings),
			ub.Assign("json_path", cfg.JSONPath),
			ub.Assign("frequency", cfg.Frequency),
			ub.Assign("time_of_day", cfg.TimeOfDay),
			ub.Assign("day_of_week", cfg.DayOfWeek),
			ub.Assign("day_of_month", cfg.DayOfMonth),
			ub.Assign("max_retries", cfg.MaxRetries),
			ub.Assign("updated_by", cfg.UpdatedBy),
			ub.Assign("updated_at", database.Now()),
		).
		Where(ub.Equal("id", cfg.ID))
	ub.SQL("RETURNING updated_at")

	query, args := ub.Build()
	err := r.DB().QueryRowContext(ctx, query, args...).Scan(&cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "import configuration %s does not exist", cfg.ID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"configuration_id": cfg.ID,
		}).Error("failed to update import configuration")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update import configuration")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"configuration_id": cfg.ID,
	}).Debugf("Updated %s", configurationsTable)
	return nil
}

// UpdateSchedule writes the scheduler-owned fields in one statement
func (r *ConfigurationRepository) UpdateSchedule(ctx context.Context, cfg *models.ImportConfiguration) error {
	ctx, span := tracing.StartSpan(ctx, "ConfigurationRepository.UpdateSchedule")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(configurationsTable).
		Set(
			ub.Assign("schedule_state", cfg.ScheduleState),
			ub.Assign("next_scheduled_run_at", cfg.NextScheduledRunAt),
			ub.Assign("next_retry_at", cfg.NextRetryAt),
			ub.Assign("consecutive_failures", cfg.ConsecutiveFailures),
			ub.Assign("failure_notified_at", cfg.FailureNotifiedAt),
			ub.Assign("last_run_at", cfg.LastRunAt),
			ub.Assign("last_item_count", cfg.LastItemCount),
			ub.Assign("updated_at", database.Now()),
		).
		Where(ub.Equal("id", cfg.ID))
	ub.SQL("RETURNING updated_at")

	query, args := ub.Build()
	err := r.DB().QueryRowContext(ctx, query, args...).Scan(&cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "import configuration %s does not exist", cfg.ID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"configuration_id": cfg.ID,
			"schedule_state":   cfg.ScheduleState,
		}).Error("failed to update import schedule")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update import schedule")
	}

	return nil
}

// Delete removes a configuration. History rows cascade.
func (r *ConfigurationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "ConfigurationRepository.Delete")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(configurationsTable).Where(db.Equal("id", id))

	query, args := db.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"configuration_id": id,
		}).Error("failed to delete import configuration")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete import configuration")
	}

	if rows, _ := result.RowsAffected(); rows == 0 {
		return NotFound("import configuration %s does not exist", id)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"configuration_id": id,
	}).Debugf("Deleted %s", configurationsTable)
	return nil
}

var _ ConfigurationStore = (*ConfigurationRepository)(nil)
