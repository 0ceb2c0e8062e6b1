package repositories

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const historyTable = "import_execution_history"

var historyStruct = database.NewStruct(new(models.ImportExecutionHistory))

// HistoryRepository is the Postgres HistoryStore
type HistoryRepository struct {
	*Repository
}

func NewHistoryRepository(db database.DB, logger ectologger.Logger) *HistoryRepository {
	return &HistoryRepository{
		Repository: NewRepository(db, logger),
	}
}

func (r *HistoryRepository) Append(ctx context.Context, row *models.ImportExecutionHistory) error {
	ctx, span := tracing.StartSpan(ctx, "HistoryRepository.Append")
	defer span.End()

	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.Warnings.Data == nil {
		row.Warnings.Data = []string{}
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(historyTable).
		Cols(
			"id", "configuration_id", "executed_at", "success",
			"items_received", "items_imported", "items_skipped", "items_failed",
			"duration_ms", "error_message", "warnings", "was_retry", "retry_attempt", "was_scheduled",
		).
		Values(
			row.ID, row.ConfigurationID, row.ExecutedAt, row.Success,
			row.ItemsReceived, row.ItemsImported, row.ItemsSkipped, row.ItemsFailed,
			row.DurationMs, row.ErrorMessage, row.Warnings, row.WasRetry, row.RetryAttempt, row.WasScheduled,
		)

	query, args := ib.Build()
	if _, err := r.DB().ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"configuration_id": row.ConfigurationID,
		}).Error("failed to append import history")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to append import history")
	}

	return nil
}

func (r *HistoryRepository) ListByConfiguration(ctx context.Context, configID uuid.UUID, limit int) ([]models.ImportExecutionHistory, error) {
	ctx, span := tracing.StartSpan(ctx, "HistoryRepository.ListByConfiguration")
	defer span.End()

	sb := historyStruct.SelectFrom(historyTable)
	sb.Where(sb.Equal("configuration_id", configID))
	sb.OrderBy("executed_at").Desc()
	if limit > 0 {
		sb.Limit(limit)
	}

	query, args := sb.Build()
	var rows []models.ImportExecutionHistory
	if err := r.DB().SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"configuration_id": configID,
		}).Error("failed to list import history")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list import history")
	}

	return rows, nil
}

type statisticsRow struct {
	Total              int        `db:"total"`
	Successful         int        `db:"successful"`
	AverageDurationMs  float64    `db:"average_duration_ms"`
	TotalItemsImported int64      `db:"total_items_imported"`
	LastSuccessAt      *time.Time `db:"last_success_at"`
	LastFailureAt      *time.Time `db:"last_failure_at"`
}

// Statistics aggregates in the database rather than loading the rows
func (r *HistoryRepository) Statistics(ctx context.Context, configID uuid.UUID, from *time.Time) (models.ExecutionStatistics, error) {
	ctx, span := tracing.StartSpan(ctx, "HistoryRepository.Statistics")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select(
		"COUNT(*) AS total",
		"COUNT(*) FILTER (WHERE success) AS successful",
		"COALESCE(AVG(duration_ms), 0) AS average_duration_ms",
		"COALESCE(SUM(items_imported) FILTER (WHERE success), 0) AS total_items_imported",
		"MAX(executed_at) FILTER (WHERE success) AS last_success_at",
		"MAX(executed_at) FILTER (WHERE NOT success) AS last_failure_at",
	).From(historyTable)
	sb.Where(sb.Equal("configuration_id", configID))
	if from != nil {
		sb.Where(sb.GreaterEqualThan("executed_at", *from))
	}

	query, args := sb.Build()
	var row statisticsRow
	if err := r.DB().GetContext(ctx, &row, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"configuration_id": configID,
		}).Error("failed to compute import statistics")
		return models.ExecutionStatistics{}, httperror.NewHTTPError(http.StatusInternalServerError, "failed to compute import statistics")
	}

	stats := models.ExecutionStatistics{
		ConfigurationID:    configID,
		Total:              row.Total,
		Successful:         row.Successful,
		Failed:             row.Total - row.Successful,
		AverageDurationMs:  row.AverageDurationMs,
		TotalItemsImported: row.TotalItemsImported,
		LastSuccessAt:      row.LastSuccessAt,
		LastFailureAt:      row.LastFailureAt,
	}
	if row.Total > 0 {
		stats.SuccessRate = float64(row.Successful) / float64(row.Total) * 100
	}
	return stats, nil
}

func (r *HistoryRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "HistoryRepository.DeleteOlderThan")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(historyTable).Where(db.LessThan("executed_at", cutoff))

	query, args := db.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to prune import history")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to prune import history")
	}

	deleted, _ := result.RowsAffected()
	r.logger.WithContext(ctx).WithFields(map[string]any{
		"cutoff":  cutoff,
		"deleted": deleted,
	}).Debugf("Pruned %s", historyTable)
	return deleted, nil
}

var _ HistoryStore = (*HistoryRepository)(nil)
