package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
)

// ImportExecutionHistory is one immutable audit row per import attempt
type ImportExecutionHistory struct {
	ID              uuid.UUID                `db:"id" json:"id"`
	ConfigurationID uuid.UUID                `db:"configuration_id" json:"configuration_id"`
	ExecutedAt      time.Time                `db:"executed_at" json:"executed_at"`
	Success         bool                     `db:"success" json:"success"`
	ItemsReceived   int                      `db:"items_received" json:"items_received"`
	ItemsImported   int                      `db:"items_imported" json:"items_imported"`
	ItemsSkipped    int                      `db:"items_skipped" json:"items_skipped"`
	ItemsFailed     int                      `db:"items_failed" json:"items_failed"`
	DurationMs      int64                    `db:"duration_ms" json:"duration_ms"`
	ErrorMessage    *string                  `db:"error_message" json:"error_message,omitempty"`
	Warnings        database.JSONB[[]string] `db:"warnings" json:"warnings"`
	WasRetry        bool                     `db:"was_retry" json:"was_retry"`
	RetryAttempt    int                      `db:"retry_attempt" json:"retry_attempt"`
	WasScheduled    bool                     `db:"was_scheduled" json:"was_scheduled"`
}

// TableName returns the database table name
func (ImportExecutionHistory) TableName() string {
	return "import_execution_history"
}

// ExecutionStatistics aggregates the history of one configuration
type ExecutionStatistics struct {
	ConfigurationID    uuid.UUID  `json:"configuration_id"`
	Total              int        `json:"total"`
	Successful         int        `json:"successful"`
	Failed             int        `json:"failed"`
	SuccessRate        float64    `json:"success_rate"`
	AverageDurationMs  float64    `json:"average_duration_ms"`
	TotalItemsImported int64      `json:"total_items_imported"`
	LastSuccessAt      *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt      *time.Time `json:"last_failure_at,omitempty"`
}

// AverageDuration is AverageDurationMs as a time.Duration
func (s ExecutionStatistics) AverageDuration() time.Duration {
	return time.Duration(s.AverageDurationMs * float64(time.Millisecond))
}

// ComputeStatistics folds history rows into statistics. Rows may be in any order.
func ComputeStatistics(configID uuid.UUID, rows []ImportExecutionHistory) ExecutionStatistics {
	stats := ExecutionStatistics{ConfigurationID: configID}
	var totalDuration int64

	for i := range rows {
		row := rows[i]
		stats.Total++
		totalDuration += row.DurationMs

		if row.Success {
			stats.Successful++
			stats.TotalItemsImported += int64(row.ItemsImported)
			if stats.LastSuccessAt == nil || row.ExecutedAt.After(*stats.LastSuccessAt) {
				at := row.ExecutedAt
				stats.LastSuccessAt = &at
			}
			continue
		}

		stats.Failed++
		if stats.LastFailureAt == nil || row.ExecutedAt.After(*stats.LastFailureAt) {
			at := row.ExecutedAt
			stats.LastFailureAt = &at
		}
	}

	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.Total) * 100
		stats.AverageDurationMs = float64(totalDuration) / float64(stats.Total)
	}

	return stats
}
