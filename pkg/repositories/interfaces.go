package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
)

// ConfigurationStore persists import configurations. Every scheduling
// mutation is a single update keyed by configuration id.
type ConfigurationStore interface {
	Create(ctx context.Context, cfg *models.ImportConfiguration) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ImportConfiguration, error)
	List(ctx context.Context) ([]models.ImportConfiguration, error)
	// ListDue returns enabled configurations whose scheduled slot or retry
	// slot is at or before now. Each configuration appears at most once.
	ListDue(ctx context.Context, now time.Time) ([]models.ImportConfiguration, error)
	Update(ctx context.Context, cfg *models.ImportConfiguration) error
	// UpdateSchedule writes only the scheduler-owned fields.
	UpdateSchedule(ctx context.Context, cfg *models.ImportConfiguration) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// HistoryStore is the append-only audit trail of import attempts.
type HistoryStore interface {
	Append(ctx context.Context, row *models.ImportExecutionHistory) error
	// ListByConfiguration returns the newest rows first. limit <= 0 means all.
	ListByConfiguration(ctx context.Context, configID uuid.UUID, limit int) ([]models.ImportExecutionHistory, error)
	// Statistics aggregates rows executed at or after from, or all rows when from is nil.
	Statistics(ctx context.Context, configID uuid.UUID, from *time.Time) (models.ExecutionStatistics, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
