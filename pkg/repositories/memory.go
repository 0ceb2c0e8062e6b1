package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
)

// MemoryConfigurationStore keeps configurations in process. It backs tests
// and the database-less mode of `fern run-once`.
type MemoryConfigurationStore struct {
	mu      sync.RWMutex
	configs map[uuid.UUID]models.ImportConfiguration
	now     func() time.Time
}

func NewMemoryConfigurationStore() *MemoryConfigurationStore {
	return &MemoryConfigurationStore{
		configs: make(map[uuid.UUID]models.ImportConfiguration),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryConfigurationStore) Create(_ context.Context, cfg *models.ImportConfiguration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	if cfg.ScheduleState == "" {
		cfg.ScheduleState = models.ScheduleStateUnscheduled
	}
	now := s.now()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	s.configs[cfg.ID] = cloneConfiguration(*cfg)
	return nil
}

func (s *MemoryConfigurationStore) GetByID(_ context.Context, id uuid.UUID) (*models.ImportConfiguration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[id]
	if !ok {
		return nil, NotFound("import configuration %s does not exist", id)
	}
	out := cloneConfiguration(cfg)
	return &out, nil
}

func (s *MemoryConfigurationStore) List(_ context.Context) ([]models.ImportConfiguration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ImportConfiguration, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, cloneConfiguration(cfg))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryConfigurationStore) ListDue(_ context.Context, now time.Time) ([]models.ImportConfiguration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ImportConfiguration
	for _, cfg := range s.configs {
		if IsDue(&cfg, now) {
			out = append(out, cloneConfiguration(cfg))
		}
	}
	return out, nil
}

func (s *MemoryConfigurationStore) Update(_ context.Context, cfg *models.ImportConfiguration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.configs[cfg.ID]
	if !ok {
		return NotFound("import configuration %s does not exist", cfg.ID)
	}

	updated := cloneConfiguration(*cfg)
	// scheduler-owned and audit fields are not operator editable
	updated.CreatedAt = existing.CreatedAt
	updated.CreatedBy = existing.CreatedBy
	updated.ScheduleState = existing.ScheduleState
	updated.NextScheduledRunAt = existing.NextScheduledRunAt
	updated.NextRetryAt = existing.NextRetryAt
	updated.ConsecutiveFailures = existing.ConsecutiveFailures
	updated.FailureNotifiedAt = existing.FailureNotifiedAt
	updated.LastRunAt = existing.LastRunAt
	updated.LastItemCount = existing.LastItemCount
	updated.UpdatedAt = s.now()

	s.configs[cfg.ID] = updated
	cfg.UpdatedAt = updated.UpdatedAt
	return nil
}

func (s *MemoryConfigurationStore) UpdateSchedule(_ context.Context, cfg *models.ImportConfiguration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.configs[cfg.ID]
	if !ok {
		return NotFound("import configuration %s does not exist", cfg.ID)
	}

	existing.ScheduleState = cfg.ScheduleState
	existing.NextScheduledRunAt = copyTime(cfg.NextScheduledRunAt)
	existing.NextRetryAt = copyTime(cfg.NextRetryAt)
	existing.ConsecutiveFailures = cfg.ConsecutiveFailures
	existing.FailureNotifiedAt = copyTime(cfg.FailureNotifiedAt)
	existing.LastRunAt = copyTime(cfg.LastRunAt)
	if cfg.LastItemCount != nil {
		count := *cfg.LastItemCount
		existing.LastItemCount = &count
	}
	existing.UpdatedAt = s.now()

	s.configs[cfg.ID] = existing
	cfg.UpdatedAt = existing.UpdatedAt
	return nil
}

func (s *MemoryConfigurationStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.configs[id]; !ok {
		return NotFound("import configuration %s does not exist", id)
	}
	delete(s.configs, id)
	return nil
}

// IsDue reports whether cfg is due at now: its scheduled slot has passed, or
// it is failing and its retry slot has passed. Both bounds are inclusive.
func IsDue(cfg *models.ImportConfiguration, now time.Time) bool {
	if !cfg.IsEnabled {
		return false
	}
	if cfg.NextScheduledRunAt != nil && !cfg.NextScheduledRunAt.After(now) {
		return true
	}
	return cfg.ConsecutiveFailures > 0 && cfg.NextRetryAt != nil && !cfg.NextRetryAt.After(now)
}

func cloneConfiguration(cfg models.ImportConfiguration) models.ImportConfiguration {
	if cfg.Headers.Data != nil {
		headers := make(map[string]string, len(cfg.Headers.Data))
		for k, v := range cfg.Headers.Data {
			headers[k] = v
		}
		cfg.Headers.Data = headers
	}
	if cfg.FieldMappings.Data != nil {
		cfg.FieldMappings.Data = append([]models.FieldMapping(nil), cfg.FieldMappings.Data...)
	}
	cfg.NextScheduledRunAt = copyTime(cfg.NextScheduledRunAt)
	cfg.NextRetryAt = copyTime(cfg.NextRetryAt)
	cfg.FailureNotifiedAt = copyTime(cfg.FailureNotifiedAt)
	cfg.LastRunAt = copyTime(cfg.LastRunAt)
	return cfg
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// MemoryHistoryStore keeps history rows in process
type MemoryHistoryStore struct {
	mu   sync.RWMutex
	rows []models.ImportExecutionHistory
}

func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{}
}

func (s *MemoryHistoryStore) Append(_ context.Context, row *models.ImportExecutionHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	stored := *row
	stored.Warnings.Data = append([]string{}, row.Warnings.Data...)
	s.rows = append(s.rows, stored)
	return nil
}

func (s *MemoryHistoryStore) ListByConfiguration(_ context.Context, configID uuid.UUID, limit int) ([]models.ImportExecutionHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ImportExecutionHistory
	for _, row := range s.rows {
		if row.ConfigurationID == configID {
			out = append(out, row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExecutedAt.After(out[j].ExecutedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryHistoryStore) Statistics(_ context.Context, configID uuid.UUID, from *time.Time) (models.ExecutionStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []models.ImportExecutionHistory
	for _, row := range s.rows {
		if row.ConfigurationID != configID {
			continue
		}
		if from != nil && row.ExecutedAt.Before(*from) {
			continue
		}
		rows = append(rows, row)
	}
	return models.ComputeStatistics(configID, rows), nil
}

func (s *MemoryHistoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.rows[:0]
	var deleted int64
	for _, row := range s.rows {
		if row.ExecutedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, row)
	}
	s.rows = kept
	return deleted, nil
}

// DeleteConfiguration drops the rows of one configuration, mirroring the
// ON DELETE CASCADE of the Postgres schema.
func (s *MemoryHistoryStore) DeleteConfiguration(configID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.rows[:0]
	for _, row := range s.rows {
		if row.ConfigurationID != configID {
			kept = append(kept, row)
		}
	}
	s.rows = kept
}

// Len returns the number of stored rows
func (s *MemoryHistoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

var (
	_ ConfigurationStore = (*MemoryConfigurationStore)(nil)
	_ HistoryStore       = (*MemoryHistoryStore)(nil)
)
