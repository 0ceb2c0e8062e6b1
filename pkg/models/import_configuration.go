package models

import (
	"fmt"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
)

// AuthType selects how credentials are attached to the outbound fetch
type AuthType string

const (
	AuthTypeNone   AuthType = "none"
	AuthTypeAPIKey AuthType = "api_key"
	AuthTypeBasic  AuthType = "basic"
	AuthTypeBearer AuthType = "bearer"
)

// Frequency is the cadence of scheduled runs
type Frequency string

const (
	FrequencyNone    Frequency = "none"
	FrequencyHourly  Frequency = "hourly"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// ScheduleState is the persisted position of a configuration in the run lifecycle
type ScheduleState string

const (
	ScheduleStateUnscheduled  ScheduleState = "unscheduled"
	ScheduleStateScheduled    ScheduleState = "scheduled"
	ScheduleStateDue          ScheduleState = "due"
	ScheduleStateRunning      ScheduleState = "running"
	ScheduleStateSucceeded    ScheduleState = "succeeded"
	ScheduleStateFailed       ScheduleState = "failed"
	ScheduleStateRetryPending ScheduleState = "retry_pending"
)

// DefaultMaxRetries is applied to configurations created without a retry budget
const DefaultMaxRetries = 3

// ImportConfiguration describes one external API feeding one index content type.
// Scheduling fields below the audit block are owned by the scheduler.
type ImportConfiguration struct {
	ID              uuid.UUID `db:"id" json:"id" yaml:"id"`
	Name            string    `db:"name" json:"name" yaml:"name"`
	Description     *string   `db:"description" json:"description,omitempty" yaml:"description,omitempty"`
	SourceID        string    `db:"source_id" json:"source_id" yaml:"source_id"`
	ContentTypeName string    `db:"content_type_name" json:"content_type_name" yaml:"content_type_name"`
	Language        *string   `db:"language" json:"language,omitempty" yaml:"language,omitempty"`
	IsEnabled       bool      `db:"is_enabled" json:"is_enabled" yaml:"is_enabled"`

	ExternalAPIURL string                            `db:"external_api_url" json:"external_api_url" yaml:"external_api_url"`
	HTTPMethod     string                            `db:"http_method" json:"http_method" yaml:"http_method"`
	Headers        database.JSONB[map[string]string] `db:"headers" json:"headers" yaml:"headers"`
	AuthType       AuthType                          `db:"auth_type" json:"auth_type" yaml:"auth_type"`
	AuthKey        *string                           `db:"auth_key" json:"auth_key,omitempty" yaml:"auth_key,omitempty"`
	AuthValue      *string                           `db:"auth_value" json:"auth_value,omitempty" yaml:"auth_value,omitempty"`
	FieldMappings  database.JSONB[[]FieldMapping]    `db:"field_mappings" json:"field_mappings" yaml:"field_mappings"`
	JSONPath       *string                           `db:"json_path" json:"json_path,omitempty" yaml:"json_path,omitempty"`

	Frequency  Frequency `db:"frequency" json:"frequency" yaml:"frequency"`
	TimeOfDay  *string   `db:"time_of_day" json:"time_of_day,omitempty" yaml:"time_of_day,omitempty"`
	DayOfWeek  *int      `db:"day_of_week" json:"day_of_week,omitempty" yaml:"day_of_week,omitempty"`
	DayOfMonth *int      `db:"day_of_month" json:"day_of_month,omitempty" yaml:"day_of_month,omitempty"`
	MaxRetries int       `db:"max_retries" json:"max_retries" yaml:"max_retries"`

	CreatedBy     *string    `db:"created_by" json:"created_by,omitempty" yaml:"created_by,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at" yaml:"created_at"`
	UpdatedBy     *string    `db:"updated_by" json:"updated_by,omitempty" yaml:"updated_by,omitempty"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at" yaml:"updated_at"`
	LastRunAt     *time.Time `db:"last_run_at" json:"last_run_at,omitempty" yaml:"last_run_at,omitempty"`
	LastItemCount *int       `db:"last_item_count" json:"last_item_count,omitempty" yaml:"last_item_count,omitempty"`

	ScheduleState       ScheduleState `db:"schedule_state" json:"schedule_state" yaml:"schedule_state"`
	NextScheduledRunAt  *time.Time    `db:"next_scheduled_run_at" json:"next_scheduled_run_at,omitempty" yaml:"next_scheduled_run_at,omitempty"`
	NextRetryAt         *time.Time    `db:"next_retry_at" json:"next_retry_at,omitempty" yaml:"next_retry_at,omitempty"`
	ConsecutiveFailures int           `db:"consecutive_failures" json:"consecutive_failures" yaml:"consecutive_failures"`
	FailureNotifiedAt   *time.Time    `db:"failure_notified_at" json:"failure_notified_at,omitempty" yaml:"failure_notified_at,omitempty"`
}

// TableName returns the database table name
func (ImportConfiguration) TableName() string {
	return "import_configurations"
}

// Mappings returns the ordered field mappings
func (c *ImportConfiguration) Mappings() []FieldMapping {
	return c.FieldMappings.Data
}

// IDMapping returns the mapping designated as the item id, if any
func (c *ImportConfiguration) IDMapping() (FieldMapping, bool) {
	m := ectolinq.Find(c.FieldMappings.Data, func(m FieldMapping) bool {
		return m.IsIDField
	})
	return m, !ectolinq.IsEmpty(m)
}

// LanguageRouting returns the routing tag stamped on produced items
func (c *ImportConfiguration) LanguageRouting() string {
	if c.Language == nil {
		return ""
	}
	return *c.Language
}

// TimeOfDayClock parses TimeOfDay ("HH:MM" or "HH:MM:SS"). An unset value is midnight.
func (c *ImportConfiguration) TimeOfDayClock() (hour, minute, second int, err error) {
	if c.TimeOfDay == nil || *c.TimeOfDay == "" {
		return 0, 0, 0, nil
	}

	for _, layout := range []string{"15:04", "15:04:05"} {
		t, perr := time.Parse(layout, *c.TimeOfDay)
		if perr == nil {
			return t.Hour(), t.Minute(), t.Second(), nil
		}
	}
	return 0, 0, 0, fmt.Errorf("invalid time_of_day %q: expected HH:MM", *c.TimeOfDay)
}

// IsFailing reports whether the last attempt failed
func (c *ImportConfiguration) IsFailing() bool {
	return c.ConsecutiveFailures > 0
}
