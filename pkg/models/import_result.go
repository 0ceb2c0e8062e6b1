package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	importerrors "github.com/Ramsey-B/fern/pkg/errors"
)

// ImportResult is the outcome of one execution. It is not persisted directly;
// the scheduler turns it into an ImportExecutionHistory row.
type ImportResult struct {
	Success       bool          `json:"success"`
	ItemsReceived int           `json:"items_received"`
	ItemsImported int           `json:"items_imported"`
	ItemsSkipped  int           `json:"items_skipped"`
	ItemsFailed   int           `json:"items_failed"`
	Errors        []string      `json:"errors,omitempty"`
	Warnings      []string      `json:"warnings,omitempty"`
	Duration      time.Duration `json:"duration"`
	// ErrorKind classifies a failure: configuration, fetch, sync or unexpected.
	ErrorKind string `json:"error_kind,omitempty"`
}

// IsSkipped reports whether the attempt never ran because the configuration is invalid
func (r *ImportResult) IsSkipped() bool {
	return r != nil && !r.Success && r.ErrorKind == string(importerrors.KindConfiguration)
}

// FailedImportResult builds a failed result carrying one error message
func FailedImportResult(message string) *ImportResult {
	return &ImportResult{
		Success: false,
		Errors:  []string{message},
	}
}

// ErrorMessage joins the errors into one line, or returns "" on success
func (r *ImportResult) ErrorMessage() string {
	if r == nil || len(r.Errors) == 0 {
		return ""
	}
	return strings.Join(r.Errors, "; ")
}

// IsConsistent checks imported+failed <= received-skipped
func (r *ImportResult) IsConsistent() bool {
	return r.ItemsImported+r.ItemsFailed <= r.ItemsReceived-r.ItemsSkipped
}

// ToHistory converts the result into an audit row for configID
func (r *ImportResult) ToHistory(configID uuid.UUID, executedAt time.Time, wasRetry bool, retryAttempt int, wasScheduled bool) ImportExecutionHistory {
	row := ImportExecutionHistory{
		ConfigurationID: configID,
		ExecutedAt:      executedAt,
		Success:         r.Success,
		ItemsReceived:   r.ItemsReceived,
		ItemsImported:   r.ItemsImported,
		ItemsSkipped:    r.ItemsSkipped,
		ItemsFailed:     r.ItemsFailed,
		DurationMs:      r.Duration.Milliseconds(),
		WasRetry:        wasRetry,
		RetryAttempt:    retryAttempt,
		WasScheduled:    wasScheduled,
	}
	row.Warnings.Data = append([]string{}, r.Warnings...)
	if msg := r.ErrorMessage(); msg != "" {
		row.ErrorMessage = &msg
	}
	return row
}
