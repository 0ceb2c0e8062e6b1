package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Dispatcher builds alerts for import outcomes and hands them to a notifier.
// Delivery errors are logged and counted, never returned: an alert that cannot
// be sent must not change the outcome of the import.
type Dispatcher struct {
	notifier Notifier
	logger   ectologger.Logger
	now      func() time.Time
}

func NewDispatcher(notifier Notifier, logger ectologger.Logger) *Dispatcher {
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	return &Dispatcher{
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// SendFailureNotification reports that cfg has failed totalAttempts times in a row
func (d *Dispatcher) SendFailureNotification(ctx context.Context, cfg *models.ImportConfiguration, result *models.ImportResult, totalAttempts int) {
	ctx, span := tracing.StartSpan(ctx, "Dispatcher.SendFailureNotification")
	defer span.End()

	var b strings.Builder
	fmt.Fprintf(&b, "Import '%s' has failed %d consecutive times (retry budget %d).\n", cfg.Name, totalAttempts, cfg.MaxRetries)
	fmt.Fprintf(&b, "Source: %s / %s\n", cfg.SourceID, cfg.ContentTypeName)
	fmt.Fprintf(&b, "External API: %s\n", cfg.ExternalAPIURL)
	if msg := result.ErrorMessage(); msg != "" {
		fmt.Fprintf(&b, "Last error: %s\n", msg)
	}
	if cfg.NextRetryAt != nil {
		fmt.Fprintf(&b, "Next retry: %s\n", cfg.NextRetryAt.UTC().Format(time.RFC3339))
	}

	d.dispatch(ctx, Alert{
		Kind:              KindFailure,
		Title:             fmt.Sprintf("[fern] Import failing: %s", cfg.Name),
		Content:           b.String(),
		ConfigurationID:   cfg.ID,
		ConfigurationName: cfg.Name,
		OccurredAt:        d.now().UTC(),
	})
}

// SendRecoveryNotification reports that cfg succeeded after failing
func (d *Dispatcher) SendRecoveryNotification(ctx context.Context, cfg *models.ImportConfiguration, result *models.ImportResult) {
	ctx, span := tracing.StartSpan(ctx, "Dispatcher.SendRecoveryNotification")
	defer span.End()

	content := fmt.Sprintf("Import '%s' recovered: %d of %d items imported in %s.\n",
		cfg.Name, result.ItemsImported, result.ItemsReceived, result.Duration.Round(time.Millisecond))

	d.dispatch(ctx, Alert{
		Kind:              KindRecovery,
		Title:             fmt.Sprintf("[fern] Import recovered: %s", cfg.Name),
		Content:           content,
		ConfigurationID:   cfg.ID,
		ConfigurationName: cfg.Name,
		OccurredAt:        d.now().UTC(),
	})
}

func (d *Dispatcher) dispatch(ctx context.Context, alert Alert) {
	err := d.notifier.SendAlert(ctx, alert)
	metrics.RecordNotification(string(alert.Kind), err)
	if err != nil {
		d.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"alert_kind":       alert.Kind,
			"configuration_id": alert.ConfigurationID,
		}).Error("Failed to send notification")
	}
}
