// Package metrics provides Prometheus metrics for the import service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ImportRunsTotal tracks import attempts by outcome and trigger
	ImportRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "import",
			Name:      "runs_total",
			Help:      "Total number of import attempts by outcome",
		},
		[]string{"outcome", "trigger"},
	)

	// ImportDuration tracks import duration in seconds
	ImportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "import",
			Name:      "duration_seconds",
			Help:      "Duration of import attempts in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"outcome"},
	)

	// ImportItemsTotal tracks items by disposition (received, imported, skipped, failed)
	ImportItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "import",
			Name:      "items_total",
			Help:      "Total number of items handled by imports",
		},
		[]string{"disposition"},
	)

	// HTTPRequestsTotal tracks outbound HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Total number of outbound HTTP requests",
		},
		[]string{"method", "status_code"},
	)

	// HTTPRequestDuration tracks outbound HTTP request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "http_client",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound HTTP requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method"},
	)

	// SchedulerTicksTotal tracks job driver ticks
	SchedulerTicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Total number of job driver ticks",
		},
	)

	// SchedulerDueConfigurations tracks how many configurations were due on the last tick
	SchedulerDueConfigurations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fern",
			Subsystem: "scheduler",
			Name:      "due_configurations",
			Help:      "Number of configurations due on the last tick",
		},
	)

	// NotificationsTotal tracks dispatched notifications by kind and result
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "notifications",
			Name:      "sent_total",
			Help:      "Total number of notifications dispatched",
		},
		[]string{"kind", "result"},
	)

	// LockContentionTotal tracks runs skipped because another run held the configuration lock
	LockContentionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "lock",
			Name:      "contention_total",
			Help:      "Total number of runs that found the configuration already running",
		},
		[]string{"trigger"},
	)
)

// RecordImport records one finished import attempt
func RecordImport(outcome, trigger string, duration time.Duration, received, imported, skipped, failed int) {
	ImportRunsTotal.WithLabelValues(outcome, trigger).Inc()
	ImportDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	ImportItemsTotal.WithLabelValues("received").Add(float64(received))
	ImportItemsTotal.WithLabelValues("imported").Add(float64(imported))
	ImportItemsTotal.WithLabelValues("skipped").Add(float64(skipped))
	ImportItemsTotal.WithLabelValues("failed").Add(float64(failed))
}

// RecordHTTPRequest records an outbound HTTP request
func RecordHTTPRequest(method, statusCode string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordTick records one job driver tick and its due count
func RecordTick(due int) {
	SchedulerTicksTotal.Inc()
	SchedulerDueConfigurations.Set(float64(due))
}

// RecordNotification records a dispatched notification
func RecordNotification(kind string, err error) {
	result := "sent"
	if err != nil {
		result = "error"
	}
	NotificationsTotal.WithLabelValues(kind, result).Inc()
}

// RecordLockContention records a run skipped on a held lock
func RecordLockContention(trigger string) {
	LockContentionTotal.WithLabelValues(trigger).Inc()
}
