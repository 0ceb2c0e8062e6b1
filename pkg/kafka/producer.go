// Package kafka publishes import lifecycle events for downstream consumers.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// DefaultTopic receives every import lifecycle event
const DefaultTopic = "import-events"

const (
	EventImportSucceeded = "import.succeeded"
	EventImportFailed    = "import.failed"
	EventImportSkipped   = "import.skipped"
)

// Config holds Kafka configuration
type Config struct {
	Brokers []string
	Topic   string
}

// ParseConfig parses a comma-separated broker string
func ParseConfig(brokers, topic string) Config {
	brokerList := strings.Split(brokers, ",")
	for i := range brokerList {
		brokerList[i] = strings.TrimSpace(brokerList[i])
	}
	if topic == "" {
		topic = DefaultTopic
	}
	return Config{Brokers: brokerList, Topic: topic}
}

// ImportEvent describes the outcome of one import attempt
type ImportEvent struct {
	Type            string    `json:"type"`
	ConfigurationID string    `json:"configuration_id"`
	Configuration   string    `json:"configuration"`
	SourceID        string    `json:"source_id"`
	ContentType     string    `json:"content_type"`
	RunID           string    `json:"run_id,omitempty"`
	Trigger         string    `json:"trigger"`
	ItemsReceived   int       `json:"items_received"`
	ItemsImported   int       `json:"items_imported"`
	ItemsSkipped    int       `json:"items_skipped"`
	ItemsFailed     int       `json:"items_failed"`
	DurationMs      int64     `json:"duration_ms"`
	Error           string    `json:"error,omitempty"`
	Failures        int       `json:"consecutive_failures"`
	Timestamp       time.Time `json:"timestamp"`
	TraceID         string    `json:"trace_id,omitempty"`
}

// NewImportEvent builds the event for one attempt on cfg
func NewImportEvent(cfg *models.ImportConfiguration, result *models.ImportResult, trigger string) *ImportEvent {
	evt := &ImportEvent{
		Type:            EventImportSucceeded,
		ConfigurationID: cfg.ID.String(),
		Configuration:   cfg.Name,
		SourceID:        cfg.SourceID,
		ContentType:     cfg.ContentTypeName,
		Trigger:         trigger,
		ItemsReceived:   result.ItemsReceived,
		ItemsImported:   result.ItemsImported,
		ItemsSkipped:    result.ItemsSkipped,
		ItemsFailed:     result.ItemsFailed,
		DurationMs:      result.Duration.Milliseconds(),
		Error:           result.ErrorMessage(),
		Failures:        cfg.ConsecutiveFailures,
	}
	switch {
	case result.IsSkipped():
		evt.Type = EventImportSkipped
	case !result.Success:
		evt.Type = EventImportFailed
	}
	return evt
}

// Publisher publishes import events
type Publisher interface {
	PublishImportEvent(ctx context.Context, evt *ImportEvent) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer handles producing messages to Kafka
type Producer struct {
	writer messageWriter
	logger ectologger.Logger
	topic  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg Config, logger ectologger.Logger) *Producer {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}
	return newProducer(writer, cfg.Topic, logger)
}

func newProducer(writer messageWriter, topic string, logger ectologger.Logger) *Producer {
	return &Producer{writer: writer, logger: logger, topic: topic}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// PublishImportEvent writes evt keyed by configuration id so that the events
// of one configuration stay ordered on one partition.
func (p *Producer) PublishImportEvent(ctx context.Context, evt *ImportEvent) error {
	ctx, span := tracing.StartSpan(ctx, "Kafka.PublishImportEvent")
	defer span.End()

	if evt == nil {
		return fmt.Errorf("import event is nil")
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.TraceID = tracing.GetTraceID(ctx)

	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", p.topic),
		attribute.String("messaging.operation", "publish"),
		attribute.String("configuration_id", evt.ConfigurationID),
		attribute.String("event_type", evt.Type),
	)

	data, err := json.Marshal(evt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal event")
		return fmt.Errorf("failed to marshal import event: %w", err)
	}

	headers := []kafka.Header{
		{Key: "configuration_id", Value: []byte(evt.ConfigurationID)},
		{Key: "type", Value: []byte(evt.Type)},
	}
	if traceparent := tracing.GetTraceParent(ctx); traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceparent)})
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(evt.ConfigurationID),
		Value:   data,
		Headers: headers,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish event")
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish import event to Kafka topic %s", p.topic)
		return err
	}

	span.SetStatus(codes.Ok, "event published")
	p.logger.WithContext(ctx).Debugf("Published %s for configuration %s", evt.Type, evt.ConfigurationID)
	return nil
}

// NoopPublisher drops every event. It is used when no brokers are configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishImportEvent(context.Context, *ImportEvent) error { return nil }

var (
	_ Publisher = (*Producer)(nil)
	_ Publisher = NoopPublisher{}
)
