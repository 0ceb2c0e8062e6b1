// Package transfer moves import configurations in and out of the service as
// YAML or JSON documents. A document round-trips every field, scheduling
// state included.
package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/scheduler"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// DocumentVersion is written into every export
const DocumentVersion = 1

var validate = validator.New()

// Format of a transfer document
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ParseFormat accepts "yaml", "yml" or "json"
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "yaml", "yml", "":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported format %q: expected yaml or json", s)
	}
}

// FormatFromPath picks the format from a file extension, defaulting to YAML
func FormatFromPath(path string) Format {
	f, err := ParseFormat(filepath.Ext(path))
	if err != nil {
		return FormatYAML
	}
	return f
}

// Document is the exported form of a set of configurations
type Document struct {
	Version        int                          `json:"version" yaml:"version"`
	ExportedAt     time.Time                    `json:"exported_at" yaml:"exported_at"`
	Configurations []models.ImportConfiguration `json:"configurations" yaml:"configurations"`
}

// ExportOptions tune what Encode writes
type ExportOptions struct {
	// RedactSecrets blanks auth values so the document can be shared.
	RedactSecrets bool
}

// Encode writes configs as a document in format
func Encode(w io.Writer, format Format, configs []models.ImportConfiguration, opts ExportOptions) error {
	doc := Document{
		Version:        DocumentVersion,
		ExportedAt:     time.Now().UTC(),
		Configurations: make([]models.ImportConfiguration, len(configs)),
	}
	copy(doc.Configurations, configs)
	if opts.RedactSecrets {
		for i := range doc.Configurations {
			if doc.Configurations[i].AuthValue != nil {
				redacted := "REDACTED"
				doc.Configurations[i].AuthValue = &redacted
			}
		}
	}

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

// Decode reads a document in format and validates every configuration in it
func Decode(r io.Reader, format Format) (*Document, error) {
	var doc Document
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("invalid JSON document: %w", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("invalid YAML document: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}

	if doc.Version > DocumentVersion {
		return nil, fmt.Errorf("document version %d is newer than supported version %d", doc.Version, DocumentVersion)
	}

	for i := range doc.Configurations {
		if err := Validate(&doc.Configurations[i]); err != nil {
			return nil, fmt.Errorf("configuration %d (%s): %w", i, doc.Configurations[i].Name, err)
		}
	}
	return &doc, nil
}

// Validate checks the operator-editable fields of cfg
func Validate(cfg *models.ImportConfiguration) error {
	req := models.RequestFromConfiguration(cfg)
	return ValidateRequest(&req)
}

// ValidateRequest checks a configuration request. At most one mapping may
// be the id field.
func ValidateRequest(req *models.ImportConfigurationRequest) error {
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ids := len(ectolinq.Filter(req.FieldMappings, func(m models.FieldMapping) bool {
		return m.IsIDField
	}))
	if ids > 1 {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "field_mappings: %d mappings are marked as id field, at most one is allowed", ids)
	}
	return nil
}

// ImportOptions tune Importer.Import
type ImportOptions struct {
	// ResetState drops exported scheduling state and recomputes the schedule.
	ResetState bool
	// DryRun validates and reports without writing.
	DryRun bool
}

// ImportSummary reports what Import did
type ImportSummary struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// Importer writes documents into a configuration store
type Importer struct {
	configs   repositories.ConfigurationStore
	scheduler *scheduler.Scheduler
	logger    ectologger.Logger
}

func NewImporter(configs repositories.ConfigurationStore, sched *scheduler.Scheduler, logger ectologger.Logger) *Importer {
	return &Importer{configs: configs, scheduler: sched, logger: logger}
}

// Import upserts every configuration of doc by id. Scheduling state travels
// with the configuration unless opts.ResetState is set, in which case the
// schedule is initialized from now.
func (i *Importer) Import(ctx context.Context, doc *Document, opts ImportOptions) (ImportSummary, error) {
	ctx, span := tracing.StartSpan(ctx, "Importer.Import")
	defer span.End()

	var summary ImportSummary
	for idx := range doc.Configurations {
		cfg := doc.Configurations[idx]

		existing, err := i.configs.GetByID(ctx, cfg.ID)
		if err != nil && !isNotFound(err) {
			return summary, err
		}

		if opts.DryRun {
			if existing != nil {
				summary.Updated++
			} else {
				summary.Created++
			}
			continue
		}

		if existing != nil {
			if err := i.configs.Update(ctx, &cfg); err != nil {
				return summary, err
			}
			summary.Updated++
		} else {
			if err := i.configs.Create(ctx, &cfg); err != nil {
				return summary, err
			}
			summary.Created++
		}

		if opts.ResetState {
			cfg.ScheduleState = models.ScheduleStateUnscheduled
			if err := i.scheduler.InitializeSchedule(ctx, &cfg); err != nil {
				return summary, err
			}
		} else if err := i.configs.UpdateSchedule(ctx, &cfg); err != nil {
			return summary, err
		}
	}

	i.logger.WithContext(ctx).WithFields(map[string]any{
		"created": summary.Created,
		"updated": summary.Updated,
		"dry_run": opts.DryRun,
	}).Info("Imported configurations")
	return summary, nil
}

func isNotFound(err error) bool {
	return httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusNotFound
}
