// Package importer runs the fetch, map, build and push pipeline for one
// import configuration.
package importer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/codec"
	importerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/fetcher"
	"github.com/Ramsey-B/fern/pkg/indexer"
	"github.com/Ramsey-B/fern/pkg/mapper"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// SampleLimit caps the response sample returned by TestConnection
const SampleLimit = 1000

// Timeouts bound the outbound calls of one attempt
type Timeouts struct {
	// Test bounds TestConnection.
	Test time.Duration
	// Fetch bounds the external API request of previews and imports.
	Fetch time.Duration
	// Sync bounds the bulk push to the index.
	Sync time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Test:  10 * time.Second,
		Fetch: 60 * time.Second,
		Sync:  120 * time.Second,
	}
}

// Archiver stores a copy of every payload pushed to the index
type Archiver interface {
	Archive(ctx context.Context, cfg *models.ImportConfiguration, executedAt time.Time, payload string) error
}

// ConnectionTestResult is the outcome of TestConnection
type ConnectionTestResult struct {
	Success    bool          `json:"success"`
	Message    string        `json:"message"`
	StatusCode int           `json:"status_code,omitempty"`
	SampleJSON string        `json:"sample_json,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// PreviewResult is what an import would push, without pushing it
type PreviewResult struct {
	Items    []models.CustomDataItem `json:"items"`
	Warnings []string                `json:"warnings"`
	Received int                     `json:"received"`
	Skipped  int                     `json:"skipped"`
	Payload  string                  `json:"payload"`
}

// Executor runs imports. Its exported operations never panic; ExecuteImport
// never returns an error and reports every failure in its result.
type Executor struct {
	fetcher  *fetcher.Fetcher
	mapper   *mapper.FieldMapper
	index    indexer.Client
	schemas  indexer.SchemaProvider
	archiver Archiver
	timeouts Timeouts
	logger   ectologger.Logger
	now      func() time.Time
}

func NewExecutor(
	f *fetcher.Fetcher,
	m *mapper.FieldMapper,
	index indexer.Client,
	schemas indexer.SchemaProvider,
	timeouts Timeouts,
	logger ectologger.Logger,
) *Executor {
	defaults := DefaultTimeouts()
	if timeouts.Test <= 0 {
		timeouts.Test = defaults.Test
	}
	if timeouts.Fetch <= 0 {
		timeouts.Fetch = defaults.Fetch
	}
	if timeouts.Sync <= 0 {
		timeouts.Sync = defaults.Sync
	}

	return &Executor{
		fetcher:  f,
		mapper:   m,
		index:    index,
		schemas:  schemas,
		timeouts: timeouts,
		logger:   logger,
		now:      time.Now,
	}
}

// SetArchiver enables payload archiving. A nil archiver disables it.
func (e *Executor) SetArchiver(a Archiver) {
	e.archiver = a
}

// ResolveSchema looks up the content type cfg targets. Without a schema
// provider every configuration maps without one.
func (e *Executor) ResolveSchema(ctx context.Context, cfg *models.ImportConfiguration) (*models.ContentTypeSchema, error) {
	if e.schemas == nil {
		return nil, nil
	}
	schema, err := e.schemas.GetSchema(ctx, cfg.SourceID, cfg.ContentTypeName)
	if err != nil {
		var ie *importerrors.ImportError
		if errors.As(err, &ie) {
			ie.AddConfigurationID(cfg.ID)
		}
		return nil, err
	}
	return schema, nil
}

// TestConnection performs one request with the short timeout and reports
// whether the API answered with a 2xx. Nothing is mapped or pushed.
func (e *Executor) TestConnection(ctx context.Context, cfg *models.ImportConfiguration) *ConnectionTestResult {
	ctx, span := tracing.StartSpan(ctx, "Executor.TestConnection")
	defer span.End()

	resp, err := e.fetcher.Probe(ctx, cfg, e.timeouts.Test)
	if err != nil {
		return &ConnectionTestResult{Success: false, Message: err.Error()}
	}

	result := &ConnectionTestResult{
		StatusCode: resp.StatusCode,
		Duration:   resp.Duration,
		SampleJSON: truncate(string(resp.Body), SampleLimit),
	}

	if !resp.IsSuccess() {
		result.Message = fmt.Sprintf("External API returned HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		return result
	}

	result.Success = true
	result.Message = fmt.Sprintf("Connection successful (HTTP %d)", resp.StatusCode)

	// show what the JSON path selects when it applies cleanly
	if elements, err := e.fetcher.Narrow(resp.Body, jsonPath(cfg)); err == nil {
		narrowed := &fetcher.FetchResult{Elements: elements}
		if b, err := narrowed.NarrowedJSON(); err == nil {
			result.SampleJSON = truncate(string(b), SampleLimit)
		}
		result.Message = fmt.Sprintf("%s, %d elements", result.Message, len(elements))
	} else {
		result.Message = fmt.Sprintf("%s, but: %s", result.Message, err.Error())
	}

	return result
}

// FetchExternalData performs the authenticated request and returns the
// narrowed array.
func (e *Executor) FetchExternalData(ctx context.Context, cfg *models.ImportConfiguration) (*fetcher.FetchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Executor.FetchExternalData")
	defer span.End()

	return e.fetcher.Fetch(ctx, cfg, e.timeouts.Fetch)
}

// MapExternalDataToItems maps the narrowed elements and drops duplicate ids,
// keeping the first occurrence.
func (e *Executor) MapExternalDataToItems(elements []any, cfg *models.ImportConfiguration, schema *models.ContentTypeSchema) (*mapper.MappingResult, error) {
	result, err := e.mapper.Map(elements, cfg, schema)
	if err != nil {
		return nil, err
	}
	dedupe(result)
	return result, nil
}

// PreviewImport fetches and maps without pushing anything.
func (e *Executor) PreviewImport(ctx context.Context, cfg *models.ImportConfiguration, schema *models.ContentTypeSchema) (preview *PreviewResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "Executor.PreviewImport")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = importerrors.NewUnexpectedError("preview panicked: %v", r).AddConfigurationID(cfg.ID)
		}
	}()

	fetched, err := e.FetchExternalData(ctx, cfg)
	if err != nil {
		return nil, err
	}

	mapped, err := e.MapExternalDataToItems(fetched.Elements, cfg, schema)
	if err != nil {
		return nil, err
	}

	preview = &PreviewResult{
		Items:    mapped.Items,
		Warnings: mapped.Warnings,
		Received: mapped.Received,
		Skipped:  mapped.Skipped,
	}
	if len(mapped.Items) > 0 {
		payload, err := codec.BuildNdJson(mapped.Items)
		if err != nil {
			return nil, importerrors.NewUnexpectedError("failed to build payload: %w", err).AddConfigurationID(cfg.ID)
		}
		preview.Payload = payload
	}
	return preview, nil
}

// ExecuteImport runs fetch, map, build and push. Every failure, including a
// panic, comes back as a failed result; received, skipped, imported and
// failed always satisfy imported+failed <= received-skipped.
func (e *Executor) ExecuteImport(ctx context.Context, cfg *models.ImportConfiguration, schema *models.ContentTypeSchema, sourceID string) (result *models.ImportResult) {
	ctx, span := tracing.StartSpan(ctx, "Executor.ExecuteImport")
	defer span.End()

	start := e.now()
	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"configuration_id": cfg.ID,
		"configuration":    cfg.Name,
	})

	defer func() {
		if r := recover(); r != nil {
			log.WithFields(map[string]any{"stack": string(debug.Stack())}).Errorf("Import panicked: %v", r)
			result = FailedResult(importerrors.NewUnexpectedError("import panicked: %v", r).AddConfigurationID(cfg.ID))
		}
		result.Duration = e.now().Sub(start)
	}()

	if sourceID == "" {
		sourceID = cfg.SourceID
	}

	fetched, err := e.FetchExternalData(ctx, cfg)
	if err != nil {
		log.WithError(err).Warn("Fetch failed")
		return FailedResult(err)
	}

	mapped, err := e.MapExternalDataToItems(fetched.Elements, cfg, schema)
	if err != nil {
		log.WithError(err).Warn("Mapping failed")
		return FailedResult(err)
	}

	result = &models.ImportResult{
		ItemsReceived: mapped.Received,
		ItemsSkipped:  mapped.Skipped,
		Warnings:      mapped.Warnings,
	}

	if len(mapped.Items) == 0 {
		result.Success = true
		log.WithFields(map[string]any{
			"received": result.ItemsReceived,
			"skipped":  result.ItemsSkipped,
		}).Info("Nothing to import")
		return result
	}

	payload, err := codec.BuildNdJson(mapped.Items)
	if err != nil {
		return withCounts(FailedResult(importerrors.NewUnexpectedError("failed to build payload: %w", err)), result)
	}

	if e.archiver != nil {
		if err := e.archiver.Archive(ctx, cfg, start, payload); err != nil {
			log.WithError(err).Warn("Failed to archive payload")
			result.Warnings = append(result.Warnings, "payload archive failed: "+err.Error())
		}
	}

	pushCtx, cancel := context.WithTimeout(ctx, e.timeouts.Sync)
	defer cancel()

	bulk, err := e.index.PushBulk(pushCtx, sourceID, payload)
	if err != nil {
		log.WithError(err).Warn("Bulk push failed")
		out := withCounts(FailedResult(asSyncError(err)), result)
		out.ItemsFailed = len(mapped.Items)
		return out
	}

	result.ItemsImported = bulk.Accepted
	result.ItemsFailed = bulk.Rejected
	// never report more than was sent
	if result.ItemsImported+result.ItemsFailed > len(mapped.Items) {
		result.ItemsImported = min(result.ItemsImported, len(mapped.Items))
		result.ItemsFailed = len(mapped.Items) - result.ItemsImported
	}
	for _, msg := range bulk.Errors {
		result.Warnings = append(result.Warnings, "index rejected "+msg)
	}

	if result.ItemsImported == 0 && result.ItemsFailed > 0 {
		result.ErrorKind = string(importerrors.KindSync)
		result.Errors = []string{fmt.Sprintf("sync error: index rejected all %d items", result.ItemsFailed)}
		log.Warn("Index rejected every item")
		return result
	}

	result.Success = true
	log.WithFields(map[string]any{
		"received": result.ItemsReceived,
		"imported": result.ItemsImported,
		"skipped":  result.ItemsSkipped,
		"failed":   result.ItemsFailed,
	}).Info("Import completed")
	return result
}

func dedupe(result *mapper.MappingResult) {
	seen := make(map[string]int, len(result.Items))
	kept := result.Items[:0]
	for i, item := range result.Items {
		if first, ok := seen[item.ID]; ok {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("duplicate id '%s' at item %d, keeping the occurrence at item %d", item.ID, i, first))
			continue
		}
		seen[item.ID] = i
		kept = append(kept, item)
	}
	result.Items = kept
}

// FailedResult turns err into a failed result classified by its error kind
func FailedResult(err error) *models.ImportResult {
	ie := importerrors.WrapUnexpected(err)
	result := models.FailedImportResult(ie.Error())
	result.ErrorKind = string(ie.Kind)
	return result
}

func withCounts(out, counts *models.ImportResult) *models.ImportResult {
	out.ItemsReceived = counts.ItemsReceived
	out.ItemsSkipped = counts.ItemsSkipped
	out.Warnings = counts.Warnings
	return out
}

func asSyncError(err error) error {
	if importerrors.KindOf(err) != "" {
		return err
	}
	return importerrors.NewSyncError("bulk push failed: %w", err)
}

func jsonPath(cfg *models.ImportConfiguration) string {
	if cfg.JSONPath == nil {
		return ""
	}
	return *cfg.JSONPath
}

// truncate cuts s to limit characters
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
