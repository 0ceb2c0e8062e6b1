// Package indexer talks to the search index: the bulk ingest endpoint the
// import pipeline pushes to and the content type schemas it maps against.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/tidwall/gjson"

	"github.com/Ramsey-B/fern/pkg/codec"
	importerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/fetcher"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// BulkResult is the index's verdict on one bulk payload
type BulkResult struct {
	StatusCode int
	Accepted   int
	Rejected   int
	// Errors holds one message per rejected item, "id: reason".
	Errors []string
}

// Client pushes bulk payloads to the index
type Client interface {
	PushBulk(ctx context.Context, sourceID, payload string) (*BulkResult, error)
}

// SchemaProvider resolves the content type a configuration targets
type SchemaProvider interface {
	GetSchema(ctx context.Context, sourceID, contentTypeName string) (*models.ContentTypeSchema, error)
}

// Config holds index endpoint configuration
type Config struct {
	BaseURL string
	APIKey  string
	// Timeout bounds one bulk push. Schema lookups use a quarter of it.
	Timeout time.Duration
}

// HTTPClient implements Client and SchemaProvider over the index REST API.
type HTTPClient struct {
	cfg    Config
	http   *fetcher.Client
	logger ectologger.Logger
}

// NewHTTPClient sends through client, the same wrapper outbound fetches use.
// A nil client gets one with the default transport settings.
func NewHTTPClient(cfg Config, client *fetcher.Client, logger ectologger.Logger) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if client == nil {
		client = fetcher.NewClient(fetcher.DefaultClientConfig(), logger)
	}

	return &HTTPClient{
		cfg:    cfg,
		http:   client,
		logger: logger,
	}
}

// PushBulk posts the NdJSON payload to the source's bulk endpoint. A non-2xx
// response rejects the whole payload and is returned as a sync error; per-item
// rejections inside a 2xx response are counted in the result.
func (c *HTTPClient) PushBulk(ctx context.Context, sourceID, payload string) (*BulkResult, error) {
	ctx, span := tracing.StartSpan(ctx, "IndexClient.PushBulk")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/sources/%s/_bulk", c.cfg.BaseURL, url.PathEscape(sourceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload))
	if err != nil {
		return nil, importerrors.NewConfigurationError("invalid index endpoint: %w", err)
	}
	req.Header.Set("Content-Type", codec.ContentType)
	c.authorize(req)

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, importerrors.NewSyncError("bulk push timed out: %w", err)
		}
		return nil, importerrors.NewSyncError("bulk push failed: %w", err)
	}

	if !resp.IsSuccess() {
		return nil, importerrors.NewSyncError("index rejected bulk payload with HTTP %d: %s",
			resp.StatusCode, strings.TrimSpace(string(resp.Body))).AddStatusCode(resp.StatusCode)
	}

	result := ParseBulkResponse(resp.Body, codec.GetItemCount(payload))
	result.StatusCode = resp.StatusCode

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"source_id": sourceID,
		"accepted":  result.Accepted,
		"rejected":  result.Rejected,
	}).Debug("Pushed bulk payload")

	return result, nil
}

// ParseBulkResponse reads per-item statuses from a bulk response shaped like
// {"errors":bool,"items":[{"index":{"_id":..,"status":..,"error":..}}]}.
// A response without an items array accepts all sent items unless "errors"
// is true, in which case all are rejected. Items missing from a partial items
// array (some indexes list only the failures) are counted as accepted.
func ParseBulkResponse(body []byte, sent int) *BulkResult {
	result := &BulkResult{}
	parsed := gjson.ParseBytes(body)

	items := parsed.Get("items")
	if !items.IsArray() {
		if parsed.Get("errors").Bool() {
			result.Rejected = sent
			result.Errors = []string{"index reported errors: " + strings.TrimSpace(parsed.Get("error").String())}
			return result
		}
		result.Accepted = sent
		return result
	}

	items.ForEach(func(_, item gjson.Result) bool {
		item.ForEach(func(action, meta gjson.Result) bool {
			status := meta.Get("status").Int()
			errResult := meta.Get("error")
			if errResult.Exists() || status >= 300 {
				result.Rejected++
				reason := errResult.Get("reason").String()
				if reason == "" {
					reason = errResult.String()
				}
				if reason == "" {
					reason = fmt.Sprintf("%s returned status %d", action.String(), status)
				}
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", meta.Get("_id").String(), reason))
			} else {
				result.Accepted++
			}
			return false
		})
		return true
	})

	if unlisted := sent - result.Accepted - result.Rejected; unlisted > 0 {
		result.Accepted += unlisted
	}
	return result
}

// GetSchema fetches a content type definition. A 404 is a configuration error.
func (c *HTTPClient) GetSchema(ctx context.Context, sourceID, contentTypeName string) (*models.ContentTypeSchema, error) {
	ctx, span := tracing.StartSpan(ctx, "IndexClient.GetSchema")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout/4)
	defer cancel()

	endpoint := fmt.Sprintf("%s/sources/%s/content-types/%s", c.cfg.BaseURL, url.PathEscape(sourceID), url.PathEscape(contentTypeName))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, importerrors.NewConfigurationError("invalid index endpoint: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, importerrors.NewFetchError("schema lookup failed: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, importerrors.NewConfigurationError("content type %q not found on source %q", contentTypeName, sourceID)
	}
	if !resp.IsSuccess() {
		return nil, importerrors.NewFetchError("schema lookup returned HTTP %d", resp.StatusCode).AddStatusCode(resp.StatusCode)
	}

	var schema models.ContentTypeSchema
	if err := json.Unmarshal(resp.Body, &schema); err != nil {
		return nil, importerrors.NewFetchError("schema response is not valid JSON: %w", err)
	}
	if schema.Name == "" {
		schema.Name = contentTypeName
	}
	return &schema, nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}

// StaticSchemaProvider serves schemas registered in memory, keyed by
// source id and content type name.
type StaticSchemaProvider struct {
	schemas map[string]*models.ContentTypeSchema
}

func NewStaticSchemaProvider() *StaticSchemaProvider {
	return &StaticSchemaProvider{schemas: map[string]*models.ContentTypeSchema{}}
}

func (p *StaticSchemaProvider) Register(sourceID string, schema *models.ContentTypeSchema) {
	p.schemas[sourceID+"/"+schema.Name] = schema
}

func (p *StaticSchemaProvider) GetSchema(_ context.Context, sourceID, contentTypeName string) (*models.ContentTypeSchema, error) {
	schema, ok := p.schemas[sourceID+"/"+contentTypeName]
	if !ok {
		return nil, importerrors.NewConfigurationError("content type %q not found on source %q", contentTypeName, sourceID)
	}
	return schema, nil
}

// RecordingClient keeps every pushed payload in memory. It backs dry runs
// and tests.
type RecordingClient struct {
	Payloads []string
	// Reject lists item ids the fake index refuses.
	Reject map[string]string
	Err    error
}

func (r *RecordingClient) PushBulk(_ context.Context, _ string, payload string) (*BulkResult, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	r.Payloads = append(r.Payloads, payload)

	items, err := codec.ParseNdJson(payload)
	if err != nil {
		return nil, importerrors.NewSyncError("index rejected malformed payload: %w", err)
	}

	result := &BulkResult{StatusCode: http.StatusOK}
	for _, item := range items {
		if reason, ok := r.Reject[item.ID]; ok {
			result.Rejected++
			result.Errors = append(result.Errors, item.ID+": "+reason)
			continue
		}
		result.Accepted++
	}
	return result, nil
}

var (
	_ Client         = (*HTTPClient)(nil)
	_ Client         = (*RecordingClient)(nil)
	_ SchemaProvider = (*HTTPClient)(nil)
	_ SchemaProvider = (*StaticSchemaProvider)(nil)
)
