package fetcher

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	importerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/expressions"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	// DefaultAPIKeyHeader is used for api_key auth when no header name is configured
	DefaultAPIKeyHeader = "X-API-Key"

	defaultUserAgent = "fern-importer/1.0"
)

// FetchResult is the narrowed response of one fetch
type FetchResult struct {
	StatusCode int
	// Raw is the response body as received.
	Raw []byte
	// Elements is the array selected by the configured JSON path.
	Elements []any
	Duration time.Duration
}

// NarrowedJSON re-encodes Elements as a JSON array.
func (r *FetchResult) NarrowedJSON() ([]byte, error) {
	return json.Marshal(r.Elements)
}

// Fetcher performs the authenticated request against an external API.
type Fetcher struct {
	client    *Client
	evaluator *expressions.Evaluator
	logger    ectologger.Logger
}

func NewFetcher(client *Client, evaluator *expressions.Evaluator, logger ectologger.Logger) *Fetcher {
	return &Fetcher{
		client:    client,
		evaluator: evaluator,
		logger:    logger,
	}
}

// BuildRequest builds the outbound request from the configured method,
// headers and authentication. Problems with the configuration itself are
// returned as configuration errors.
func BuildRequest(ctx context.Context, cfg *models.ImportConfiguration) (*http.Request, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.ExternalAPIURL))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, importerrors.NewConfigurationError("invalid external API URL %q", cfg.ExternalAPIURL).AddConfigurationID(cfg.ID)
	}

	method := strings.ToUpper(strings.TrimSpace(cfg.HTTPMethod))
	if method == "" {
		method = http.MethodGet
	}
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return nil, importerrors.NewConfigurationError("unsupported HTTP method %q", cfg.HTTPMethod).AddConfigurationID(cfg.ID)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), http.NoBody)
	if err != nil {
		return nil, importerrors.NewConfigurationError("failed to build request: %w", err).AddConfigurationID(cfg.ID)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", defaultUserAgent)
	for key, value := range cfg.Headers.Data {
		req.Header.Set(key, value)
	}

	if err := applyAuth(req, cfg); err != nil {
		return nil, err
	}

	return req, nil
}

func applyAuth(req *http.Request, cfg *models.ImportConfiguration) error {
	key := deref(cfg.AuthKey)
	value := deref(cfg.AuthValue)

	switch cfg.AuthType {
	case "", models.AuthTypeNone:
		return nil
	case models.AuthTypeAPIKey:
		if value == "" {
			return importerrors.NewConfigurationError("api_key auth requires a value").AddConfigurationID(cfg.ID)
		}
		header := key
		if header == "" {
			header = DefaultAPIKeyHeader
		}
		req.Header.Set(header, value)
	case models.AuthTypeBasic:
		if key == "" {
			return importerrors.NewConfigurationError("basic auth requires a username").AddConfigurationID(cfg.ID)
		}
		token := base64.StdEncoding.EncodeToString([]byte(key + ":" + value))
		req.Header.Set("Authorization", "Basic "+token)
	case models.AuthTypeBearer:
		token := value
		if token == "" {
			token = key
		}
		if token == "" {
			return importerrors.NewConfigurationError("bearer auth requires a token").AddConfigurationID(cfg.ID)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	default:
		return importerrors.NewConfigurationError("unsupported auth type %q", cfg.AuthType).AddConfigurationID(cfg.ID)
	}

	return nil
}

// Probe performs one request bounded by timeout and returns the raw response
// whatever its status. Only transport failures are errors.
func (f *Fetcher) Probe(ctx context.Context, cfg *models.ImportConfiguration, timeout time.Duration) (*Response, error) {
	ctx, span := tracing.StartSpan(ctx, "Fetcher.Probe")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := BuildRequest(ctx, cfg)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(ctx, req)
	if err != nil {
		return nil, transportError(cfg, err)
	}
	return resp, nil
}

// Fetch performs the request bounded by timeout, requires a 2xx JSON
// response and narrows it with the configured JSON path.
func (f *Fetcher) Fetch(ctx context.Context, cfg *models.ImportConfiguration, timeout time.Duration) (*FetchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Fetcher.Fetch")
	defer span.End()

	resp, err := f.Probe(ctx, cfg, timeout)
	if err != nil {
		return nil, err
	}

	if !resp.IsSuccess() {
		return nil, importerrors.NewFetchError("external API returned HTTP %d: %s", resp.StatusCode, snippet(resp.Body, 200)).
			AddConfigurationID(cfg.ID).AddStatusCode(resp.StatusCode)
	}

	elements, err := f.Narrow(resp.Body, deref(cfg.JSONPath))
	if err != nil {
		var ie *importerrors.ImportError
		if errors.As(err, &ie) {
			ie.AddConfigurationID(cfg.ID).AddStatusCode(resp.StatusCode)
		}
		return nil, err
	}

	f.logger.WithContext(ctx).WithFields(map[string]any{
		"configuration_id": cfg.ID,
		"status_code":      resp.StatusCode,
		"elements":         len(elements),
		"duration":         resp.Duration,
	}).Debug("Fetched external data")

	return &FetchResult{
		StatusCode: resp.StatusCode,
		Raw:        resp.Body,
		Elements:   elements,
		Duration:   resp.Duration,
	}, nil
}

// Narrow decodes body and selects the array of interest. An object result is
// treated as a single element.
func (f *Fetcher) Narrow(body []byte, jsonPath string) ([]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, importerrors.NewFetchError("response is not valid JSON: %w", err)
	}
	if dec.More() {
		return nil, importerrors.NewFetchError("response contains trailing data after the JSON document")
	}

	selected, err := f.evaluator.Evaluate(jsonPath, doc)
	if err != nil {
		return nil, importerrors.NewConfigurationError("json path: %w", err)
	}

	switch v := selected.(type) {
	case []any:
		return v, nil
	case map[string]any:
		return []any{v}, nil
	case nil:
		if jsonPath == "" {
			return nil, importerrors.NewFetchError("response body is null")
		}
		return nil, importerrors.NewFetchError("json path %q matched nothing", jsonPath)
	default:
		return nil, importerrors.NewFetchError("json path %q selected a %T, expected an array or object", jsonPath, selected)
	}
}

func transportError(cfg *models.ImportConfiguration, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return importerrors.NewFetchError("request to external API timed out: %w", err).AddConfigurationID(cfg.ID)
	}
	return importerrors.NewFetchError("request to external API failed: %w", err).AddConfigurationID(cfg.ID)
}

func snippet(body []byte, max int) string {
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
