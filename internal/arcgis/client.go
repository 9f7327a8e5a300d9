// Package arcgis implements the remote service client for ArcGIS-style REST
// FeatureServer layer endpoints: rate-limited, retried GETs for layer
// metadata, bounded feature samples, and a two-page pagination probe.
package arcgis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 10 * 1024 * 1024

// ClientConfig configures the client. Zero values fall back to the defaults
// the pipeline documents.
type ClientConfig struct {
	// Timeout bounds each individual HTTP request (default: 20s).
	Timeout time.Duration

	// Retries is the number of retry attempts after the first try on
	// transient failures (default: 2, i.e. 3 total attempts).
	Retries int

	// MinRequestInterval is the enforced minimum delay between any two
	// outbound requests across the whole run (default: 200ms). Zero or
	// negative disables pacing, which tests rely on.
	MinRequestInterval time.Duration

	// SampleSize caps the number of features fetched per layer (default: 200).
	SampleSize int

	// UserAgent for all requests.
	UserAgent string

	// Transport allows injecting a custom HTTP transport for tests.
	Transport http.RoundTripper

	// Logger for request-level diagnostics. Defaults to a nop logger.
	Logger *zap.Logger
}

// DefaultClientConfig returns the documented defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:            20 * time.Second,
		Retries:            2,
		MinRequestInterval: 200 * time.Millisecond,
		SampleSize:         200,
		UserAgent:          "geoqa/1.0 (layer audit pipeline)",
	}
}

// Client is a rate-limited, retry-capable GET client for FeatureServer layer
// endpoints. The limiter is shared across every request the client issues, so
// inter-request pacing is global to the run, not per layer.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *zap.Logger
}

// NewClient builds a client from cfg, filling unset fields with defaults.
func NewClient(cfg ClientConfig) *Client {
	def := DefaultClientConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = def.Retries
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = def.SampleSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	limit := rate.Inf
	if cfg.MinRequestInterval > 0 {
		limit = rate.Every(cfg.MinRequestInterval)
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		limiter: rate.NewLimiter(limit, 1),
		log:     cfg.Logger,
	}
}

// SampleSize returns the configured per-layer feature sample cap.
func (c *Client) SampleSize() int { return c.cfg.SampleSize }

// FetchMetadata fetches the layer info document.
func (c *Client) FetchMetadata(ctx context.Context, serviceURL string) (*LayerMetadata, error) {
	params := url.Values{"f": {"json"}}

	var meta LayerMetadata
	if err := c.getJSON(ctx, "fetch_metadata", serviceURL, params, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// CountFeatures asks the service for its total record count. A nil estimate
// with a nil error means the service answered without a count.
func (c *Client) CountFeatures(ctx context.Context, serviceURL string) (*int64, error) {
	params := url.Values{
		"where":           {"1=1"},
		"returnCountOnly": {"true"},
		"f":               {"json"},
	}
	var resp queryResponse
	if err := c.getJSON(ctx, "count_features", queryEndpoint(serviceURL), params, &resp); err != nil {
		return nil, err
	}
	return resp.Count, nil
}

// FetchSample fetches up to maxFeatures features. An empty feature set is a
// valid, successful response.
func (c *Client) FetchSample(ctx context.Context, serviceURL string, maxFeatures int) ([]Feature, error) {
	if maxFeatures <= 0 {
		maxFeatures = c.cfg.SampleSize
	}
	resp, err := c.queryPage(ctx, "fetch_sample", queryEndpoint(serviceURL), 0, maxFeatures)
	if err != nil {
		return nil, err
	}
	return resp.Features, nil
}

// ProbeSecondPage requests feature windows [0, pageSize) and
// [pageSize, 2*pageSize) and reports what each returned. The caller decides
// what a zero-feature second page means; the probe only records it.
func (c *Client) ProbeSecondPage(ctx context.Context, serviceURL string, pageSize int) (*PageProbe, error) {
	if pageSize <= 0 {
		pageSize = c.cfg.SampleSize
	}
	queryURL := queryEndpoint(serviceURL)

	first, err := c.queryPage(ctx, "probe_pagination", queryURL, 0, pageSize)
	if err != nil {
		return nil, err
	}
	second, err := c.queryPage(ctx, "probe_pagination", queryURL, pageSize, pageSize)
	if err != nil {
		return nil, err
	}

	return &PageProbe{
		PageSize:            pageSize,
		FirstReturned:       len(first.Features),
		SecondReturned:      len(second.Features),
		ExceededLimitFirst:  first.ExceededTransferLimit,
		ExceededLimitSecond: second.ExceededTransferLimit,
	}, nil
}

// queryPage issues one feature window request.
func (c *Client) queryPage(ctx context.Context, op, queryURL string, offset, count int) (*queryResponse, error) {
	params := url.Values{
		"where":             {"1=1"},
		"outFields":         {"*"},
		"returnGeometry":    {"true"},
		"f":                 {"json"},
		"resultOffset":      {strconv.Itoa(offset)},
		"resultRecordCount": {strconv.Itoa(count)},
	}
	var resp queryResponse
	if err := c.getJSON(ctx, op, queryURL, params, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// getJSON performs a paced, retried GET and decodes the JSON body into out.
// Every failure is translated to *ServiceError or *ParseError.
func (c *Client) getJSON(ctx context.Context, op, rawURL string, params url.Values, out any) error {
	fullURL := rawURL
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			c.log.Debug("retrying request",
				zap.String("op", op), zap.Int("attempt", attempt), zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return &ServiceError{Kind: classifyTransport(ctx.Err()), Op: op, URL: rawURL, Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}

		// Inter-request pacing, additive to the backoff delay.
		if err := c.limiter.Wait(ctx); err != nil {
			return &ServiceError{Kind: classifyTransport(err), Op: op, URL: rawURL, Err: err}
		}

		body, err := c.doOnce(ctx, op, rawURL, fullURL)
		if err == nil {
			if decodeErr := decodePayload(op, rawURL, body, out); decodeErr != nil {
				return decodeErr
			}
			return nil
		}

		lastErr = err
		if !retryable(err) {
			return err
		}
	}
	return lastErr
}

// doOnce executes a single attempt and returns the raw body on success.
func (c *Client) doOnce(ctx context.Context, op, rawURL, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, &ServiceError{Kind: KindUnreachable, Op: op, URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ServiceError{Kind: classifyTransport(err), Op: op, URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &ServiceError{Kind: classifyTransport(err), Op: op, URL: rawURL, Err: err}
	}

	c.log.Debug("request complete",
		zap.String("op", op), zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)), zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode >= 400 {
		return nil, &ServiceError{Kind: KindHTTPError, StatusCode: resp.StatusCode, Op: op, URL: rawURL}
	}
	return body, nil
}

// decodePayload unmarshals body into out, surfacing the ArcGIS error
// envelope (an application error inside an HTTP 200) as a ServiceError.
func decodePayload(op, rawURL string, body []byte, out any) error {
	var probe struct {
		Error *errorEnvelope `json:"error"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return &ParseError{Op: op, URL: rawURL, Err: err}
	}
	if probe.Error != nil {
		return &ServiceError{
			Kind:       KindHTTPError,
			StatusCode: probe.Error.Code,
			Op:         op,
			URL:        rawURL,
			Err:        fmt.Errorf("service error: %s", probe.Error.Message),
		}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &ParseError{Op: op, URL: rawURL, Err: err}
	}
	return nil
}

func queryEndpoint(serviceURL string) string {
	return strings.TrimSuffix(serviceURL, "/") + "/query"
}
