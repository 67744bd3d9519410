// Package socrata talks to Socrata SoQL query endpoints and the boundary
// GeoJSON sources used by choropleth datasets.
package socrata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lox/crimedash/internal/datasets"
	"github.com/lox/crimedash/internal/htmlutil"
	"github.com/lox/crimedash/internal/httputil"
	"github.com/lox/crimedash/internal/metrics"
	"github.com/lox/crimedash/internal/models"
	"github.com/lox/crimedash/internal/normalize"
)

const maxBodyBytes = 64 << 20

// Recorder receives one audit entry per upstream request
type Recorder interface {
	RecordQuery(run models.QueryRun) error
}

// StatusError is a non-2xx response from an endpoint
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status: %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status: %d: %s", e.StatusCode, e.Body)
}

// NeedsCredential reports whether the status suggests a missing or
// rejected app token
func (e *StatusError) NeedsCredential() bool {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		return true
	}
	return false
}

// NeedsCredential reports whether err is a StatusError that suggests the
// request needs an app token
func NeedsCredential(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.NeedsCredential()
}

// Client runs SoQL queries against dataset endpoints
type Client struct {
	httpClient *http.Client
	tokens     TokenSource
	recorder   Recorder
	limiter    *rate.Limiter
	log        *zap.Logger
}

// NewClient creates a client. A nil logger disables logging.
func NewClient(tokens TokenSource, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if tokens == nil {
		tokens = StaticTokens{}
	}
	return &Client{
		httpClient: httputil.NewClient(),
		tokens:     tokens,
		log:        log,
	}
}

// SetHTTPClient replaces the underlying HTTP client
func (c *Client) SetHTTPClient(h *http.Client) {
	c.httpClient = h
}

// SetRecorder sets the audit recorder
func (c *Client) SetRecorder(r Recorder) {
	c.recorder = r
}

// SetRateLimit caps outgoing requests per second across all datasets. A
// non-positive rate removes the cap.
func (c *Client) SetRateLimit(perSecond float64, burst int) {
	if perSecond <= 0 {
		c.limiter = nil
		return
	}
	if burst < 1 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// QueryURL builds the request URL for a SoQL query. The token parameter is
// omitted entirely when empty.
func QueryURL(endpoint, soql, token string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("query", soql)
	if token != "" {
		q.Set("$$app_token", token)
	} else {
		q.Del("$$app_token")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Query runs soql against the dataset endpoint and normalizes the response
func (c *Client) Query(ctx context.Context, ds datasets.Dataset, kind, soql string) (*normalize.Table, error) {
	token := TokenFromContext(ctx)
	if token == "" {
		token = c.tokens.Token(ds)
	}
	target, err := QueryURL(ds.Endpoint, soql, token)
	if err != nil {
		return nil, err
	}

	run := models.QueryRun{
		LoadID:    LoadIDFromContext(ctx),
		StartedAt: time.Now().UTC(),
		Dataset:   ds.ID,
		Kind:      kind,
		Query:     soql,
	}

	body, status, err := c.get(ctx, target, "application/json")
	run.DurationMS = time.Since(run.StartedAt).Milliseconds()
	metrics.SoQLLatency.WithLabelValues(ds.ID, kind).Observe(time.Since(run.StartedAt).Seconds())
	if status > 0 {
		run.HTTPStatus = sql.NullInt64{Int64: int64(status), Valid: true}
		run.Bytes = sql.NullInt64{Int64: int64(len(body)), Valid: true}
	}

	if err == nil && !gjson.ValidBytes(body) {
		err = fmt.Errorf("decode response: invalid json")
	}
	if err != nil {
		metrics.SoQLRequestsTotal.WithLabelValues(ds.ID, kind, statusLabel(status, err)).Inc()
		run.Error = sql.NullString{String: err.Error(), Valid: true}
		c.record(run)
		c.log.Warn("socrata: query failed",
			zap.String("dataset", ds.ID),
			zap.String("kind", kind),
			zap.Int("status", status),
			zap.Error(err))
		return nil, fmt.Errorf("query %s: %w", ds.ID, err)
	}

	table := normalize.Normalize(body)
	metrics.SoQLRequestsTotal.WithLabelValues(ds.ID, kind, "ok").Inc()
	run.Success = true
	run.Rows = sql.NullInt64{Int64: int64(len(table.Rows)), Valid: true}
	c.record(run)
	c.log.Debug("socrata: query",
		zap.String("dataset", ds.ID),
		zap.String("kind", kind),
		zap.String("soql", soql),
		zap.Int("rows", len(table.Rows)),
		zap.Int64("ms", run.DurationMS))
	return table, nil
}

// FetchBoundaries downloads a GeoJSON FeatureCollection
func (c *Client) FetchBoundaries(ctx context.Context, source string) (*geojson.FeatureCollection, error) {
	run := models.QueryRun{
		LoadID:    LoadIDFromContext(ctx),
		StartedAt: time.Now().UTC(),
		Kind:      models.KindBoundaries,
		Query:     source,
	}

	body, status, err := c.get(ctx, source, "application/geo+json, application/json")
	run.DurationMS = time.Since(run.StartedAt).Milliseconds()
	if status > 0 {
		run.HTTPStatus = sql.NullInt64{Int64: int64(status), Valid: true}
		run.Bytes = sql.NullInt64{Int64: int64(len(body)), Valid: true}
	}

	var fc *geojson.FeatureCollection
	if err == nil {
		fc, err = geojson.UnmarshalFeatureCollection(body)
		if err != nil {
			err = fmt.Errorf("decode geojson: %w", err)
		}
	}
	if err != nil {
		run.Error = sql.NullString{String: err.Error(), Valid: true}
		c.record(run)
		c.log.Warn("socrata: boundary fetch failed", zap.String("url", source), zap.Error(err))
		return nil, fmt.Errorf("fetch boundaries: %w", err)
	}

	run.Success = true
	run.Rows = sql.NullInt64{Int64: int64(len(fc.Features)), Valid: true}
	c.record(run)
	c.log.Info("socrata: boundaries loaded", zap.String("url", source), zap.Int("features", len(fc.Features)))
	return fc, nil
}

func (c *Client) get(ctx context.Context, target, accept string) ([]byte, int, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, fmt.Errorf("rate limit: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, "GET", target, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", httputil.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return body, resp.StatusCode, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       errorMessage(resp.Header.Get("Content-Type"), body),
		}
	}
	return body, resp.StatusCode, nil
}

// errorMessage pulls the message out of a Socrata JSON error, or flattens
// anything else to a short line of text.
func errorMessage(contentType string, body []byte) string {
	if gjson.ValidBytes(body) {
		for _, path := range []string{"message", "error.message", "error"} {
			if v := gjson.GetBytes(body, path); v.Type == gjson.String && v.Str != "" {
				return v.Str
			}
		}
	}
	return htmlutil.Summary(contentType, string(body), 200)
}

func (c *Client) record(run models.QueryRun) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.RecordQuery(run); err != nil {
		c.log.Warn("socrata: record query run", zap.Error(err))
	}
}

func statusLabel(status int, err error) string {
	if status > 0 {
		return strconv.Itoa(status)
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "error"
}
