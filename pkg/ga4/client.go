// Package ga4 provides a client for the Google Analytics 4 Data API
// runReport method.
package ga4

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/streetlives/peer-analytics/internal/resilience"
)

// DefaultBaseURL is the public Data API endpoint.
const DefaultBaseURL = "https://analyticsdata.googleapis.com/v1beta"

// DefaultPageSize is the row limit requested per page.
const DefaultPageSize = 10000

// Client runs GA4 reports against one property.
type Client interface {
	// RunReport fetches a single page of a report.
	RunReport(ctx context.Context, req *RunReportRequest) (*RunReportResponse, error)
	// RunReportAll pages through a report and returns every row.
	RunReportAll(ctx context.Context, req *RunReportRequest) (*RunReportResponse, error)
}

// DateRange is an inclusive range of YYYY-MM-DD dates.
type DateRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// NewDateRange formats a range from two times.
func NewDateRange(start, end time.Time) DateRange {
	return DateRange{StartDate: start.Format(time.DateOnly), EndDate: end.Format(time.DateOnly)}
}

// Dimension names a report dimension.
type Dimension struct {
	Name string `json:"name"`
}

// Metric names a report metric.
type Metric struct {
	Name string `json:"name"`
}

// StringFilter matches a dimension value.
type StringFilter struct {
	MatchType string `json:"matchType,omitempty"`
	Value     string `json:"value"`
}

// Filter restricts one field.
type Filter struct {
	FieldName    string        `json:"fieldName"`
	StringFilter *StringFilter `json:"stringFilter,omitempty"`
}

// FilterExpression wraps a filter for dimensionFilter.
type FilterExpression struct {
	Filter *Filter `json:"filter,omitempty"`
}

// EventNameFilter keeps rows of a single event.
func EventNameFilter(event string) *FilterExpression {
	return &FilterExpression{Filter: &Filter{
		FieldName:    "eventName",
		StringFilter: &StringFilter{MatchType: "EXACT", Value: event},
	}}
}

// RunReportRequest is the runReport request body.
type RunReportRequest struct {
	DateRanges      []DateRange       `json:"dateRanges"`
	Dimensions      []Dimension       `json:"dimensions,omitempty"`
	Metrics         []Metric          `json:"metrics"`
	DimensionFilter *FilterExpression `json:"dimensionFilter,omitempty"`
	Limit           int64             `json:"limit,omitempty,string"`
	Offset          int64             `json:"offset,omitempty,string"`
}

// Header names a response column.
type Header struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Value is one cell.
type Value struct {
	Value string `json:"value"`
}

// Row is one report row, ordered like the response headers.
type Row struct {
	DimensionValues []Value `json:"dimensionValues"`
	MetricValues    []Value `json:"metricValues"`
}

// RunReportResponse is the runReport response body.
type RunReportResponse struct {
	DimensionHeaders []Header `json:"dimensionHeaders"`
	MetricHeaders    []Header `json:"metricHeaders"`
	Rows             []Row    `json:"rows"`
	RowCount         int64    `json:"rowCount"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Option configures the GA4 client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables limiting.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithPageSize sets the rows requested per page by RunReportAll.
func WithPageSize(n int64) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	propertyID  string
	accessToken string
	baseURL     string
	pageSize    int64
	http        *http.Client
	limiter     *rate.Limiter
	retry       resilience.RetryConfig
}

// NewClient creates a GA4 Data API client for propertyID, authenticating
// with a bearer access token.
func NewClient(propertyID, accessToken string, opts ...Option) Client {
	c := &httpClient{
		propertyID:  propertyID,
		accessToken: accessToken,
		baseURL:     DefaultBaseURL,
		pageSize:    DefaultPageSize,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(5), 1),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger("ga4", "runReport")
	}
	return c
}

func (c *httpClient) RunReport(ctx context.Context, req *RunReportRequest) (*RunReportResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "ga4: marshal request")
	}
	url := fmt.Sprintf("%s/properties/%s:runReport", c.baseURL, c.propertyID)

	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*RunReportResponse, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "ga4: rate limit")
			}
		}
		return c.post(ctx, url, payload)
	})
}

func (c *httpClient) post(ctx context.Context, url string, payload []byte) (*RunReportResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "ga4: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "ga4: request failed")
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, eris.Wrap(err, "ga4: read response body")
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := eris.Errorf("ga4: status %d: %s", resp.StatusCode, errorMessage(body))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	}

	var out RunReportResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "ga4: unmarshal response")
	}
	return &out, nil
}

// errorMessage extracts the API error message, falling back to the raw body.
func errorMessage(body []byte) string {
	var ae apiError
	if err := json.Unmarshal(body, &ae); err == nil && ae.Error.Message != "" {
		return ae.Error.Status + ": " + ae.Error.Message
	}
	return string(body)
}

func (c *httpClient) RunReportAll(ctx context.Context, req *RunReportRequest) (*RunReportResponse, error) {
	page := *req
	page.Limit = c.pageSize
	page.Offset = 0

	var all *RunReportResponse
	for {
		resp, err := c.RunReport(ctx, &page)
		if err != nil {
			return nil, eris.Wrapf(err, "ga4: page at offset %d", page.Offset)
		}
		if all == nil {
			all = resp
		} else {
			all.Rows = append(all.Rows, resp.Rows...)
		}

		page.Offset += int64(len(resp.Rows))
		if len(resp.Rows) == 0 || page.Offset >= resp.RowCount {
			break
		}
		zap.L().Debug("ga4: fetching next page",
			zap.Int64("offset", page.Offset),
			zap.Int64("row_count", resp.RowCount),
		)
	}
	all.RowCount = int64(len(all.Rows))
	return all, nil
}
