package ga4

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streetlives/peer-analytics/internal/resilience"
)

func fastRetry() Option {
	return WithRetry(resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})
}

func row(path string, users int) Row {
	return Row{
		DimensionValues: []Value{{Value: path}},
		MetricValues:    []Value{{Value: strconv.Itoa(users)}},
	}
}

func TestRunReport_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/properties/403148122:runReport", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []any{map[string]any{"startDate": "2024-01-01", "endDate": "2024-01-31"}}, body["dateRanges"])
		assert.Equal(t, []any{map[string]any{"name": "pagePath"}}, body["dimensions"])
		assert.Equal(t, "eventName", body["dimensionFilter"].(map[string]any)["filter"].(map[string]any)["fieldName"])
		assert.NotContains(t, body, "offset")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(RunReportResponse{
			DimensionHeaders: []Header{{Name: "pagePath"}},
			MetricHeaders:    []Header{{Name: "totalUsers", Type: "TYPE_INTEGER"}},
			Rows:             []Row{row("/locations/a", 3)},
			RowCount:         1,
		})
	}))
	defer srv.Close()

	client := NewClient("403148122", "test-token", WithBaseURL(srv.URL), WithRateLimit(0))
	got, err := client.RunReport(context.Background(), &RunReportRequest{
		DateRanges: []DateRange{NewDateRange(
			time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		)},
		Dimensions:      []Dimension{{Name: "pagePath"}},
		Metrics:         []Metric{{Name: "totalUsers"}},
		DimensionFilter: EventNameFilter("geolocation"),
	})

	require.NoError(t, err)
	require.Len(t, got.Rows, 1)
	assert.Equal(t, "/locations/a", got.Rows[0].DimensionValues[0].Value)
	assert.Equal(t, "totalUsers", got.MetricHeaders[0].Name)
}

func TestRunReportAll_Paginates(t *testing.T) {
	t.Parallel()

	var offsets []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Limit  string `json:"limit"`
			Offset string `json:"offset"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "2", body.Limit)
		offsets = append(offsets, body.Offset)

		resp := RunReportResponse{RowCount: 5}
		switch body.Offset {
		case "":
			resp.Rows = []Row{row("/a", 1), row("/b", 2)}
		case "2":
			resp.Rows = []Row{row("/c", 3), row("/d", 4)}
		case "4":
			resp.Rows = []Row{row("/e", 5)}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient("1", "", WithBaseURL(srv.URL), WithRateLimit(0), WithPageSize(2))
	got, err := client.RunReportAll(context.Background(), &RunReportRequest{Metrics: []Metric{{Name: "totalUsers"}}})

	require.NoError(t, err)
	assert.Equal(t, []string{"", "2", "4"}, offsets)
	require.Len(t, got.Rows, 5)
	assert.Equal(t, "/e", got.Rows[4].DimensionValues[0].Value)
	assert.Equal(t, int64(5), got.RowCount)
}

func TestRunReportAll_Empty(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"dimensionHeaders":[{"name":"pagePath"}],"metricHeaders":[{"name":"totalUsers"}]}`))
	}))
	defer srv.Close()

	client := NewClient("1", "", WithBaseURL(srv.URL), WithRateLimit(0))
	got, err := client.RunReportAll(context.Background(), &RunReportRequest{})

	require.NoError(t, err)
	assert.Empty(t, got.Rows)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRunReport_RetriesTransient(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"rows":[],"rowCount":0}`))
	}))
	defer srv.Close()

	client := NewClient("1", "", WithBaseURL(srv.URL), WithRateLimit(0), fastRetry())
	_, err := client.RunReport(context.Background(), &RunReportRequest{})

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRunReport_ClientErrorNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":400,"message":"Field customEvent:borough is not a valid dimension.","status":"INVALID_ARGUMENT"}}`))
	}))
	defer srv.Close()

	client := NewClient("1", "", WithBaseURL(srv.URL), WithRateLimit(0), fastRetry())
	_, err := client.RunReport(context.Background(), &RunReportRequest{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "INVALID_ARGUMENT: Field customEvent:borough")
	assert.Equal(t, int32(1), calls.Load())
}

func TestRunReport_ExhaustsRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient("1", "", WithBaseURL(srv.URL), WithRateLimit(0), fastRetry())
	_, err := client.RunReport(context.Background(), &RunReportRequest{})

	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestRunReport_NoAuthHeaderWithoutToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient("1", "", WithBaseURL(srv.URL), WithRateLimit(0))
	_, err := client.RunReport(context.Background(), &RunReportRequest{})
	require.NoError(t, err)
}

func TestRunReport_ContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient("1", "", WithBaseURL("http://127.0.0.1:0"), WithRateLimit(1))
	_, err := client.RunReport(ctx, &RunReportRequest{})
	require.Error(t, err)
}
