package report

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/streetlives/peer-analytics/internal/analytics"
	"github.com/streetlives/peer-analytics/pkg/ga4"
)

// GA4Source fetches reports from the GA4 Data API.
type GA4Source struct {
	client ga4.Client
}

// NewGA4Source creates a GA4Source.
func NewGA4Source(client ga4.Client) *GA4Source {
	return &GA4Source{client: client}
}

// Fetch implements analytics.Source.
func (s *GA4Source) Fetch(ctx context.Context, req analytics.ReportRequest) ([]analytics.ReportRow, error) {
	rr := &ga4.RunReportRequest{
		DateRanges: []ga4.DateRange{ga4.NewDateRange(req.Start, req.End)},
	}
	for _, d := range req.Dimensions {
		rr.Dimensions = append(rr.Dimensions, ga4.Dimension{Name: d})
	}
	for _, m := range req.Metrics {
		rr.Metrics = append(rr.Metrics, ga4.Metric{Name: m})
	}
	if req.EventName != "" {
		rr.DimensionFilter = ga4.EventNameFilter(req.EventName)
	}

	resp, err := s.client.RunReportAll(ctx, rr)
	if err != nil {
		return nil, eris.Wrap(err, "report: run ga4 report")
	}

	rows, err := convertRows(resp)
	if err != nil {
		return nil, err
	}
	zap.L().Debug("report: ga4 rows fetched",
		zap.String("event", req.EventName),
		zap.Strings("dimensions", req.Dimensions),
		zap.Int("rows", len(rows)),
	)
	return rows, nil
}

// convertRows maps GA4 rows onto their headers. Unset dimensions are left
// out of the row.
func convertRows(resp *ga4.RunReportResponse) ([]analytics.ReportRow, error) {
	out := make([]analytics.ReportRow, 0, len(resp.Rows))
	for i, r := range resp.Rows {
		if len(r.DimensionValues) != len(resp.DimensionHeaders) || len(r.MetricValues) != len(resp.MetricHeaders) {
			return nil, eris.Wrapf(analytics.ErrMalformedRow, "report: ga4 row %d does not match headers", i)
		}

		row := analytics.ReportRow{
			Dimensions: make(map[string]string, len(r.DimensionValues)),
			Metrics:    make(map[string]int64, len(r.MetricValues)),
		}
		for j, v := range r.DimensionValues {
			if val, ok := dimensionValue(v.Value); ok {
				row.Dimensions[resp.DimensionHeaders[j].Name] = val
			}
		}
		for j, v := range r.MetricValues {
			name := resp.MetricHeaders[j].Name
			n, err := parseCount(name, v.Value)
			if err != nil {
				return nil, eris.Wrapf(err, "report: ga4 row %d", i)
			}
			row.Metrics[name] = n
		}
		out = append(out, row)
	}
	return out, nil
}
