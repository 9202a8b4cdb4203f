// Package report provides analytics.Source implementations: the GA4 Data
// API and exported report files.
package report

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/streetlives/peer-analytics/internal/analytics"
)

// notSet is how GA4 renders a dimension with no value.
const notSet = "(not set)"

// dimensionValue reports whether a raw dimension value carries data.
func dimensionValue(raw string) (string, bool) {
	v := strings.TrimSpace(raw)
	if v == "" || v == notSet {
		return "", false
	}
	return v, true
}

// parseCount parses an integer metric. Exports may group thousands with
// commas, and the API renders some integer metrics with a ".0" suffix.
func parseCount(metric, raw string) (int64, error) {
	v := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n, nil
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && f == float64(int64(f)) {
		return int64(f), nil
	}
	return 0, eris.Wrapf(analytics.ErrMalformedRow, "report: metric %s value %q", metric, raw)
}
