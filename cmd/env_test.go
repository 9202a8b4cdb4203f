package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streetlives/peer-analytics/internal/analytics"
	"github.com/streetlives/peer-analytics/internal/boundary"
	"github.com/streetlives/peer-analytics/internal/catalog"
	"github.com/streetlives/peer-analytics/internal/config"
	"github.com/streetlives/peer-analytics/internal/report"
)

func testDimensions() config.DimensionsConfig {
	return config.DimensionsConfig{
		PagePath:        "pagePath",
		PageViewMetric:  "totalUsers",
		PageViewMetrics: []string{"activeUsers", "totalUsers"},
		EventName:       "geolocation",
		EventPath:       "customEvent:pathname",
		PreviousRoute:   "customEvent:previous_route",
		EventMetric:     "eventCount",
		Neighborhood:    "customEvent:neighborhood",
		Community:       "customEvent:community_district",
		Congressional:   "customEvent:congressional_district",
		School:          "customEvent:school_district",
	}
}

func TestReports(t *testing.T) {
	r := reports(testDimensions())

	assert.Equal(t, "pagePath", r.PageViews.PathDimension)
	assert.Equal(t, "totalUsers", r.PageViews.Metric)
	assert.Empty(t, r.PageViews.GeoDimensions)
	assert.Equal(t, []string{"activeUsers", "totalUsers"}, r.PageViewMetrics)

	assert.Equal(t, "geolocation", r.EventName)
	assert.Equal(t, "eventCount", r.Events.Metric)
	assert.Equal(t, []string{
		"customEvent:pathname",
		"customEvent:previous_route",
		"customEvent:neighborhood",
		"customEvent:community_district",
		"customEvent:congressional_district",
		"customEvent:school_district",
	}, r.Events.Dimensions())
}

func TestNewSource(t *testing.T) {
	c := &config.Config{Report: config.ReportConfig{Driver: "ga4"}}
	c.GA4.PropertyID = "403148122"
	src, err := newSource(c)
	require.NoError(t, err)
	assert.IsType(t, &report.GA4Source{}, src)

	c.Report.Driver = "file"
	src, err = newSource(c)
	require.NoError(t, err)
	assert.IsType(t, &report.FileSource{}, src)

	c.Report.Driver = "bigquery"
	_, err = newSource(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown driver "bigquery"`)
}

func TestOpenCatalog_Errors(t *testing.T) {
	_, err := openCatalog(context.Background(), config.CatalogConfig{Driver: "mysql"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown driver "mysql"`)

	_, err = openCatalog(context.Background(), config.CatalogConfig{Driver: "postgres"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no database_url configured")
}

// sqliteCatalog writes a two-location snapshot and returns its path.
func sqliteCatalog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	st, err := catalog.NewSQLite(path)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.Import(ctx, &catalog.Snapshot{
		Locations: []analytics.LocationRecord{
			{
				ID: "loc-1", Slug: "shelter-a", PositionText: "POINT(-73.92 40.69)", OrganizationName: "Shelter A",
				Geo: map[analytics.GeometryKind]analytics.GeoLabel{
					analytics.KindNeighborhood: analytics.Neighborhood("Bushwick"),
				},
			},
			{
				ID: "loc-2", Slug: "pantry-b", PositionText: "POINT(-73.99 40.75)", OrganizationName: "Pantry B",
				Geo: map[analytics.GeometryKind]analytics.GeoLabel{
					analytics.KindNeighborhood: analytics.Neighborhood("Chelsea"),
				},
			},
		},
	}))
	return path
}

func TestNewService_FileSourceAndSQLiteCatalog(t *testing.T) {
	dir := t.TempDir()
	export := filepath.Join(dir, "page_views.csv")
	require.NoError(t, os.WriteFile(export, []byte(
		"# Page views export\n"+
			"pagePath,totalUsers,activeUsers\n"+
			"/locations/shelter-a,10,9\n"+
			"/locations/pantry-b,4,4\n"+
			"/locations/unknown,3,3\n"+
			"/food,7,7\n"), 0o644))

	c := &config.Config{
		Catalog:    config.CatalogConfig{Driver: "sqlite", SQLitePath: sqliteCatalog(t)},
		Report:     config.ReportConfig{Driver: "file", PageViews: export},
		Dimensions: testDimensions(),
	}

	ctx := context.Background()
	svc, store, err := newService(ctx, c)
	require.NoError(t, err)
	defer store.Close() //nolint:errcheck

	p := analytics.Period{
		Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
	}
	res, err := svc.Locations(ctx, p)
	require.NoError(t, err)
	require.Len(t, res.Locations, 2)
	assert.Equal(t, "shelter-a", res.Locations[0].Slug)
	assert.Equal(t, int64(10), res.Locations[0].TotalCount)
	assert.Equal(t, "pantry-b", res.Locations[1].Slug)
	assert.Equal(t, 2, res.DroppedRows)

	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, res))
	assert.Contains(t, buf.String(), `"slug": "shelter-a"`)
	assert.Contains(t, buf.String(), `"dropped_rows": 2`)
}

func TestReportPeriod(t *testing.T) {
	newCmd := func(start, end string) *cobra.Command {
		c := &cobra.Command{}
		c.Flags().String("start", start, "")
		c.Flags().String("end", end, "")
		return c
	}

	p, err := reportPeriod(newCmd("2024-03-01", "2024-03-31"))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), p.Start)
	assert.Equal(t, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), p.End)

	_, err = reportPeriod(newCmd("03/01/2024", "2024-03-31"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--start must be YYYY-MM-DD")

	_, err = reportPeriod(newCmd("2024-03-01", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--end must be YYYY-MM-DD")

	_, err = reportPeriod(newCmd("2024-03-31", "2024-03-01"))
	assert.Error(t, err)
}

func TestParseKinds(t *testing.T) {
	kinds, err := parseKinds("school, Community,,")
	require.NoError(t, err)
	assert.Equal(t, []analytics.GeometryKind{analytics.KindSchool, analytics.KindCommunity}, kinds)

	kinds, err = parseKinds("")
	require.NoError(t, err)
	assert.Empty(t, kinds)

	_, err = parseKinds("school,borough")
	assert.ErrorIs(t, err, analytics.ErrInvalidKind)
}

func TestPrintBoundaryStatus(t *testing.T) {
	var buf bytes.Buffer
	printBoundaryStatus(&buf, nil)
	assert.Equal(t, "No boundaries loaded yet\n", buf.String())

	buf.Reset()
	printBoundaryStatus(&buf, []boundary.StatusRow{{
		Kind: "school", Source: "data/sd.zip", RowCount: 32, DurationMs: 950,
		LoadedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}})
	assert.Contains(t, buf.String(), "Kind")
	assert.Contains(t, buf.String(), "school")
	assert.Contains(t, buf.String(), "2026-03-01 12:00")
	assert.Contains(t, buf.String(), "data/sd.zip")
}
