package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "postgres", cfg.Catalog.Driver)
	assert.Equal(t, "ga4", cfg.Report.Driver)
	assert.Equal(t, "403148122", cfg.GA4.PropertyID)
	assert.Equal(t, "https://analyticsdata.googleapis.com/v1beta", cfg.GA4.BaseURL)
	assert.InDelta(t, 5.0, cfg.GA4.RequestsPerSecond, 0.001)
	assert.Equal(t, int64(10000), cfg.GA4.PageSize)
	assert.Equal(t, 3, cfg.GA4.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.GA4.Retry.InitialBackoff())
	assert.Equal(t, 10*time.Second, cfg.GA4.Retry.MaxBackoff())
	assert.Equal(t, "pagePath", cfg.Dimensions.PagePath)
	assert.Equal(t, "totalUsers", cfg.Dimensions.PageViewMetric)
	assert.Equal(t, []string{"activeUsers", "screenPageViews", "sessions", "totalUsers"}, cfg.Dimensions.PageViewMetrics)
	assert.Equal(t, "geolocation", cfg.Dimensions.EventName)
	assert.Equal(t, "customEvent:pathname", cfg.Dimensions.EventPath)
	assert.Equal(t, "eventCount", cfg.Dimensions.EventMetric)
	assert.Equal(t, "customEvent:school_district", cfg.Dimensions.School)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
catalog:
  driver: sqlite
  sqlite_path: /data/catalog.db
log:
  level: debug
  format: console
server:
  port: 9090
report:
  driver: file
  page_views: exports/pages.csv
  columns:
    pagePath: Page path
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Catalog.Driver)
	assert.Equal(t, "/data/catalog.db", cfg.Catalog.SQLitePath)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "file", cfg.Report.Driver)
	assert.Equal(t, "Page path", cfg.Report.Columns["pagepath"], "viper lower-cases map keys")
	// Defaults still apply for unset values
	assert.Equal(t, "customEvent:neighborhood", cfg.Dimensions.Neighborhood)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
catalog:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("PEER_CATALOG_DRIVER", "postgres")
	t.Setenv("PEER_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Catalog.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("PEER_SERVER_PORT", "3000")
	t.Setenv("PEER_GA4_ACCESS_TOKEN", "ya29.token")
	t.Setenv("PEER_CATALOG_DATABASE_URL", "postgres://localhost/peer")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "ya29.token", cfg.GA4.AccessToken)
	assert.Equal(t, "postgres://localhost/peer", cfg.Catalog.DatabaseURL)
}

func TestLoadBadYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log: [unclosed"), 0644))

	_, err := Load()
	assert.ErrorContains(t, err, "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config that passes every mode.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Catalog.Driver = "postgres"
	cfg.Catalog.DatabaseURL = "postgres://localhost/peer"
	cfg.Catalog.SQLitePath = "catalog.db"
	cfg.Report.Driver = "ga4"
	cfg.GA4.PropertyID = "403148122"
	cfg.Dimensions.PagePath = "pagePath"
	cfg.Dimensions.PageViewMetric = "totalUsers"
	cfg.Dimensions.EventPath = "customEvent:pathname"
	cfg.Dimensions.EventMetric = "eventCount"
	return cfg
}

func TestValidate_AllModes(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{"serve", "report", "geo", "snapshot"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.ErrorContains(t, err, "server.port must be > 0")
	assert.NoError(t, cfg.Validate("report"))
}

func TestValidateCatalog(t *testing.T) {
	cfg := validDefaults()
	cfg.Catalog.DatabaseURL = ""
	assert.ErrorContains(t, cfg.Validate("serve"), "catalog.database_url is required")
	assert.ErrorContains(t, cfg.Validate("geo"), "catalog.database_url is required")

	cfg.Catalog.Driver = "sqlite"
	assert.NoError(t, cfg.Validate("serve"))

	cfg.Catalog.Driver = "mysql"
	assert.ErrorContains(t, cfg.Validate("report"), "catalog.driver must be postgres or sqlite")
}

func TestValidateReport(t *testing.T) {
	cfg := validDefaults()
	cfg.Report.Driver = "file"
	assert.ErrorContains(t, cfg.Validate("serve"), "report.page_views or report.events is required")

	cfg.Report.Events = "events.csv"
	assert.NoError(t, cfg.Validate("serve"))

	cfg.Report.Driver = "ga4"
	cfg.GA4.PropertyID = ""
	cfg.Dimensions.EventMetric = ""
	err := cfg.Validate("report")
	assert.ErrorContains(t, err, "ga4.property_id is required")
	assert.ErrorContains(t, err, "dimensions.event_path and dimensions.event_metric are required")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
