package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Catalog    CatalogConfig    `yaml:"catalog" mapstructure:"catalog"`
	Report     ReportConfig     `yaml:"report" mapstructure:"report"`
	GA4        GA4Config        `yaml:"ga4" mapstructure:"ga4"`
	Dimensions DimensionsConfig `yaml:"dimensions" mapstructure:"dimensions"`
	Boundary   BoundaryConfig   `yaml:"boundary" mapstructure:"boundary"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	TimeoutSecs    int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// CatalogConfig selects the location catalog backend.
type CatalogConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// ReportConfig selects the analytics event source. The file driver reads
// exported reports instead of calling the GA4 Data API.
type ReportConfig struct {
	Driver     string            `yaml:"driver" mapstructure:"driver"`
	PageViews  string            `yaml:"page_views" mapstructure:"page_views"`
	Events     string            `yaml:"events" mapstructure:"events"`
	DateColumn string            `yaml:"date_column" mapstructure:"date_column"`
	Sheet      string            `yaml:"sheet" mapstructure:"sheet"`
	Columns    map[string]string `yaml:"columns" mapstructure:"columns"`
}

// GA4Config holds GA4 Data API settings.
type GA4Config struct {
	PropertyID        string      `yaml:"property_id" mapstructure:"property_id"`
	AccessToken       string      `yaml:"access_token" mapstructure:"access_token"`
	BaseURL           string      `yaml:"base_url" mapstructure:"base_url"`
	RequestsPerSecond float64     `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	PageSize          int64       `yaml:"page_size" mapstructure:"page_size"`
	Retry             RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// RetryConfig configures retries of transient upstream failures.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// InitialBackoff returns the initial backoff as a duration.
func (r RetryConfig) InitialBackoff() time.Duration {
	return time.Duration(r.InitialBackoffMs) * time.Millisecond
}

// MaxBackoff returns the backoff cap as a duration.
func (r RetryConfig) MaxBackoff() time.Duration {
	return time.Duration(r.MaxBackoffMs) * time.Millisecond
}

// DimensionsConfig names the GA4 dimensions and metrics the reports read.
type DimensionsConfig struct {
	PagePath        string   `yaml:"page_path" mapstructure:"page_path"`
	PageViewMetric  string   `yaml:"page_view_metric" mapstructure:"page_view_metric"`
	PageViewMetrics []string `yaml:"page_view_metrics" mapstructure:"page_view_metrics"`

	EventName     string `yaml:"event_name" mapstructure:"event_name"`
	EventPath     string `yaml:"event_path" mapstructure:"event_path"`
	PreviousRoute string `yaml:"previous_route" mapstructure:"previous_route"`
	EventMetric   string `yaml:"event_metric" mapstructure:"event_metric"`

	Neighborhood  string `yaml:"neighborhood" mapstructure:"neighborhood"`
	Community     string `yaml:"community" mapstructure:"community"`
	Congressional string `yaml:"congressional" mapstructure:"congressional"`
	School        string `yaml:"school" mapstructure:"school"`
}

// BoundaryConfig configures boundary shapefile loading.
type BoundaryConfig struct {
	Manifest string `yaml:"manifest" mapstructure:"manifest"`
	TempDir  string `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PEER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.timeout_secs", 60)
	v.SetDefault("catalog.driver", "postgres")
	v.SetDefault("catalog.database_url", "")
	v.SetDefault("catalog.sqlite_path", "catalog.db")
	v.SetDefault("report.driver", "ga4")
	v.SetDefault("report.page_views", "")
	v.SetDefault("report.events", "")
	v.SetDefault("report.date_column", "")
	v.SetDefault("ga4.property_id", "403148122")
	v.SetDefault("ga4.access_token", "")
	v.SetDefault("ga4.base_url", "https://analyticsdata.googleapis.com/v1beta")
	v.SetDefault("ga4.requests_per_second", 5.0)
	v.SetDefault("ga4.page_size", 10000)
	v.SetDefault("ga4.retry.max_attempts", 3)
	v.SetDefault("ga4.retry.initial_backoff_ms", 500)
	v.SetDefault("ga4.retry.max_backoff_ms", 10000)
	v.SetDefault("dimensions.page_path", "pagePath")
	v.SetDefault("dimensions.page_view_metric", "totalUsers")
	v.SetDefault("dimensions.page_view_metrics", []string{"activeUsers", "screenPageViews", "sessions", "totalUsers"})
	v.SetDefault("dimensions.event_name", "geolocation")
	v.SetDefault("dimensions.event_path", "customEvent:pathname")
	v.SetDefault("dimensions.previous_route", "customEvent:previous_route")
	v.SetDefault("dimensions.event_metric", "eventCount")
	v.SetDefault("dimensions.neighborhood", "customEvent:neighborhood")
	v.SetDefault("dimensions.community", "customEvent:community_district")
	v.SetDefault("dimensions.congressional", "customEvent:congressional_district")
	v.SetDefault("dimensions.school", "customEvent:school_district")
	v.SetDefault("boundary.manifest", "boundaries.yaml")
	v.SetDefault("boundary.temp_dir", "/tmp/peer-analytics")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode needs.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve", "report":
		errs = append(errs, c.validateCatalog()...)
		errs = append(errs, c.validateReport()...)
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "geo", "snapshot":
		if c.Catalog.DatabaseURL == "" {
			errs = append(errs, "catalog.database_url is required")
		}
		if mode == "snapshot" && c.Catalog.SQLitePath == "" {
			errs = append(errs, "catalog.sqlite_path is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateCatalog() []string {
	switch c.Catalog.Driver {
	case "postgres":
		if c.Catalog.DatabaseURL == "" {
			return []string{"catalog.database_url is required"}
		}
	case "sqlite":
		if c.Catalog.SQLitePath == "" {
			return []string{"catalog.sqlite_path is required"}
		}
	default:
		return []string{"catalog.driver must be postgres or sqlite"}
	}
	return nil
}

func (c *Config) validateReport() []string {
	var errs []string
	switch c.Report.Driver {
	case "ga4":
		if c.GA4.PropertyID == "" {
			errs = append(errs, "ga4.property_id is required")
		}
		if c.GA4.RequestsPerSecond < 0 {
			errs = append(errs, "ga4.requests_per_second must be >= 0")
		}
	case "file":
		if c.Report.PageViews == "" && c.Report.Events == "" {
			errs = append(errs, "report.page_views or report.events is required")
		}
	default:
		errs = append(errs, "report.driver must be ga4 or file")
	}
	if c.Dimensions.PagePath == "" || c.Dimensions.PageViewMetric == "" {
		errs = append(errs, "dimensions.page_path and dimensions.page_view_metric are required")
	}
	if c.Dimensions.EventPath == "" || c.Dimensions.EventMetric == "" {
		errs = append(errs, "dimensions.event_path and dimensions.event_metric are required")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
