package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/streetlives/peer-analytics/internal/analytics"
	"github.com/streetlives/peer-analytics/internal/catalog"
	"github.com/streetlives/peer-analytics/internal/config"
	"github.com/streetlives/peer-analytics/internal/fetcher"
	"github.com/streetlives/peer-analytics/internal/report"
	"github.com/streetlives/peer-analytics/internal/resilience"
	"github.com/streetlives/peer-analytics/pkg/ga4"
)

// openPool connects to the catalog database.
func openPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, eris.New("db: no database_url configured (set catalog.database_url)")
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, eris.Wrap(err, "db: parse connection string")
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "db: create connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "db: ping database")
	}

	zap.L().Info("connected to catalog database")
	return pool, nil
}

// openCatalog opens the configured catalog store.
func openCatalog(ctx context.Context, c config.CatalogConfig) (catalog.Store, error) {
	switch c.Driver {
	case "postgres":
		pool, err := openPool(ctx, c.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return catalog.NewPostgres(pool), nil
	case "sqlite":
		return catalog.NewSQLite(c.SQLitePath)
	default:
		return nil, eris.Errorf("catalog: unknown driver %q", c.Driver)
	}
}

// retryConfig converts configured retry settings.
func retryConfig(r config.RetryConfig) resilience.RetryConfig {
	return resilience.FromConfig(r.MaxAttempts, r.InitialBackoff(), r.MaxBackoff())
}

// newSource builds the configured report source.
func newSource(c *config.Config) (analytics.Source, error) {
	switch c.Report.Driver {
	case "ga4":
		client := ga4.NewClient(c.GA4.PropertyID, c.GA4.AccessToken,
			ga4.WithBaseURL(c.GA4.BaseURL),
			ga4.WithRateLimit(c.GA4.RequestsPerSecond),
			ga4.WithPageSize(c.GA4.PageSize),
			ga4.WithRetry(retryConfig(c.GA4.Retry)),
		)
		return report.NewGA4Source(client), nil
	case "file":
		f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Retry: retryConfig(c.GA4.Retry)})
		return report.NewFileSource(report.FileOptions{
			PageViews:  c.Report.PageViews,
			Events:     c.Report.Events,
			Columns:    c.Report.Columns,
			DateColumn: c.Report.DateColumn,
			Sheet:      c.Report.Sheet,
		}, f), nil
	default:
		return nil, eris.Errorf("report: unknown driver %q", c.Report.Driver)
	}
}

// reports maps configured dimension names onto the two report shapes.
func reports(d config.DimensionsConfig) analytics.Reports {
	geo := map[analytics.GeometryKind]string{
		analytics.KindNeighborhood:  d.Neighborhood,
		analytics.KindCommunity:     d.Community,
		analytics.KindCongressional: d.Congressional,
		analytics.KindSchool:        d.School,
	}
	return analytics.Reports{
		PageViews: analytics.RowMapping{
			PathDimension: d.PagePath,
			Metric:        d.PageViewMetric,
		},
		PageViewMetrics: d.PageViewMetrics,
		Events: analytics.RowMapping{
			PathDimension:          d.EventPath,
			PreviousRouteDimension: d.PreviousRoute,
			GeoDimensions:          geo,
			Metric:                 d.EventMetric,
		},
		EventName: d.EventName,
	}
}

// newService opens the catalog and report source and builds the service.
// The returned store must be closed by the caller.
func newService(ctx context.Context, c *config.Config, opts ...analytics.Option) (*analytics.Service, catalog.Store, error) {
	store, err := openCatalog(ctx, c.Catalog)
	if err != nil {
		return nil, nil, err
	}
	source, err := newSource(c)
	if err != nil {
		store.Close() //nolint:errcheck
		return nil, nil, err
	}
	return analytics.NewService(source, store, reports(c.Dimensions), opts...), store, nil
}
