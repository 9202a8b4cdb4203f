// Package api serves the analytics aggregates over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/streetlives/peer-analytics/internal/analytics"
	"github.com/streetlives/peer-analytics/internal/catalog"
	"github.com/streetlives/peer-analytics/internal/metrics"
)

// Aggregator runs the analytics views. *analytics.Service implements it.
type Aggregator interface {
	Geography(ctx context.Context, p analytics.Period, kind analytics.GeometryKind) (*analytics.GeographyResult, error)
	EmbeddedGeography(ctx context.Context, p analytics.Period, kind analytics.GeometryKind) (*analytics.GeographyResult, error)
	Categories(ctx context.Context, p analytics.Period, kind analytics.GeometryKind) (*analytics.CategoryResult, error)
	Flow(ctx context.Context, p analytics.Period, from, to analytics.GeometryKind) (*analytics.FlowResult, error)
	Locations(ctx context.Context, p analytics.Period) (*analytics.LocationsResult, error)
}

// BoundarySource lists boundary geometries of one kind.
type BoundarySource interface {
	Boundaries(ctx context.Context, kind analytics.GeometryKind) ([]catalog.Boundary, error)
}

// RouterConfig holds the router dependencies. Metrics may be nil.
type RouterConfig struct {
	Analytics      Aggregator
	Boundaries     BoundarySource
	Metrics        *metrics.Metrics
	AllowedOrigins []string
	// Timeout bounds each request. Zero means no timeout.
	Timeout time.Duration
}

// NewRouter builds the HTTP route tree.
func NewRouter(cfg RouterConfig) http.Handler {
	h := &handlers{analytics: cfg.Analytics, boundaries: cfg.Boundaries}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(chimw.RealIP)
	r.Use(RequestLogger)
	r.Use(chimw.Recoverer)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	r.Group(func(api chi.Router) {
		if cfg.Timeout > 0 {
			api.Use(chimw.Timeout(cfg.Timeout))
		}
		api.Get("/analytics-data", h.geography)
		api.Get("/analytics-geo", h.embeddedGeography)
		api.Get("/analytics-categories", h.categories)
		api.Get("/analytics-flow", h.flow)
		api.Get("/analytics-locations", h.locations)
		api.Get("/geojson-geometries", h.geometries)
	})

	return r
}
