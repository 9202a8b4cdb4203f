package analytics

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ReportRequest asks an event source for one materialized report.
type ReportRequest struct {
	Start      time.Time
	End        time.Time
	Dimensions []string
	Metrics    []string
	// EventName restricts the report to one event when non-empty.
	EventName string
}

// Source fetches analytics reports.
type Source interface {
	Fetch(ctx context.Context, req ReportRequest) ([]ReportRow, error)
}

// Catalog answers the location catalog queries the aggregations join against.
type Catalog interface {
	// SlugGeography returns the unit of kind containing each known slug.
	SlugGeography(ctx context.Context, kind GeometryKind, slugs []string) ([]SlugGeo, error)
	// LocationMetadata returns geocoded metadata for each known slug.
	LocationMetadata(ctx context.Context, slugs []string) ([]LocationRecord, error)
	// TaxonomyCounts returns service counts per slug and top-level taxonomy.
	TaxonomyCounts(ctx context.Context) ([]TaxonomyCount, error)
}

// Recorder observes row accounting. It may be nil.
type Recorder interface {
	RowsFetched(view string, n int)
	RowsDropped(view string, n int)
}

// Reports describes the two reports the service reads: page views keyed by
// page path, and geolocation events that embed the visitor's geography.
type Reports struct {
	PageViews RowMapping
	// PageViewMetrics are requested alongside PageViews.Metric.
	PageViewMetrics []string
	Events          RowMapping
	EventName       string
}

// Period is an inclusive date range.
type Period struct {
	Start time.Time
	End   time.Time
}

// Validate rejects an empty or inverted period.
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return eris.New("analytics: period requires start and end")
	}
	if p.End.Before(p.Start) {
		return eris.Errorf("analytics: period end %s before start %s", p.End.Format(time.DateOnly), p.Start.Format(time.DateOnly))
	}
	return nil
}

// Views used for row accounting.
const (
	ViewGeography  = "geography"
	ViewEmbedded   = "embedded_geography"
	ViewCategories = "categories"
	ViewFlow       = "flow"
	ViewLocations  = "locations"
)

// Service runs one aggregation per call against its source and catalog. It
// holds no state between calls.
type Service struct {
	source   Source
	catalog  Catalog
	reports  Reports
	recorder Recorder
}

// Option configures a Service.
type Option func(*Service)

// WithRecorder attaches a row accounting recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// NewService creates a Service.
func NewService(source Source, catalog Catalog, reports Reports, opts ...Option) *Service {
	s := &Service{source: source, catalog: catalog, reports: reports}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GeographyResult is the response of the unit aggregations.
type GeographyResult struct {
	Kind        GeometryKind `json:"geometry_type"`
	Buckets     Buckets      `json:"buckets"`
	DroppedRows int          `json:"dropped_rows"`
}

// CategoryResult is the response of the category breakdown.
type CategoryResult struct {
	Kind        GeometryKind                    `json:"geometry_type"`
	Categories  map[GeoLabel]map[Category]int64 `json:"categories"`
	DroppedRows int                             `json:"dropped_rows"`
}

// FlowResult is the response of the flow matrix.
type FlowResult struct {
	From GeometryKind `json:"from"`
	To   GeometryKind `json:"to"`
	Flow
	DroppedRows int `json:"dropped_rows"`
}

// LocationsResult is the response of the per-location totals.
type LocationsResult struct {
	Locations   []LocationStat `json:"locations"`
	DroppedRows int            `json:"dropped_rows"`
}

// Geography aggregates page views by the unit of kind that contains each
// viewed location.
func (s *Service) Geography(ctx context.Context, p Period, kind GeometryKind) (*GeographyResult, error) {
	rows, err := s.pageViews(ctx, p, ViewGeography)
	if err != nil {
		return nil, err
	}

	pairs, err := s.catalog.SlugGeography(ctx, kind, Slugs(rows))
	if err != nil {
		return nil, eris.Wrap(err, "analytics: resolve slugs")
	}
	resolver, err := NewSlugResolver(kind, pairs)
	if err != nil {
		return nil, err
	}

	buckets, dropped := AggregateRows(rows, resolver)
	s.dropped(ViewGeography, dropped)
	return &GeographyResult{Kind: kind, Buckets: buckets, DroppedRows: dropped}, nil
}

// EmbeddedGeography aggregates geolocation events by the visitor's own unit.
func (s *Service) EmbeddedGeography(ctx context.Context, p Period, kind GeometryKind) (*GeographyResult, error) {
	rows, err := s.events(ctx, p, ViewEmbedded)
	if err != nil {
		return nil, err
	}
	buckets, dropped := AggregateRows(rows, EmbeddedResolver{Kind: kind})
	s.dropped(ViewEmbedded, dropped)
	return &GeographyResult{Kind: kind, Buckets: buckets, DroppedRows: dropped}, nil
}

// Categories attributes geolocation events to service categories per unit.
// The report and the taxonomy are fetched concurrently.
func (s *Service) Categories(ctx context.Context, p Period, kind GeometryKind) (*CategoryResult, error) {
	var (
		rows   []EventRow
		ratios RatioTable
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rows, err = s.events(gctx, p, ViewCategories)
		return err
	})
	g.Go(func() error {
		counts, err := s.catalog.TaxonomyCounts(gctx)
		if err != nil {
			return eris.Wrap(err, "analytics: taxonomy counts")
		}
		ratios, err = BuildCategoryRatios(counts)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	counts, dropped := Distribute(rows, EmbeddedResolver{Kind: kind}, ratios)
	s.dropped(ViewCategories, dropped)
	return &CategoryResult{Kind: kind, Categories: counts.Truncated(), DroppedRows: dropped}, nil
}

// Flow links the visitor's unit of kind from with the viewed location's unit
// of kind to.
func (s *Service) Flow(ctx context.Context, p Period, from, to GeometryKind) (*FlowResult, error) {
	rows, err := s.events(ctx, p, ViewFlow)
	if err != nil {
		return nil, err
	}
	idx, err := s.locations(ctx, rows)
	if err != nil {
		return nil, err
	}

	flow, dropped := BuildFlow(rows, EmbeddedResolver{Kind: from}, idx.Resolver(to))
	s.dropped(ViewFlow, dropped)
	return &FlowResult{From: from, To: to, Flow: flow, DroppedRows: dropped}, nil
}

// Locations totals page views per catalog location.
func (s *Service) Locations(ctx context.Context, p Period) (*LocationsResult, error) {
	rows, err := s.pageViews(ctx, p, ViewLocations)
	if err != nil {
		return nil, err
	}
	idx, err := s.locations(ctx, rows)
	if err != nil {
		return nil, err
	}

	stats, dropped := LocationTotals(rows, idx)
	s.dropped(ViewLocations, dropped)
	return &LocationsResult{Locations: stats, DroppedRows: dropped}, nil
}

func (s *Service) locations(ctx context.Context, rows []EventRow) (LocationIndex, error) {
	records, err := s.catalog.LocationMetadata(ctx, Slugs(rows))
	if err != nil {
		return nil, eris.Wrap(err, "analytics: location metadata")
	}
	return IndexLocations(records)
}

func (s *Service) pageViews(ctx context.Context, p Period, view string) ([]EventRow, error) {
	m := s.reports.PageViews
	metrics := mergeMetrics(m.Metric, s.reports.PageViewMetrics)
	return s.fetch(ctx, p, view, m, metrics, "")
}

func (s *Service) events(ctx context.Context, p Period, view string) ([]EventRow, error) {
	m := s.reports.Events
	return s.fetch(ctx, p, view, m, []string{m.Metric}, s.reports.EventName)
}

func (s *Service) fetch(ctx context.Context, p Period, view string, m RowMapping, metrics []string, event string) ([]EventRow, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	report, err := s.source.Fetch(ctx, ReportRequest{
		Start:      p.Start,
		End:        p.End,
		Dimensions: m.Dimensions(),
		Metrics:    metrics,
		EventName:  event,
	})
	if err != nil {
		return nil, eris.Wrap(err, "analytics: fetch report")
	}
	if s.recorder != nil {
		s.recorder.RowsFetched(view, len(report))
	}
	return EventRows(report, m)
}

func (s *Service) dropped(view string, n int) {
	if n > 0 {
		zap.L().Debug("analytics: rows dropped", zap.String("view", view), zap.Int("dropped", n))
	}
	if s.recorder != nil {
		s.recorder.RowsDropped(view, n)
	}
}

// mergeMetrics puts primary first and drops duplicates from extra.
func mergeMetrics(primary string, extra []string) []string {
	out := []string{primary}
	for _, m := range extra {
		if m != "" && m != primary {
			out = append(out, m)
		}
	}
	return out
}
