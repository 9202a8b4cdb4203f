package boundary

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/streetlives/peer-analytics/internal/analytics"
	"github.com/streetlives/peer-analytics/internal/db"
	"github.com/streetlives/peer-analytics/internal/fetcher"
)

// LoadOptions configures a boundary load.
type LoadOptions struct {
	Kinds       []analytics.GeometryKind // empty = every manifest source
	TempDir     string                   // download directory
	Concurrency int                      // parallel sources (default 2)
	BatchSize   int                      // staging COPY batch size
	DryRun      bool                     // parse without writing
}

// Result reports one loaded source.
type Result struct {
	Kind analytics.GeometryKind
	Rows int64
}

// StatusRow is a row of boundary_load_status.
type StatusRow struct {
	Kind       string
	Source     string
	RowCount   int
	DurationMs int
	LoadedAt   time.Time
}

// Loader replaces catalog boundary tables from shapefiles.
type Loader struct {
	pool  db.Pool
	fetch fetcher.Fetcher
}

// NewLoader creates a Loader. f may be nil when every source is local.
func NewLoader(pool db.Pool, f fetcher.Fetcher) *Loader {
	return &Loader{pool: pool, fetch: f}
}

// Load loads the selected manifest sources. Each source replaces its
// slice of the catalog in one transaction, so a failed source leaves the
// previous boundaries in place.
func (l *Loader) Load(ctx context.Context, m *Manifest, opts LoadOptions) ([]Result, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.TempDir == "" {
		opts.TempDir = filepath.Join(os.TempDir(), "peer-analytics")
	}

	var sources []Source
	if len(opts.Kinds) == 0 {
		sources = m.Sources
	} else {
		for _, k := range opts.Kinds {
			s, ok := m.Source(k)
			if !ok {
				return nil, eris.Errorf("boundary: manifest has no %s source", k)
			}
			sources = append(sources, s)
		}
	}

	var (
		mu      sync.Mutex
		results []Result
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, src := range sources {
		g.Go(func() error {
			n, err := l.loadSource(gCtx, src, opts)
			if err != nil {
				return eris.Wrapf(err, "boundary: load %s", src.Kind)
			}
			mu.Lock()
			results = append(results, Result{Kind: src.Kind, Rows: n})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.SortFunc(results, func(a, b Result) int {
		return slices.Index(analytics.Kinds, a.Kind) - slices.Index(analytics.Kinds, b.Kind)
	})
	return results, nil
}

func (l *Loader) loadSource(ctx context.Context, src Source, opts LoadOptions) (int64, error) {
	log := zap.L().With(
		zap.String("component", "boundary.loader"),
		zap.String("kind", string(src.Kind)),
	)
	start := time.Now()

	shpPath, err := l.resolve(ctx, src, filepath.Join(opts.TempDir, string(src.Kind)))
	if err != nil {
		return 0, err
	}

	features, err := ReadShapefile(shpPath, src)
	if err != nil {
		return 0, err
	}
	if len(features) == 0 {
		return 0, eris.Errorf("boundary: %s has no usable features", shpPath)
	}
	log.Info("shapefile parsed", zap.String("path", shpPath), zap.Int("features", len(features)))

	if opts.DryRun {
		log.Info("dry run, skipping load")
		return int64(len(features)), nil
	}

	cfg, rows := replaceFor(src.Kind, features)
	cfg.BatchSize = opts.BatchSize
	n, err := db.BulkReplace(ctx, l.pool, cfg, rows)
	if err != nil {
		return 0, err
	}

	duration := time.Since(start)
	if err := recordLoad(ctx, l.pool, src, int(n), int(duration.Milliseconds())); err != nil {
		log.Warn("failed to record load status", zap.Error(err))
	}
	log.Info("boundaries loaded", zap.Int64("rows", n), zap.Duration("duration", duration))
	return n, nil
}

// resolve returns a local .shp path for src, downloading and extracting
// archives into dir.
func (l *Loader) resolve(ctx context.Context, src Source, dir string) (string, error) {
	p := src.Path
	if src.URL != "" {
		if l.fetch == nil {
			return "", eris.New("boundary: no fetcher for remote source")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", eris.Wrapf(err, "boundary: create %s", dir)
		}
		name := path.Base(strings.SplitN(src.URL, "?", 2)[0])
		if !strings.EqualFold(filepath.Ext(name), ".zip") {
			name += ".zip"
		}
		p = filepath.Join(dir, name)
		if _, err := l.fetch.DownloadToFile(ctx, src.URL, p); err != nil {
			return "", eris.Wrapf(err, "boundary: download %s", src.URL)
		}
	}

	switch strings.ToLower(filepath.Ext(p)) {
	case ".shp":
		return p, nil
	case ".zip":
		files, err := fetcher.ExtractZIP(p, dir)
		if err != nil {
			return "", eris.Wrapf(err, "boundary: extract %s", p)
		}
		shpPath, ok := fetcher.FindExtracted(files, ".shp")
		if !ok {
			return "", eris.Errorf("boundary: no .shp in %s", p)
		}
		return shpPath, nil
	default:
		return "", eris.Errorf("boundary: unsupported source %s", p)
	}
}

const geometryExpr = `ST_Multi(ST_Transform(ST_GeomFromEWKB(geometry), 4326))`

// replaceFor builds the staged replace for one kind. Districts share one
// table and replace only the rows of their type.
func replaceFor(kind analytics.GeometryKind, features []Feature) (db.ReplaceConfig, [][]any) {
	rows := make([][]any, len(features))
	if kind == analytics.KindNeighborhood {
		for i, f := range features {
			rows[i] = []any{f.Label, f.Borough, f.Geometry}
		}
		return db.ReplaceConfig{
			Table: "nyc_neighborhood_geometries",
			Stage: []db.StageColumn{
				{Name: "label", Type: "text"},
				{Name: "borough", Type: "text"},
				{Name: "geometry", Type: "bytea"},
			},
			Target: []string{"neighborhood", "borough", "geometry"},
			Select: []string{"label", "NULLIF(borough, '')", geometryExpr},
		}, rows
	}

	for i, f := range features {
		rows[i] = []any{f.Label, f.Geometry}
	}
	return db.ReplaceConfig{
		Table: "nyc_districts",
		Stage: []db.StageColumn{
			{Name: "label", Type: "text"},
			{Name: "geometry", Type: "bytea"},
		},
		Target: []string{"type", "district_id", "geometry"},
		// kind is one of the fixed district kinds, never user text.
		Select: []string{"'" + string(kind) + "'", "label::integer", geometryExpr},
		Where:  "type = $1",
		Args:   []any{string(kind)},
	}, rows
}

func recordLoad(ctx context.Context, pool db.Pool, src Source, rowCount, durationMs int) error {
	origin := src.URL
	if origin == "" {
		origin = src.Path
	}
	_, err := pool.Exec(ctx, `
		INSERT INTO boundary_load_status (kind, source, row_count, duration_ms)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (kind) DO UPDATE SET
			source = EXCLUDED.source,
			row_count = EXCLUDED.row_count,
			duration_ms = EXCLUDED.duration_ms,
			loaded_at = now()`,
		string(src.Kind), origin, rowCount, durationMs,
	)
	return eris.Wrap(err, "boundary: record load status")
}

// LoadStatus returns the last load of every kind.
func LoadStatus(ctx context.Context, pool db.Pool) ([]StatusRow, error) {
	rows, err := pool.Query(ctx, `
		SELECT kind, source, row_count, COALESCE(duration_ms, 0), loaded_at
		FROM boundary_load_status
		ORDER BY kind`)
	if err != nil {
		return nil, eris.Wrap(err, "boundary: query load status")
	}
	defer rows.Close()

	var status []StatusRow
	for rows.Next() {
		var sr StatusRow
		if err := rows.Scan(&sr.Kind, &sr.Source, &sr.RowCount, &sr.DurationMs, &sr.LoadedAt); err != nil {
			return nil, eris.Wrap(err, "boundary: scan load status row")
		}
		status = append(status, sr)
	}
	return status, rows.Err()
}
