package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/encoding/wkb"
	"go.uber.org/zap"

	"github.com/streetlives/peer-analytics/internal/analytics"
	"github.com/streetlives/peer-analytics/internal/db"
)

// pgResolved expands the requested slugs in $1 into the catalog locations
// they name, directly or through a slug redirect. A slug that is still some
// location's current slug never follows a redirect.
const pgResolved = `
	requested AS (SELECT unnest($1::text[]) AS slug),
	resolved AS (
		SELECT r.slug AS requested, l.id, l.position, l.organization_id
		FROM requested r
		JOIN locations l ON l.slug = r.slug
		UNION ALL
		SELECT r.slug AS requested, l.id, l.position, l.organization_id
		FROM requested r
		JOIN slug_redirects sr ON sr.old_slug = r.slug
		JOIN locations l ON l.slug = sr.new_slug
		WHERE NOT EXISTS (SELECT 1 FROM locations cur WHERE cur.slug = r.slug)
	)`

// PostgresStore reads the catalog from PostGIS.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres creates a PostgresStore over pool.
func NewPostgres(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// containment returns the label column, its sort key and the join placing a
// resolved location in a unit of kind.
func containment(kind analytics.GeometryKind) (label, order, join string, args []any) {
	if kind == analytics.KindNeighborhood {
		return "g.neighborhood", "g.neighborhood",
			`JOIN nyc_neighborhood_geometries g ON ST_Contains(g.geometry, ST_SetSRID(res.position, 4326))`,
			nil
	}
	return "g.district_id::text", "g.district_id",
		`JOIN nyc_districts g ON g.type = $2 AND ST_Contains(g.geometry, ST_SetSRID(res.position, 4326))`,
		[]any{string(kind)}
}

// SlugGeography implements analytics.Catalog. A slug contained in several
// units of kind is reported once, under the lowest label.
func (s *PostgresStore) SlugGeography(ctx context.Context, kind analytics.GeometryKind, slugs []string) ([]analytics.SlugGeo, error) {
	if len(slugs) == 0 {
		return nil, nil
	}
	label, order, join, extra := containment(kind)
	query := fmt.Sprintf(`
		WITH %s
		SELECT DISTINCT ON (res.requested) res.requested, %s
		FROM resolved res
		%s
		WHERE res.position IS NOT NULL
		ORDER BY res.requested, %s`, pgResolved, label, join, order)

	rows, err := s.pool.Query(ctx, query, append([]any{slugs}, extra...)...)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: slug geography %s", kind)
	}
	defer rows.Close()

	var out []analytics.SlugGeo
	for rows.Next() {
		var slug, raw string
		if err := rows.Scan(&slug, &raw); err != nil {
			return nil, eris.Wrap(err, "catalog: scan slug geography")
		}
		l, err := analytics.ParseGeoLabel(kind, raw)
		if err != nil {
			return nil, eris.Wrapf(err, "catalog: slug %q", slug)
		}
		out = append(out, analytics.SlugGeo{Slug: slug, Label: l})
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "catalog: iterate slug geography")
	}
	return out, nil
}

func metadataQuery() string {
	var cols strings.Builder
	for _, k := range districtKinds() {
		fmt.Fprintf(&cols, `,
			(SELECT d.district_id::bigint FROM nyc_districts d
			 WHERE d.type = '%s' AND ST_Contains(d.geometry, ST_SetSRID(res.position, 4326))
			 ORDER BY d.district_id LIMIT 1)`, k)
	}
	return fmt.Sprintf(`
		WITH %s
		SELECT DISTINCT ON (res.requested)
			res.id::text, res.requested, ST_AsText(res.position), COALESCE(o.name, ''),
			(SELECT n.neighborhood FROM nyc_neighborhood_geometries n
			 WHERE ST_Contains(n.geometry, ST_SetSRID(res.position, 4326))
			 ORDER BY n.neighborhood LIMIT 1)%s
		FROM resolved res
		LEFT JOIN organizations o ON o.id = res.organization_id
		WHERE res.position IS NOT NULL
		ORDER BY res.requested, res.id`, pgResolved, cols.String())
}

// LocationMetadata implements analytics.Catalog. Locations without a
// position are not returned.
func (s *PostgresStore) LocationMetadata(ctx context.Context, slugs []string) ([]analytics.LocationRecord, error) {
	if len(slugs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, metadataQuery(), slugs)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: location metadata")
	}
	defer rows.Close()

	kinds := districtKinds()
	var out []analytics.LocationRecord
	for rows.Next() {
		var (
			rec          analytics.LocationRecord
			neighborhood *string
		)
		ids := make([]*int64, len(kinds))
		dest := []any{&rec.ID, &rec.Slug, &rec.PositionText, &rec.OrganizationName, &neighborhood}
		for i := range ids {
			dest = append(dest, &ids[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, eris.Wrap(err, "catalog: scan location metadata")
		}
		districts := make(map[analytics.GeometryKind]*int64, len(kinds))
		for i, k := range kinds {
			districts[k] = ids[i]
		}
		rec.Geo = geoLabels(neighborhood, districts)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "catalog: iterate location metadata")
	}
	return out, nil
}

const taxonomyQuery = `
	WITH slugs AS (
		SELECT l.id AS location_id, l.slug FROM locations l
		UNION ALL
		SELECT l.id AS location_id, sr.old_slug AS slug
		FROM slug_redirects sr
		JOIN locations l ON l.slug = sr.new_slug
		WHERE NOT EXISTS (SELECT 1 FROM locations cur WHERE cur.slug = sr.old_slug)
	)
	SELECT s.slug, COALESCE(parent.name, t.name) AS category_name, COUNT(*) AS service_count
	FROM slugs s
	JOIN service_at_locations sal ON sal.location_id = s.location_id
	JOIN service_taxonomy st ON st.service_id = sal.service_id
	JOIN taxonomies t ON t.id = st.taxonomy_id
	LEFT JOIN taxonomies parent ON parent.id = t.parent_id
	GROUP BY s.slug, COALESCE(parent.name, t.name)
	ORDER BY s.slug, category_name`

// TaxonomyCounts implements analytics.Catalog. Services are counted under
// their top-level taxonomy.
func (s *PostgresStore) TaxonomyCounts(ctx context.Context) ([]analytics.TaxonomyCount, error) {
	rows, err := s.pool.Query(ctx, taxonomyQuery)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: taxonomy counts")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (analytics.TaxonomyCount, error) {
		var tc analytics.TaxonomyCount
		err := row.Scan(&tc.Slug, &tc.CategoryName, &tc.Count)
		return tc, err
	})
	if err != nil {
		return nil, eris.Wrap(err, "catalog: scan taxonomy counts")
	}
	return out, nil
}

// Boundaries returns the outlines of every unit of kind.
func (s *PostgresStore) Boundaries(ctx context.Context, kind analytics.GeometryKind) ([]Boundary, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if kind == analytics.KindNeighborhood {
		rows, err = s.pool.Query(ctx, `
			SELECT neighborhood, COALESCE(borough, ''), ST_AsBinary(geometry)
			FROM nyc_neighborhood_geometries
			ORDER BY neighborhood`)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT district_id::text, '', ST_AsBinary(geometry)
			FROM nyc_districts
			WHERE type = $1
			ORDER BY district_id`, string(kind))
	}
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: boundaries %s", kind)
	}
	defer rows.Close()

	var out []Boundary
	for rows.Next() {
		var (
			raw, borough string
			data         []byte
		)
		if err := rows.Scan(&raw, &borough, &data); err != nil {
			return nil, eris.Wrap(err, "catalog: scan boundary")
		}
		b, err := newBoundary(kind, raw, borough, data)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "catalog: iterate boundaries")
	}
	return out, nil
}

// newBoundary decodes a WKB geometry into a GeoJSON boundary.
func newBoundary(kind analytics.GeometryKind, raw, borough string, data []byte) (Boundary, error) {
	l, err := analytics.ParseGeoLabel(kind, raw)
	if err != nil {
		return Boundary{}, err
	}
	g, err := wkb.Unmarshal(data)
	if err != nil {
		return Boundary{}, eris.Wrapf(err, "catalog: decode %s %q geometry", kind, raw)
	}
	gj, err := geojson.Marshal(g)
	if err != nil {
		return Boundary{}, eris.Wrapf(err, "catalog: encode %s %q geometry", kind, raw)
	}
	return Boundary{Label: l, Borough: borough, Geometry: json.RawMessage(gj)}, nil
}

// Snapshot exports the whole catalog for a SQLiteStore.
func (s *PostgresStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	rows, err := s.pool.Query(ctx, `SELECT slug FROM locations WHERE slug IS NOT NULL ORDER BY slug`)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: list slugs")
	}
	slugs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, eris.Wrap(err, "catalog: scan slugs")
	}

	snap := &Snapshot{
		Redirects:  make(map[string]string),
		Boundaries: make(map[analytics.GeometryKind][]Boundary, len(analytics.Kinds)),
	}
	if snap.Locations, err = s.LocationMetadata(ctx, slugs); err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx, `SELECT old_slug, new_slug FROM slug_redirects`)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: list redirects")
	}
	defer rows.Close()
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, eris.Wrap(err, "catalog: scan redirect")
		}
		snap.Redirects[from] = to
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "catalog: iterate redirects")
	}

	// The snapshot expands redirects itself, so keep only direct slugs.
	known := make(map[string]struct{}, len(slugs))
	for _, slug := range slugs {
		known[slug] = struct{}{}
	}
	counts, err := s.TaxonomyCounts(ctx)
	if err != nil {
		return nil, err
	}
	for _, tc := range counts {
		if _, ok := known[tc.Slug]; ok {
			snap.Taxonomy = append(snap.Taxonomy, tc)
		}
	}

	for _, kind := range analytics.Kinds {
		b, err := s.Boundaries(ctx, kind)
		if err != nil {
			return nil, err
		}
		snap.Boundaries[kind] = b
	}

	zap.L().Info("catalog: snapshot exported",
		zap.Int("locations", len(snap.Locations)),
		zap.Int("redirects", len(snap.Redirects)),
		zap.Int("taxonomy_rows", len(snap.Taxonomy)),
	)
	return snap, nil
}
