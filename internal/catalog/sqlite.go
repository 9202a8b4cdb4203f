package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/streetlives/peer-analytics/internal/analytics"
)

// SQLiteStore serves the catalog from a snapshot file. Geography containment
// is precomputed, so it needs no spatial extension.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a snapshot database at dsn.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS locations (
	id                     TEXT PRIMARY KEY,
	slug                   TEXT NOT NULL UNIQUE,
	position               TEXT NOT NULL,
	organization_name      TEXT NOT NULL DEFAULT '',
	neighborhood           TEXT,
	community_district     INTEGER,
	congressional_district INTEGER,
	school_district        INTEGER
);

CREATE TABLE IF NOT EXISTS slug_redirects (
	old_slug TEXT PRIMARY KEY,
	new_slug TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS location_taxonomies (
	slug          TEXT NOT NULL,
	category_name TEXT NOT NULL,
	service_count INTEGER NOT NULL,
	PRIMARY KEY (slug, category_name)
);

CREATE TABLE IF NOT EXISTS boundaries (
	kind     TEXT NOT NULL,
	label    TEXT NOT NULL,
	borough  TEXT NOT NULL DEFAULT '',
	geometry TEXT NOT NULL,
	PRIMARY KEY (kind, label)
);
`

// Migrate creates the snapshot schema.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqliteResolved mirrors pgResolved over a JSON array of slugs.
const sqliteResolved = `
	requested(slug) AS (SELECT value FROM json_each(?)),
	resolved AS (
		SELECT r.slug AS requested, l.*
		FROM requested r
		JOIN locations l ON l.slug = r.slug
		UNION ALL
		SELECT r.slug AS requested, l.*
		FROM requested r
		JOIN slug_redirects sr ON sr.old_slug = r.slug
		JOIN locations l ON l.slug = sr.new_slug
		WHERE NOT EXISTS (SELECT 1 FROM locations cur WHERE cur.slug = r.slug)
	)`

func labelColumn(kind analytics.GeometryKind) (string, error) {
	if kind == analytics.KindNeighborhood {
		return "neighborhood", nil
	}
	if kind.IsDistrict() {
		return districtColumn(kind), nil
	}
	return "", eris.Wrapf(analytics.ErrInvalidKind, "sqlite: geometry type %q", kind)
}

// SlugGeography implements analytics.Catalog.
func (s *SQLiteStore) SlugGeography(ctx context.Context, kind analytics.GeometryKind, slugs []string) ([]analytics.SlugGeo, error) {
	if len(slugs) == 0 {
		return nil, nil
	}
	col, err := labelColumn(kind)
	if err != nil {
		return nil, err
	}
	list, err := json.Marshal(slugs)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal slugs")
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		WITH %s
		SELECT requested, CAST(%s AS TEXT) FROM resolved
		WHERE %s IS NOT NULL
		ORDER BY requested, %s`, sqliteResolved, col, col, col), string(list))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: slug geography %s", kind)
	}
	defer rows.Close()

	var out []analytics.SlugGeo
	for rows.Next() {
		var slug, raw string
		if err := rows.Scan(&slug, &raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan slug geography")
		}
		l, err := analytics.ParseGeoLabel(kind, raw)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: slug %q", slug)
		}
		out = append(out, analytics.SlugGeo{Slug: slug, Label: l})
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate slug geography")
}

// LocationMetadata implements analytics.Catalog.
func (s *SQLiteStore) LocationMetadata(ctx context.Context, slugs []string) ([]analytics.LocationRecord, error) {
	if len(slugs) == 0 {
		return nil, nil
	}
	list, err := json.Marshal(slugs)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal slugs")
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		WITH %s
		SELECT id, requested, position, organization_name, neighborhood,
			community_district, congressional_district, school_district
		FROM resolved
		ORDER BY requested, id`, sqliteResolved), string(list))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: location metadata")
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	var out []analytics.LocationRecord
	for rows.Next() {
		var (
			rec                 analytics.LocationRecord
			neighborhood        sql.NullString
			community, cong, sd sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &rec.Slug, &rec.PositionText, &rec.OrganizationName,
			&neighborhood, &community, &cong, &sd); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan location metadata")
		}
		if _, dup := seen[rec.Slug]; dup {
			continue
		}
		seen[rec.Slug] = struct{}{}

		rec.Geo = geoLabels(nullString(neighborhood), map[analytics.GeometryKind]*int64{
			analytics.KindCommunity:     nullInt(community),
			analytics.KindCongressional: nullInt(cong),
			analytics.KindSchool:        nullInt(sd),
		})
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate location metadata")
}

// TaxonomyCounts implements analytics.Catalog.
func (s *SQLiteStore) TaxonomyCounts(ctx context.Context) ([]analytics.TaxonomyCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT slug, category_name, service_count FROM location_taxonomies
		UNION ALL
		SELECT sr.old_slug, lt.category_name, lt.service_count
		FROM slug_redirects sr
		JOIN location_taxonomies lt ON lt.slug = sr.new_slug
		WHERE NOT EXISTS (SELECT 1 FROM locations cur WHERE cur.slug = sr.old_slug)
		ORDER BY 1, 2`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: taxonomy counts")
	}
	defer rows.Close()

	var out []analytics.TaxonomyCount
	for rows.Next() {
		var tc analytics.TaxonomyCount
		if err := rows.Scan(&tc.Slug, &tc.CategoryName, &tc.Count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan taxonomy count")
		}
		out = append(out, tc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate taxonomy counts")
}

// Boundaries returns the stored outlines of every unit of kind.
func (s *SQLiteStore) Boundaries(ctx context.Context, kind analytics.GeometryKind) ([]Boundary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT label, borough, geometry FROM boundaries WHERE kind = ? ORDER BY rowid`, string(kind))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: boundaries %s", kind)
	}
	defer rows.Close()

	var out []Boundary
	for rows.Next() {
		var raw, borough, geometry string
		if err := rows.Scan(&raw, &borough, &geometry); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan boundary")
		}
		l, err := analytics.ParseGeoLabel(kind, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, Boundary{Label: l, Borough: borough, Geometry: json.RawMessage(geometry)})
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate boundaries")
}

// Import replaces the snapshot contents with snap in one transaction.
func (s *SQLiteStore) Import(ctx context.Context, snap *Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin import")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, table := range []string{"locations", "slug_redirects", "location_taxonomies", "boundaries"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return eris.Wrapf(err, "sqlite: clear %s", table)
		}
	}

	for _, rec := range snap.Locations {
		args := []any{rec.ID, rec.Slug, rec.PositionText, rec.OrganizationName, nil, nil, nil, nil}
		if l, ok := rec.Geo[analytics.KindNeighborhood]; ok && !l.IsZero() {
			args[4] = l.Name()
		}
		for i, kind := range []analytics.GeometryKind{analytics.KindCommunity, analytics.KindCongressional, analytics.KindSchool} {
			if l, ok := rec.Geo[kind]; ok && !l.IsZero() {
				args[5+i] = l.ID()
			}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO locations (id, slug, position, organization_name, neighborhood,
				community_district, congressional_district, school_district)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, args...); err != nil {
			return eris.Wrapf(err, "sqlite: insert location %s", rec.Slug)
		}
	}

	for from, to := range snap.Redirects {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO slug_redirects (old_slug, new_slug) VALUES (?, ?)`, from, to); err != nil {
			return eris.Wrapf(err, "sqlite: insert redirect %s", from)
		}
	}

	for _, tc := range snap.Taxonomy {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO location_taxonomies (slug, category_name, service_count) VALUES (?, ?, ?)`,
			tc.Slug, tc.CategoryName, tc.Count); err != nil {
			return eris.Wrapf(err, "sqlite: insert taxonomy %s/%s", tc.Slug, tc.CategoryName)
		}
	}

	for _, kind := range analytics.Kinds {
		for _, b := range snap.Boundaries[kind] {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO boundaries (kind, label, borough, geometry) VALUES (?, ?, ?, ?)`,
				string(kind), b.Label.String(), b.Borough, string(b.Geometry)); err != nil {
				return eris.Wrapf(err, "sqlite: insert boundary %s %s", kind, b.Label)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit import")
	}
	zap.L().Info("sqlite: snapshot imported",
		zap.Int("locations", len(snap.Locations)),
		zap.Int("redirects", len(snap.Redirects)),
		zap.Int("taxonomy_rows", len(snap.Taxonomy)),
	)
	return nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func nullInt(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	return &ni.Int64
}
