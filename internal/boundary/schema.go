package boundary

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/streetlives/peer-analytics/internal/db"
)

var migrations = []struct {
	name string
	sql  string
}{
	{"postgis", `CREATE EXTENSION IF NOT EXISTS postgis`},
	{"nyc_neighborhood_geometries", `
		CREATE TABLE IF NOT EXISTS nyc_neighborhood_geometries (
			neighborhood text PRIMARY KEY,
			borough      text,
			geometry     geometry(MultiPolygon, 4326) NOT NULL
		)`},
	{"nyc_neighborhood_geometries gist", `
		CREATE INDEX IF NOT EXISTS idx_nyc_neighborhood_geometries_geometry
		ON nyc_neighborhood_geometries USING GIST (geometry)`},
	{"nyc_districts", `
		CREATE TABLE IF NOT EXISTS nyc_districts (
			type        text    NOT NULL CHECK (type IN ('community', 'congressional', 'school')),
			district_id integer NOT NULL,
			geometry    geometry(MultiPolygon, 4326) NOT NULL,
			PRIMARY KEY (type, district_id)
		)`},
	{"nyc_districts gist", `
		CREATE INDEX IF NOT EXISTS idx_nyc_districts_geometry
		ON nyc_districts USING GIST (geometry)`},
	{"boundary_load_status", `
		CREATE TABLE IF NOT EXISTS boundary_load_status (
			kind        text PRIMARY KEY,
			source      text NOT NULL,
			row_count   integer NOT NULL,
			duration_ms integer,
			loaded_at   timestamptz NOT NULL DEFAULT now()
		)`},
}

// Migrate creates the boundary tables and their spatial indexes. It is
// idempotent.
func Migrate(ctx context.Context, pool db.Pool) error {
	for _, m := range migrations {
		if _, err := pool.Exec(ctx, m.sql); err != nil {
			return eris.Wrapf(err, "boundary: migrate %s", m.name)
		}
		zap.L().Debug("boundary: migration applied", zap.String("step", m.name))
	}
	return nil
}
