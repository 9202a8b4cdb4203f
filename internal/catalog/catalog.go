// Package catalog answers location catalog queries for the analytics service:
// which geography unit contains each location, location metadata, taxonomy
// counts and boundary geometries. PostgresStore reads the live PostGIS
// database; SQLiteStore reads a snapshot exported from it.
package catalog

import (
	"context"
	"encoding/json"

	"github.com/streetlives/peer-analytics/internal/analytics"
)

// Store is a location catalog.
type Store interface {
	analytics.Catalog
	// Boundaries returns every unit of kind with its geometry as GeoJSON.
	Boundaries(ctx context.Context, kind analytics.GeometryKind) ([]Boundary, error)
	Close() error
}

// Boundary is one geography unit's outline.
type Boundary struct {
	Label    analytics.GeoLabel `json:"label"`
	Borough  string             `json:"borough,omitempty"`
	Geometry json.RawMessage    `json:"geometry"`
}

// Snapshot is a full export of the catalog, as loaded into a SQLiteStore.
type Snapshot struct {
	Locations  []analytics.LocationRecord
	Redirects  map[string]string
	Taxonomy   []analytics.TaxonomyCount
	Boundaries map[analytics.GeometryKind][]Boundary
}

// districtColumn names the snapshot column holding a district kind's id.
func districtColumn(kind analytics.GeometryKind) string {
	return string(kind) + "_district"
}

// geoLabels builds the per-kind labels of a metadata row from nullable
// columns. Missing units are left out.
func geoLabels(neighborhood *string, districts map[analytics.GeometryKind]*int64) map[analytics.GeometryKind]analytics.GeoLabel {
	out := make(map[analytics.GeometryKind]analytics.GeoLabel, len(districts)+1)
	if neighborhood != nil {
		if l := analytics.Neighborhood(*neighborhood); !l.IsZero() {
			out[analytics.KindNeighborhood] = l
		}
	}
	for kind, id := range districts {
		if id != nil {
			out[kind] = analytics.District(kind, int(*id))
		}
	}
	return out
}

// districtKinds lists the kinds stored in nyc_districts.
func districtKinds() []analytics.GeometryKind {
	var out []analytics.GeometryKind
	for _, k := range analytics.Kinds {
		if k.IsDistrict() {
			out = append(out, k)
		}
	}
	return out
}
