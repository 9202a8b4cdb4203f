package analytics

import (
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
)

// Position is a WGS84 point.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ParsePosition parses catalog position text of the form
// "POINT(<longitude> <latitude>)".
func ParsePosition(text string) (Position, error) {
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(text)), "POINT") {
		return Position{}, eris.Wrapf(ErrMalformedRow, "analytics: position %q is not a point", text)
	}
	g, err := wkt.Unmarshal(text)
	if err != nil {
		return Position{}, eris.Wrapf(ErrMalformedRow, "analytics: position %q: %v", text, err)
	}
	p, ok := g.(*geom.Point)
	if !ok || p.Empty() {
		return Position{}, eris.Wrapf(ErrMalformedRow, "analytics: position %q is not a point", text)
	}
	lng, lat := p.X(), p.Y()
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return Position{}, eris.Wrapf(ErrMalformedRow, "analytics: position %q out of range", text)
	}
	return Position{Latitude: lat, Longitude: lng}, nil
}

// LocationRecord is a raw catalog metadata row for one slug.
type LocationRecord struct {
	ID               string
	Slug             string
	PositionText     string
	OrganizationName string
	Geo              map[GeometryKind]GeoLabel
}

// Location is a LocationRecord with its position parsed.
type Location struct {
	ID               string                    `json:"id"`
	Slug             string                    `json:"slug"`
	OrganizationName string                    `json:"organization_name"`
	Position         Position                  `json:"position"`
	Geo              map[GeometryKind]GeoLabel `json:"geography,omitempty"`
}

// LocationIndex holds catalog metadata by slug.
type LocationIndex map[string]Location

// IndexLocations parses records into an index. Any unparseable position
// fails the whole index.
func IndexLocations(records []LocationRecord) (LocationIndex, error) {
	idx := make(LocationIndex, len(records))
	for _, rec := range records {
		pos, err := ParsePosition(rec.PositionText)
		if err != nil {
			return nil, eris.Wrapf(err, "analytics: location %q", rec.Slug)
		}
		idx[rec.Slug] = Location{
			ID:               rec.ID,
			Slug:             rec.Slug,
			OrganizationName: rec.OrganizationName,
			Position:         pos,
			Geo:              rec.Geo,
		}
	}
	return idx, nil
}

// Resolver returns a Resolver reading the kind's unit from the metadata of
// the row's location.
func (idx LocationIndex) Resolver(kind GeometryKind) Resolver {
	return metadataResolver{idx: idx, kind: kind}
}

type metadataResolver struct {
	idx  LocationIndex
	kind GeometryKind
}

func (r metadataResolver) Resolve(row EventRow) (GeoLabel, bool) {
	slug, ok := ExtractLocationSlug(row.Path)
	if !ok {
		return GeoLabel{}, false
	}
	loc, ok := r.idx[slug]
	if !ok {
		return GeoLabel{}, false
	}
	l, ok := loc.Geo[r.kind]
	if !ok || l.IsZero() {
		return GeoLabel{}, false
	}
	return l, true
}

// LocationStat is the total count observed for one catalog location.
type LocationStat struct {
	Location
	TotalCount int64 `json:"total_count"`
}

// LocationTotals sums counts per catalog location. Rows without a slug or
// whose slug has no metadata are dropped. The result is ordered by count
// descending, then slug.
func LocationTotals(rows []EventRow, idx LocationIndex) ([]LocationStat, int) {
	totals := make(Tally[string, int64])
	dropped := 0
	for _, r := range rows {
		slug, ok := ExtractLocationSlug(r.Path)
		if !ok {
			dropped++
			continue
		}
		if _, ok := idx[slug]; !ok {
			dropped++
			continue
		}
		totals.Add(slug, r.Count)
	}

	stats := make([]LocationStat, 0, len(totals))
	for slug, n := range totals {
		stats = append(stats, LocationStat{Location: idx[slug], TotalCount: n})
	}
	slices.SortFunc(stats, func(a, b LocationStat) int {
		if a.TotalCount != b.TotalCount {
			if a.TotalCount > b.TotalCount {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Slug, b.Slug)
	})
	return stats, dropped
}
