package analytics

import (
	"github.com/rotisserie/eris"
)

// ReportRow is one row of an analytics report. Dimensions the source reported
// as unset are missing from the map rather than present as "".
type ReportRow struct {
	Dimensions map[string]string
	Metrics    map[string]int64
}

// Dimension returns a dimension value and whether it is present.
func (r ReportRow) Dimension(name string) (string, bool) {
	v, ok := r.Dimensions[name]
	return v, ok
}

// EventRow is a report row reduced to what the aggregations need.
type EventRow struct {
	Path          string
	PreviousRoute string
	Geo           map[GeometryKind]GeoLabel
	Count         int64
}

// GeoFor returns the embedded label of the given kind, if any.
func (r EventRow) GeoFor(kind GeometryKind) (GeoLabel, bool) {
	l, ok := r.Geo[kind]
	if !ok || l.IsZero() {
		return GeoLabel{}, false
	}
	return l, true
}

// RowMapping names the report dimensions and metric that feed an EventRow.
type RowMapping struct {
	PathDimension          string
	PreviousRouteDimension string
	GeoDimensions          map[GeometryKind]string
	Metric                 string
}

// Dimensions returns the report dimensions the mapping reads, path first.
func (m RowMapping) Dimensions() []string {
	dims := []string{m.PathDimension}
	if m.PreviousRouteDimension != "" {
		dims = append(dims, m.PreviousRouteDimension)
	}
	for _, k := range Kinds {
		if d, ok := m.GeoDimensions[k]; ok && d != "" {
			dims = append(dims, d)
		}
	}
	return dims
}

// EventRows converts report rows using m. A row without the metric or with a
// negative count fails the whole batch.
func EventRows(rows []ReportRow, m RowMapping) ([]EventRow, error) {
	out := make([]EventRow, 0, len(rows))
	for i, r := range rows {
		count, ok := r.Metrics[m.Metric]
		if !ok {
			return nil, eris.Wrapf(ErrMalformedRow, "analytics: row %d missing metric %q", i, m.Metric)
		}
		if count < 0 {
			return nil, eris.Wrapf(ErrMalformedRow, "analytics: row %d negative %s %d", i, m.Metric, count)
		}

		ev := EventRow{Count: count}
		ev.Path, _ = r.Dimension(m.PathDimension)
		if m.PreviousRouteDimension != "" {
			ev.PreviousRoute, _ = r.Dimension(m.PreviousRouteDimension)
		}

		for kind, dim := range m.GeoDimensions {
			raw, ok := r.Dimension(dim)
			if !ok {
				continue
			}
			label, err := ParseGeoLabel(kind, raw)
			if err != nil {
				return nil, eris.Wrapf(err, "analytics: row %d dimension %s", i, dim)
			}
			if label.IsZero() {
				continue
			}
			if ev.Geo == nil {
				ev.Geo = make(map[GeometryKind]GeoLabel, len(m.GeoDimensions))
			}
			ev.Geo[kind] = label
		}

		out = append(out, ev)
	}
	return out, nil
}
