// Package analytics reconciles web-analytics event rows with the location
// catalog and folds them into geography aggregates, category breakdowns and
// flow matrices.
package analytics

import (
	"cmp"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"
)

// GeometryKind names an administrative geography.
type GeometryKind string

// Supported geometry kinds. Neighborhoods are labeled by name, the rest by
// integer district id.
const (
	KindNeighborhood  GeometryKind = "neighborhood"
	KindCommunity     GeometryKind = "community"
	KindCongressional GeometryKind = "congressional"
	KindSchool        GeometryKind = "school"
)

// Kinds lists every GeometryKind in a stable order.
var Kinds = []GeometryKind{KindNeighborhood, KindCommunity, KindCongressional, KindSchool}

// ParseKind validates a geometry kind name.
func ParseKind(s string) (GeometryKind, error) {
	k := GeometryKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindNeighborhood, KindCommunity, KindCongressional, KindSchool:
		return k, nil
	}
	return "", eris.Wrapf(ErrInvalidKind, "analytics: geometry type %q", s)
}

// IsDistrict reports whether labels of this kind are integer district ids.
func (k GeometryKind) IsDistrict() bool {
	return k == KindCommunity || k == KindCongressional || k == KindSchool
}

// GeoLabel identifies one geography unit. Exactly one of name (neighborhood)
// or id (districts) is meaningful, selected by kind. The zero value is the
// absence marker and never appears as a map key in any aggregate.
type GeoLabel struct {
	kind GeometryKind
	name string
	id   int
}

// Neighborhood returns the label for a named neighborhood. Names are trimmed
// and NFC-normalized so the catalog and the analytics report agree on keys.
// An empty name yields the absent label.
func Neighborhood(name string) GeoLabel {
	name = norm.NFC.String(strings.TrimSpace(name))
	if name == "" {
		return GeoLabel{}
	}
	return GeoLabel{kind: KindNeighborhood, name: name}
}

// District returns the label for a numbered district of the given kind.
func District(kind GeometryKind, id int) GeoLabel {
	if !kind.IsDistrict() {
		return GeoLabel{}
	}
	return GeoLabel{kind: kind, id: id}
}

// ParseGeoLabel converts a raw dimension or column value into a label of the
// given kind. Blank input is absent, not an error. A district value that is
// not an integer means the upstream schema drifted and is reported as
// ErrMalformedRow.
func ParseGeoLabel(kind GeometryKind, raw string) (GeoLabel, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return GeoLabel{}, nil
	}
	if kind == KindNeighborhood {
		return Neighborhood(raw), nil
	}
	if !kind.IsDistrict() {
		return GeoLabel{}, eris.Wrapf(ErrInvalidKind, "analytics: geometry type %q", kind)
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return GeoLabel{}, eris.Wrapf(ErrMalformedRow, "analytics: %s district id %q", kind, raw)
	}
	return District(kind, id), nil
}

// Kind returns the label's geometry kind, empty for the absent label.
func (l GeoLabel) Kind() GeometryKind { return l.kind }

// Name returns the neighborhood name.
func (l GeoLabel) Name() string { return l.name }

// ID returns the district id.
func (l GeoLabel) ID() int { return l.id }

// IsZero reports whether l is the absent label.
func (l GeoLabel) IsZero() bool { return l.kind == "" }

// String renders the label as it appears in JSON object keys.
func (l GeoLabel) String() string {
	switch {
	case l.IsZero():
		return ""
	case l.kind == KindNeighborhood:
		return l.name
	default:
		return strconv.Itoa(l.id)
	}
}

// MarshalText implements encoding.TextMarshaler so labels can key JSON objects.
func (l GeoLabel) MarshalText() ([]byte, error) {
	if l.IsZero() {
		return nil, eris.New("analytics: marshal absent geo label")
	}
	return []byte(l.String()), nil
}

// MarshalJSON renders neighborhoods as strings and districts as numbers.
func (l GeoLabel) MarshalJSON() ([]byte, error) {
	switch {
	case l.IsZero():
		return []byte("null"), nil
	case l.kind == KindNeighborhood:
		return json.Marshal(l.name)
	default:
		return []byte(strconv.Itoa(l.id)), nil
	}
}

// Compare orders labels by kind, then by name or id.
func (l GeoLabel) Compare(o GeoLabel) int {
	if c := cmp.Compare(l.kind, o.kind); c != 0 {
		return c
	}
	if c := cmp.Compare(l.name, o.name); c != 0 {
		return c
	}
	return cmp.Compare(l.id, o.id)
}
