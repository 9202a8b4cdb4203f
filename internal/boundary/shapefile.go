package boundary

import (
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/streetlives/peer-analytics/internal/analytics"
)

// Feature is one boundary record ready for staging.
type Feature struct {
	Label   string
	Borough string
	// Geometry is EWKB in the source SRID.
	Geometry []byte
}

// ReadShapefile reads every polygon record of a shapefile. Records without
// a usable polygon or label are skipped and counted in the log.
func ReadShapefile(path string, src Source) ([]Feature, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "boundary: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fieldIdx := make(map[string]int)
	for i, f := range reader.Fields() {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}

	labelIdx, ok := fieldIdx[strings.ToLower(src.LabelField)]
	if !ok {
		return nil, eris.Errorf("boundary: %s has no field %q", path, src.LabelField)
	}
	boroughIdx := -1
	if src.Kind == analytics.KindNeighborhood && src.BoroughField != "" {
		idx, ok := fieldIdx[strings.ToLower(src.BoroughField)]
		if !ok {
			return nil, eris.Errorf("boundary: %s has no field %q", path, src.BoroughField)
		}
		boroughIdx = idx
	}

	srid := src.SRID
	if srid == 0 {
		srid = DefaultSRID
	}

	var (
		out     []Feature
		skipped int
	)
	for reader.Next() {
		_, shape := reader.Shape()

		label, err := normalizeLabel(src.Kind, attribute(reader, labelIdx))
		if err != nil {
			zap.L().Debug("boundary: skipping record", zap.String("kind", string(src.Kind)), zap.Error(err))
			skipped++
			continue
		}

		poly, ok := shape.(*shp.Polygon)
		if !ok {
			skipped++
			continue
		}
		mp := polygonToMultiPolygon(poly, srid)
		if mp == nil {
			skipped++
			continue
		}
		data, err := ewkb.Marshal(mp, ewkb.NDR)
		if err != nil {
			return nil, eris.Wrapf(err, "boundary: encode %s %q", src.Kind, label)
		}

		f := Feature{Label: label, Geometry: data}
		if boroughIdx >= 0 {
			f.Borough = attribute(reader, boroughIdx)
		}
		out = append(out, f)
	}

	if skipped > 0 {
		zap.L().Warn("boundary: skipped shapefile records",
			zap.String("kind", string(src.Kind)),
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return out, nil
}

func attribute(r *shp.Reader, idx int) string {
	return strings.TrimSpace(strings.TrimRight(r.Attribute(idx), "\x00"))
}

// normalizeLabel checks a raw label against its kind. District numbers in
// DBF numeric fields may carry a fractional part ("14.000").
func normalizeLabel(kind analytics.GeometryKind, raw string) (string, error) {
	if raw == "" {
		return "", eris.New("boundary: empty label")
	}
	if !kind.IsDistrict() {
		return raw, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != float64(int64(f)) {
		return "", eris.Errorf("boundary: %s district %q is not an integer", kind, raw)
	}
	return strconv.FormatInt(int64(f), 10), nil
}

// polygonToMultiPolygon groups shapefile rings into polygons. Outer rings
// wind clockwise and each counter-clockwise ring is a hole of the outer
// ring before it.
func polygonToMultiPolygon(p *shp.Polygon, srid int) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(srid)
	var current *geom.Polygon
	flush := func() {
		if current == nil {
			return
		}
		if err := mp.Push(current); err != nil {
			zap.L().Debug("boundary: skipping malformed polygon", zap.Error(err))
		}
		current = nil
	}

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if end-start < 4 {
			zap.L().Debug("boundary: skipping degenerate ring", zap.Int32("part", i))
			continue
		}

		flat := make([]float64, 0, 2*(end-start))
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		ring := geom.NewLinearRingFlat(geom.XY, flat)

		if signedArea(flat) > 0 && current != nil {
			if err := current.Push(ring); err != nil {
				zap.L().Debug("boundary: skipping malformed hole", zap.Int32("part", i), zap.Error(err))
			}
			continue
		}
		flush()
		current = geom.NewPolygon(geom.XY)
		if err := current.Push(ring); err != nil {
			zap.L().Debug("boundary: skipping malformed ring", zap.Int32("part", i), zap.Error(err))
			current = nil
		}
	}
	flush()

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

// signedArea is the shoelace area of a flat XY ring, positive when the
// ring winds counter-clockwise.
func signedArea(flat []float64) float64 {
	var sum float64
	n := len(flat) / 2
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += flat[2*i]*flat[2*j+1] - flat[2*j]*flat[2*i+1]
	}
	return sum / 2
}
