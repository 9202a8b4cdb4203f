// Package boundary loads administrative boundary shapefiles into the
// PostGIS catalog tables that attribution reads from.
package boundary

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/streetlives/peer-analytics/internal/analytics"
)

// DefaultSRID is assumed for sources that do not declare one.
const DefaultSRID = 4326

// Source describes one boundary shapefile.
type Source struct {
	Kind analytics.GeometryKind `yaml:"kind"`
	// URL points at a zipped shapefile. Path points at a local .shp or .zip.
	URL  string `yaml:"url"`
	Path string `yaml:"path"`
	// LabelField holds the neighborhood name or district number.
	LabelField string `yaml:"label_field"`
	// BoroughField is read for neighborhoods only.
	BoroughField string `yaml:"borough_field"`
	SRID         int    `yaml:"srid"`
}

// Manifest lists the boundary sources to load.
type Manifest struct {
	Sources []Source `yaml:"sources"`
}

// ReadManifest parses a YAML manifest file.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "boundary: read manifest %s", path)
	}
	return ParseManifest(data)
}

// ParseManifest decodes and validates a manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrap(err, "boundary: parse manifest")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate normalizes kinds and defaults, and rejects duplicate or
// incomplete sources.
func (m *Manifest) Validate() error {
	if len(m.Sources) == 0 {
		return eris.New("boundary: manifest has no sources")
	}
	seen := make(map[analytics.GeometryKind]bool, len(m.Sources))
	for i := range m.Sources {
		s := &m.Sources[i]
		k, err := analytics.ParseKind(string(s.Kind))
		if err != nil {
			return eris.Wrapf(err, "boundary: source %d", i)
		}
		s.Kind = k
		if seen[k] {
			return eris.Errorf("boundary: duplicate source for %s", k)
		}
		seen[k] = true

		if (s.URL == "") == (s.Path == "") {
			return eris.Errorf("boundary: source %s needs exactly one of url or path", k)
		}
		if strings.TrimSpace(s.LabelField) == "" {
			return eris.Errorf("boundary: source %s has no label_field", k)
		}
		if s.SRID == 0 {
			s.SRID = DefaultSRID
		}
		if s.SRID < 0 {
			return eris.Errorf("boundary: source %s has invalid srid %d", k, s.SRID)
		}
	}
	return nil
}

// Source returns the source for a kind.
func (m *Manifest) Source(kind analytics.GeometryKind) (Source, bool) {
	for _, s := range m.Sources {
		if s.Kind == kind {
			return s, true
		}
	}
	return Source{}, false
}
