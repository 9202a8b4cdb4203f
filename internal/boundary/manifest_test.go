package boundary

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streetlives/peer-analytics/internal/analytics"
)

const manifestYAML = `
sources:
  - kind: Neighborhood
    path: data/nta.shp
    label_field: NTAName
    borough_field: BoroName
  - kind: school
    url: https://data.example.org/school-districts.zip
    label_field: SchoolDist
    srid: 2263
`

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(manifestYAML))
	require.NoError(t, err)
	require.Len(t, m.Sources, 2)

	nta, ok := m.Source(analytics.KindNeighborhood)
	require.True(t, ok)
	assert.Equal(t, "NTAName", nta.LabelField)
	assert.Equal(t, DefaultSRID, nta.SRID)

	school, ok := m.Source(analytics.KindSchool)
	require.True(t, ok)
	assert.Equal(t, 2263, school.SRID)

	_, ok = m.Source(analytics.KindCommunity)
	assert.False(t, ok)
}

func TestReadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boundaries.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifestYAML), 0o644))

	m, err := ReadManifest(path)
	require.NoError(t, err)
	assert.Len(t, m.Sources, 2)

	_, err = ReadManifest(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseManifest_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", `sources: []`, "no sources"},
		{"bad yaml", `sources: [`, "parse manifest"},
		{"unknown kind", "sources:\n  - kind: borough\n    path: a.shp\n    label_field: x\n", "geometry type"},
		{"duplicate", "sources:\n  - kind: school\n    path: a.shp\n    label_field: x\n  - kind: school\n    path: b.shp\n    label_field: x\n", "duplicate source"},
		{"no location", "sources:\n  - kind: school\n    label_field: x\n", "exactly one of url or path"},
		{"both locations", "sources:\n  - kind: school\n    path: a.shp\n    url: http://x/a.zip\n    label_field: x\n", "exactly one of url or path"},
		{"no label", "sources:\n  - kind: school\n    path: a.shp\n", "no label_field"},
		{"negative srid", "sources:\n  - kind: school\n    path: a.shp\n    label_field: x\n    srid: -1\n", "invalid srid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
