package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEventMapping = RowMapping{
	PathDimension:          "customEvent:pathname",
	PreviousRouteDimension: "customEvent:previous_route",
	GeoDimensions: map[GeometryKind]string{
		KindNeighborhood: "customEvent:neighborhood",
		KindCommunity:    "customEvent:community_district",
	},
	Metric: "eventCount",
}

func TestEventRows(t *testing.T) {
	rows, err := EventRows([]ReportRow{
		{
			Dimensions: map[string]string{
				"customEvent:pathname":           "/locations/shelter-a",
				"customEvent:previous_route":     "/food",
				"customEvent:neighborhood":       "Bushwick",
				"customEvent:community_district": "304",
			},
			Metrics: map[string]int64{"eventCount": 12},
		},
		{
			Dimensions: map[string]string{"customEvent:pathname": "/about"},
			Metrics:    map[string]int64{"eventCount": 0},
		},
	}, testEventMapping)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "/locations/shelter-a", rows[0].Path)
	assert.Equal(t, "/food", rows[0].PreviousRoute)
	assert.Equal(t, int64(12), rows[0].Count)
	l, ok := rows[0].GeoFor(KindCommunity)
	assert.True(t, ok)
	assert.Equal(t, District(KindCommunity, 304), l)

	_, ok = rows[1].GeoFor(KindNeighborhood)
	assert.False(t, ok)
	assert.Empty(t, rows[1].PreviousRoute)
}

func TestEventRows_Malformed(t *testing.T) {
	tests := []struct {
		name string
		row  ReportRow
	}{
		{"missing metric", ReportRow{Dimensions: map[string]string{"customEvent:pathname": "/"}}},
		{"negative metric", ReportRow{Metrics: map[string]int64{"eventCount": -1}}},
		{"bad district", ReportRow{
			Dimensions: map[string]string{"customEvent:community_district": "CD 4"},
			Metrics:    map[string]int64{"eventCount": 1},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EventRows([]ReportRow{tt.row}, testEventMapping)
			assert.ErrorIs(t, err, ErrMalformedRow)
		})
	}
}

func TestRowMapping_Dimensions(t *testing.T) {
	assert.Equal(t, []string{
		"customEvent:pathname",
		"customEvent:previous_route",
		"customEvent:neighborhood",
		"customEvent:community_district",
	}, testEventMapping.Dimensions())

	assert.Equal(t, []string{"pagePath"}, RowMapping{PathDimension: "pagePath"}.Dimensions())
}

func TestEventRows_NeighborhoodKeyMatchesCatalog(t *testing.T) {
	rows, err := EventRows([]ReportRow{{
		Dimensions: map[string]string{
			"customEvent:pathname":     "/locations/cafe-row-pantry",
			"customEvent:neighborhood": " Cafe\u0301 Row ",
		},
		Metrics: map[string]int64{"eventCount": 5},
	}}, testEventMapping)
	require.NoError(t, err)

	catalogLabel, err := ParseGeoLabel(KindNeighborhood, "Caf\u00e9 Row")
	require.NoError(t, err)
	idx := LocationIndex{"cafe-row-pantry": {Slug: "cafe-row-pantry", Geo: map[GeometryKind]GeoLabel{
		KindNeighborhood: catalogLabel,
	}}}

	f, dropped := BuildFlow(rows, EmbeddedResolver{Kind: KindNeighborhood}, idx.Resolver(KindNeighborhood))
	assert.Zero(t, dropped)
	assert.Equal(t, int64(5), f.Forward[catalogLabel][catalogLabel])
	assert.Len(t, f.Forward, 1)
}
