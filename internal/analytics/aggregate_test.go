package analytics

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bushwickResolver(t *testing.T) *SlugResolver {
	t.Helper()
	r, err := NewSlugResolver(KindNeighborhood, []SlugGeo{
		{Slug: "shelter-a", Label: Neighborhood("Bushwick")},
		{Slug: "shelter-b", Label: Neighborhood("Bushwick")},
		{Slug: "pantry-c", Label: Neighborhood("Astoria")},
	})
	require.NoError(t, err)
	return r
}

func TestAggregateRows_SameNeighborhood(t *testing.T) {
	rows := []EventRow{
		{Path: "/locations/shelter-a", Count: 10},
		{Path: "/locations/shelter-b", Count: 30},
	}
	got, dropped := AggregateRows(rows, bushwickResolver(t))

	assert.Zero(t, dropped)
	assert.Equal(t, Buckets{
		Neighborhood("Bushwick"): {TotalCount: 40, Percentage: 1.0},
	}, got)
}

func TestAggregateRows_PercentageOfMax(t *testing.T) {
	rows := []EventRow{
		{Path: "/locations/shelter-a", Count: 10},
		{Path: "/locations/shelter-b", Count: 30},
		{Path: "/locations/pantry-c", Count: 10},
		{Path: "/about", Count: 99},
		{Path: "/locations/unknown", Count: 5},
	}
	got, dropped := AggregateRows(rows, bushwickResolver(t))

	assert.Equal(t, 2, dropped)
	require.Len(t, got, 2)
	assert.Equal(t, 1.0, got[Neighborhood("Bushwick")].Percentage)
	assert.InDelta(t, 0.25, got[Neighborhood("Astoria")].Percentage, 1e-12)
	assert.Equal(t, int64(50), got.Total())
}

func TestAggregate_Empty(t *testing.T) {
	assert.Empty(t, Aggregate(nil))
	assert.Empty(t, Aggregate([]Observation{{Count: 5}}))
	assert.Empty(t, Aggregate([]Observation{{Label: Neighborhood("A"), Count: 0}}))
}

func TestAggregate_DistrictsKeepIntegerKeys(t *testing.T) {
	got := Aggregate([]Observation{
		{Label: District(KindCommunity, 301), Count: 4},
		{Label: District(KindCommunity, 301), Count: 4},
		{Label: District(KindCommunity, 302), Count: 2},
	})
	assert.Equal(t, Buckets{
		District(KindCommunity, 301): {TotalCount: 8, Percentage: 1},
		District(KindCommunity, 302): {TotalCount: 2, Percentage: 0.25},
	}, got)
}

func TestAggregate_Properties(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	labels := []GeoLabel{
		{},
		Neighborhood("Bushwick"),
		Neighborhood("Astoria"),
		Neighborhood("Harlem"),
		District(KindSchool, 14),
	}

	for iter := 0; iter < 50; iter++ {
		obs := make([]Observation, rng.IntN(40))
		var rawSum, resolvableSum int64
		for i := range obs {
			obs[i] = Observation{Label: labels[rng.IntN(len(labels))], Count: rng.Int64N(1000)}
			rawSum += obs[i].Count
			if !obs[i].Label.IsZero() {
				resolvableSum += obs[i].Count
			}
		}

		got := Aggregate(obs)
		assert.LessOrEqual(t, got.Total(), rawSum)
		if len(got) > 0 {
			assert.Equal(t, resolvableSum, got.Total())
		}

		var sawMax bool
		for _, b := range got {
			assert.LessOrEqual(t, b.Percentage, 1.0)
			if b.Percentage == 1.0 {
				sawMax = true
			}
		}
		if len(got) > 0 {
			assert.True(t, sawMax, "busiest bucket must have percentage 1")
		}

		shuffled := append([]Observation(nil), obs...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		assert.Equal(t, got, Aggregate(shuffled))
	}
}
