package analytics

// Bucket is the folded total of one geography unit. Percentage is the total
// relative to the busiest unit in the same result, not to the grand total.
type Bucket struct {
	TotalCount int64   `json:"total_count"`
	Percentage float64 `json:"percentage"`
}

// Buckets maps geography units to their folded totals.
type Buckets map[GeoLabel]Bucket

// Observation is a count attributed to a geography unit. An absent label
// means the count could not be placed.
type Observation struct {
	Label GeoLabel
	Count int64
}

// Aggregate sums observations per unit and normalizes each total against the
// largest. Observations with an absent label are skipped. When nothing
// remains, or every total is zero, the result is empty.
func Aggregate(obs []Observation) Buckets {
	totals := make(Tally[GeoLabel, int64])
	for _, o := range obs {
		if o.Label.IsZero() {
			continue
		}
		totals.Add(o.Label, o.Count)
	}

	maxTotal := totals.Max()
	if maxTotal == 0 {
		return Buckets{}
	}

	out := make(Buckets, len(totals))
	for l, n := range totals {
		out[l] = Bucket{
			TotalCount: n,
			Percentage: float64(n) / float64(maxTotal),
		}
	}
	return out
}

// AggregateRows resolves each row through r and aggregates the result. It
// also returns how many rows could not be resolved.
func AggregateRows(rows []EventRow, r Resolver) (Buckets, int) {
	obs := make([]Observation, 0, len(rows))
	dropped := 0
	for _, row := range rows {
		l, ok := r.Resolve(row)
		if !ok {
			dropped++
			continue
		}
		obs = append(obs, Observation{Label: l, Count: row.Count})
	}
	return Aggregate(obs), dropped
}

// Total returns the sum of all bucket totals.
func (b Buckets) Total() int64 {
	var n int64
	for _, bk := range b {
		n += bk.TotalCount
	}
	return n
}
