package analytics

// Flow is a bipartite count matrix indexed from both ends. Forward[a][b] and
// Backward[b][a] always hold the same count.
type Flow struct {
	Forward  Matrix[GeoLabel, GeoLabel, int64] `json:"forward"`
	Backward Matrix[GeoLabel, GeoLabel, int64] `json:"backward"`
}

// BuildFlow links units resolved by from with units resolved by to through
// each row. A row missing either end is dropped; there are no partial edges.
// Both matrices are filled in the same pass.
func BuildFlow(rows []EventRow, from, to Resolver) (Flow, int) {
	f := Flow{
		Forward:  make(Matrix[GeoLabel, GeoLabel, int64]),
		Backward: make(Matrix[GeoLabel, GeoLabel, int64]),
	}
	dropped := 0
	for _, row := range rows {
		a, ok := from.Resolve(row)
		if !ok {
			dropped++
			continue
		}
		b, ok := to.Resolve(row)
		if !ok {
			dropped++
			continue
		}
		f.Forward.Add(a, b, row.Count)
		f.Backward.Add(b, a, row.Count)
	}
	return f, dropped
}
