package analytics

import "math/big"

// CategoryCounts holds exact fractional counts per geography unit and
// category.
type CategoryCounts map[GeoLabel]map[Category]*big.Rat

func (cc CategoryCounts) add(l GeoLabel, c Category, v *big.Rat) {
	inner, ok := cc[l]
	if !ok {
		inner = make(map[Category]*big.Rat)
		cc[l] = inner
	}
	if cur, ok := inner[c]; ok {
		cur.Add(cur, v)
		return
	}
	inner[c] = new(big.Rat).Set(v)
}

// Distribute spreads each row's count over its category weights (see
// Weights) and accumulates the result under the row's resolved unit. Rows
// that do not resolve are dropped whole; the second result counts them.
// Accumulation is exact, so the result does not depend on row order.
func Distribute(rows []EventRow, r Resolver, ratios RatioTable) (CategoryCounts, int) {
	acc := make(CategoryCounts)
	dropped := 0
	var term big.Rat
	for _, row := range rows {
		l, ok := r.Resolve(row)
		if !ok {
			dropped++
			continue
		}
		for c, w := range Weights(row, ratios) {
			term.SetInt64(row.Count)
			acc.add(l, c, term.Mul(&term, w))
		}
	}
	return acc, dropped
}

// Truncated converts the fractional counts to integers, truncating toward
// zero. This is the only rounding step.
func (cc CategoryCounts) Truncated() map[GeoLabel]map[Category]int64 {
	out := make(map[GeoLabel]map[Category]int64, len(cc))
	for l, cats := range cc {
		inner := make(map[Category]int64, len(cats))
		for c, v := range cats {
			inner[c] = new(big.Int).Quo(v.Num(), v.Denom()).Int64()
		}
		out[l] = inner
	}
	return out
}
