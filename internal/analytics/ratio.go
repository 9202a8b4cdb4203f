package analytics

import (
	"math/big"

	"github.com/rotisserie/eris"
)

// TaxonomyCount is one row of the catalog taxonomy join: how many services at
// the location reached by slug fall under a top-level taxonomy name.
type TaxonomyCount struct {
	Slug         string
	CategoryName string
	Count        int64
}

// RatioTable maps a location slug to its service count in each category.
// The fraction of a category is its count over the slug's total; counts are
// kept as integers so shares stay exact. Read-only once built.
type RatioTable map[string]Tally[Category, int64]

// BuildCategoryRatios collapses taxonomy counts into per-slug category
// counts. Slugs whose counts total zero get no entry. An unmapped taxonomy
// name fails the whole table.
func BuildCategoryRatios(counts []TaxonomyCount) (RatioTable, error) {
	per := make(Matrix[string, Category, int64])
	for _, tc := range counts {
		if tc.Count < 0 {
			return nil, eris.Wrapf(ErrMalformedRow, "analytics: negative service count %d for %q", tc.Count, tc.Slug)
		}
		c, err := CategoryForTaxonomy(tc.CategoryName)
		if err != nil {
			return nil, eris.Wrapf(err, "analytics: location %q", tc.Slug)
		}
		if tc.Count == 0 {
			continue
		}
		per.Add(tc.Slug, c, tc.Count)
	}

	table := make(RatioTable, len(per))
	for slug, cats := range per {
		if cats.Sum() == 0 {
			continue
		}
		table[slug] = cats
	}
	return table, nil
}

// Shares returns the exact fraction of slug's services in each category, or
// false when slug has no services.
func (t RatioTable) Shares(slug string) (map[Category]*big.Rat, bool) {
	cats, ok := t[slug]
	if !ok {
		return nil, false
	}
	total := cats.Sum()
	if total <= 0 {
		return nil, false
	}
	shares := make(map[Category]*big.Rat, len(cats))
	for c, n := range cats {
		shares[c] = big.NewRat(n, total)
	}
	return shares, true
}
