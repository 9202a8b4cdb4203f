package analytics

import (
	"math/big"
	"strings"
)

// ExtractLocationSlug returns the slug of a /locations/<slug> path. The path
// must split into exactly three parts on "/" with "locations" second, so
// "/locations/x/" and "/en/locations/x" do not match.
func ExtractLocationSlug(path string) (string, bool) {
	parts := strings.Split(path, "/")
	if len(parts) != 3 || parts[1] != "locations" || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}

// firstSegment returns the first component of a path, ignoring a leading slash.
func firstSegment(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}

// ExtractCategory returns the single category a path or its referring route
// names. It does not consult category ratios; see Weights for that.
func ExtractCategory(path, previousRoute string) (Category, bool) {
	if c, ok := ParseCategory(firstSegment(path)); ok {
		return c, true
	}
	if c, ok := ParseCategory(firstSegment(previousRoute)); ok {
		return c, true
	}
	return "", false
}

// Weights returns the category weights of one row: a single full-weight
// category from its path or previous route, else the ratio entry of its
// location slug, else unknown. Weights of one row sum to exactly 1.
func Weights(row EventRow, ratios RatioTable) map[Category]*big.Rat {
	if c, ok := ExtractCategory(row.Path, row.PreviousRoute); ok {
		return map[Category]*big.Rat{c: big.NewRat(1, 1)}
	}
	if slug, ok := ExtractLocationSlug(row.Path); ok {
		if shares, ok := ratios.Shares(slug); ok {
			return shares
		}
	}
	return map[Category]*big.Rat{CategoryUnknown: big.NewRat(1, 1)}
}
