package analytics

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Category is a top-level service category. The six named categories double
// as the first path segment of their listing pages.
type Category string

// Service categories.
const (
	CategoryShelter      Category = "shelters-housing"
	CategoryFood         Category = "food"
	CategoryClothing     Category = "clothing"
	CategoryPersonalCare Category = "personal-care"
	CategoryHealth       Category = "health-care"
	CategoryOther        Category = "other-services"

	// CategoryUnknown collects counts that cannot be attributed.
	CategoryUnknown Category = "unknown"
)

// Categories lists the six service categories.
var Categories = []Category{
	CategoryShelter,
	CategoryFood,
	CategoryClothing,
	CategoryPersonalCare,
	CategoryHealth,
	CategoryOther,
}

// taxonomyCategories maps top-level taxonomy names in the catalog to
// categories. It is exhaustive: any other name is schema drift.
var taxonomyCategories = map[string]Category{
	"shelter":       CategoryShelter,
	"food":          CategoryFood,
	"clothing":      CategoryClothing,
	"personal care": CategoryPersonalCare,
	"health":        CategoryHealth,
	"other service": CategoryOther,
}

// ParseCategory reports whether s names one of the six service categories.
func ParseCategory(s string) (Category, bool) {
	c := Category(s)
	for _, known := range Categories {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// CategoryForTaxonomy maps a top-level taxonomy name to its category.
func CategoryForTaxonomy(name string) (Category, error) {
	c, ok := taxonomyCategories[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", eris.Wrapf(ErrUnknownCategory, "analytics: taxonomy %q", name)
	}
	return c, nil
}
