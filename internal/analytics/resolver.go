package analytics

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Resolver maps an event row to the geography unit it is counted under.
type Resolver interface {
	Resolve(row EventRow) (GeoLabel, bool)
}

// SlugGeo is one slug-to-unit containment result from the catalog.
type SlugGeo struct {
	Slug  string
	Label GeoLabel
}

// SlugResolver resolves rows through the location slug in their path.
type SlugResolver struct {
	kind   GeometryKind
	labels map[string]GeoLabel
}

// NewSlugResolver indexes catalog containment results for kind. Slugs are
// expected at most once; if the catalog returns several units for a slug the
// first one wins. Labels of another kind are rejected.
func NewSlugResolver(kind GeometryKind, pairs []SlugGeo) (*SlugResolver, error) {
	labels := make(map[string]GeoLabel, len(pairs))
	for _, p := range pairs {
		if p.Label.IsZero() {
			continue
		}
		if p.Label.Kind() != kind {
			return nil, eris.Wrapf(ErrInvalidKind, "analytics: slug %q resolved to %s, want %s", p.Slug, p.Label.Kind(), kind)
		}
		if prev, dup := labels[p.Slug]; dup {
			zap.L().Debug("analytics: slug contained in several units",
				zap.String("slug", p.Slug),
				zap.Stringer("kept", prev),
				zap.Stringer("ignored", p.Label),
			)
			continue
		}
		labels[p.Slug] = p.Label
	}
	return &SlugResolver{kind: kind, labels: labels}, nil
}

// Resolve implements Resolver.
func (r *SlugResolver) Resolve(row EventRow) (GeoLabel, bool) {
	slug, ok := ExtractLocationSlug(row.Path)
	if !ok {
		return GeoLabel{}, false
	}
	l, ok := r.labels[slug]
	return l, ok
}

// EmbeddedResolver passes through the geography the report embedded in the row.
type EmbeddedResolver struct {
	Kind GeometryKind
}

// Resolve implements Resolver.
func (r EmbeddedResolver) Resolve(row EventRow) (GeoLabel, bool) {
	return row.GeoFor(r.Kind)
}

// Slugs returns the distinct location slugs referenced by rows, in first-seen order.
func Slugs(rows []EventRow) []string {
	seen := make(map[string]struct{})
	var slugs []string
	for _, r := range rows {
		slug, ok := ExtractLocationSlug(r.Path)
		if !ok {
			continue
		}
		if _, dup := seen[slug]; dup {
			continue
		}
		seen[slug] = struct{}{}
		slugs = append(slugs, slug)
	}
	return slugs
}
