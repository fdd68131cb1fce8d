package crawler

import (
	"strings"
	"unicode"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/user/maps-harvester/internal/domain"
)

// filter reports why r must be dropped, or "" to keep it.
type filter func(q domain.SearchQuery, r *domain.BusinessRecord) string

// filters returns the predicates active for q under cfg.
func filters(q domain.SearchQuery, cfg FilterConfig) []filter {
	var out []filter
	f := q.Filters
	if f.MinRating > 0 {
		out = append(out, minRating)
	}
	if f.MinReviews > 0 {
		out = append(out, minReviews)
	}
	if f.RequirePhone {
		out = append(out, requireField("phone", func(r *domain.BusinessRecord) string { return r.Phone }))
	}
	if f.RequireWebsite {
		out = append(out, requireField("website", func(r *domain.BusinessRecord) string { return r.Website }))
	}
	if f.RequireDelivery {
		out = append(out, requireDelivery)
	}
	if cfg.CityMatch && !q.IsCoordMode() && q.City != "" {
		out = append(out, cityMatch)
	}
	if cfg.GeoRadius && q.IsCoordMode() {
		out = append(out, withinRadius(cfg.GeoSlack))
	}
	return out
}

// rejectReason runs fs in order. Fallback records are never filtered.
func rejectReason(fs []filter, q domain.SearchQuery, r *domain.BusinessRecord) string {
	if r.IsFallback() {
		return ""
	}
	for _, f := range fs {
		if reason := f(q, r); reason != "" {
			return reason
		}
	}
	return ""
}

// Rating and review filters only judge records that carry the value.
func minRating(q domain.SearchQuery, r *domain.BusinessRecord) string {
	if r.Rating != nil && *r.Rating < q.Filters.MinRating {
		return "rating below minimum"
	}
	return ""
}

func minReviews(q domain.SearchQuery, r *domain.BusinessRecord) string {
	if r.ReviewCount != nil && *r.ReviewCount < q.Filters.MinReviews {
		return "too few reviews"
	}
	return ""
}

func requireField(name string, get func(*domain.BusinessRecord) string) filter {
	return func(_ domain.SearchQuery, r *domain.BusinessRecord) string {
		if strings.TrimSpace(get(r)) == "" {
			return "missing " + name
		}
		return ""
	}
}

func requireDelivery(_ domain.SearchQuery, r *domain.BusinessRecord) string {
	if !r.Attributes.Delivery {
		return "no delivery"
	}
	return ""
}

func cityMatch(q domain.SearchQuery, r *domain.BusinessRecord) string {
	if r.Address == "" {
		return ""
	}
	if !strings.Contains(fold(r.Address), fold(q.City)) {
		return "address outside " + q.City
	}
	return ""
}

func withinRadius(slack float64) filter {
	return func(q domain.SearchQuery, r *domain.BusinessRecord) string {
		if r.Coordinates == nil {
			return ""
		}
		centre := orb.Point{q.Coordinates.Lng, q.Coordinates.Lat}
		at := orb.Point{r.Coordinates.Lng, r.Coordinates.Lat}
		if geo.DistanceHaversine(centre, at) > q.RadiusKm*1000*slack {
			return "outside search radius"
		}
		return ""
	}
}

// fold lowercases s and strips diacritics, so "Querétaro" matches
// "queretaro".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}
