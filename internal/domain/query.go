package domain

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	MinResults     = 10
	MaxResults     = 500
	DefaultResults = 50

	mapsSearchBase = "https://www.google.com/maps/search/"
)

// IsCoordMode reports whether the query searches around a point rather
// than a named city.
func (q SearchQuery) IsCoordMode() bool {
	return q.Coordinates != nil && q.RadiusKm > 0
}

// Normalize fills defaults and clamps the result cap into [MinResults, MaxResults].
func (q SearchQuery) Normalize() SearchQuery {
	q.BusinessType = strings.TrimSpace(q.BusinessType)
	q.City = strings.TrimSpace(q.City)
	q.Country = strings.TrimSpace(q.Country)
	q.MaxResults = ClampResults(q.MaxResults, DefaultResults)
	return q
}

// ClampResults applies the result cap bounds, using def for a zero value.
func ClampResults(n, def int) int {
	if n <= 0 {
		n = def
	}
	if n < MinResults {
		return MinResults
	}
	if n > MaxResults {
		return MaxResults
	}
	return n
}

// Validate checks the query shape: a business type plus exactly one of
// city/country or coordinates/radius.
func (q SearchQuery) Validate() error {
	if q.BusinessType == "" {
		return fmt.Errorf("%w: businessType is required", ErrInvalidQuery)
	}
	hasCity := q.City != ""
	hasCoords := q.Coordinates != nil
	switch {
	case hasCity && hasCoords:
		return fmt.Errorf("%w: use either city/country or coordinates/radius, not both", ErrInvalidQuery)
	case !hasCity && !hasCoords:
		return fmt.Errorf("%w: city/country or coordinates/radius is required", ErrInvalidQuery)
	}
	if hasCoords {
		c := q.Coordinates
		if c.Lat < -90 || c.Lat > 90 || c.Lng < -180 || c.Lng > 180 {
			return fmt.Errorf("%w: coordinates out of range", ErrInvalidQuery)
		}
		if q.RadiusKm <= 0 {
			return fmt.Errorf("%w: radius must be positive", ErrInvalidQuery)
		}
	}
	if q.Filters.MinRating < 0 || q.Filters.MinRating > 5 {
		return fmt.Errorf("%w: minRating must be within 0-5", ErrInvalidQuery)
	}
	if q.Filters.MinReviews < 0 {
		return fmt.Errorf("%w: minReviews must not be negative", ErrInvalidQuery)
	}
	return nil
}

// ZoomForRadius maps a search radius to a map zoom level.
func ZoomForRadius(radiusKm float64) int {
	switch {
	case radiusKm <= 0.5:
		return 17
	case radiusKm <= 1:
		return 16
	case radiusKm <= 2:
		return 15
	case radiusKm <= 5:
		return 14
	case radiusKm <= 10:
		return 13
	case radiusKm <= 20:
		return 12
	case radiusKm <= 50:
		return 11
	default:
		return 10
	}
}

// Text is the free-text search as typed into the map search box.
func (q SearchQuery) Text() string {
	if q.IsCoordMode() {
		return q.BusinessType
	}
	place := q.City
	if q.Country != "" {
		place += ", " + q.Country
	}
	return q.BusinessType + " en " + place
}

// Label is a short human description used in logs and file names.
func (q SearchQuery) Label() string {
	if q.IsCoordMode() {
		return fmt.Sprintf("%s @ %s,%s (%gkm)", q.BusinessType,
			formatCoord(q.Coordinates.Lat), formatCoord(q.Coordinates.Lng), q.RadiusKm)
	}
	return q.Text()
}

// SearchURL builds the feed URL for the query.
func (q SearchQuery) SearchURL() string {
	if q.IsCoordMode() {
		return mapsSearchBase + url.PathEscape(q.BusinessType) +
			"/@" + formatCoord(q.Coordinates.Lat) + "," + formatCoord(q.Coordinates.Lng) + "," +
			strconv.Itoa(ZoomForRadius(q.RadiusKm)) + "z"
	}
	return mapsSearchBase + url.PathEscape(q.Text())
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
