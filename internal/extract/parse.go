package extract

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/user/maps-harvester/internal/domain"
)

var (
	placeIDPattern     = regexp.MustCompile(`(?i)!1s(0x[a-f0-9]+:0x[a-f0-9]+)`)
	nameFromURLPattern = regexp.MustCompile(`/maps/place/([^/?#]+)`)
	coordsPattern      = regexp.MustCompile(`@(-?\d+\.\d+),(-?\d+\.\d+)`)
	numberPattern      = regexp.MustCompile(`\d[\d.,]*`)
	ratingPattern      = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	parenCountPattern  = regexp.MustCompile(`\(\s*(\d[\d.,\s]*)\)`)
	pricePattern       = regexp.MustCompile(`\${1,4}`)
	singleDigitPattern = regexp.MustCompile(`\d`)
)

// PlaceIDFromURL extracts the provider place identifier embedded in a
// detail-view URL.
func PlaceIDFromURL(u string) string {
	if m := placeIDPattern.FindStringSubmatch(u); m != nil {
		return strings.ToLower(m[1])
	}
	return ""
}

// NameFromURL decodes the name token of a /maps/place/<name>/ URL.
func NameFromURL(u string) string {
	m := nameFromURLPattern.FindStringSubmatch(u)
	if m == nil {
		return ""
	}
	name, err := url.PathUnescape(m[1])
	if err != nil {
		name = m[1]
	}
	return strings.TrimSpace(strings.ReplaceAll(name, "+", " "))
}

// CoordinatesFromURL parses the @lat,lng encoding a detail view carries in
// its own location.
func CoordinatesFromURL(u string) *domain.Coordinates {
	m := coordsPattern.FindStringSubmatch(u)
	if m == nil {
		return nil
	}
	lat, err1 := strconv.ParseFloat(m[1], 64)
	lng, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil
	}
	return &domain.Coordinates{Lat: lat, Lng: lng}
}

// parseRating reads a 0-5 rating rounded to one decimal; "4,6" and "4.6"
// are both accepted.
func parseRating(s string) (float64, bool) {
	m := ratingPattern.FindString(s)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.Replace(m, ",", ".", 1), 64)
	if err != nil || v < 0 || v > 5 {
		return 0, false
	}
	return float64(int(v*10+0.5)) / 10, true
}

// parseCount reads an integer that may use "." or "," as thousands
// separators ("1.234", "1,234").
func parseCount(s string) (int, bool) {
	m := numberPattern.FindString(s)
	if m == "" {
		return 0, false
	}
	return atoiDigits(m)
}

func atoiDigits(s string) (int, bool) {
	digits := onlyDigits(s)
	if digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// unwrapRedirect turns a google.com/url?q=<target> link into its target.
func unwrapRedirect(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if strings.HasSuffix(u.Hostname(), "google.com") && u.Path == "/url" {
		if q := u.Query().Get("q"); q != "" {
			return q
		}
		if q := u.Query().Get("url"); q != "" {
			return q
		}
	}
	return raw
}
