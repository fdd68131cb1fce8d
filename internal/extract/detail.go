// Package extract turns rendered map markup into candidates and business
// records. Every field is located through an ordered list of strategies
// and a miss leaves the field empty instead of failing the record.
package extract

import (
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/user/maps-harvester/internal/domain"
)

const (
	maxTopReviews  = 3
	maxReviewRunes = 300

	DefaultPhoneCountryPrefix = "52"
)

var nameSelectors = []string{
	`h1.DUwDvf`,
	`h1[class*="fontHeadlineLarge"]`,
	`h1[class*="headline"]`,
	`div[role="main"] h1`,
	`h1`,
}

// Extractor builds records out of detail-view snapshots.
type Extractor struct {
	countryPrefix string
	logger        *zap.Logger
	now           func() time.Time
}

func NewExtractor(countryPrefix string, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{countryPrefix: countryPrefix, logger: logger, now: time.Now}
}

// Detail parses one detail view. location is the page's current URL and
// knownName the display name seen on the feed, used as the last name
// fallback. It never fails: an unparsable document yields a record with the
// fallback name only.
func (e *Extractor) Detail(html, location, knownName string) domain.BusinessRecord {
	rec := domain.BusinessRecord{
		ProfileURL: location,
		PlaceID:    PlaceIDFromURL(location),
		ScrapedAt:  e.now(),
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		e.logger.Debug("detail document not parsable", zap.String("url", location), zap.Error(err))
		rec.Name = fallbackName(NameFromURL(location), knownName)
		return rec
	}

	rec.Name = e.field(doc, "name",
		textOf(nameSelectors...),
		func(*goquery.Document) string { return NameFromURL(location) },
		func(*goquery.Document) string { return knownName },
	)
	if rec.Name == "" {
		rec.Name = fallbackName("", "")
	}

	if v, ok := parseRating(e.field(doc, "rating", ratingStrategies...)); ok {
		rec.Rating = &v
	}
	if v, ok := parseCount(e.field(doc, "reviewCount", reviewCountStrategies...)); ok {
		rec.ReviewCount = &v
	}

	rec.Categories = categories(doc)
	if len(rec.Categories) > 0 {
		rec.Category = rec.Categories[0]
	}

	rec.Address = e.field(doc, "address",
		itemText(`button[data-item-id="address"]`),
		labelAfterColon(`button[aria-label^="Dirección"], button[aria-label^="Address"]`),
	)
	rec.Website = unwrapRedirect(e.field(doc, "website",
		attrOf("href", `a[data-item-id="authority"]`),
		attrOf("href", `a[aria-label^="Sitio web"], a[aria-label^="Website"]`),
	))
	rec.Phone = extractPhone(doc, e.countryPrefix)
	if rec.Phone == "" {
		e.logger.Debug("field not found", zap.String("field", "phone"))
	}

	rec.Hours, rec.IsOpenNow = hours(e.field(doc, "hours",
		itemText(`button[data-item-id="oh"]`),
		itemText(`div[data-item-id="oh"]`),
		attrOf("aria-label", `div[aria-label*="horario"], div[aria-label*="hours"]`),
	))
	rec.PlusCode = e.field(doc, "plusCode", itemText(`button[data-item-id="oloc"]`))
	rec.Coordinates = CoordinatesFromURL(location)
	rec.PriceLevel = priceLevel(doc)
	rec.Attributes = attributes(doc)
	rec.Services = services(doc)

	rec.MenuURL = unwrapRedirect(e.field(doc, "menuUrl", attrOf("href", `a[data-item-id="menu"]`)))
	rec.ReservationURL = unwrapRedirect(e.field(doc, "reservationUrl",
		attrOf("href", `a[data-item-id="reservations"]`),
		attrOf("href", `a[data-item-id^="action:4"]`),
	))
	rec.OrderURL = unwrapRedirect(e.field(doc, "orderUrl",
		attrOf("href", `a[data-item-id^="action:2"]`),
		attrOf("href", `a[aria-label*="Pedir"], a[aria-label*="Order"]`),
	))

	rec.MainPhoto = e.field(doc, "mainPhoto",
		attrOf("src", `button[class*="aoRNLd"] img`, `img[class*="Ia"]`),
	)
	if n, ok := parseCount(e.field(doc, "photosCount",
		attrOf("aria-label", `button[aria-label*="fotos"], button[aria-label*="photos"]`),
	)); ok {
		rec.PhotosCount = n
	}

	rec.TopReviews = topReviews(doc)
	rec.Claimed = present(doc, `[aria-label*="verificado"], [aria-label*="verified"]`)

	return rec
}

func (e *Extractor) field(doc *goquery.Document, name string, strategies ...strategy) string {
	v := firstOf(doc, strategies...)
	if v == "" {
		e.logger.Debug("field not found", zap.String("field", name))
	}
	return v
}

// Fallback builds the name-only record for a candidate whose extraction
// failed.
func (e *Extractor) Fallback(c domain.CandidateEntry, cause error) domain.BusinessRecord {
	msg := "extraction failed"
	if cause != nil {
		msg = cause.Error()
	}
	return domain.BusinessRecord{
		Name:       fallbackName(c.Name, NameFromURL(c.URL)),
		ProfileURL: c.URL,
		ScrapedAt:  e.now(),
		Error:      msg,
	}
}

func fallbackName(names ...string) string {
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			return n
		}
	}
	return "Unnamed business"
}

var ratingStrategies = []strategy{
	textOf(`div.F7nice span[aria-hidden="true"]`),
	attrOf("aria-label", `span[role="img"][aria-label*="estrellas"]`, `span[role="img"][aria-label*="stars"]`),
}

// Three independent ways of finding the review count; none is reliable on
// its own.
var reviewCountStrategies = []strategy{
	func(doc *goquery.Document) string {
		if m := parenCountPattern.FindStringSubmatch(doc.Find(`div.F7nice`).First().Text()); m != nil {
			return m[1]
		}
		return ""
	},
	func(doc *goquery.Document) string {
		var found string
		doc.Find(`[aria-label*="opiniones"], [aria-label*="reseñas"], [aria-label*="reviews"]`).EachWithBreak(
			func(_ int, s *goquery.Selection) bool {
				label, _ := s.Attr("aria-label")
				if m := numberPattern.FindString(label); m != "" && !strings.Contains(label, "estrellas") && !strings.Contains(label, "stars") {
					found = m
					return false
				}
				return true
			})
		return found
	},
	func(doc *goquery.Document) string {
		text := doc.Find(`button[jsaction*="reviewChart"], button[jsaction*="moreReviews"]`).First().Text()
		return numberPattern.FindString(text)
	},
}

func categories(doc *goquery.Document) []string {
	var out []string
	seen := map[string]bool{}
	doc.Find(`button[jsaction*="category"]`).Each(func(_ int, s *goquery.Selection) {
		if c := cleanText(s.Text()); c != "" && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	})
	return out
}

func hours(text string) (string, *bool) {
	if text == "" {
		return "", nil
	}
	for _, cut := range []string{"Ver más", "Ver mas", "See more"} {
		if i := strings.Index(text, cut); i >= 0 {
			text = strings.TrimSpace(text[:i])
		}
	}
	lower := strings.ToLower(text)
	var open *bool
	switch {
	case strings.Contains(lower, "cerrado") || strings.Contains(lower, "closed"):
		v := false
		open = &v
	case strings.Contains(lower, "abierto") || strings.Contains(lower, "open"):
		v := true
		open = &v
	}
	return text, open
}

func priceLevel(doc *goquery.Document) string {
	var level string
	doc.Find(`[aria-label*="Precio"], [aria-label*="Price"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		label, _ := s.Attr("aria-label")
		if m := pricePattern.FindString(label + " " + s.Text()); m != "" {
			level = m
			return false
		}
		return true
	})
	return level
}

func attributes(doc *goquery.Document) domain.Attributes {
	return domain.Attributes{
		Delivery:   present(doc, `[data-item-id*="delivery"], [aria-label*="Entrega"], [aria-label*="Delivery"]`),
		Takeout:    present(doc, `[data-item-id*="takeout"], [aria-label*="Para llevar"], [aria-label*="Takeout"]`),
		DineIn:     present(doc, `[data-item-id*="dine_in"], [aria-label*="Comer"], [aria-label*="Dine-in"]`),
		Curbside:   present(doc, `[data-item-id*="curbside"], [aria-label*="Recoger"], [aria-label*="Curbside"]`),
		Wheelchair: present(doc, `[aria-label*="silla de ruedas"], [aria-label*="wheelchair"], [aria-label*="Wheelchair"]`),
		WiFi:       present(doc, `[aria-label*="Wi-Fi"], [aria-label*="WiFi"]`),
		Parking:    present(doc, `[aria-label*="Estacionamiento"], [aria-label*="parking"], [aria-label*="Parking"]`),
	}
}

func services(doc *goquery.Document) []string {
	var out []string
	doc.Find(`[data-item-id^="place-info-links"]`).Each(func(_ int, s *goquery.Selection) {
		if t := cleanText(s.Text()); t != "" {
			out = append(out, t)
		}
	})
	return out
}

func topReviews(doc *goquery.Document) []domain.Review {
	var out []domain.Review
	seen := map[string]bool{}
	doc.Find(`div[data-review-id], div.jftiEf`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if id, ok := s.Attr("data-review-id"); ok {
			if seen[id] {
				return true
			}
			seen[id] = true
		}
		r := domain.Review{
			Author: cleanText(s.Find(`.d4r55, .WNxzHc`).First().Text()),
			Text:   truncateRunes(cleanText(s.Find(`.wiI7pd, .MyEned`).First().Text()), maxReviewRunes),
			Date:   cleanText(s.Find(`.rsqaWe, .DU9Pgb`).First().Text()),
		}
		label, _ := s.Find(`span[aria-label*="estrellas"], span[aria-label*="stars"]`).First().Attr("aria-label")
		if m := singleDigitPattern.FindString(label); m != "" {
			r.Rating, _ = strconv.Atoi(m)
		}
		if r.Author != "" || r.Text != "" {
			out = append(out, r)
		}
		return len(out) < maxTopReviews
	})
	return out
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
