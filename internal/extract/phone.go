package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const minPhoneDigits = 7

var (
	phoneIDPattern    = regexp.MustCompile(`phone:tel:(\S+)`)
	phoneLabelPattern = regexp.MustCompile(`(?i)(?:tel[ée]fono|phone|llamar|call)\s*:?\s*([+\d][\d\s().-]{5,})`)
	phoneWords        = []string{"teléfono", "telefono", "phone", "llamar", "call"}
)

// NormalizePhone strips separators and a leading +<countryPrefix>. It
// returns "" when fewer than seven digits remain.
func NormalizePhone(raw, countryPrefix string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "tel:")
	plus := strings.HasPrefix(s, "+")
	digits := onlyDigits(s)
	if plus && countryPrefix != "" && strings.HasPrefix(digits, countryPrefix) &&
		len(digits)-len(countryPrefix) >= minPhoneDigits {
		digits = digits[len(countryPrefix):]
		plus = false
	}
	if len(digits) < minPhoneDigits {
		return ""
	}
	if plus {
		return "+" + digits
	}
	return digits
}

// phoneStrategies resolves the raw phone in priority order: the phone
// button's data-item-id, its aria-label or text, a tel: link, then any
// aria-labelled control that talks about calling.
var phoneStrategies = []strategy{
	func(doc *goquery.Document) string {
		id, _ := doc.Find(`button[data-item-id^="phone:"]`).First().Attr("data-item-id")
		if m := phoneIDPattern.FindStringSubmatch(id); m != nil {
			return m[1]
		}
		return ""
	},
	func(doc *goquery.Document) string {
		btn := doc.Find(`button[data-item-id^="phone:"]`).First()
		if label, ok := btn.Attr("aria-label"); ok {
			if m := phoneLabelPattern.FindStringSubmatch(label); m != nil {
				return m[1]
			}
		}
		return btn.Find(".Io6YTe, .fontBodyMedium").First().Text()
	},
	func(doc *goquery.Document) string {
		href, _ := doc.Find(`a[href^="tel:"]`).First().Attr("href")
		return strings.TrimPrefix(href, "tel:")
	},
	func(doc *goquery.Document) string {
		var found string
		doc.Find("[aria-label]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			label, _ := s.Attr("aria-label")
			lower := strings.ToLower(label)
			for _, w := range phoneWords {
				if strings.Contains(lower, w) {
					if m := phoneLabelPattern.FindStringSubmatch(label); m != nil {
						found = m[1]
						return false
					}
				}
			}
			return true
		})
		return found
	},
}

func extractPhone(doc *goquery.Document, countryPrefix string) string {
	for _, s := range phoneStrategies {
		if p := NormalizePhone(s(doc), countryPrefix); p != "" {
			return p
		}
	}
	return ""
}
