package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/user/maps-harvester/internal/domain"
	"github.com/user/maps-harvester/pkg/utils"
)

const (
	FeedSelector = `div[role="feed"]`
	CardSelector = `div[role="feed"] a[href*="/maps/place/"]`

	mapsOrigin = "https://www.google.com"
)

var cardNameSelectors = []string{
	`.fontHeadlineSmall`,
	`[class*="qBF1Pd"]`,
	`h3`,
}

// Candidates enumerates the feed cards of a results page, in feed order,
// skipping repeated links and stopping at max (0 means no cap).
func Candidates(html string, max int) []domain.CandidateEntry {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	base, _ := url.Parse(mapsOrigin)

	var out []domain.CandidateEntry
	seen := map[string]bool{}
	doc.Find(CardSelector).EachWithBreak(func(_ int, card *goquery.Selection) bool {
		href, _ := card.Attr("href")
		abs, err := utils.ToAbsoluteURL(base, href)
		if err != nil || abs == "" || seen[abs] {
			return true
		}
		seen[abs] = true
		out = append(out, domain.CandidateEntry{Name: cardName(card, abs), URL: abs})
		return max <= 0 || len(out) < max
	})
	return out
}

func cardName(card *goquery.Selection, href string) string {
	for _, sel := range cardNameSelectors {
		if t := cleanText(card.Find(sel).First().Text()); len([]rune(t)) > 1 {
			return t
		}
	}
	if label, ok := card.Attr("aria-label"); ok && len([]rune(strings.TrimSpace(label))) > 1 {
		return strings.TrimSpace(label)
	}
	// The visible title usually sits next to the anchor, not inside it.
	parent := card.Parent()
	for _, sel := range cardNameSelectors {
		if t := cleanText(parent.Find(sel).First().Text()); len([]rune(t)) > 1 {
			return t
		}
	}
	return NameFromURL(href)
}

// PlaceURL reports whether a location is a single place detail view rather
// than a results feed.
func PlaceURL(location string) bool {
	return strings.Contains(location, "/maps/place/")
}
