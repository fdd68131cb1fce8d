package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// strategy is one way of locating a field; it returns "" on a miss.
type strategy func(doc *goquery.Document) string

// firstOf runs strategies in order and returns the first non-empty value.
func firstOf(doc *goquery.Document, strategies ...strategy) string {
	for _, s := range strategies {
		if v := strings.TrimSpace(s(doc)); v != "" {
			return v
		}
	}
	return ""
}

// textOf matches the first element with more than one character of text.
func textOf(selectors ...string) strategy {
	return func(doc *goquery.Document) string {
		for _, sel := range selectors {
			var found string
			doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
				if t := cleanText(s.Text()); len([]rune(t)) > 1 {
					found = t
					return false
				}
				return true
			})
			if found != "" {
				return found
			}
		}
		return ""
	}
}

// attrOf matches the first element carrying a non-empty attribute.
func attrOf(attr string, selectors ...string) strategy {
	return func(doc *goquery.Document) string {
		for _, sel := range selectors {
			if v, ok := doc.Find(sel).First().Attr(attr); ok && strings.TrimSpace(v) != "" {
				return v
			}
		}
		return ""
	}
}

// itemText reads the label text inside a data-item-id button or link.
func itemText(selector string) strategy {
	return func(doc *goquery.Document) string {
		el := doc.Find(selector).First()
		if el.Length() == 0 {
			return ""
		}
		if t := cleanText(el.Find(".Io6YTe, .fontBodyMedium").First().Text()); t != "" {
			return t
		}
		return cleanText(el.Text())
	}
}

// labelAfterColon reads "Label: value" aria-labels.
func labelAfterColon(selector string) strategy {
	return func(doc *goquery.Document) string {
		label, _ := doc.Find(selector).First().Attr("aria-label")
		if i := strings.Index(label, ":"); i >= 0 {
			return label[i+1:]
		}
		return ""
	}
}

func present(doc *goquery.Document, selector string) bool {
	return doc.Find(selector).Length() > 0
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
