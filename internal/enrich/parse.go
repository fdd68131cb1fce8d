package enrich

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/user/maps-harvester/internal/domain"
	"github.com/user/maps-harvester/pkg/utils"
)

const maxEmailLength = 60

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

	// Substrings that mark asset names, placeholders and tooling addresses.
	emailExclusions = []string{"example", "email@", "@sentry", "webpack", ".png", ".jpg", ".gif", ".svg", ".webp"}

	instagramPattern = regexp.MustCompile(`instagram\.com/([a-zA-Z0-9_.]+)`)
	facebookPattern  = regexp.MustCompile(`facebook\.com/([a-zA-Z0-9.]+)`)
	twitterPattern   = regexp.MustCompile(`(?:twitter\.com|x\.com)/([a-zA-Z0-9_]+)`)
	linkedinPattern  = regexp.MustCompile(`linkedin\.com/(?:company|in)/([a-zA-Z0-9-]+)`)
	youtubePattern   = regexp.MustCompile(`youtube\.com/(?:(?:channel|c|user)/|@)([a-zA-Z0-9_-]+)`)
	tiktokPattern    = regexp.MustCompile(`tiktok\.com/@([a-zA-Z0-9_.]+)`)
	whatsappPatterns = []*regexp.Regexp{
		regexp.MustCompile(`wa\.me/(\+?\d+)`),
		regexp.MustCompile(`whatsapp\.com/send/?\?phone=(\+?\d+)`),
	}

	// Path tokens that are share widgets or pixels, not profiles.
	nonProfileTokens = map[string]bool{
		"tr": true, "sharer": true, "sharer.php": true, "share": true, "plugins": true,
		"dialog": true, "intent": true, "login": true, "p": true, "embed": true,
	}

	contactWords = []string{"contacto", "contact", "contactanos", "contáctanos"}
)

// pageData is what a single website page yields.
type pageData struct {
	Emails  []string
	Social  domain.SocialHandles
	Contact string
}

func parsePage(pageURL, html string) pageData {
	data := pageData{
		Emails: emails(html),
		Social: socials(html),
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return data
	}
	data.Emails = prependMailto(doc, data.Emails)
	data.Contact = contactLink(doc, pageURL)
	return data
}

// emails returns the plausible addresses in html, lower-cased, first
// occurrence order.
func emails(html string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range emailPattern.FindAllString(html, -1) {
		e := cleanEmail(m)
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

func cleanEmail(raw string) string {
	e := strings.ToLower(strings.Trim(strings.TrimSpace(raw), `.,;:<>()[]"'`))
	if len(e) >= maxEmailLength {
		return ""
	}
	for _, x := range emailExclusions {
		if strings.Contains(e, x) {
			return ""
		}
	}
	if !emailPattern.MatchString(e) {
		return ""
	}
	return e
}

// prependMailto puts mailto: addresses ahead of the ones scraped from text.
func prependMailto(doc *goquery.Document, found []string) []string {
	var mailto []string
	seen := map[string]bool{}
	doc.Find(`a[href]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if !strings.HasPrefix(strings.ToLower(href), "mailto:") {
			return
		}
		addr := href[len("mailto:"):]
		if i := strings.Index(addr, "?"); i >= 0 {
			addr = addr[:i]
		}
		if decoded, err := url.QueryUnescape(addr); err == nil {
			addr = decoded
		}
		if e := cleanEmail(addr); e != "" && !seen[e] {
			seen[e] = true
			mailto = append(mailto, e)
		}
	})
	if len(mailto) == 0 {
		return found
	}
	for _, e := range found {
		if !seen[e] {
			mailto = append(mailto, e)
		}
	}
	return mailto
}

func socials(html string) domain.SocialHandles {
	return domain.SocialHandles{
		Instagram: profileMatch(instagramPattern, html),
		Facebook:  profileMatch(facebookPattern, html),
		Twitter:   profileMatch(twitterPattern, html),
		LinkedIn:  profileMatch(linkedinPattern, html),
		YouTube:   profileMatch(youtubePattern, html),
		TikTok:    profileMatch(tiktokPattern, html),
		WhatsApp:  whatsapp(html),
	}
}

// profileMatch returns the first "<host>/<handle>" match whose handle is a
// real profile.
func profileMatch(re *regexp.Regexp, html string) string {
	for _, m := range re.FindAllStringSubmatch(html, -1) {
		if !nonProfileTokens[strings.ToLower(m[1])] {
			return m[0]
		}
	}
	return ""
}

func whatsapp(html string) string {
	for _, re := range whatsappPatterns {
		if m := re.FindStringSubmatch(html); m != nil {
			return m[1]
		}
	}
	return ""
}

// contactLink finds one same-host link that looks like a contact page.
func contactLink(doc *goquery.Document, pageURL string) string {
	base, err := url.Parse(pageURL)
	if err != nil || base.Host == "" {
		return ""
	}
	var found string
	doc.Find(`a[href]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "mailto:") {
			return true
		}
		abs, err := utils.ToAbsoluteURL(base, href)
		if err != nil || !utils.SameHost(abs, pageURL) {
			return true
		}
		combined := strings.ToLower(s.Text() + " " + href)
		for _, w := range contactWords {
			if strings.Contains(combined, w) {
				found = abs
				return false
			}
		}
		return true
	})
	return found
}

// normalizeWebsite gives a scheme-less website an https:// prefix.
func normalizeWebsite(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(raw), "http") {
		raw = "https://" + strings.TrimLeft(raw, "/")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.String()
}
