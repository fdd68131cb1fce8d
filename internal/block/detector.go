// Package block classifies loaded pages as clean or as an anti-automation
// response (rate limit, block page, captcha).
package block

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/user/maps-harvester/internal/domain"
)

// Verdict is the classification of one page. A zero Kind means clean.
type Verdict struct {
	Kind   domain.BlockKind
	Reason string
}

// Clean reports whether nothing suspicious was found.
func (v Verdict) Clean() bool {
	return v.Kind == ""
}

// Err converts a non-clean verdict into a run-fatal error.
func (v Verdict) Err(url string) error {
	if v.Clean() {
		return nil
	}
	return &domain.BlockedError{Kind: v.Kind, Reason: v.Reason, URL: url}
}

var (
	redirectPaths = []string{"/sorry/", "/sorry?"}

	captchaSelectors = []string{
		`iframe[src*="recaptcha"]`,
		`iframe[title*="reCAPTCHA"]`,
		`.g-recaptcha`,
		`#captcha-form`,
		`form[action*="sorry"]`,
	}

	captchaPhrases = []string{
		"unusual traffic",
		"not a robot",
		"tráfico inusual",
		"trafico inusual",
		"no eres un robot",
		"no soy un robot",
	}
	rateLimitPhrases = []string{
		"too many requests",
		"rate limit",
		"demasiadas solicitudes",
	}
	blockPhrases = []string{
		"access denied",
		"acceso denegado",
	}
	// Single words that also show up in ordinary business names, so they
	// only count on pages that carry no map content.
	weakBlockPhrases = []string{
		"blocked",
		"bloqueado",
	}

	contentSelectors = `div[role="feed"], div[role="main"]`
)

// Detect classifies a page from its current URL and rendered markup.
func Detect(pageURL, html string) Verdict {
	lowerURL := strings.ToLower(pageURL)
	for _, p := range redirectPaths {
		if strings.Contains(lowerURL, p) {
			return Verdict{Kind: domain.BlockBlocked, Reason: "redirected to block page " + p}
		}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Verdict{}
	}

	for _, sel := range captchaSelectors {
		if doc.Find(sel).Length() > 0 {
			return Verdict{Kind: domain.BlockCaptcha, Reason: "captcha widget " + sel}
		}
	}

	hasContent := doc.Find(contentSelectors).Length() > 0
	doc.Find("script, style, noscript").Remove()
	text := strings.ToLower(doc.Find("body").Text())

	if p, ok := containsAny(text, captchaPhrases); ok {
		return Verdict{Kind: domain.BlockCaptcha, Reason: "page text: " + p}
	}
	if p, ok := containsAny(text, rateLimitPhrases); ok {
		return Verdict{Kind: domain.BlockRateLimited, Reason: "page text: " + p}
	}
	if p, ok := containsAny(text, blockPhrases); ok {
		return Verdict{Kind: domain.BlockBlocked, Reason: "page text: " + p}
	}
	if !hasContent {
		if p, ok := containsAny(text, weakBlockPhrases); ok {
			return Verdict{Kind: domain.BlockBlocked, Reason: "page text: " + p}
		}
	}
	return Verdict{}
}

func containsAny(text string, phrases []string) (string, bool) {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return p, true
		}
	}
	return "", false
}
