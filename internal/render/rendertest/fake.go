// Package rendertest provides an in-memory Renderer backed by canned
// documents, for tests that exercise page-driving code without Chrome.
package rendertest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/user/maps-harvester/internal/domain"
	"github.com/user/maps-harvester/internal/render"
)

const emptyDocument = `<html><head></head><body></body></html>`

var ErrNoElement = errors.New("rendertest: element not visible")

// Site is a fake web: documents by URL, redirects and scripted failures.
type Site struct {
	mu sync.Mutex

	Documents map[string]string
	Redirects map[string]string
	// Failures is how many navigations to a URL fail before one succeeds.
	Failures map[string]int
	// Feed renders any /maps/search/ URL given the number of scrolls so far
	// on that page.
	Feed func(scrolls int) string
	// Consent, when set, is served instead of the feed until the page
	// dismisses it.
	Consent string
	// OnNavigate is called for every navigation, before it resolves.
	OnNavigate func(url string)
	NewPageErr error
	// CloseErr is returned by Close; the page is marked closed regardless.
	CloseErr error

	navigations []string
	pages       []*Page
}

func NewSite() *Site {
	return &Site{
		Documents: map[string]string{},
		Redirects: map[string]string{},
		Failures:  map[string]int{},
	}
}

// NewPage implements render.Renderer.
func (s *Site) NewPage(ctx context.Context, opts render.PageOptions) (render.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.NewPageErr != nil {
		return nil, s.NewPageErr
	}
	p := &Page{site: s, Opts: opts}
	s.pages = append(s.pages, p)
	return p, nil
}

// Navigations lists every URL navigated to, in order, across pages.
func (s *Site) Navigations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.navigations...)
}

// Pages lists every page handed out.
func (s *Site) Pages() []*Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Page(nil), s.pages...)
}

// OpenPages counts pages not yet closed.
func (s *Site) OpenPages() int {
	n := 0
	for _, p := range s.Pages() {
		if !p.Closed() {
			n++
		}
	}
	return n
}

func (s *Site) document(url string, p *Page) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.Contains(url, "/maps/search/") {
		if s.Consent != "" && !p.consentDismissed {
			return s.Consent
		}
		if s.Feed != nil {
			return s.Feed(p.scrolls)
		}
	}
	if doc, ok := s.Documents[url]; ok {
		return doc
	}
	return emptyDocument
}

// Page is a fake tab.
type Page struct {
	site *Site
	Opts render.PageOptions

	// guarded by site.mu
	current          string
	scrolls          int
	consentDismissed bool
	closed           bool
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return &domain.NavigationError{URL: url, Err: err}
	}
	s := p.site
	if s.OnNavigate != nil {
		s.OnNavigate(url)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigations = append(s.navigations, url)
	if s.Failures[url] > 0 {
		s.Failures[url]--
		return &domain.NavigationError{URL: url, Err: errors.New("net::ERR_TIMED_OUT")}
	}
	if to, ok := s.Redirects[url]; ok {
		url = to
	}
	p.current = url
	p.scrolls = 0
	return nil
}

func (p *Page) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.site.mu.Lock()
	p.scrolls = 0
	p.site.mu.Unlock()
	return nil
}

func (p *Page) Location(ctx context.Context) (string, error) {
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	return p.current, ctx.Err()
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	loc, _ := p.Location(ctx)
	return p.site.document(loc, p), nil
}

// WaitVisible resolves immediately: the element is either in the current
// document or the wait fails.
func (p *Page) WaitVisible(ctx context.Context, selector string, _ time.Duration) error {
	n, err := p.Count(ctx, selector)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoElement
	}
	return nil
}

func (p *Page) Count(ctx context.Context, selector string) (int, error) {
	html, err := p.HTML(ctx)
	if err != nil {
		return 0, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return 0, err
	}
	return doc.Find(selector).Length(), nil
}

func (p *Page) ScrollBy(ctx context.Context, selector string, _ int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.site.mu.Lock()
	p.scrolls++
	p.site.mu.Unlock()
	return nil
}

func (p *Page) DismissConsent(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	if p.site.Consent == "" || p.consentDismissed {
		return false, nil
	}
	p.consentDismissed = true
	return true, nil
}

func (p *Page) Close() error {
	p.site.mu.Lock()
	p.closed = true
	err := p.site.CloseErr
	p.site.mu.Unlock()
	return err
}

func (p *Page) Closed() bool {
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	return p.closed
}

// Scrolls reports how many times the page was scrolled since its last
// navigation.
func (p *Page) Scrolls() int {
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	return p.scrolls
}
