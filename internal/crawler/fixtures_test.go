package crawler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/user/maps-harvester/internal/domain"
	"github.com/user/maps-harvester/internal/monitoring"
	"github.com/user/maps-harvester/internal/render/rendertest"
	"github.com/user/maps-harvester/pkg/logger"
)

const captchaPage = `<html><body><form id="captcha-form"><div class="g-recaptcha"></div></form></body></html>`

func placeURL(i int) string {
	return fmt.Sprintf("https://www.google.com/maps/place/Negocio+%d/@19.04%02d,-98.20%02d,17z/data=!4m6!3m5!1s0x85cfc%x:0x%x!8m2", i, i, i, i, i)
}

func placeName(i int) string {
	return fmt.Sprintf("Negocio %d", i)
}

// feedPage renders the first shown of total cards.
func feedPage(total, shown int) string {
	var b strings.Builder
	b.WriteString(`<html><body><div role="main"><div role="feed">`)
	for i := 1; i <= min(total, shown); i++ {
		href := strings.TrimPrefix(placeURL(i), "https://www.google.com")
		fmt.Fprintf(&b, `<div class="Nv2PK"><a class="hfpxzc" href="%s"></a><div class="fontHeadlineSmall">%s</div></div>`, href, placeName(i))
	}
	b.WriteString(`</div></div></body></html>`)
	return b.String()
}

// growingFeed shows pageSize more cards per scroll, up to total.
func growingFeed(total, pageSize int) func(int) string {
	return func(scrolls int) string {
		return feedPage(total, pageSize*(scrolls+1))
	}
}

func detailPage(i int, extra string) string {
	return fmt.Sprintf(`<html><body><div role="main">
<h1 class="DUwDvf">%s</h1>
<div class="F7nice"><span><span aria-hidden="true">4,%d</span></span><span><span aria-label="%d opiniones">(%d)</span></span></div>
<button data-item-id="address" aria-label="Dirección: Calle %d, Centro"><div class="Io6YTe">Calle %d, Centro, 72000 Puebla, Pue.</div></button>
<button data-item-id="phone:tel:+52222555%04d" aria-label="Teléfono: 222 555 %04d"><div class="Io6YTe">222 555 %04d</div></button>
%s
</div></body></html>`, placeName(i), i%10, 10*i, 10*i, i, i, i, i, i, extra)
}

// newSite serves a feed of n places, five per scroll, each with a detail
// page.
func newSite(n int) *rendertest.Site {
	site := rendertest.NewSite()
	site.Feed = growingFeed(n, 5)
	for i := 1; i <= n; i++ {
		site.Documents[placeURL(i)] = detailPage(i, "")
	}
	return site
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Retry.BaseDelay = time.Millisecond
	opts.Paginator.PollInterval = time.Millisecond
	opts.Paginator.StabilizeTimeout = 20 * time.Millisecond
	opts.Paginator.TotalTimeout = 2 * time.Second
	return opts
}

func cityQuery(max int) domain.SearchQuery {
	return domain.SearchQuery{
		BusinessType:       "tacos",
		City:               "Puebla",
		Country:            "México",
		MaxResults:         max,
		ExtractEmails:      true,
		ExtractSocialMedia: true,
	}
}

type testEnv struct {
	site    *rendertest.Site
	metrics *monitoring.Metrics
	deps    Deps
	opts    Options
}

func newEnv(t *testing.T, site *rendertest.Site) *testEnv {
	t.Helper()
	m := monitoring.NewMetrics(prometheus.NewRegistry())
	return &testEnv{
		site:    site,
		metrics: m,
		opts:    testOptions(),
		deps: Deps{
			Renderer: site,
			Pacer:    NoPacer{},
			Metrics:  m,
			Logger:   logger.NewTestLogger(t),
		},
	}
}

func (e *testEnv) orchestrator() *Orchestrator {
	return NewOrchestrator(e.deps, e.opts)
}

// progressLog collects observer calls.
type progressLog struct {
	mu    sync.Mutex
	items []domain.Progress
}

func (p *progressLog) observe(pr domain.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = append(p.items, pr)
}

func (p *progressLog) all() []domain.Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Progress(nil), p.items...)
}

// enricherStub returns a fixed enrichment per website and counts calls.
type enricherStub struct {
	mu     sync.Mutex
	bySite map[string]domain.Enrichment
	calls  []string
}

func (e *enricherStub) Fetch(_ context.Context, website string) domain.Enrichment {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, website)
	return e.bySite[website]
}

func count(urls []string, target string) int {
	n := 0
	for _, u := range urls {
		if u == target {
			n++
		}
	}
	return n
}
