package crawler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/user/maps-harvester/internal/domain"
	"github.com/user/maps-harvester/internal/proxy"
	"github.com/user/maps-harvester/pkg/logger"
)

func TestOrchestrator_Run_AllCandidates(t *testing.T) {
	env := newEnv(t, newSite(15))
	progress := &progressLog{}

	res, err := env.orchestrator().Run(context.Background(), "run-1", cityQuery(15), progress.observe)
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeCompleted, res.Outcome)
	assert.Equal(t, domain.StateDone, res.State)
	require.Len(t, res.Records, 15)
	for i, r := range res.Records {
		assert.Equal(t, i+1, r.Position)
		assert.Equal(t, placeName(i+1), r.Name)
		assert.Empty(t, r.Error)
	}
	first := res.Records[0]
	assert.Equal(t, "2225550001", first.Phone)
	assert.Equal(t, "0x85cfc1:0x1", first.PlaceID)
	require.NotNil(t, first.Rating)
	assert.Equal(t, 4.1, *first.Rating)

	assert.Equal(t, 15, res.Stats.Total)
	assert.Equal(t, 15, res.Stats.Candidates)
	assert.Equal(t, 15, res.Stats.WithPhone)
	assert.Zero(t, res.Stats.Failed)

	got := progress.all()
	require.Len(t, got, 15)
	assert.Equal(t, domain.Progress{Current: 15, Total: 15, Label: placeName(15), Percent: 100}, got[14])

	assert.Zero(t, env.site.OpenPages())
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.RunsTotal.WithLabelValues("completed")))
	assert.Equal(t, 15.0, testutil.ToFloat64(env.metrics.CandidatesTotal.WithLabelValues("extracted")))
	assert.Zero(t, testutil.ToFloat64(env.metrics.ActiveRuns))
}

func TestOrchestrator_Run_CapsAtMaxResults(t *testing.T) {
	env := newEnv(t, newSite(30))

	res, err := env.orchestrator().Run(context.Background(), "run-1", cityQuery(12), nil)
	require.NoError(t, err)
	assert.Len(t, res.Records, 12)
	assert.Equal(t, 12, res.Stats.Candidates)
}

func TestOrchestrator_Run_RetriesNavigation(t *testing.T) {
	site := newSite(10)
	site.Failures[placeURL(2)] = 2 // recovers on the last retry
	site.Failures[placeURL(3)] = 3 // never loads
	env := newEnv(t, site)

	res, err := env.orchestrator().Run(context.Background(), "run-1", cityQuery(10), nil)
	require.NoError(t, err)
	require.Len(t, res.Records, 10)

	assert.Empty(t, res.Records[1].Error)
	assert.Equal(t, "2225550002", res.Records[1].Phone)

	fb := res.Records[2]
	assert.True(t, fb.IsFallback())
	assert.Equal(t, placeName(3), fb.Name)
	assert.Equal(t, placeURL(3), fb.ProfileURL)
	assert.Empty(t, fb.Phone)
	assert.False(t, fb.ScrapedAt.IsZero())

	assert.Equal(t, 1, res.Stats.Failed)
	assert.Equal(t, 3, count(site.Navigations(), placeURL(2)))
	assert.Equal(t, 3, count(site.Navigations(), placeURL(3)))
	assert.Equal(t, domain.OutcomeCompleted, res.Outcome)
}

func TestOrchestrator_Run_CaptchaStopsRun(t *testing.T) {
	site := newSite(10)
	site.Documents[placeURL(3)] = captchaPage
	env := newEnv(t, site)

	res, err := env.orchestrator().Run(context.Background(), "run-1", cityQuery(10), nil)
	require.Error(t, err)

	var blocked *domain.BlockedError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, domain.BlockCaptcha, blocked.Kind)
	assert.ErrorIs(t, err, domain.ErrBlocked)
	assert.ErrorIs(t, err, domain.ErrCaptcha)

	require.NotNil(t, res)
	assert.Equal(t, domain.OutcomeBlocked, res.Outcome)
	assert.Equal(t, domain.StateBlockedAbort, res.State)
	require.Len(t, res.Records, 2)
	assert.Equal(t, placeName(2), res.Records[1].Name)

	// no retry and nothing after the captcha
	assert.Equal(t, 1, count(site.Navigations(), placeURL(3)))
	assert.Zero(t, count(site.Navigations(), placeURL(4)))
	assert.Zero(t, site.OpenPages())
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.BlocksTotal.WithLabelValues("captcha")))
}

func TestOrchestrator_Run_BlockedFeedMarksProxy(t *testing.T) {
	site := newSite(10)
	site.Feed = func(int) string {
		return `<html><body><p>Our systems have detected unusual traffic from your computer network.</p></body></html>`
	}
	env := newEnv(t, site)
	px, err := proxy.Parse("user:secret@10.0.0.1:8080")
	require.NoError(t, err)
	pool := proxy.NewPool(proxy.Config{MaxFailures: 1}, logger.NewTestLogger(t), px)
	env.deps.Proxies = pool

	res, err := env.orchestrator().Run(context.Background(), "run-1", cityQuery(10), nil)
	assert.ErrorIs(t, err, domain.ErrCaptcha)
	assert.Equal(t, domain.OutcomeBlocked, res.Outcome)
	assert.Empty(t, res.Records)

	pages := site.Pages()
	require.Len(t, pages, 1)
	assert.Equal(t, "http://10.0.0.1:8080", pages[0].Opts.ProxyServer)
	assert.Equal(t, "secret", pages[0].Opts.ProxyPassword)

	stats := pool.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].Failures)
	assert.True(t, stats[0].Disabled)
}

func TestOrchestrator_Run_BlockedFeedLeavesRotationAlone(t *testing.T) {
	site := newSite(10)
	site.Feed = func(int) string {
		return `<html><body><p>Our systems have detected unusual traffic from your computer network.</p></body></html>`
	}
	env := newEnv(t, site)
	entries := make([]proxy.Entry, 0, 2)
	for _, raw := range []string{"10.0.0.1:8080", "10.0.0.2:8080"} {
		e, err := proxy.Parse(raw)
		require.NoError(t, err)
		entries = append(entries, e)
	}
	pool := proxy.NewPool(proxy.Config{MaxFailures: 3, RotateOnFail: true}, logger.NewTestLogger(t), entries...)
	env.deps.Proxies = pool

	_, err := env.orchestrator().Run(context.Background(), "run-1", cityQuery(10), nil)
	assert.ErrorIs(t, err, domain.ErrBlocked)

	stats := pool.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, 1, stats[0].Failures)
	assert.True(t, stats[1].LastUsed.IsZero())

	next, ok := pool.Next()
	require.True(t, ok)
	assert.Equal(t, "10.0.0.2:8080", next.Address)
}

func TestOrchestrator_Run_ProxySuccess(t *testing.T) {
	env := newEnv(t, newSite(10))
	px, err := proxy.Parse("10.0.0.2:3128")
	require.NoError(t, err)
	pool := proxy.NewPool(proxy.Config{}, logger.NewTestLogger(t), px)
	env.deps.Proxies = pool

	_, err = env.orchestrator().Run(context.Background(), "run-1", cityQuery(10), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, pool.Stats()[0].Successes)
}

func TestOrchestrator_Run_NoResults(t *testing.T) {
	site := newSite(0)
	env := newEnv(t, site)

	res, err := env.orchestrator().Run(context.Background(), "run-1", cityQuery(10), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNoResults, res.Outcome)
	assert.Empty(t, res.Records)
	assert.Zero(t, res.Stats.Candidates)
}

func TestOrchestrator_Run_FeedNotFound(t *testing.T) {
	site := newSite(10)
	site.Feed = func(int) string { return `<html><body><div role="main">Cargando…</div></body></html>` }
	env := newEnv(t, site)

	res, err := env.orchestrator().Run(context.Background(), "run-1", cityQuery(10), nil)
	assert.ErrorIs(t, err, domain.ErrFeedNotFound)
	assert.Equal(t, domain.OutcomeFailed, res.Outcome)
	assert.Zero(t, site.OpenPages())
}

func TestOrchestrator_Run_ConsentThenReload(t *testing.T) {
	site := newSite(10)
	site.Consent = `<html><body><form action="https://consent.google.com/save"><button>Aceptar todo</button></form></body></html>`
	env := newEnv(t, site)

	res, err := env.orchestrator().Run(context.Background(), "run-1", cityQuery(10), nil)
	require.NoError(t, err)
	assert.Len(t, res.Records, 10)
}

func TestOrchestrator_Run_SinglePlace(t *testing.T) {
	site := newSite(1)
	q := cityQuery(10)
	site.Redirects[q.SearchURL()] = placeURL(1)
	env := newEnv(t, site)

	res, err := env.orchestrator().Run(context.Background(), "run-1", q, nil)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, placeName(1), res.Records[0].Name)
	assert.Equal(t, 1, res.Stats.Candidates)
	// the place page is read where it is, not visited again
	assert.Zero(t, count(site.Navigations(), placeURL(1)))
}

func TestOrchestrator_Run_Cancelled(t *testing.T) {
	site := newSite(10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	site.OnNavigate = func(url string) {
		if url == placeURL(4) {
			cancel()
		}
	}
	env := newEnv(t, site)

	res, err := env.orchestrator().Run(ctx, "run-1", cityQuery(10), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.OutcomeCancelled, res.Outcome)
	assert.Len(t, res.Records, 3)
	assert.Zero(t, site.OpenPages())
}

func TestOrchestrator_Run_Deadline(t *testing.T) {
	env := newEnv(t, newSite(10))
	env.opts.Timeouts.Run = 80 * time.Millisecond
	env.deps.Pacer = RandomPacer{Min: 40 * time.Millisecond, Max: 40 * time.Millisecond}

	start := time.Now()
	res, err := env.orchestrator().Run(context.Background(), "run-1", cityQuery(10), nil)
	assert.ErrorIs(t, err, domain.ErrRunTimeout)
	assert.Equal(t, domain.OutcomeCancelled, res.Outcome)
	assert.Less(t, len(res.Records), 10)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestOrchestrator_Run_Filters(t *testing.T) {
	site := newSite(10)
	site.Documents[placeURL(2)] = `<html><body><div role="main"><h1>Sin Teléfono</h1></div></body></html>`
	site.Failures[placeURL(5)] = 3
	env := newEnv(t, site)

	q := cityQuery(10)
	q.Filters = domain.Filters{RequirePhone: true, MinRating: 4.3}

	res, err := env.orchestrator().Run(context.Background(), "run-1", q, nil)
	require.NoError(t, err)

	names := make([]string, 0, len(res.Records))
	for _, r := range res.Records {
		names = append(names, r.Name)
	}
	// ratings are 4.i: 1 and 2 fall below, 2 also lacks a phone; 5 is a
	// fallback and bypasses filters; 10 rates 4.0.
	assert.Equal(t, []string{placeName(3), placeName(4), placeName(5), placeName(6), placeName(7), placeName(8), placeName(9)}, names)
	assert.Equal(t, 3, res.Stats.Filtered)
	assert.Equal(t, 1, res.Stats.Failed)
}

func TestOrchestrator_Run_Enrichment(t *testing.T) {
	site := newSite(10)
	site.Documents[placeURL(1)] = detailPage(1, `<a data-item-id="authority" href="https://uno.mx/">uno.mx</a>`)
	env := newEnv(t, site)
	enricher := &enricherStub{bySite: map[string]domain.Enrichment{
		"https://uno.mx/": {
			Email:  "hola@uno.mx",
			Emails: []string{"hola@uno.mx"},
			Social: domain.SocialHandles{Instagram: "instagram.com/uno"},
		},
	}}
	env.deps.Enricher = enricher

	q := cityQuery(10)
	q.ExtractSocialMedia = false
	res, err := env.orchestrator().Run(context.Background(), "run-1", q, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://uno.mx/"}, enricher.calls)
	rec := res.Records[0]
	require.NotNil(t, rec.Enrichment)
	assert.Equal(t, "hola@uno.mx", rec.Email())
	assert.False(t, rec.Social().Any())
	assert.Nil(t, res.Records[1].Enrichment)
	assert.Equal(t, 1, res.Stats.WithEmail)
	assert.Equal(t, 1, res.Stats.WithWebsite)
}

func TestOrchestrator_Run_EnrichmentDisabled(t *testing.T) {
	site := newSite(10)
	site.Documents[placeURL(1)] = detailPage(1, `<a data-item-id="authority" href="https://uno.mx/">uno.mx</a>`)
	env := newEnv(t, site)
	enricher := &enricherStub{}
	env.deps.Enricher = enricher

	q := cityQuery(10)
	q.ExtractEmails, q.ExtractSocialMedia = false, false
	_, err := env.orchestrator().Run(context.Background(), "run-1", q, nil)
	require.NoError(t, err)
	assert.Empty(t, enricher.calls)
}

func TestOrchestrator_Run_Deduplicates(t *testing.T) {
	site := newSite(10)
	// card 4 links to another view of place 1
	site.Documents[placeURL(4)] = detailPage(1, "")
	site.Redirects[placeURL(4)] = placeURL(1) + "&hl=es"
	site.Documents[placeURL(1)+"&hl=es"] = detailPage(1, "")
	env := newEnv(t, site)

	res, err := env.orchestrator().Run(context.Background(), "run-1", cityQuery(10), nil)
	require.NoError(t, err)
	assert.Len(t, res.Records, 9)
	assert.Equal(t, 1, res.Stats.Duplicates)
	assert.Equal(t, 9, res.Records[8].Position)
}

func TestOrchestrator_Run_ObserverPanicIsContained(t *testing.T) {
	env := newEnv(t, newSite(10))
	calls := 0
	res, err := env.orchestrator().Run(context.Background(), "run-1", cityQuery(10), func(domain.Progress) {
		calls++
		panic("observer bug")
	})
	require.NoError(t, err)
	assert.Len(t, res.Records, 10)
	assert.Equal(t, 10, calls)
}

func TestOrchestrator_Run_InvalidQuery(t *testing.T) {
	env := newEnv(t, newSite(10))
	_, err := env.orchestrator().Run(context.Background(), "run-1", domain.SearchQuery{BusinessType: "tacos"}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidQuery)
	assert.Empty(t, env.site.Pages())
}

func TestOrchestrator_Run_NewPageFails(t *testing.T) {
	site := newSite(10)
	site.NewPageErr = errors.New("browser gone")
	env := newEnv(t, site)

	res, err := env.orchestrator().Run(context.Background(), "run-1", cityQuery(10), nil)
	assert.ErrorContains(t, err, "browser gone")
	assert.Equal(t, domain.OutcomeFailed, res.Outcome)
}

func TestOrchestrator_Run_Spans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	env := newEnv(t, newSite(10))
	env.deps.Tracer = tp.Tracer("test")

	_, err := env.orchestrator().Run(context.Background(), "run-1", cityQuery(10), nil)
	require.NoError(t, err)

	names := map[string]int{}
	for _, s := range sr.Ended() {
		names[s.Name()]++
	}
	assert.Equal(t, 1, names["crawl.run"])
	assert.Equal(t, 10, names["crawl.candidate"])
}

func TestOrchestrator_Preview(t *testing.T) {
	env := newEnv(t, newSite(40))

	p, err := env.orchestrator().Preview(context.Background(), cityQuery(10), 25)
	require.NoError(t, err)
	assert.Equal(t, 25, p.Count)
	assert.Len(t, p.SampleNames, 10)
	assert.Equal(t, placeName(1), p.SampleNames[0])
	assert.Equal(t, "tacos en Puebla, México", p.Query)
	assert.Empty(t, p.Message)

	// no detail view was opened
	for _, u := range env.site.Navigations() {
		assert.NotContains(t, u, "/maps/place/")
	}
}

func TestOrchestrator_Preview_LogsCloseError(t *testing.T) {
	site := newSite(20)
	site.CloseErr = errors.New("target closed")
	env := newEnv(t, site)
	core, logs := observer.New(zapcore.DebugLevel)
	env.deps.Logger = zap.New(core)

	p, err := env.orchestrator().Preview(context.Background(), cityQuery(10), 10)
	require.NoError(t, err)
	assert.Equal(t, 10, p.Count)

	closed := logs.FilterMessage("page close failed").All()
	require.Len(t, closed, 1)
	assert.Equal(t, "target closed", closed[0].ContextMap()["error"])
	assert.Zero(t, site.OpenPages())
}

func TestOrchestrator_Preview_Empty(t *testing.T) {
	env := newEnv(t, newSite(0))
	p, err := env.orchestrator().Preview(context.Background(), cityQuery(10), 0)
	require.NoError(t, err)
	assert.Zero(t, p.Count)
	assert.NotNil(t, p.SampleNames)
	assert.Equal(t, "no results found", p.Message)
}
