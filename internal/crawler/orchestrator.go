// Package crawler runs searches end to end: it opens the results feed,
// grows it, visits each candidate's detail view and folds the records into
// a run result.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/user/maps-harvester/internal/dedup"
	"github.com/user/maps-harvester/internal/domain"
	"github.com/user/maps-harvester/internal/extract"
	"github.com/user/maps-harvester/internal/monitoring"
	"github.com/user/maps-harvester/internal/proxy"
	"github.com/user/maps-harvester/internal/render"
)

const (
	tracerName = "github.com/user/maps-harvester/internal/crawler"

	headingSelector = "h1"
	detailSelector  = "button[data-item-id]"
)

// Enricher looks up contact data on a business website. It never fails;
// an unreachable site yields an empty enrichment.
type Enricher interface {
	Fetch(ctx context.Context, website string) domain.Enrichment
}

// ProxySource hands out proxies per run and takes health feedback.
type ProxySource interface {
	Next() (proxy.Entry, bool)
	MarkSuccess(address string)
	// RecordFailure counts a failure without moving to another proxy; a
	// failed run ends rather than switching mid-run.
	RecordFailure(address string)
}

// Observer receives progress after every candidate. It must return quickly.
type Observer func(domain.Progress)

type Deps struct {
	Renderer render.Renderer
	// Enricher is optional; without it no website is visited.
	Enricher Enricher
	// Proxies is optional; without it pages egress directly.
	Proxies ProxySource
	Pacer   Pacer
	Metrics *monitoring.Metrics
	Tracer  trace.Tracer
	Logger  *zap.Logger
}

// Orchestrator drives runs over a shared renderer. Every run gets its own
// page, so concurrent runs do not share browser state.
type Orchestrator struct {
	renderer  render.Renderer
	enricher  Enricher
	proxies   ProxySource
	pacer     Pacer
	paginator *Paginator
	extractor *extract.Extractor
	metrics   *monitoring.Metrics
	tracer    trace.Tracer
	logger    *zap.Logger
	opts      Options
	now       func() time.Time
}

func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	opts = opts.withDefaults()
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Pacer == nil {
		deps.Pacer = DefaultPacer()
	}
	if deps.Metrics == nil {
		deps.Metrics = monitoring.NewMetrics(prometheus.NewRegistry())
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	return &Orchestrator{
		renderer:  deps.Renderer,
		enricher:  deps.Enricher,
		proxies:   deps.Proxies,
		pacer:     deps.Pacer,
		paginator: NewPaginator(opts.Paginator, deps.Logger.Named("paginator")),
		extractor: extract.NewExtractor(opts.CountryPrefix, deps.Logger.Named("extract")),
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
		logger:    deps.Logger,
		opts:      opts,
		now:       time.Now,
	}
}

// candidateStatus is what became of one candidate.
type candidateStatus string

const (
	statusExtracted candidateStatus = "extracted"
	statusFallback  candidateStatus = "fallback"
	statusFiltered  candidateStatus = "filtered"
)

type candidateResult struct {
	Record domain.BusinessRecord
	Status candidateStatus
}

// Run executes one search. The result is always returned, partial when the
// run was blocked or cancelled; err then carries the reason (a
// *domain.BlockedError, domain.ErrRunTimeout or the context error).
func (o *Orchestrator) Run(ctx context.Context, runID string, q domain.SearchQuery, observe Observer) (*domain.RunResult, error) {
	q = q.Normalize()
	if err := q.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeoutCause(ctx, o.opts.Timeouts.Run, domain.ErrRunTimeout)
	defer cancel()
	ctx, span := o.tracer.Start(ctx, "crawl.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("query", q.Label()),
		attribute.Int("max_results", q.MaxResults),
	))
	defer span.End()

	o.metrics.ActiveRuns.Inc()
	defer o.metrics.ActiveRuns.Dec()

	log := o.logger.With(zap.String("run_id", runID), zap.String("query", q.Label()))
	res := &domain.RunResult{RunID: runID, Query: q, State: domain.StateInit, StartedAt: o.now()}
	log.Info("run started", zap.Int("max_results", q.MaxResults))

	records, t, err := o.run(ctx, res, q, observe, log)

	res.State = domain.StateFinalizing
	deduped, dups := dedup.Apply(records)
	res.Records = deduped
	res.Stats = computeStats(deduped, t, dups)
	res.FinishedAt = o.now()
	res.Outcome = outcomeOf(err, t)
	res.State = domain.StateDone
	if res.Outcome == domain.OutcomeBlocked {
		res.State = domain.StateBlockedAbort
	}

	o.metrics.IncRun(string(res.Outcome))
	o.metrics.RunDuration.Observe(res.Duration().Seconds())
	span.SetAttributes(
		attribute.String("outcome", string(res.Outcome)),
		attribute.Int("records", len(deduped)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	fields := []zap.Field{
		zap.String("outcome", string(res.Outcome)),
		zap.Int("records", len(deduped)),
		zap.Int("candidates", t.candidates),
		zap.Int("duplicates", dups),
		zap.Int("filtered", t.filtered),
		zap.Int("failed", t.failed),
		zap.Duration("duration", res.Duration()),
	}
	if err != nil {
		log.Warn("run ended early", append(fields, zap.Error(err))...)
	} else {
		log.Info("run finished", fields...)
	}
	return res, err
}

func (o *Orchestrator) run(ctx context.Context, res *domain.RunResult, q domain.SearchQuery, observe Observer, log *zap.Logger) ([]domain.BusinessRecord, tally, error) {
	var t tally

	px, hasProxy := o.nextProxy()
	if hasProxy {
		log.Info("using proxy", zap.String("proxy", px.Server()))
	}
	page, err := o.renderer.NewPage(ctx, pageOptions(px, hasProxy))
	if err != nil {
		return nil, t, o.runErr(ctx, fmt.Errorf("open page: %w", err))
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			log.Debug("page close failed", zap.Error(cerr))
		}
	}()

	res.State = domain.StateFeedLoading
	f, err := o.openFeed(ctx, page, q)
	if err != nil {
		if hasProxy && (errors.Is(err, domain.ErrBlocked) || errors.Is(err, domain.ErrNavigation)) {
			o.proxies.RecordFailure(px.Address)
			o.metrics.ProxyFailures.Inc()
		}
		return nil, t, o.runErr(ctx, err)
	}
	if hasProxy {
		o.proxies.MarkSuccess(px.Address)
	}

	var candidates []domain.CandidateEntry
	if f.single {
		candidates = []domain.CandidateEntry{{URL: f.location}}
	} else {
		res.State = domain.StatePaginating
		count, err := o.paginator.Run(ctx, page, q.MaxResults)
		if err != nil {
			return nil, t, o.runErr(ctx, err)
		}
		html, err := page.HTML(ctx)
		if err != nil {
			return nil, t, o.runErr(ctx, fmt.Errorf("feed snapshot: %w", err))
		}
		candidates = extract.Candidates(html, q.MaxResults)
		log.Info("feed paginated", zap.Int("cards", count), zap.Int("candidates", len(candidates)))
	}
	t.candidates = len(candidates)
	if len(candidates) == 0 {
		return nil, t, nil
	}

	res.State = domain.StatePerCandidateLoop
	fs := filters(q, o.opts.Filters)
	records := make([]domain.BusinessRecord, 0, len(candidates))
	for i, c := range candidates {
		if i > 0 {
			if err := o.pacer.Pause(ctx); err != nil {
				return records, t, o.runErr(ctx, err)
			}
		}
		cr, err := o.candidate(ctx, page, q, c, fs, f.single, log)
		if err != nil {
			if hasProxy && errors.Is(err, domain.ErrBlocked) {
				o.proxies.RecordFailure(px.Address)
				o.metrics.ProxyFailures.Inc()
			}
			return records, t, o.runErr(ctx, err)
		}
		o.metrics.IncCandidate(string(cr.Status))
		switch cr.Status {
		case statusFiltered:
			t.filtered++
		case statusFallback:
			t.failed++
			records = append(records, cr.Record)
		default:
			records = append(records, cr.Record)
		}
		o.notify(observe, domain.Progress{
			Current: i + 1,
			Total:   len(candidates),
			Label:   cr.Record.Name,
			Percent: (i + 1) * 100 / len(candidates),
		}, log)
	}
	return records, t, nil
}

// candidate visits one detail view. The returned error is non-nil only for
// blocks and cancellation; every other failure becomes a fallback record.
// loaded means the page already shows the place.
func (o *Orchestrator) candidate(ctx context.Context, page render.Page, q domain.SearchQuery, c domain.CandidateEntry, fs []filter, loaded bool, log *zap.Logger) (candidateResult, error) {
	start := o.now()
	defer func() { o.metrics.CandidateDuration.Observe(o.now().Sub(start).Seconds()) }()

	cctx, cancel := context.WithTimeout(ctx, o.opts.Timeouts.Candidate)
	defer cancel()
	cctx, span := o.tracer.Start(cctx, "crawl.candidate", trace.WithAttributes(attribute.String("url", c.URL)))
	defer span.End()

	fallback := func(cause error) (candidateResult, error) {
		if err := ctx.Err(); err != nil {
			return candidateResult{}, err
		}
		log.Warn("candidate failed, keeping fallback record", zap.String("url", c.URL), zap.Error(cause))
		span.SetStatus(codes.Error, cause.Error())
		return candidateResult{Record: o.extractor.Fallback(c, cause), Status: statusFallback}, nil
	}

	if !loaded {
		err := withRetry(cctx, o.opts.Retry, func(attempt int) error {
			nctx, ncancel := context.WithTimeout(cctx, o.opts.Timeouts.Navigation)
			defer ncancel()
			if attempt > 1 {
				log.Debug("retrying candidate", zap.String("url", c.URL), zap.Int("attempt", attempt))
			}
			return page.Navigate(nctx, c.URL)
		})
		if err != nil {
			return fallback(err)
		}
	}

	loc, err := o.checkBlocked(cctx, page)
	if err != nil {
		if errors.Is(err, domain.ErrBlocked) {
			span.RecordError(err)
			return candidateResult{}, err
		}
		return fallback(err)
	}

	o.awaitDetail(cctx, page)
	html, err := page.HTML(cctx)
	if err != nil {
		return fallback(err)
	}
	rec := o.extractor.Detail(html, loc, c.Name)
	o.enrich(cctx, q, &rec)

	if reason := rejectReason(fs, q, &rec); reason != "" {
		log.Debug("record filtered", zap.String("name", rec.Name), zap.String("reason", reason))
		return candidateResult{Record: rec, Status: statusFiltered}, nil
	}
	return candidateResult{Record: rec, Status: statusExtracted}, nil
}

// awaitDetail waits for the heading, then for the action buttons to stop
// appearing. Misses are not errors; extraction works with what is there.
func (o *Orchestrator) awaitDetail(ctx context.Context, page render.Page) {
	if err := page.WaitVisible(ctx, headingSelector, o.opts.Timeouts.Detail); err != nil {
		o.logger.Debug("detail heading not visible", zap.Error(err))
	}
	sampleUntilStable(ctx, page, detailSelector, o.opts.Paginator.PollInterval,
		o.now().Add(o.opts.Paginator.StabilizeTimeout), o.now)
}

// enrich attaches website contact data, keeping only the parts the query
// asked for.
func (o *Orchestrator) enrich(ctx context.Context, q domain.SearchQuery, rec *domain.BusinessRecord) {
	if o.enricher == nil || rec.Website == "" || (!q.ExtractEmails && !q.ExtractSocialMedia) {
		return
	}
	e := o.enricher.Fetch(ctx, rec.Website)
	if !q.ExtractEmails {
		e.Email, e.Emails = "", nil
	}
	if !q.ExtractSocialMedia {
		e.Social = domain.SocialHandles{}
	}
	o.metrics.IncEnrichment(!e.IsEmpty())
	rec.Enrichment = &e
}

func (o *Orchestrator) nextProxy() (proxy.Entry, bool) {
	if o.proxies == nil {
		return proxy.Entry{}, false
	}
	return o.proxies.Next()
}

func (o *Orchestrator) notify(observe Observer, p domain.Progress, log *zap.Logger) {
	if observe == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("progress observer panicked", zap.Any("panic", r))
		}
	}()
	observe(p)
}

// runErr replaces a bare context error with the reason the run context
// ended, so callers can tell the run deadline from their own cancellation.
func (o *Orchestrator) runErr(ctx context.Context, err error) error {
	if ctx.Err() == nil {
		return err
	}
	if cause := context.Cause(ctx); errors.Is(cause, domain.ErrRunTimeout) {
		return fmt.Errorf("%w: %w", domain.ErrRunTimeout, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ctx.Err(), err)
}

func outcomeOf(err error, t tally) domain.Outcome {
	switch {
	case err == nil && t.candidates == 0:
		return domain.OutcomeNoResults
	case err == nil:
		return domain.OutcomeCompleted
	case errors.Is(err, domain.ErrBlocked):
		return domain.OutcomeBlocked
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, domain.ErrRunTimeout):
		return domain.OutcomeCancelled
	default:
		return domain.OutcomeFailed
	}
}
