package crawler

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/user/maps-harvester/internal/domain"
	"github.com/user/maps-harvester/internal/extract"
)

const previewSamples = 10

// Preview counts what a search would return without visiting any detail
// view. max <= 0 uses the configured preview cap.
func (o *Orchestrator) Preview(ctx context.Context, q domain.SearchQuery, max int) (*domain.Preview, error) {
	q = q.Normalize()
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if max <= 0 {
		max = o.opts.PreviewMax
	}
	max = min(max, domain.MaxResults)

	ctx, cancel := context.WithTimeoutCause(ctx, o.opts.Timeouts.Run, domain.ErrRunTimeout)
	defer cancel()
	ctx, span := o.tracer.Start(ctx, "crawl.preview", trace.WithAttributes(attribute.String("query", q.Label())))
	defer span.End()

	out := &domain.Preview{Query: q.Label(), SampleNames: []string{}}
	px, hasProxy := o.nextProxy()
	page, err := o.renderer.NewPage(ctx, pageOptions(px, hasProxy))
	if err != nil {
		return nil, o.runErr(ctx, fmt.Errorf("open page: %w", err))
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			o.logger.Debug("page close failed", zap.Error(cerr))
		}
	}()

	f, err := o.openFeed(ctx, page, q)
	if err != nil {
		if hasProxy && (errors.Is(err, domain.ErrBlocked) || errors.Is(err, domain.ErrNavigation)) {
			o.proxies.RecordFailure(px.Address)
		}
		return nil, o.runErr(ctx, err)
	}
	if hasProxy {
		o.proxies.MarkSuccess(px.Address)
	}

	if f.single {
		html, err := page.HTML(ctx)
		if err != nil {
			return nil, o.runErr(ctx, err)
		}
		rec := o.extractor.Detail(html, f.location, "")
		out.Count = 1
		out.SampleNames = append(out.SampleNames, rec.Name)
		return out, nil
	}

	if _, err := o.paginator.Run(ctx, page, max); err != nil {
		return nil, o.runErr(ctx, err)
	}
	html, err := page.HTML(ctx)
	if err != nil {
		return nil, o.runErr(ctx, err)
	}
	candidates := extract.Candidates(html, max)
	out.Count = len(candidates)
	for _, c := range candidates[:min(len(candidates), previewSamples)] {
		out.SampleNames = append(out.SampleNames, c.Name)
	}
	if out.Count == 0 {
		out.Message = "no results found"
	}
	o.logger.Info("preview finished", zap.String("query", out.Query), zap.Int("count", out.Count))
	return out, nil
}
