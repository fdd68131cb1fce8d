package crawler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/user/maps-harvester/internal/block"
	"github.com/user/maps-harvester/internal/domain"
	"github.com/user/maps-harvester/internal/extract"
	"github.com/user/maps-harvester/internal/proxy"
	"github.com/user/maps-harvester/internal/render"
)

// feed is an opened results page.
type feed struct {
	page render.Page
	// location is the URL shown once the feed (or the place) settled.
	location string
	// single is set when the search resolved straight to one place.
	single bool
}

// pageOptions routes a page through px when one was picked.
func pageOptions(px proxy.Entry, ok bool) render.PageOptions {
	if !ok {
		return render.PageOptions{}
	}
	return render.PageOptions{
		ProxyServer:   px.Server(),
		ProxyUsername: px.Username,
		ProxyPassword: px.Password,
	}
}

// openFeed loads the search page for q and waits for its result feed. When
// the feed does not show, a consent banner is dismissed and the page
// reloaded, up to FeedAttempts times in total. A block verdict at any point
// is returned as is.
func (o *Orchestrator) openFeed(ctx context.Context, page render.Page, q domain.SearchQuery) (*feed, error) {
	target := q.SearchURL()
	err := withRetry(ctx, o.opts.Retry, func(attempt int) error {
		nctx, cancel := context.WithTimeout(ctx, o.opts.Timeouts.Navigation)
		defer cancel()
		if attempt > 1 {
			o.logger.Info("retrying search navigation", zap.Int("attempt", attempt))
		}
		return page.Navigate(nctx, target)
	})
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= o.opts.FeedAttempts; attempt++ {
		loc, err := o.checkBlocked(ctx, page)
		if err != nil {
			return nil, err
		}
		if extract.PlaceURL(loc) {
			o.logger.Info("search resolved to a single place", zap.String("url", loc))
			return &feed{page: page, location: loc, single: true}, nil
		}
		if err := page.WaitVisible(ctx, extract.FeedSelector, o.opts.Timeouts.FeedWait); err == nil {
			return &feed{page: page, location: loc}, nil
		} else if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == o.opts.FeedAttempts {
			break
		}

		o.logger.Warn("feed not visible, reloading", zap.Int("attempt", attempt))
		if dismissed, err := page.DismissConsent(ctx); err != nil {
			o.logger.Debug("consent dismissal failed", zap.Error(err))
		} else if dismissed {
			o.logger.Info("consent banner dismissed")
		}
		rctx, cancel := context.WithTimeout(ctx, o.opts.Timeouts.Navigation)
		err = page.Reload(rctx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			o.logger.Warn("reload failed", zap.Error(err))
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %s", domain.ErrFeedNotFound, o.opts.FeedAttempts, q.Label())
}

// checkBlocked snapshots the page and runs the block detector over it. It
// returns the current location.
func (o *Orchestrator) checkBlocked(ctx context.Context, page render.Page) (string, error) {
	loc, err := page.Location(ctx)
	if err != nil {
		return "", err
	}
	html, err := page.HTML(ctx)
	if err != nil {
		return loc, err
	}
	if v := block.Detect(loc, html); !v.Clean() {
		o.metrics.IncBlock(string(v.Kind))
		o.logger.Error("block detected",
			zap.String("kind", string(v.Kind)),
			zap.String("reason", v.Reason),
			zap.String("url", loc))
		return loc, v.Err(loc)
	}
	return loc, nil
}
