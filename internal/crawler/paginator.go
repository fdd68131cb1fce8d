package crawler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/user/maps-harvester/internal/extract"
	"github.com/user/maps-harvester/internal/render"
)

// Paginator grows a results feed by scrolling until it converges.
type Paginator struct {
	cfg    PaginatorConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewPaginator(cfg PaginatorConfig, logger *zap.Logger) *Paginator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Paginator{cfg: cfg, logger: logger, now: time.Now}
}

// Run scrolls the feed on page until one of the exit conditions holds and
// returns the largest stable card count it saw. Lack of growth is a normal
// stop; only cancellation of ctx is reported as an error.
func (p *Paginator) Run(ctx context.Context, page render.Page, max int) (int, error) {
	start := p.now()
	deadline := start.Add(p.cfg.TotalTimeout)
	// Browser calls must not outlive the budget either.
	callCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	best := p.stableCount(callCtx, page, extract.CardSelector, deadline)
	attempts, noGrowth := 0, 0
	reason := ""
	for {
		if err := ctx.Err(); err != nil {
			return best, err
		}
		attempts++
		switch {
		case attempts > p.cfg.MaxAttempts:
			reason = "max_attempts"
		case p.now().After(deadline):
			reason = "timeout"
		case max > 0 && best >= max:
			reason = "max_results"
		case noGrowth >= p.cfg.NoGrowthLimit:
			reason = "no_growth"
		}
		if reason != "" {
			break
		}

		if err := page.ScrollBy(callCtx, extract.FeedSelector, p.cfg.ScrollAmount); err != nil {
			p.logger.Debug("feed scroll failed", zap.Int("attempt", attempts), zap.Error(err))
		}
		n := p.stableCount(callCtx, page, extract.CardSelector, deadline)
		if err := ctx.Err(); err != nil {
			return best, err
		}
		if n > best {
			best, noGrowth = n, 0
		} else {
			noGrowth++
		}
	}

	p.logger.Debug("pagination finished",
		zap.Int("count", best),
		zap.Int("attempts", attempts-1),
		zap.String("reason", reason),
		zap.Duration("elapsed", p.now().Sub(start)))
	return best, nil
}

// stableCount samples selector every PollInterval until two consecutive
// samples agree or the stabilization window closes, whichever is first. The
// window never extends past deadline. The last good sample is returned.
func (p *Paginator) stableCount(ctx context.Context, page render.Page, selector string, deadline time.Time) int {
	window := p.now().Add(p.cfg.StabilizeTimeout)
	if window.After(deadline) {
		window = deadline
	}
	return sampleUntilStable(ctx, page, selector, p.cfg.PollInterval, window, p.now)
}

func sampleUntilStable(ctx context.Context, page render.Page, selector string, poll time.Duration, until time.Time, now func() time.Time) int {
	last, have := 0, false
	for {
		n, err := page.Count(ctx, selector)
		if err == nil {
			if have && n == last {
				return n
			}
			last, have = n, true
		}
		left := until.Sub(now())
		if left <= 0 || ctx.Err() != nil {
			return last
		}
		if sleep(ctx, min(poll, left)) != nil {
			return last
		}
	}
}
