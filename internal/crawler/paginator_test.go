package crawler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/maps-harvester/internal/render"
	"github.com/user/maps-harvester/pkg/logger"
)

// scrollPage reports a card count derived from how often it was scrolled.
type scrollPage struct {
	render.Page

	mu      sync.Mutex
	scrolls int
	samples int
	// count maps (scrolls, samples so far) to the visible card count.
	count func(scrolls, samples int) int
}

func (p *scrollPage) Count(ctx context.Context, _ string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.samples++
	return p.count(p.scrolls, p.samples), nil
}

func (p *scrollPage) ScrollBy(ctx context.Context, _ string, _ int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrolls++
	return nil
}

func (p *scrollPage) scrolled() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scrolls
}

func paginatorConfig() PaginatorConfig {
	return testOptions().Paginator
}

func TestPaginator_GrowsUntilMax(t *testing.T) {
	page := &scrollPage{count: func(s, _ int) int { return 7 * (s + 1) }}
	p := NewPaginator(paginatorConfig(), logger.NewTestLogger(t))

	n, err := p.Run(context.Background(), page, 30)
	require.NoError(t, err)
	assert.Equal(t, 35, n)
	assert.Equal(t, 4, page.scrolled())
}

func TestPaginator_StopsWithoutGrowth(t *testing.T) {
	page := &scrollPage{count: func(s, _ int) int { return min(20, 10*(s+1)) }}
	cfg := paginatorConfig()
	p := NewPaginator(cfg, logger.NewTestLogger(t))

	n, err := p.Run(context.Background(), page, 100)
	require.NoError(t, err)
	assert.Equal(t, 20, n)
	// one growing scroll, then NoGrowthLimit flat ones
	assert.Equal(t, 1+cfg.NoGrowthLimit, page.scrolled())
}

func TestPaginator_KeepsBestCount(t *testing.T) {
	// the feed virtualizes and shrinks after the third scroll
	page := &scrollPage{count: func(s, _ int) int {
		if s >= 3 {
			return 12
		}
		return 10 * (s + 1)
	}}
	p := NewPaginator(paginatorConfig(), logger.NewTestLogger(t))

	n, err := p.Run(context.Background(), page, 100)
	require.NoError(t, err)
	assert.Equal(t, 30, n)
}

func TestPaginator_MaxAttempts(t *testing.T) {
	page := &scrollPage{count: func(s, _ int) int { return s + 1 }}
	cfg := paginatorConfig()
	cfg.MaxAttempts = 4
	p := NewPaginator(cfg, logger.NewTestLogger(t))

	n, err := p.Run(context.Background(), page, 100)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 4, page.scrolled())
}

func TestPaginator_EndsWhenCountNeverSettles(t *testing.T) {
	// every sample differs, so no stabilization window closes early
	page := &scrollPage{count: func(_, samples int) int { return samples }}
	cfg := paginatorConfig()
	cfg.TotalTimeout = 150 * time.Millisecond
	cfg.StabilizeTimeout = time.Second
	p := NewPaginator(cfg, logger.NewTestLogger(t))

	start := time.Now()
	n, err := p.Run(context.Background(), page, 10_000)
	require.NoError(t, err)
	assert.Positive(t, n)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPaginator_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	page := &scrollPage{count: func(s, _ int) int {
		if s == 2 {
			cancel()
		}
		return 10 * (s + 1)
	}}
	p := NewPaginator(paginatorConfig(), logger.NewTestLogger(t))

	n, err := p.Run(ctx, page, 100)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 20, n)
}

func TestSampleUntilStable(t *testing.T) {
	seq := []int{3, 5, 8, 8, 9}
	page := &scrollPage{count: func(_, samples int) int { return seq[min(samples, len(seq))-1] }}

	n := sampleUntilStable(context.Background(), page, "x", time.Millisecond, time.Now().Add(time.Second), time.Now)
	assert.Equal(t, 8, n)
}

func TestSampleUntilStable_WindowClosed(t *testing.T) {
	page := &scrollPage{count: func(_, samples int) int { return samples }}
	n := sampleUntilStable(context.Background(), page, "x", time.Millisecond, time.Now(), time.Now)
	assert.Equal(t, 1, n)
}
