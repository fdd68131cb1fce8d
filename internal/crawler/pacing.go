package crawler

import (
	"context"
	"math/rand/v2"
	"time"
)

// Pacer decides how long to pause between candidates.
type Pacer interface {
	Pause(ctx context.Context) error
}

// RandomPacer sleeps a uniformly random duration in [Min, Max].
type RandomPacer struct {
	Min, Max time.Duration
}

func DefaultPacer() RandomPacer {
	return RandomPacer{Min: time.Second, Max: 2500 * time.Millisecond}
}

func (p RandomPacer) Pause(ctx context.Context) error {
	d := p.Min
	if p.Max > p.Min {
		d += rand.N(p.Max - p.Min + 1)
	}
	return sleep(ctx, d)
}

// NoPacer never waits.
type NoPacer struct{}

func (NoPacer) Pause(ctx context.Context) error { return ctx.Err() }

// sleep waits for d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
