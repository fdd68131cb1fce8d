package crawler

import (
	"context"
	"errors"
	"time"

	"github.com/user/maps-harvester/internal/domain"
)

// withRetry runs fn up to 1+MaxRetries times, waiting BaseDelay×attempt
// between tries. Blocks, cancellations and errors retryable rejects end the
// loop at once.
func withRetry(ctx context.Context, p RetryPolicy, fn func(attempt int) error) error {
	var err error
	for attempt := 1; attempt <= p.MaxRetries+1; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if !retryable(ctx, err) || attempt > p.MaxRetries {
			return err
		}
		if serr := sleep(ctx, p.BaseDelay*time.Duration(attempt)); serr != nil {
			return err
		}
	}
	return err
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, domain.ErrBlocked) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
