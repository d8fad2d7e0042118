package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// linearBackOff waits base × attempt between tries: the delay grows linearly
// with the attempt number rather than exponentially.
type linearBackOff struct {
	base    time.Duration
	maxTry  int
	attempt int
}

var _ backoff.BackOff = (*linearBackOff)(nil)

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	if b.attempt >= b.maxTry {
		return backoff.Stop
	}
	return b.base * time.Duration(b.attempt)
}

func (b *linearBackOff) Reset() { b.attempt = 0 }

// loadDependencies asks the auto-loader for the route's handler chain,
// retrying per the configured count with linearly increasing delay between
// attempts. Exhaustion surfaces as AUTOLOAD_FAILED with the attempt count.
func loadDependencies(ctx context.Context, loader AutoLoader, entry *RouteEntry, retries int, base time.Duration, logger *slog.Logger) ([]Handler, int, error) {
	bo := &linearBackOff{base: base, maxTry: retries + 1}
	attempts := 0
	var lastErr error
	for {
		attempts++
		handlers, err := loader.EnsureRouteDependencies(ctx, entry)
		if err == nil {
			return handlers, attempts, nil
		}
		lastErr = err
		logger.WarnContext(ctx, "dependency load failed",
			slog.Int("attempt", attempts),
			slog.String("error", err.Error()))

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, attempts, fmt.Errorf("dependency load canceled after %d attempts: %w", attempts, ctx.Err())
		}
	}
	return nil, attempts, fmt.Errorf("dependency load failed after %d attempts: %w", attempts, lastErr)
}
