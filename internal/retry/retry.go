package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/jpillora/backoff"

	"atr-trading-bot/internal/logger"
)

// Policy bounds how an operation is retried. Factor 1 gives a fixed delay.
type Policy struct {
	Name        string
	MaxAttempts int
	Delay       time.Duration
	MaxDelay    time.Duration
	Factor      float64
	Jitter      bool
	IsRetryable func(error) bool
	// Sleep waits between attempts; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

func Fixed(name string, attempts int, delay time.Duration, isRetryable func(error) bool) Policy {
	return Policy{Name: name, MaxAttempts: attempts, Delay: delay, Factor: 1, IsRetryable: isRetryable}
}

// Do runs op until it succeeds, returns a non-retryable error, exhausts
// MaxAttempts or ctx ends. The last error is returned wrapped.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	maxDelay := p.MaxDelay
	if maxDelay < p.Delay {
		maxDelay = p.Delay
	}
	factor := p.Factor
	if factor <= 0 {
		factor = 2
	}
	b := &backoff.Backoff{Min: p.Delay, Max: maxDelay, Factor: factor, Jitter: p.Jitter}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if p.IsRetryable != nil && !p.IsRetryable(err) {
			return err
		}
		if attempt >= attempts {
			return fmt.Errorf("%s failed after %d attempts: %w", p.Name, attempt, err)
		}

		wait := b.Duration()
		logger.Warn(ctx, "Attempt failed, retrying",
			"operation", p.Name,
			"attempt", attempt,
			"max_attempts", attempts,
			"wait", wait.String(),
			"error", err,
		)
		if serr := sleep(ctx, wait); serr != nil {
			return fmt.Errorf("%s interrupted: %w", p.Name, serr)
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
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
