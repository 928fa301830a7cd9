package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPermanent marks a publish failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent publish failure")

// Delayer is implemented by errors that carry the delay the downstream
// asked for before the next attempt (an HTTP Retry-After).
type Delayer interface {
	Delay() time.Duration
}

// Backoff is the retry schedule of a publisher. The first retry waits
// Initial; each later one waits twice as long, up to Max.
type Backoff struct {
	Retries int
	Initial time.Duration
	Max     time.Duration
}

// Wait returns the delay before retry n (1-based).
func (b Backoff) Wait(n int) time.Duration {
	d := b.Initial
	for i := 1; i < n; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// Retry runs attempt until it succeeds, returns an ErrPermanent error, or
// the retries are spent. A Delayer error overrides the schedule, capped at
// Max.
func (b Backoff) Retry(ctx context.Context, attempt func(ctx context.Context) error) error {
	var lastErr error
	for n := 0; n <= b.Retries; n++ {
		if n > 0 {
			wait := b.Wait(n)
			var d Delayer
			if errors.As(lastErr, &d) && d.Delay() > 0 {
				wait = d.Delay()
				if b.Max > 0 && wait > b.Max {
					wait = b.Max
				}
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("canceled during backoff: %w", ctx.Err())
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("canceled: %w", err)
		}

		lastErr = attempt(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrPermanent) {
			return lastErr
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", b.Retries+1, lastErr)
}
