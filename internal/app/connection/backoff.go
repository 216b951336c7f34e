package connection

import (
	"context"
	"time"
)

// Backoff is the reconnect policy: MaxAttempts consecutive dial failures
// are tolerated, waiting Initial, then doubling up to Max between them.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

func DefaultBackoff() Backoff {
	return Backoff{Initial: time.Second, Max: 5 * time.Second, MaxAttempts: 5}
}

// Delay returns the wait before retry number attempt (1 based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
