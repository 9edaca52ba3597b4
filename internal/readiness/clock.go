package readiness

import (
	"context"
	"time"
)

// Clock is the time source of a Waiter.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, in which case it returns the
	// context's error.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
