// Package poll runs a bounded fixed-interval status check. Running out of
// attempts is reported as still pending, never as failure.
package poll

import (
	"context"
	"errors"
	"time"
)

const StillPendingMessage = "still pending, check later"

type Poller struct {
	Interval    time.Duration
	MaxAttempts int
}

// Result is the last observed value. Terminal is false when attempts ran out.
type Result[T any] struct {
	Value    T
	Terminal bool
	Attempts int
}

// Until calls fetch up to MaxAttempts times, Interval apart, stopping at the
// first terminal value. Fetch errors are returned as-is except transient ones
// reported via ErrTransient, which count as a non-terminal attempt.
func Until[T any](ctx context.Context, p Poller, fetch func(ctx context.Context) (T, bool, error)) (Result[T], error) {
	var res Result[T]
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	ticker := time.NewTicker(p.interval())
	defer ticker.Stop()

	for res.Attempts < attempts {
		res.Attempts++
		v, terminal, err := fetch(ctx)
		switch {
		case errors.Is(err, ErrTransient):
		case err != nil:
			return res, err
		default:
			res.Value = v
			if terminal {
				res.Terminal = true
				return res, nil
			}
		}
		if res.Attempts == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-ticker.C:
		}
	}
	return res, nil
}

// ErrTransient marks a fetch failure worth retrying on the next tick.
var ErrTransient = errors.New("transient poll failure")

func (p Poller) interval() time.Duration {
	if p.Interval <= 0 {
		return time.Second
	}
	return p.Interval
}
