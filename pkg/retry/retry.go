package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/harrisonrobin/planhub/pkg/fault"
)

// Policy bounds how often and how slowly a call is retried.
type Policy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// Default is used for calls to the model, the record store and the mail transport.
var Default = Policy{Attempts: 3, Initial: 500 * time.Millisecond, Max: 4 * time.Second}

// None runs the call exactly once.
var None = Policy{Attempts: 1}

func (p Policy) delay(attempt int) time.Duration {
	d := p.Initial << (attempt - 1)
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}

// Do runs op until it succeeds, returns a non-transient error, or the
// attempts are used up. Backoff doubles after every failed attempt.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.delay(attempt)):
			case <-ctx.Done():
				return fault.E(fault.Transient, "retry", ctx.Err())
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !fault.Is(lastErr, fault.Transient) {
			return lastErr
		}
	}

	if attempts == 1 {
		return lastErr
	}
	return fault.E(fault.Transient, "retry", fmt.Errorf("max attempts (%d) exceeded: %w", attempts, lastErr))
}

// Value is Do for calls that produce a result.
func Value[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
