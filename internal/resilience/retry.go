package resilience

import (
	"context"
	"time"

	"github.com/juju/clock"
)

// Retrier runs a call under a Policy. Each attempt waits for the
// pipeline's Pacer and is bounded by Timeout.
type Retrier struct {
	Policy Policy
	// Timeout bounds a single attempt. Zero means no per-attempt timeout.
	Timeout time.Duration
	Clock   clock.Clock
	// Notify is called before sleeping for a retry.
	Notify func(err error, attempt int, delay time.Duration)
}

// Do calls fn until it succeeds, fails permanently, the retries are
// exhausted or ctx ends.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	clk := r.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	b := NewBackoff(r.Policy)
	for {
		if err := Pace(ctx); err != nil {
			return err
		}
		err := r.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		retry, delay := b.Record(err)
		if !retry {
			if b.LastClass() == Transient {
				return &ExhaustedError{Attempts: b.Attempts(), Err: err}
			}
			return err
		}
		if r.Notify != nil {
			r.Notify(err, b.Attempts(), delay)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(delay):
		}
	}
}

// Once makes a single paced attempt bounded by Timeout. It is for calls
// that must not be repeated blindly; the caller decides about retries.
func (r *Retrier) Once(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := Pace(ctx); err != nil {
		return err
	}
	return r.attempt(ctx, fn)
}

func (r *Retrier) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.Timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()
	return fn(callCtx)
}
