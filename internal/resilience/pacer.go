package resilience

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer enforces a minimum delay between consecutive outbound calls of
// one pipeline. A nil Pacer never waits.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer returns a Pacer spacing calls by minDelay, or nil when
// minDelay is not positive.
func NewPacer(minDelay time.Duration) *Pacer {
	if minDelay <= 0 {
		return nil
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Every(minDelay), 1)}
}

// Wait blocks until the next call may start.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

type pacerKey struct{}

// WithPacer attaches a pipeline's Pacer to ctx.
func WithPacer(ctx context.Context, p *Pacer) context.Context {
	return context.WithValue(ctx, pacerKey{}, p)
}

// Pace waits on the Pacer attached to ctx, if any.
func Pace(ctx context.Context) error {
	p, _ := ctx.Value(pacerKey{}).(*Pacer)
	return p.Wait(ctx)
}
