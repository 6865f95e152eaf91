// Package resilience wraps outbound calls with retry, backoff and pacing.
//
// The retry loop is an explicit state machine (Backoff) driven by Retrier
// on an injectable clock, so schedules can be tested without real delays.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"
)

// Class is the terminal classification of a failed call.
type Class int

const (
	// Permanent failures are surfaced immediately.
	Permanent Class = iota
	// Transient failures (no response, 429, 5xx) are retried.
	Transient
	// Cancelled means the caller's context ended.
	Cancelled
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Cancelled:
		return "cancelled"
	}
	return "permanent"
}

// statusCoder is implemented by errors carrying an HTTP status code.
type statusCoder interface {
	HTTPStatus() int
}

// retryAfterer is implemented by errors carrying a server-requested delay.
type retryAfterer interface {
	RetryAfter() time.Duration
}

// Classify decides whether err is worth retrying.
func Classify(err error) Class {
	if err == nil {
		return Permanent
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		code := sc.HTTPStatus()
		if code == 429 || code >= 500 {
			return Transient
		}
		return Permanent
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient
	}
	return Permanent
}

// Policy configures retries.
type Policy struct {
	// Retries is the number of attempts after the first one.
	Retries int
	// BaseDelay is multiplied by 2^attempt for each retry.
	BaseDelay time.Duration
	// MaxDelay caps a single delay. Zero means no cap.
	MaxDelay time.Duration
}

// DefaultPolicy matches the defaults of the migrator configuration.
func DefaultPolicy() Policy {
	return Policy{Retries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Delay returns the wait before retry number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Backoff is the retry state of a single call: how many attempts were
// made, the delay before the next one, and the classification of the
// last error.
type Backoff struct {
	policy    Policy
	attempts  int
	nextDelay time.Duration
	lastErr   error
	lastClass Class
}

// NewBackoff starts a retry state machine for one call.
func NewBackoff(p Policy) *Backoff {
	return &Backoff{policy: p}
}

// Record registers the error of the attempt just made. It reports
// whether another attempt should follow and after which delay.
func (b *Backoff) Record(err error) (bool, time.Duration) {
	b.attempts++
	b.lastErr = err
	b.lastClass = Classify(err)
	b.nextDelay = 0
	if err == nil || b.lastClass != Transient || b.attempts > b.policy.Retries {
		return false, 0
	}
	d := b.policy.Delay(b.attempts - 1)
	var ra retryAfterer
	if errors.As(err, &ra) && ra.RetryAfter() > d {
		d = ra.RetryAfter()
		if b.policy.MaxDelay > 0 && d > b.policy.MaxDelay {
			d = b.policy.MaxDelay
		}
	}
	b.nextDelay = d
	return true, d
}

// Attempts returns the number of attempts recorded so far.
func (b *Backoff) Attempts() int { return b.attempts }

// NextDelay returns the delay chosen by the last Record call.
func (b *Backoff) NextDelay() time.Duration { return b.nextDelay }

// LastErr returns the error recorded last.
func (b *Backoff) LastErr() error { return b.lastErr }

// LastClass returns the classification of the error recorded last.
func (b *Backoff) LastClass() Class { return b.lastClass }

// ExhaustedError is returned when a transient failure persisted through
// every retry.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }
