// Package retry implements the pure retry decision logic: whether a failed
// attempt should run again and how long to back off before it does.
package retry

import (
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/muralgen/muralgen/generr"
)

const (
	minMaxAttempts = 1
	minBaseDelay   = time.Millisecond
	maxJitter      = 1.0
)

var (
	// ErrInvalidMaxAttempts is returned when the max attempts parameter is invalid.
	ErrInvalidMaxAttempts = errors.New("max attempts must be at least 1")
	// ErrInvalidBaseDelay is returned when the base delay parameter is invalid.
	ErrInvalidBaseDelay = errors.New("base delay must be at least 1ms")
	// ErrInvalidJitter is returned when the jitter parameter is invalid.
	ErrInvalidJitter = errors.New("jitter must be between 0 and 1")
)

// Policy decides retries from the error kind and the attempt count. It holds
// no mutable state; one instance is shared by every endpoint class.
type Policy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	jitter      float64
	randFloat   func() float64
}

// NewPolicy creates a Policy.
// Parameters:
// - maxAttempts: total executions allowed, first attempt included.
// - baseDelay: backoff before the second attempt.
// - maxDelay: cap on any single backoff.
// - jitter: randomness factor in [0,1] to avoid retry storms.
func NewPolicy(maxAttempts int, baseDelay, maxDelay time.Duration, jitter float64) (*Policy, error) {
	if maxAttempts < minMaxAttempts {
		return nil, ErrInvalidMaxAttempts
	}
	if baseDelay < minBaseDelay {
		return nil, ErrInvalidBaseDelay
	}
	if jitter < 0 || jitter > maxJitter {
		return nil, ErrInvalidJitter
	}

	return &Policy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		jitter:      jitter,
		randFloat:   rand.Float64,
	}, nil
}

// Default returns the stock policy: 3 attempts, 500ms base, 10s cap, 0.25 jitter.
func Default() *Policy {
	p, err := NewPolicy(3, 500*time.Millisecond, 10*time.Second, 0.25)
	if err != nil {
		panic(err)
	}
	return p
}

// WithRand replaces the jitter source. Tests inject a constant.
func (p *Policy) WithRand(f func() float64) *Policy {
	q := *p
	q.randFloat = f
	return &q
}

// MaxAttempts reports the total execution budget.
func (p *Policy) MaxAttempts() int { return p.maxAttempts }

// ShouldRetry reports whether a failure on the given attempt (1-based) may
// be retried. Only network, rate-limit and server errors are retryable;
// everything else is terminal.
func (p *Policy) ShouldRetry(err error, attempt int) bool {
	if attempt >= p.maxAttempts {
		return false
	}
	return generr.IsRetryable(err)
}

// NextDelay computes the backoff before the given attempt re-runs:
// exponential with jitter, capped at maxDelay. A Retry-After hint on a 429
// overrides the computed delay upward, never downward.
func (p *Policy) NextDelay(err error, attempt int) time.Duration {
	exp := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	exp *= 1 + p.randFloat()*p.jitter
	if exp > float64(p.maxDelay) {
		exp = float64(p.maxDelay)
	}

	delay := time.Duration(exp)
	if hint := generr.RetryAfterOf(err); hint > delay {
		delay = hint
	}
	return delay
}
