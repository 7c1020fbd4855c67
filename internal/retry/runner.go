package retry

import (
	"context"
	"fmt"

	"time"

	"github.com/muralgen/muralgen/internal/clock"
)

// Runner executes a function with a fixed backoff schedule. Unlike Policy,
// which judges errors by kind, Runner retries any failure; it guards
// infrastructure calls (the remote cache tier) where every error is worth
// one more try before degrading.
type Runner struct {
	backoff []time.Duration
	clk     clock.Clock
}

// NewRunner creates a Runner allowing len(backoff)+1 attempts, sleeping
// backoff[i] after the i-th failure.
func NewRunner(clk clock.Clock, backoff []time.Duration) *Runner {
	return &Runner{backoff: backoff, clk: clk}
}

// Run invokes fn until it succeeds or the schedule is exhausted.
func (r *Runner) Run(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if attempt >= len(r.backoff) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.clk.After(r.backoff[attempt]):
		}
	}
	return fmt.Errorf("max retry attempts reached: %w", err)
}
