package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muralgen/muralgen/internal/clock"
)

func TestRunnerSucceedsFirstTry(t *testing.T) {
	r := NewRunner(clock.NewFake(), []time.Duration{time.Second})

	calls := 0
	err := r.Run(context.Background(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRunnerRetriesThroughSchedule(t *testing.T) {
	clk := clock.NewFake()
	r := NewRunner(clk, []time.Duration{time.Second, 2 * time.Second})

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- r.Run(context.Background(), func() error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool { return clk.Waiters() == 1 }, time.Second, time.Millisecond)
	clk.Advance(time.Second)
	require.Eventually(t, func() bool { return clk.Waiters() == 1 }, time.Second, time.Millisecond)
	clk.Advance(2 * time.Second)

	require.NoError(t, <-done)
	assert.Equal(t, 3, calls)
}

func TestRunnerExhaustsSchedule(t *testing.T) {
	r := NewRunner(clock.NewFake(), nil)

	boom := errors.New("persistent")
	err := r.Run(context.Background(), func() error { return boom })
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestRunnerHonorsContext(t *testing.T) {
	clk := clock.NewFake()
	r := NewRunner(clk, []time.Duration{time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx, func() error { return errors.New("transient") })
	}()

	require.Eventually(t, func() bool { return clk.Waiters() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
