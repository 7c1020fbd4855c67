// Package clock abstracts the time source so that rate-limit intervals,
// TTL expiry and retry backoff are all testable with a fake clock instead
// of wall-clock sleeps.
package clock

import "time"

// Clock is the minimal time surface the orchestration components need.
type Clock interface {
	Now() time.Time
	// After behaves like time.After: it delivers the current time once d
	// has elapsed. Waits on it must always be paired with a cancellation
	// branch in a select.
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Real returns the wall-clock backed Clock.
func Real() Clock { return realClock{} }
