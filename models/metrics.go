package models

import "go.uber.org/atomic"

// Metrics stores orchestration statistics
type Metrics struct {
	Hits       *atomic.Int64
	Misses     *atomic.Int64
	DedupJoins *atomic.Int64
	RemoteHits *atomic.Int64
	Dispatches *atomic.Int64
	Retries    *atomic.Int64
	Failures   *atomic.Int64
	Cancels    *atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{
		Hits:       atomic.NewInt64(0),
		Misses:     atomic.NewInt64(0),
		DedupJoins: atomic.NewInt64(0),
		RemoteHits: atomic.NewInt64(0),
		Dispatches: atomic.NewInt64(0),
		Retries:    atomic.NewInt64(0),
		Failures:   atomic.NewInt64(0),
		Cancels:    atomic.NewInt64(0),
	}
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Hits       int64
	Misses     int64
	DedupJoins int64
	RemoteHits int64
	Dispatches int64
	Retries    int64
	Failures   int64
	Cancels    int64
}

// Snapshot reads all counters once.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Hits:       m.Hits.Load(),
		Misses:     m.Misses.Load(),
		DedupJoins: m.DedupJoins.Load(),
		RemoteHits: m.RemoteHits.Load(),
		Dispatches: m.Dispatches.Load(),
		Retries:    m.Retries.Load(),
		Failures:   m.Failures.Load(),
		Cancels:    m.Cancels.Load(),
	}
}
