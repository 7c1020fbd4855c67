package cache

import (
	"sync"

	"go.uber.org/zap"
)

// Tracker keeps the set of keys currently in the local store. Ristretto
// cannot enumerate its contents, so pattern invalidation and cleanup walk
// this set instead.
type Tracker struct {
	trackedKeys sync.Map
	logger      *zap.Logger
}

// NewTracker creates a new Tracker instance.
func NewTracker(logger *zap.Logger) *Tracker {
	return &Tracker{logger: logger}
}

// Add adds a key to the tracker.
func (t *Tracker) Add(key string) {
	t.trackedKeys.Store(key, struct{}{})
}

// Remove removes a key from the tracker.
func (t *Tracker) Remove(key string) {
	t.trackedKeys.Delete(key)
}

// Range iterates over all tracked keys until f returns false.
func (t *Tracker) Range(f func(key string) bool) {
	t.trackedKeys.Range(func(k, _ any) bool {
		strKey, ok := k.(string)
		if !ok {
			t.logger.Warn("invalid key type in tracker", zap.Any("key", k))
			return true
		}
		return f(strKey)
	})
}

// Keys returns a snapshot of all tracked keys.
func (t *Tracker) Keys() []string {
	var keys []string
	t.Range(func(key string) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}
