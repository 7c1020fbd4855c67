// Package cache implements the deduplicating TTL response cache: identical
// concurrent requests share one underlying execution, and successful
// results are served from a local (and optionally remote) store until they
// expire.
package cache

import (
	"context"
	"regexp"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/muralgen/muralgen/generr"
	"github.com/muralgen/muralgen/internal/clock"
	"github.com/muralgen/muralgen/internal/utils"
	"github.com/muralgen/muralgen/models"
)

// flightShardCount fixes how many locks the flight registry is striped
// over, so concurrent executions for unrelated keys do not contend.
const flightShardCount = 16

// Loader produces the value for a key when the cache cannot serve it.
type Loader func(ctx context.Context) ([]byte, error)

// flight is one in-progress execution for a key. At most one exists per
// key; all concurrent callers for that key attach to it. The waiter count
// is guarded by the owning shard's mutex.
type flight struct {
	waiters int
	cancel  context.CancelFunc
	done    chan struct{}
	val     []byte
	err     error
}

// flightShard is one stripe of the flight registry. A key always maps to
// the same shard, so the at-most-one-flight-per-key invariant holds per
// shard.
type flightShard struct {
	mu      sync.Mutex
	flights map[string]*flight
}

// Cache coalesces concurrent executions per key and serves stored results
// until their TTL elapses. Failures are never cached. The cache schedules
// nothing itself; Cleanup is for an external caller to drive.
type Cache struct {
	store   Store
	tracker *Tracker
	remote  *Remote // nil when the remote tier is disabled
	clk     clock.Clock
	logger  *zap.Logger
	metrics *models.Metrics
	tracer  trace.Tracer

	shards []*flightShard
}

// New creates a Cache over the given local store. remote may be nil.
func New(store Store, tracker *Tracker, remote *Remote, clk clock.Clock,
	logger *zap.Logger, metrics *models.Metrics) *Cache {
	shards := make([]*flightShard, flightShardCount)
	for i := range shards {
		shards[i] = &flightShard{flights: make(map[string]*flight)}
	}
	return &Cache{
		store:   store,
		tracker: tracker,
		remote:  remote,
		clk:     clk,
		logger:  logger,
		metrics: metrics,
		tracer:  otel.Tracer("muralgen/cache"),
		shards:  shards,
	}
}

func (c *Cache) shardFor(key string) *flightShard {
	return c.shards[utils.ShardIndex(uint64(len(c.shards)), key)]
}

// Execute returns the cached value for key if fresh, joins the in-flight
// execution if one exists, and otherwise runs fn. A successful result is
// stored for ttl; ttl <= 0 means deduplicate only, cache nothing.
//
// A joined caller that cancels its ctx detaches without disturbing the
// shared execution; the execution itself is aborted only when its last
// waiter has detached.
func (c *Cache) Execute(ctx context.Context, key string, ttl time.Duration, fn Loader) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "Cache.Execute", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	if entry, ok := c.store.Get(key); ok {
		c.metrics.Hits.Inc()
		return entry.Data, nil
	}

	sh := c.shardFor(key)
	sh.mu.Lock()
	if f, ok := sh.flights[key]; ok {
		f.waiters++
		sh.mu.Unlock()
		// A join is neither a hit nor a miss; the opener already counted
		// the miss for this key.
		c.metrics.DedupJoins.Inc()
		return c.await(ctx, sh, f)
	}
	c.metrics.Misses.Inc()

	// The flight's context is detached from this caller so that one
	// waiter cancelling cannot fail the others.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &flight{waiters: 1, cancel: cancel, done: make(chan struct{})}
	sh.flights[key] = f
	sh.mu.Unlock()

	go c.runFlight(runCtx, key, ttl, sh, f, fn)
	return c.await(ctx, sh, f)
}

func (c *Cache) await(ctx context.Context, sh *flightShard, f *flight) ([]byte, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		sh.mu.Lock()
		f.waiters--
		last := f.waiters <= 0
		sh.mu.Unlock()
		if last {
			f.cancel()
		}
		return nil, generr.New(generr.KindCancelled, "", ctx.Err())
	}
}

func (c *Cache) runFlight(ctx context.Context, key string, ttl time.Duration, sh *flightShard, f *flight, fn Loader) {
	defer f.cancel()

	val, err := c.load(ctx, key, ttl, fn)

	// Remove the flight before releasing waiters so the next Execute for
	// this key starts fresh. Invariant: at most one flight per key.
	sh.mu.Lock()
	delete(sh.flights, key)
	sh.mu.Unlock()

	f.val, f.err = val, err
	close(f.done)
}

func (c *Cache) load(ctx context.Context, key string, ttl time.Duration, fn Loader) ([]byte, error) {
	if c.remote != nil {
		if entry, ok := c.remote.Get(ctx, key); ok && !entry.Expired(c.clk.Now()) {
			c.metrics.RemoteHits.Inc()
			if err := c.store.Set(key, entry); err == nil {
				c.tracker.Add(key)
			}
			return entry.Data, nil
		}
	}

	val, err := fn(ctx)
	if err != nil {
		// Failures are not cached; the next call retries from scratch.
		return nil, err
	}

	if ttl > 0 {
		c.storeEntry(ctx, key, val, ttl)
	}
	return val, nil
}

func (c *Cache) storeEntry(ctx context.Context, key string, val []byte, ttl time.Duration) {
	entry := models.NewEntry(key, val, c.clk.Now(), ttl)
	if err := c.store.Set(key, entry); err != nil {
		c.logger.Warn("failed to store cache entry", zap.String("key", key), zap.Error(err))
		return
	}
	c.tracker.Add(key)
	if c.remote != nil {
		c.remote.Set(ctx, entry)
	}
}

// Get returns the fresh cached value for key, or (nil, false).
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	_, span := c.tracer.Start(ctx, "Cache.Get", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	entry, ok := c.store.Get(key)
	if !ok {
		c.metrics.Misses.Inc()
		return nil, false
	}
	c.metrics.Hits.Inc()
	return entry.Data, true
}

// Set primes the cache directly, bypassing the execute path.
func (c *Cache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	_, span := c.tracer.Start(ctx, "Cache.Set", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	c.storeEntry(ctx, key, val, ttl)
}

// Invalidate removes one key from every tier.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	_, span := c.tracer.Start(ctx, "Cache.Invalidate", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	c.store.Delete(key)
	c.tracker.Remove(key)
	if c.remote != nil {
		c.remote.Delete(ctx, key)
	}
}

// InvalidatePattern removes every key matching re. Returns the number of
// keys removed.
func (c *Cache) InvalidatePattern(ctx context.Context, re *regexp.Regexp) int {
	ctx, span := c.tracer.Start(ctx, "Cache.InvalidatePattern", trace.WithAttributes(attribute.String("pattern", re.String())))
	defer span.End()

	removed := 0
	for _, key := range c.tracker.Keys() {
		if re.MatchString(key) {
			c.Invalidate(ctx, key)
			removed++
		}
	}
	return removed
}

// Clear drops every entry from every tier.
func (c *Cache) Clear(ctx context.Context) {
	ctx, span := c.tracer.Start(ctx, "Cache.Clear")
	defer span.End()

	keys := c.tracker.Keys()
	c.store.Flush()
	for _, key := range keys {
		c.tracker.Remove(key)
	}
	if c.remote != nil {
		c.remote.Clear(ctx, keys)
	}
}

// Cleanup drops expired local entries. The store's lazy expiry already
// hides them from readers; this reclaims the memory. Returns the number of
// entries removed.
func (c *Cache) Cleanup(ctx context.Context) int {
	_, span := c.tracer.Start(ctx, "Cache.Cleanup")
	defer span.End()

	removed := 0
	for _, key := range c.tracker.Keys() {
		if _, ok := c.store.Get(key); !ok {
			c.tracker.Remove(key)
			removed++
		}
	}
	return removed
}

// Close releases the local store.
func (c *Cache) Close() {
	c.store.Close()
}
