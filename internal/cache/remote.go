package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/muralgen/muralgen/internal/retry"
	"github.com/muralgen/muralgen/models"
	"github.com/muralgen/muralgen/pkg/serialization"
)

// Remote is the optional second cache tier. It lets composed prompts and
// model listings survive process restarts. Every operation is guarded by a
// circuit breaker and a fixed-schedule retrier; failures degrade the cache
// to local-only and are never surfaced to callers.
type Remote struct {
	client redis.Cmdable
	runner *retry.Runner
	cb     *gobreaker.CircuitBreaker
	codec  serialization.Codec
	logger *zap.Logger
	prefix string

	// Bloom filter of keys known to exist remotely, checked before every
	// read to skip pointless round trips. Persisted to redis so a fresh
	// process still sees keys written by the previous one.
	filterMu  sync.Mutex
	filter    *bloom.BloomFilter
	filterKey string

	sf singleflight.Group
}

// RemoteConfig collects the remote tier knobs.
type RemoteConfig struct {
	Prefix            string
	ExpectedItems     uint
	FalsePositiveRate float64
	Breaker           gobreaker.Settings
}

// NewRemote creates the remote tier and loads the persisted bloom filter.
func NewRemote(ctx context.Context, client redis.Cmdable, codec serialization.Codec,
	runner *retry.Runner, cfg RemoteConfig, logger *zap.Logger) *Remote {
	r := &Remote{
		client:    client,
		runner:    runner,
		cb:        gobreaker.NewCircuitBreaker(cfg.Breaker),
		codec:     codec,
		logger:    logger,
		prefix:    cfg.Prefix,
		filter:    bloom.NewWithEstimates(cfg.ExpectedItems, cfg.FalsePositiveRate),
		filterKey: cfg.Prefix + "bloom_filter",
	}
	if err := r.loadFilter(ctx); err != nil {
		logger.Warn("failed to load bloom filter, starting empty", zap.Error(err))
	}
	return r
}

// execute wraps fn in the breaker and the retrier.
func (r *Remote) execute(ctx context.Context, fn func() error) error {
	_, err := r.cb.Execute(func() (any, error) {
		return nil, r.runner.Run(ctx, fn)
	})
	return err
}

// Get fetches an entry. Concurrent reads of the same key are coalesced.
func (r *Remote) Get(ctx context.Context, key string) (*models.Entry, bool) {
	r.filterMu.Lock()
	negative := !r.filter.Test([]byte(key))
	r.filterMu.Unlock()
	if negative {
		return nil, false
	}

	v, err, _ := r.sf.Do(key, func() (any, error) {
		var data []byte
		err := r.execute(ctx, func() error {
			b, err := r.client.Get(ctx, r.prefix+key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return nil
				}
				return err
			}
			data = b
			return nil
		})
		if err != nil || data == nil {
			return nil, err
		}

		var entry models.Entry
		if err := r.codec.Unmarshal(data, &entry); err != nil {
			return nil, fmt.Errorf("failed to decode remote entry: %w", err)
		}
		return &entry, nil
	})
	if err != nil {
		r.logger.Warn("remote cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if v == nil {
		return nil, false
	}
	return v.(*models.Entry), true
}

// Set stores an entry best-effort and records it in the bloom filter.
func (r *Remote) Set(ctx context.Context, entry *models.Entry) {
	data, err := r.codec.Marshal(entry)
	if err != nil {
		r.logger.Warn("failed to encode remote entry", zap.String("key", entry.Key), zap.Error(err))
		return
	}

	if err := r.execute(ctx, func() error {
		return r.client.Set(ctx, r.prefix+entry.Key, data, entry.TTL).Err()
	}); err != nil {
		r.logger.Warn("remote cache write failed", zap.String("key", entry.Key), zap.Error(err))
		return
	}

	r.filterMu.Lock()
	r.filter.Add([]byte(entry.Key))
	r.filterMu.Unlock()
	go r.saveFilter(context.WithoutCancel(ctx))
}

// Delete removes a key best-effort. The bloom filter keeps the key; it only
// produces a spare round trip on the next read.
func (r *Remote) Delete(ctx context.Context, key string) {
	if err := r.execute(ctx, func() error {
		return r.client.Del(ctx, r.prefix+key).Err()
	}); err != nil {
		r.logger.Warn("remote cache delete failed", zap.String("key", key), zap.Error(err))
	}
}

// Clear removes the given keys and rebuilds the bloom filter.
func (r *Remote) Clear(ctx context.Context, keys []string) {
	prefixed := make([]string, 0, len(keys))
	for _, k := range keys {
		prefixed = append(prefixed, r.prefix+k)
	}
	if len(prefixed) > 0 {
		if err := r.execute(ctx, func() error {
			return r.client.Del(ctx, prefixed...).Err()
		}); err != nil {
			r.logger.Warn("remote cache clear failed", zap.Error(err))
		}
	}

	r.filterMu.Lock()
	r.filter.ClearAll()
	r.filterMu.Unlock()
	r.saveFilter(ctx)
}

func (r *Remote) loadFilter(ctx context.Context) error {
	data, err := r.client.Get(ctx, r.filterKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}

	r.filterMu.Lock()
	defer r.filterMu.Unlock()
	if _, err := r.filter.ReadFrom(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to decode bloom filter: %w", err)
	}
	return nil
}

func (r *Remote) saveFilter(ctx context.Context) {
	r.filterMu.Lock()
	var buf bytes.Buffer
	_, err := r.filter.WriteTo(&buf)
	r.filterMu.Unlock()
	if err != nil {
		r.logger.Warn("failed to encode bloom filter", zap.Error(err))
		return
	}

	if err := r.client.Set(ctx, r.filterKey, buf.Bytes(), 0).Err(); err != nil {
		r.logger.Warn("failed to persist bloom filter", zap.Error(err))
	}
}
