// Package muralgen is the client-side orchestration layer for AI wallpaper
// generation: a rate-limited, retrying, cancellable dispatch queue combined
// with a deduplicating TTL response cache, behind a facade that speaks the
// remote generation API.
//
// Everything is wired explicitly in New and passed by reference; there is
// no ambient registry.
package muralgen

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/muralgen/muralgen/config"
	"github.com/muralgen/muralgen/internal/cache"
	"github.com/muralgen/muralgen/internal/clock"
	"github.com/muralgen/muralgen/internal/genapi"
	"github.com/muralgen/muralgen/internal/queue"
	"github.com/muralgen/muralgen/internal/retry"
	"github.com/muralgen/muralgen/models"
	"github.com/muralgen/muralgen/pkg/serialization"
)

// GenStatus tracks a generation through the dispatch lifecycle.
type GenStatus = queue.Status

const (
	StatusQueued      = queue.StatusQueued
	StatusDispatching = queue.StatusDispatching
	StatusRetrying    = queue.StatusRetrying
	StatusDone        = queue.StatusDone
	StatusFailed      = queue.StatusFailed
	StatusCancelled   = queue.StatusCancelled
)

// ModelInfo describes one model offered by the generation service.
type ModelInfo = genapi.ModelInfo

// Client exposes the domain operations: compose a prompt, generate a
// wallpaper image, generate a variant or restyle. It is safe for
// concurrent use and is meant to be constructed once at startup.
type Client struct {
	cfg     *config.Config
	logger  *zap.Logger
	clk     clock.Clock
	metrics *models.Metrics
	tracer  trace.Tracer

	queue *queue.Queue
	cache *cache.Cache
	api   *genapi.Client

	cleanupStop chan struct{}
	closeOnce   sync.Once
}

// New wires the queue, the cache and the transport from cfg. The caller
// owns the returned Client and must Close it.
func New(ctx context.Context, cfg *config.Config) (*Client, error) {
	return newClient(ctx, cfg, clock.Real(), nil)
}

func newClient(ctx context.Context, cfg *config.Config, clk clock.Clock, httpClient *http.Client) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := cfg.Logger

	policy, err := retry.NewPolicy(cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay, cfg.Retry.MaxDelay, cfg.Retry.Jitter)
	if err != nil {
		return nil, fmt.Errorf("failed to create retry policy: %w", err)
	}

	metrics := models.NewMetrics()

	q := queue.New(policy, clk, logger, metrics, cfg.Windows.Default, map[queue.EndpointClass]time.Duration{
		queue.ClassImage: cfg.Windows.Image,
		queue.ClassText:  cfg.Windows.Text,
	})

	store, err := cache.NewRistrettoStore(cfg.MaxCacheEntries, clk, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create local store: %w", err)
	}
	tracker := cache.NewTracker(logger)

	var remote *cache.Remote
	if cfg.Remote.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Remote.Addr,
			Password: cfg.Remote.Password,
			DB:       cfg.Remote.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to remote cache: %w", err)
		}
		codec, err := serialization.ByName(cfg.Remote.Serialization)
		if err != nil {
			return nil, err
		}
		remote = cache.NewRemote(ctx, redisClient, codec,
			retry.NewRunner(clk, cfg.Remote.Backoff),
			cache.RemoteConfig{
				Prefix:            cfg.Remote.Prefix,
				ExpectedItems:     cfg.Remote.ExpectedItems,
				FalsePositiveRate: cfg.Remote.FalsePositiveRate,
				Breaker:           cfg.Remote.Breaker,
			}, logger)
	}

	c := &Client{
		cfg:         cfg,
		logger:      logger,
		clk:         clk,
		metrics:     metrics,
		tracer:      otel.Tracer("muralgen/client"),
		queue:       q,
		cache:       cache.New(store, tracker, remote, clk, logger, metrics),
		api:         genapi.New(cfg.BaseURL, cfg.APIKey, cfg.RequestTimeout, httpClient, logger),
		cleanupStop: make(chan struct{}),
	}

	if cfg.CleanupInterval > 0 {
		go c.cleanupLoop(cfg.CleanupInterval)
	}

	return c, nil
}

// cleanupLoop periodically sweeps expired cache entries. The cache itself
// never self-schedules; the facade is the external scheduler.
func (c *Client) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			removed := c.cache.Cleanup(context.Background())
			if removed > 0 {
				c.logger.Debug("cache cleanup", zap.Int("removed", removed))
			}
		case <-c.cleanupStop:
			return
		}
	}
}

// Metrics returns a snapshot of the orchestration counters.
func (c *Client) Metrics() models.Snapshot {
	return c.metrics.Snapshot()
}

// Close stops the dispatchers (settling queued work as cancelled) and
// releases the cache.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.cleanupStop)
		c.queue.Close()
		c.cache.Close()
	})
}
