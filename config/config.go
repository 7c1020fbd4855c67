// Package config holds the wiring configuration for the muralgen client:
// API endpoint and key, per-endpoint-class rate windows, retry budget,
// cache TTL policy and the optional remote cache tier.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/muralgen/muralgen/pkg/serialization"
)

var (
	ErrMissingAPIKey  = errors.New("api key is required")
	ErrMissingBaseURL = errors.New("base url is required")
)

// RetryConfig is the retry budget applied by the dispatch queue.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      float64       `yaml:"jitter"`
}

// WindowConfig is the minimum interval between dispatches per endpoint class.
type WindowConfig struct {
	Image   time.Duration `yaml:"image"`
	Text    time.Duration `yaml:"text"`
	Default time.Duration `yaml:"default"`
}

// TTLConfig is the freshness policy per operation kind. Image results are
// deduplicated but never stored: each prompt+seed combination is typically
// unique and large.
type TTLConfig struct {
	PromptCompose time.Duration `yaml:"prompt_compose"`
	ModelListing  time.Duration `yaml:"model_listing"`
}

// RemoteConfig enables the optional redis-backed cache tier.
type RemoteConfig struct {
	Enabled           bool            `yaml:"enabled"`
	Addr              string          `yaml:"addr"`
	Password          string          `yaml:"password"`
	DB                int             `yaml:"db"`
	Prefix            string          `yaml:"prefix"`
	Serialization     string          `yaml:"serialization"`
	ExpectedItems     uint            `yaml:"expected_items"`
	FalsePositiveRate float64         `yaml:"false_positive_rate"`
	Backoff           []time.Duration `yaml:"backoff"`

	Breaker gobreaker.Settings `yaml:"-"`
}

// Config is the full client configuration.
type Config struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	Windows WindowConfig `yaml:"windows"`
	Retry   RetryConfig  `yaml:"retry"`
	TTL     TTLConfig    `yaml:"ttl"`

	MaxCacheEntries uint64 `yaml:"max_cache_entries"`
	// CleanupInterval > 0 makes the facade sweep expired entries on a
	// ticker; zero leaves cleanup entirely to the caller.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	Remote RemoteConfig `yaml:"remote"`

	Logger *zap.Logger `yaml:"-"`
}

// Option mutates a Config during construction.
type Option func(*Config) error

// New creates a Config with defaults and applies the given options.
func New(options ...Option) (*Config, error) {
	cfg := &Config{
		RequestTimeout: 30 * time.Second,
		Windows: WindowConfig{
			Image:   5 * time.Second,
			Text:    3 * time.Second,
			Default: 3 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    10 * time.Second,
			Jitter:      0.25,
		},
		TTL: TTLConfig{
			PromptCompose: time.Minute,
			ModelListing:  24 * time.Hour,
		},
		MaxCacheEntries: 4096,
		Remote: RemoteConfig{
			Prefix:            "muralgen:",
			Serialization:     serialization.JSONType,
			ExpectedItems:     1000,
			FalsePositiveRate: 0.01,
			Backoff: []time.Duration{
				100 * time.Millisecond,
				200 * time.Millisecond,
				400 * time.Millisecond,
			},
			Breaker: gobreaker.Settings{
				Name:        "RemoteCache",
				MaxRequests: 3,
				Interval:    60 * time.Second,
				Timeout:     30 * time.Second,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures > 5
				},
			},
		},
	}

	for _, option := range options {
		if err := option(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.Logger == nil {
		logger, err := zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize default logger: %w", err)
		}
		cfg.Logger = logger
	}

	return cfg, nil
}

// Validate checks the fields every client needs.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.BaseURL == "" {
		return ErrMissingBaseURL
	}
	if _, err := serialization.ByName(c.Remote.Serialization); err != nil {
		return err
	}
	return nil
}

// Load reads a YAML config file, expanding environment variables so the
// API key can be referenced indirectly (api_key: ${MURALGEN_API_KEY}).
func Load(path string, options ...Option) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg, err := New(options...)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// WithLogger sets a custom logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) error {
		if logger != nil {
			c.Logger = logger
		}
		return nil
	}
}

// WithAPIKey sets the generation API key.
func WithAPIKey(key string) Option {
	return func(c *Config) error {
		c.APIKey = key
		return nil
	}
}

// WithBaseURL sets the generation API base URL.
func WithBaseURL(url string) Option {
	return func(c *Config) error {
		c.BaseURL = url
		return nil
	}
}

// WithRetry overrides the retry budget.
func WithRetry(rc RetryConfig) Option {
	return func(c *Config) error {
		if rc.MaxAttempts < 1 {
			return errors.New("max attempts must be at least 1")
		}
		c.Retry = rc
		return nil
	}
}

// WithWindows overrides the per-class dispatch windows.
func WithWindows(w WindowConfig) Option {
	return func(c *Config) error {
		c.Windows = w
		return nil
	}
}

// WithRemoteCache enables the redis tier at addr.
func WithRemoteCache(addr string) Option {
	return func(c *Config) error {
		if addr == "" {
			return errors.New("remote cache addr must not be empty")
		}
		c.Remote.Enabled = true
		c.Remote.Addr = addr
		return nil
	}
}

// WithCleanupInterval makes the facade sweep expired entries periodically.
func WithCleanupInterval(d time.Duration) Option {
	return func(c *Config) error {
		c.CleanupInterval = d
		return nil
	}
}

// WithSerialization selects the remote tier codec ("json" or "gob").
func WithSerialization(name string) Option {
	return func(c *Config) error {
		if _, err := serialization.ByName(name); err != nil {
			return err
		}
		c.Remote.Serialization = name
		return nil
	}
}
