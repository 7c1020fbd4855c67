package cache

import (
	"fmt"
	"math"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"

	"github.com/muralgen/muralgen/internal/clock"
	"github.com/muralgen/muralgen/models"
)

// Store is the local entry store behind the deduplicating cache.
type Store interface {
	Set(key string, entry *models.Entry) error
	// Get returns the entry for key if present and fresh. Expiry is judged
	// against the injected clock, never ristretto's internal timer, so
	// tests drive it deterministically.
	Get(key string) (*models.Entry, bool)
	Delete(key string)
	Flush()
	Close()
}

// RistrettoStore implements Store using ristretto with lazy expiry on read.
type RistrettoStore struct {
	cache  *ristretto.Cache
	clk    clock.Clock
	logger *zap.Logger
}

// NewRistrettoStore creates a RistrettoStore bounded at maxEntries.
func NewRistrettoStore(maxEntries uint64, clk clock.Clock, logger *zap.Logger) (*RistrettoStore, error) {
	numCounters := int64(math.Min(float64(10*maxEntries), float64(math.MaxInt64)))
	maxCost := int64(math.Min(float64(maxEntries), float64(math.MaxInt64)))

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}

	return &RistrettoStore{cache: c, clk: clk, logger: logger}, nil
}

// Set stores an entry. Entries are stored without a ristretto TTL; staleness
// is decided on read from the entry's own expiry and the injected clock.
func (s *RistrettoStore) Set(key string, entry *models.Entry) error {
	if !s.cache.Set(key, entry, 1) {
		s.logger.Warn("ristretto rejected entry", zap.String("key", key))
		return fmt.Errorf("failed to set cache entry")
	}
	// Ristretto applies writes asynchronously; wait so a subsequent read
	// observes the entry.
	s.cache.Wait()
	return nil
}

func (s *RistrettoStore) Get(key string) (*models.Entry, bool) {
	value, found := s.cache.Get(key)
	if !found {
		return nil, false
	}

	entry, ok := value.(*models.Entry)
	if !ok {
		s.logger.Error("invalid cache entry type", zap.String("key", key))
		return nil, false
	}

	if entry.Expired(s.clk.Now()) {
		s.cache.Del(key)
		return nil, false
	}
	return entry, true
}

func (s *RistrettoStore) Delete(key string) {
	s.cache.Del(key)
}

func (s *RistrettoStore) Flush() {
	s.cache.Clear()
}

func (s *RistrettoStore) Close() {
	s.cache.Close()
}
