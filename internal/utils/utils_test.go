package utils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShardIndexStable(t *testing.T) {
	assert.Equal(t, ShardIndex(16, "some-key"), ShardIndex(16, "some-key"))
}

func TestShardIndexInRange(t *testing.T) {
	const shards = 16
	used := make(map[uint64]bool)
	for i := 0; i < 256; i++ {
		idx := ShardIndex(shards, fmt.Sprintf("key-%d", i))
		assert.Less(t, idx, uint64(shards))
		used[idx] = true
	}
	// FNV-1a spreads 256 distinct keys over far more than one bucket.
	assert.Greater(t, len(used), 1)
}
