// Package utils holds small helpers shared by the cache internals.
package utils

import (
	"hash/fnv"
)

// ShardIndex maps key onto one of totalShards buckets with FNV-1a. The
// mapping is stable across processes, so a key always lands on the same
// shard.
func ShardIndex(totalShards uint64, key string) uint64 {
	h := fnv.New64a()
	if _, err := h.Write([]byte(key)); err != nil {
		return 0
	}
	return h.Sum64() % totalShards
}
