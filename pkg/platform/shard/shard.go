// Package shard picks a lock stripe for a key so in-memory stores can avoid a
// single global mutex.
package shard

import "github.com/spaolacci/murmur3"

// DefaultCount is the stripe count used by the in-memory stores.
const DefaultCount = 32

// Index maps key onto [0, n). n must be positive.
func Index(key string, n int) int {
	return int(murmur3.Sum32([]byte(key)) % uint32(n))
}
