package shard

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndex(t *testing.T) {
	t.Run("stable for the same key", func(t *testing.T) {
		assert.Equal(t, Index("handle-1", DefaultCount), Index("handle-1", DefaultCount))
	})

	t.Run("in range and spread across stripes", func(t *testing.T) {
		seen := map[int]bool{}
		for i := range 1000 {
			idx := Index(fmt.Sprintf("key-%d", i), DefaultCount)
			assert.GreaterOrEqual(t, idx, 0)
			assert.Less(t, idx, DefaultCount)
			seen[idx] = true
		}
		assert.Greater(t, len(seen), DefaultCount/2)
	})
}
