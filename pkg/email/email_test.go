package email

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAddress(t *testing.T) {
	assert.True(t, IsAddress("user@example.org"))
	assert.False(t, IsAddress("+593991234567"))
	assert.False(t, IsAddress("@example.org"))
	assert.False(t, IsAddress("user@"))
}

func TestMask(t *testing.T) {
	assert.Equal(t, "u***@example.org", Mask("user@example.org"))
	assert.Equal(t, "**********67", Mask("+59399123467"))
	assert.Equal(t, "**", Mask("12"))
}
