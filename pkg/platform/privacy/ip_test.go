package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnonymizeIP(t *testing.T) {
	assert.Equal(t, "203.0.113.0/24", AnonymizeIP("203.0.113.57"))
	assert.Equal(t, "2001:db8:abcd::/48", AnonymizeIP("2001:db8:abcd:12::1"))
	assert.Equal(t, "192.0.2.0/24", AnonymizeIP("::ffff:192.0.2.9"))
	assert.Equal(t, "invalid", AnonymizeIP("not-an-ip"))
}
