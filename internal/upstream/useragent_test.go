package upstream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateMobileUserAgentLooksMobile(t *testing.T) {
	for i := 0; i < 50; i++ {
		ua := GenerateMobileUserAgent()
		assert.NotEmpty(t, ua)
		isAndroid := strings.Contains(ua, "Android")
		isIOS := strings.Contains(ua, "iPhone")
		assert.True(t, isAndroid || isIOS, "unexpected UA shape: %s", ua)
	}
}

func TestPickOfReturnsOnlyPoolMembers(t *testing.T) {
	pool := []string{"a", "b", "c"}
	for i := 0; i < 30; i++ {
		assert.Contains(t, pool, pickOf(pool))
	}
}
