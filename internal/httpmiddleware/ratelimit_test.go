package httpmiddleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowExhaustsCapacity(t *testing.T) {
	l := NewSimpleTokenBucket(3, 60)

	assert.True(t, l.allow("1.2.3.4"))
	assert.True(t, l.allow("1.2.3.4"))
	assert.True(t, l.allow("1.2.3.4"))
	assert.False(t, l.allow("1.2.3.4"))

	// other clients are unaffected
	assert.True(t, l.allow("5.6.7.8"))
}

func TestAllowRefills(t *testing.T) {
	l := NewSimpleTokenBucket(1, 600) // 10 per second

	assert.True(t, l.allow("1.2.3.4"))
	assert.False(t, l.allow("1.2.3.4"))

	l.state["1.2.3.4"].last = time.Now().Add(-time.Second)
	assert.True(t, l.allow("1.2.3.4"))
}

func TestPruneDropsStaleBuckets(t *testing.T) {
	l := NewSimpleTokenBucket(1, 60)
	assert.True(t, l.allow("1.2.3.4"))

	l.state["1.2.3.4"].last = time.Now().Add(-staleAfter - time.Minute)
	assert.True(t, l.allow("5.6.7.8"))
	assert.NotContains(t, l.state, "1.2.3.4")
}
