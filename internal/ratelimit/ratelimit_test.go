package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowEnforcesBurst(t *testing.T) {
	k := NewKeyed(1, 2)

	assert.True(t, k.Allow("client"))
	assert.True(t, k.Allow("client"))
	assert.False(t, k.Allow("client"))
}

func TestKeysAreIndependent(t *testing.T) {
	k := NewKeyed(1, 1)

	assert.True(t, k.Allow("a"))
	assert.False(t, k.Allow("a"))
	assert.True(t, k.Allow("b"))
}

func TestIdleEviction(t *testing.T) {
	k := NewKeyed(1, 1)
	k.Allow("old")

	// Age the entry and the GC clock past the eviction horizon.
	k.mu.Lock()
	k.limiters["old"].lastSeen = time.Now().Add(-time.Hour)
	k.lastGC = time.Now().Add(-time.Hour)
	k.mu.Unlock()

	k.Allow("fresh")
	assert.Equal(t, 1, k.Len())
}
