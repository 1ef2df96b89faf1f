package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUserRateLimiter_Allow(t *testing.T) {
	t.Run("should allow up to burst then reject", func(t *testing.T) {
		limiter := NewUserRateLimiter(1, 3)
		fixed := time.Now()
		limiter.now = func() time.Time { return fixed }

		for i := 0; i < 3; i++ {
			assert.True(t, limiter.Allow("u1"))
		}
		assert.False(t, limiter.Allow("u1"))
	})

	t.Run("should keep separate buckets per user", func(t *testing.T) {
		limiter := NewUserRateLimiter(1, 1)
		fixed := time.Now()
		limiter.now = func() time.Time { return fixed }

		assert.True(t, limiter.Allow("u1"))
		assert.False(t, limiter.Allow("u1"))
		assert.True(t, limiter.Allow("u2"))
	})

	t.Run("should refill over time", func(t *testing.T) {
		limiter := NewUserRateLimiter(1, 1)
		current := time.Now()
		limiter.now = func() time.Time { return current }

		assert.True(t, limiter.Allow("u1"))
		assert.False(t, limiter.Allow("u1"))

		current = current.Add(1100 * time.Millisecond)
		assert.True(t, limiter.Allow("u1"))
	})

	t.Run("should not limit when rate is zero", func(t *testing.T) {
		limiter := NewUserRateLimiter(0, 0)
		for i := 0; i < 100; i++ {
			assert.True(t, limiter.Allow("u1"))
		}
	})
}

func TestUserRateLimiter_Prune(t *testing.T) {
	limiter := NewUserRateLimiter(1, 1)
	current := time.Now()
	limiter.now = func() time.Time { return current }

	limiter.Allow("stale")
	current = current.Add(defaultLimiterIdleTTL + time.Second)
	limiter.Allow("fresh")

	assert.Equal(t, 1, limiter.Prune())
	assert.Equal(t, 1, limiter.Len())
}
