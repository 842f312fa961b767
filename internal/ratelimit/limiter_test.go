package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanki/edge/internal/config"
)

func newLimiter(t *testing.T, capacity int, refill float64) *Limiter {
	t.Helper()
	l, err := New(config.RateLimitConfig{
		Capacity:        capacity,
		RefillPerSecond: refill,
		MaxBuckets:      64,
		BucketTTL:       time.Minute,
	})
	require.NoError(t, err)
	return l
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(config.RateLimitConfig{Capacity: 0, RefillPerSecond: 1})
	assert.Error(t, err)

	_, err = New(config.RateLimitConfig{Capacity: 5, RefillPerSecond: 0})
	assert.Error(t, err)
}

func TestBurstThenDeny(t *testing.T) {
	// Very slow refill so the window cannot replenish mid-test.
	l := newLimiter(t, 5, 0.001)

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("alice"), "request %d within capacity", i+1)
	}
	assert.False(t, l.Allow("alice"), "request beyond capacity")
}

func TestDeniedRequestDoesNotConsume(t *testing.T) {
	l := newLimiter(t, 2, 0.001)

	assert.True(t, l.Allow("alice"))
	assert.True(t, l.Allow("alice"))

	// Repeated denials must not push the next allowance further out.
	for i := 0; i < 10; i++ {
		assert.False(t, l.Allow("alice"))
	}
}

func TestRefillGrantsOneToken(t *testing.T) {
	l := newLimiter(t, 2, 20) // one token every 50ms

	assert.True(t, l.Allow("alice"))
	assert.True(t, l.Allow("alice"))
	assert.False(t, l.Allow("alice"))

	time.Sleep(60 * time.Millisecond)
	assert.True(t, l.Allow("alice"), "one token accrued after the refill interval")
	assert.False(t, l.Allow("alice"), "only one token accrued")
}

func TestPrincipalIsolation(t *testing.T) {
	l := newLimiter(t, 3, 0.001)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("alice"))
	}
	assert.False(t, l.Allow("alice"))

	// Alice's exhaustion must not affect Bob.
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("bob"), "request %d for a fresh principal", i+1)
	}
	assert.Equal(t, 2, l.Tracked())
}

func TestEmptyKeyDenied(t *testing.T) {
	l := newLimiter(t, 5, 1)
	assert.False(t, l.Allow(""))
}

func TestRetryAfterRoundsUp(t *testing.T) {
	l := newLimiter(t, 5, 0.4)
	assert.Equal(t, 3*time.Second, l.RetryAfter())

	l = newLimiter(t, 5, 2)
	assert.Equal(t, time.Second, l.RetryAfter())
}

func TestBucketTableBounded(t *testing.T) {
	l, err := New(config.RateLimitConfig{
		Capacity:        1,
		RefillPerSecond: 1,
		MaxBuckets:      8,
		BucketTTL:       time.Minute,
	})
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		l.Allow(string(rune('a' + i%26)))
	}
	assert.LessOrEqual(t, l.Tracked(), 8)
}
