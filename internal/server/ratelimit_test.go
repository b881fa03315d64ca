package server

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(limit int, now *time.Time) *RateLimiter {
	rl := NewRateLimiter(limit)
	rl.now = func() time.Time { return *now }
	return rl
}

func TestRateLimiter_Allow(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	rl := newTestLimiter(2, &now)

	require.NoError(t, rl.Allow("10.0.0.1"))
	require.NoError(t, rl.Allow("10.0.0.1"))

	err := rl.Allow("10.0.0.1")
	var rle *RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, 2, rle.Limit)
	assert.Equal(t, time.Minute, rle.RetryAfter)
	assert.Contains(t, rle.Error(), "2 requests per minute")

	require.NoError(t, rl.Allow("10.0.0.2"), "clients are limited separately")

	now = now.Add(45 * time.Second)
	err = rl.Allow("10.0.0.1")
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, 15*time.Second, rle.RetryAfter)

	now = now.Add(15 * time.Second)
	assert.NoError(t, rl.Allow("10.0.0.1"), "a new window starts after a minute")
}

func TestRateLimiter_PrunesExpiredWindows(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	rl := newTestLimiter(1, &now)

	for _, ip := range []string{"a", "b", "c"} {
		require.NoError(t, rl.Allow(ip))
	}
	assert.Len(t, rl.clients, 3)

	now = now.Add(2 * time.Minute)
	require.NoError(t, rl.Allow("d"))
	assert.Len(t, rl.clients, 1)
}
