package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterFixedWindow(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()
	now := time.Date(2024, 1, 10, 3, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		res, err := l.Allow(ctx, "k", 2, now)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 1-i, res.Remaining)
	}
	res, err := l.Allow(ctx, "k", 2, now.Add(500*time.Millisecond))
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, now.Add(time.Second), res.Reset)

	res, err = l.Allow(ctx, "other", 2, now)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "keys are independent")

	res, err = l.Allow(ctx, "k", 2, now.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, res.Allowed, "next second opens a new window")
}

func TestMemoryLimiterPrunesStaleWindows(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()
	now := time.Date(2024, 1, 10, 3, 0, 0, 0, time.UTC)
	for i := 0; i <= pruneThreshold; i++ {
		_, err := l.Allow(ctx, fmt.Sprintf("k%d", i), 1, now)
		require.NoError(t, err)
	}
	_, err := l.Allow(ctx, "fresh", 1, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, l.Len())
}

func TestManagerDisabledAllowsEverything(t *testing.T) {
	m := NewManager(Settings{}, nil, nil)
	res, err := m.Allow(context.Background(), AccountKey(1, "consume"))
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	var nilManager *Manager
	res, err = nilManager.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, nilManager.Limit())
}

func TestManagerMemoryBackend(t *testing.T) {
	now := time.Date(2024, 1, 10, 3, 0, 0, 0, time.UTC)
	m := NewManager(Settings{Limit: 1}, func() time.Time { return now }, nil)
	key := AccountKey(7, "consume")

	res, err := m.Allow(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	res, err = m.Allow(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestUnreachableRedisFallsBackToMemory(t *testing.T) {
	now := time.Date(2024, 1, 10, 3, 0, 0, 0, time.UTC)
	dials := 0
	factory := func(options *redis.Options) *redis.Client {
		dials++
		options.Addr = "127.0.0.1:1"
		options.DialTimeout = 100 * time.Millisecond
		options.MaxRetries = -1
		return redis.NewClient(options)
	}
	m := NewManager(Settings{Limit: 1, RedisEnabled: true, RedisAddr: "redis:6379"}, func() time.Time { return now }, factory)
	t.Cleanup(func() { _ = m.Close() })

	res, err := m.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	res, err = m.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, res.Allowed, "memory backend still enforces the limit")
	assert.Equal(t, 1, dials, "breaker must stop redis redials")
}

func TestSettingsNormalize(t *testing.T) {
	s := Settings{Limit: -1, RedisEnabled: true, RedisDB: -3}.Normalize()
	assert.Equal(t, 0, s.Limit)
	assert.Equal(t, 0, s.RedisDB)
	assert.False(t, s.RedisEnabled, "redis needs an address")
	assert.Equal(t, DefaultRedisPrefix, s.RedisPrefix)
}

func TestAccountKey(t *testing.T) {
	assert.Equal(t, "", AccountKey(0, "consume"))
	assert.Equal(t, "a:3", AccountKey(3, ""))
	assert.Equal(t, "a:3:consume", AccountKey(3, " consume "))
}
