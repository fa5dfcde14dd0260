package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestLimiterBlocksAfterMaxAttemptsInWindow(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)}
	l := New(NewMemoryStore(), 3, time.Minute)
	l.now = clock.now
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok, "attempt %d", i+1)
	}
	ok, err := l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, ok, "other keys are independent")

	clock.t = clock.t.Add(61 * time.Second)
	ok, err = l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok, "window slid past old attempts")
}

func TestLimiterResetClearsKey(t *testing.T) {
	l := New(nil, 1, time.Minute)
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "k")
	require.True(t, ok)
	ok, _ = l.Allow(ctx, "k")
	require.False(t, ok)

	require.NoError(t, l.Reset(ctx, "k"))
	ok, _ = l.Allow(ctx, "k")
	assert.True(t, ok)
}

type brokenStore struct{}

func (brokenStore) Hit(context.Context, string, time.Time, time.Duration) (int, error) {
	return 0, errors.New("connection refused")
}

func (brokenStore) Reset(context.Context, string) error { return nil }

func TestLimiterFailsOpenOnStoreError(t *testing.T) {
	l := New(brokenStore{}, 1, time.Minute)
	ok, err := l.Allow(context.Background(), "k")
	assert.Error(t, err)
	assert.True(t, ok)
}

func TestNilLimiterAllows(t *testing.T) {
	var l *Limiter
	ok, err := l.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestThrottleRefillsOverTime(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)}
	th := NewThrottle(2, 2)
	th.now = clock.now

	assert.True(t, th.Allow("a"))
	assert.True(t, th.Allow("a"))
	assert.False(t, th.Allow("a"))
	assert.True(t, th.Allow("b"))

	clock.t = clock.t.Add(500 * time.Millisecond)
	assert.True(t, th.Allow("a"))
	assert.False(t, th.Allow("a"))
}

func TestThrottleDisabledWhenRateNotPositive(t *testing.T) {
	th := NewThrottle(0, 10)
	assert.Nil(t, th)
	for i := 0; i < 100; i++ {
		assert.True(t, th.Allow("a"))
	}
}

func TestRedisStoreSlidingWindow(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("set REDIS_TEST_ADDR to run redis rate limit test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	s := NewRedisStore(client)
	key := "test:" + time.Now().Format("150405.000000000")
	require.NoError(t, s.Reset(ctx, key))
	t.Cleanup(func() { _ = s.Reset(ctx, key) })

	start := time.Now()
	for i := 1; i <= 3; i++ {
		n, err := s.Hit(ctx, key, start.Add(time.Duration(i)*time.Millisecond), time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}
	n, err := s.Hit(ctx, key, start.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryStoreDropsIdleKeys(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 50; i++ {
		_, err := store.Hit(ctx, fmt.Sprintf("10.0.1.%d", i), start, time.Minute)
		require.NoError(t, err)
	}
	assert.Len(t, store.entries, 50)

	n, err := store.Hit(ctx, "10.0.2.1", start.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, store.entries, 1)
}
