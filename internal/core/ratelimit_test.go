package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamagency.io/mode-router/internal/cache"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 5, 10, 14, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newMemoryCache(t *testing.T) cache.Store {
	t.Helper()
	st, err := cache.NewStore(cache.StoreTypeMemory)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// brokenCache fails every operation.
type brokenCache struct{}

var errCacheDown = errors.New("cache down")

func (brokenCache) GetCounter(context.Context, string) (cache.Counter, bool, error) {
	return cache.Counter{}, false, errCacheDown
}

func (brokenCache) SetCounter(context.Context, string, cache.Counter, time.Duration) error {
	return errCacheDown
}

func (brokenCache) GetEntries(context.Context, string) ([]cache.Entry, error) {
	return nil, errCacheDown
}

func (brokenCache) SetEntries(context.Context, string, []cache.Entry, time.Duration) error {
	return errCacheDown
}

func (brokenCache) Close() error { return nil }

func TestRateLimiter_FixedWindow(t *testing.T) {
	ctx := context.Background()
	st := newMemoryCache(t)
	clock := newFakeClock()
	limiter := NewRateLimiter(st, 20, time.Minute)
	limiter.now = clock.Now

	for i := 0; i < 20; i++ {
		assert.True(t, limiter.Allow(ctx, "visitor-1"), "call %d", i+1)
		clock.Advance(time.Second)
	}
	assert.False(t, limiter.Allow(ctx, "visitor-1"))
	assert.False(t, limiter.Allow(ctx, "visitor-1"))

	// rejected calls do not increment
	c, found, err := st.GetCounter(ctx, "visitor-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 20, c.Count)

	clock.Advance(41 * time.Second)
	assert.True(t, limiter.Allow(ctx, "visitor-1"))
	c, _, err = st.GetCounter(ctx, "visitor-1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Count)
	assert.True(t, c.ResetAt.Equal(clock.Now().Add(time.Minute)))
}

func TestRateLimiter_PerIdentifier(t *testing.T) {
	ctx := context.Background()
	limiter := NewRateLimiter(newMemoryCache(t), 2, time.Minute)

	assert.True(t, limiter.Allow(ctx, "a"))
	assert.True(t, limiter.Allow(ctx, "a"))
	assert.False(t, limiter.Allow(ctx, "a"))
	assert.True(t, limiter.Allow(ctx, "b"))
}

func TestRateLimiter_Defaults(t *testing.T) {
	limiter := NewRateLimiter(newMemoryCache(t), 0, 0)
	assert.Equal(t, DefaultRateLimitMax, limiter.max)
	assert.Equal(t, DefaultRateLimitWindow, limiter.window)
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	limiter := NewRateLimiter(brokenCache{}, 1, time.Minute)
	for i := 0; i < 5; i++ {
		assert.True(t, limiter.Allow(context.Background(), "visitor-1"))
	}
}
