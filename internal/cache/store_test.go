package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drivers(t *testing.T) map[string]Store {
	t.Helper()

	mem, err := NewStore(StoreTypeMemory)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rs, err := NewStore(StoreTypeRedis, WithRedisClient(client), WithKeyPrefix("test:"))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = mem.Close()
		_ = rs.Close()
	})
	return map[string]Store{"memory": mem, "redis": rs}
}

func TestStore_Counter(t *testing.T) {
	ctx := context.Background()
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			_, found, err := s.GetCounter(ctx, "visitor")
			require.NoError(t, err)
			assert.False(t, found)

			reset := time.Now().Add(time.Minute).UTC().Truncate(time.Millisecond)
			require.NoError(t, s.SetCounter(ctx, "visitor", Counter{Count: 3, ResetAt: reset}, time.Minute))

			c, found, err := s.GetCounter(ctx, "visitor")
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, 3, c.Count)
			assert.True(t, c.ResetAt.Equal(reset))
		})
	}
}

func TestStore_Entries(t *testing.T) {
	ctx := context.Background()
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			entries, err := s.GetEntries(ctx, "conv")
			require.NoError(t, err)
			assert.Empty(t, entries)

			now := time.Now().UTC().Truncate(time.Millisecond)
			in := []Entry{{Content: "a", At: now}, {Content: "b", At: now.Add(time.Second)}}
			require.NoError(t, s.SetEntries(ctx, "conv", in, time.Minute))

			in[0].Content = "mutated"
			got, err := s.GetEntries(ctx, "conv")
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "a", got[0].Content)
			assert.Equal(t, "b", got[1].Content)

			require.NoError(t, s.SetEntries(ctx, "conv", nil, time.Minute))
			got, err = s.GetEntries(ctx, "conv")
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestRedisStore_Expiry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s, err := NewStore(StoreTypeRedis, WithRedisClient(client))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SetCounter(ctx, "v", Counter{Count: 1}, time.Minute))
	mr.FastForward(2 * time.Minute)

	_, found, err := s.GetCounter(ctx, "v")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStore_CleanupSweepsExpiredKeys(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(StoreTypeMemory, WithCleanupInterval(10*time.Millisecond), WithKeyPrefix("sweep:"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SetCounter(ctx, "v", Counter{Count: 1}, 20*time.Millisecond))
	mem := s.(*memoryStore)
	_, ok := mem.items.Get("sweep:counter:v")
	require.True(t, ok)

	assert.Eventually(t, func() bool { return mem.items.ItemCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestNewStore_Errors(t *testing.T) {
	_, err := NewStore("memcached")
	assert.ErrorIs(t, err, ErrInvalidStoreType)

	_, err = NewStore(StoreTypeRedis)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
