package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisStore shares router state across processes. Values are JSON documents
// written with SET and an expiry.
type redisStore struct {
	client *redis.Client
	prefix string
}

func newRedisStore(client *redis.Client, prefix string) *redisStore {
	return &redisStore{client: client, prefix: prefix}
}

func (s *redisStore) GetCounter(ctx context.Context, key string) (Counter, bool, error) {
	var c Counter
	found, err := s.getJSON(ctx, s.prefix+"counter:"+key, &c)
	return c, found, err
}

func (s *redisStore) SetCounter(ctx context.Context, key string, c Counter, ttl time.Duration) error {
	return s.setJSON(ctx, s.prefix+"counter:"+key, c, ttl)
}

func (s *redisStore) GetEntries(ctx context.Context, key string) ([]Entry, error) {
	var entries []Entry
	if _, err := s.getJSON(ctx, s.prefix+"entries:"+key, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *redisStore) SetEntries(ctx context.Context, key string, entries []Entry, ttl time.Duration) error {
	if len(entries) == 0 {
		return s.client.Del(ctx, s.prefix+"entries:"+key).Err()
	}
	return s.setJSON(ctx, s.prefix+"entries:"+key, entries, ttl)
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

func (s *redisStore) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(val, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *redisStore) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	val, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, val, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}
