// Package cache holds the short-lived keyed state behind the visitor rate
// limiter and the duplicate-response suppressor. Drivers only store values
// with a TTL; windowing rules belong to the callers.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrInvalidStoreType = errors.New("cache: invalid store type")
	ErrInvalidConfig    = errors.New("cache: invalid configuration")
)

// StoreType represents the type of cache store.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

// Counter is a fixed-window counter.
type Counter struct {
	Count   int       `json:"count"`
	ResetAt time.Time `json:"reset_at"`
}

// Entry is one remembered response.
type Entry struct {
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Store is the storage contract for windowed router state.
// Getters return a zero value and false when the key is absent or expired.
type Store interface {
	GetCounter(ctx context.Context, key string) (Counter, bool, error)
	SetCounter(ctx context.Context, key string, c Counter, ttl time.Duration) error

	GetEntries(ctx context.Context, key string) ([]Entry, error)
	SetEntries(ctx context.Context, key string, entries []Entry, ttl time.Duration) error

	Close() error
}

// StoreOption is a functional option for configuring a cache store.
type StoreOption func(*storeConfig)

type storeConfig struct {
	redisClient     *redis.Client
	keyPrefix       string
	cleanupInterval time.Duration
}

// WithRedisClient sets the Redis client for the Redis store.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithKeyPrefix namespaces every key written by the store.
func WithKeyPrefix(prefix string) StoreOption {
	return func(c *storeConfig) {
		c.keyPrefix = prefix
	}
}

// WithCleanupInterval sets how often the memory store sweeps expired keys.
func WithCleanupInterval(d time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.cleanupInterval = d
	}
}

// NewStore creates a Store of the given type. Redis requires WithRedisClient.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	cfg := &storeConfig{keyPrefix: "router:", cleanupInterval: time.Minute}
	for _, opt := range opts {
		opt(cfg)
	}

	switch storeType {
	case StoreTypeMemory:
		return newMemoryStore(cfg.keyPrefix, cfg.cleanupInterval), nil
	case StoreTypeRedis:
		if cfg.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return newRedisStore(cfg.redisClient, cfg.keyPrefix), nil
	default:
		return nil, ErrInvalidStoreType
	}
}
