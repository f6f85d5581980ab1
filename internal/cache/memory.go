package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryStore keeps process-local state in a go-cache instance. Each process
// has its own view, so limits and dedup are approximate when scaled out.
type memoryStore struct {
	items  *gocache.Cache
	prefix string
}

func newMemoryStore(prefix string, cleanupInterval time.Duration) *memoryStore {
	return &memoryStore{
		items:  gocache.New(gocache.NoExpiration, cleanupInterval),
		prefix: prefix,
	}
}

func (s *memoryStore) GetCounter(ctx context.Context, key string) (Counter, bool, error) {
	v, ok := s.items.Get(s.prefix + "counter:" + key)
	if !ok {
		return Counter{}, false, nil
	}
	return v.(Counter), true, nil
}

func (s *memoryStore) SetCounter(ctx context.Context, key string, c Counter, ttl time.Duration) error {
	s.items.Set(s.prefix+"counter:"+key, c, ttl)
	return nil
}

func (s *memoryStore) GetEntries(ctx context.Context, key string) ([]Entry, error) {
	v, ok := s.items.Get(s.prefix + "entries:" + key)
	if !ok {
		return nil, nil
	}
	stored := v.([]Entry)
	// copy so callers never alias the cached slice
	out := make([]Entry, len(stored))
	copy(out, stored)
	return out, nil
}

func (s *memoryStore) SetEntries(ctx context.Context, key string, entries []Entry, ttl time.Duration) error {
	stored := make([]Entry, len(entries))
	copy(stored, entries)
	s.items.Set(s.prefix+"entries:"+key, stored, ttl)
	return nil
}

func (s *memoryStore) Close() error {
	s.items.Flush()
	return nil
}
