package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/empty-block/vibe-playlist-sub001/internal/domain"
)

type cacheEntry struct {
	value   []byte
	expires time.Time
}

// MemoryCache реализует domain.Cache в памяти.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]cacheEntry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]cacheEntry)}
}

var _ domain.Cache = (*MemoryCache)(nil)

func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := cacheEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expires = time.Now().Add(ttl)
	}
	c.items[key] = entry
	return nil
}

func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.items[key]
	if !ok || (!entry.expires.IsZero() && time.Now().After(entry.expires)) {
		return nil, domain.ErrNotFound
	}
	return entry.value, nil
}
