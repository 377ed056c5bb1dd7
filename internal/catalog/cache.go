package catalog

import (
	"context"
	"sync"
	"time"
)

type cacheEntry struct {
	channels  []Channel
	expiresAt time.Time
}

// Lister is the slice of Store the cache fronts.
type Lister interface {
	ListActive(ctx context.Context, category string) ([]Channel, error)
}

// Cache memoizes active-channel listings per category. Playlist exports and
// channel listings hit the same query constantly while the catalog changes
// rarely; entries expire on a short TTL rather than being invalidated.
type Cache struct {
	store Lister
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

func NewCache(store Lister, ttl time.Duration) *Cache {
	return &Cache{
		store:   store,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// ListActive returns the cached listing for category, refreshing from the
// store when the entry is missing or stale.
func (c *Cache) ListActive(ctx context.Context, category string) ([]Channel, error) {
	now := c.now()

	c.mu.Lock()
	entry, ok := c.entries[category]
	c.mu.Unlock()
	if ok && now.Before(entry.expiresAt) {
		out := make([]Channel, len(entry.channels))
		copy(out, entry.channels)
		return out, nil
	}

	channels, err := c.store.ListActive(ctx, category)
	if err != nil {
		// Serve stale on refresh failure if we have anything at all.
		if ok {
			out := make([]Channel, len(entry.channels))
			copy(out, entry.channels)
			return out, nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.entries[category] = cacheEntry{channels: channels, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()

	out := make([]Channel, len(channels))
	copy(out, channels)
	return out, nil
}

// Invalidate drops all cached listings. Admin mutations call this so edits
// show up without waiting out the TTL.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}
