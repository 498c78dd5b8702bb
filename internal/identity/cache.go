package identity

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Tyrowin/chatroom/internal/chat"
)

// Cache wraps a resolver with a TTL cache of successful lookups. Concurrent
// misses for the same id share one upstream call. Unknown users are not
// cached so a newly created account resolves immediately.
type Cache struct {
	next  chat.IdentityResolver
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	identity chat.Identity
	expires  time.Time
}

var _ chat.IdentityResolver = (*Cache)(nil)

// NewCache returns a caching resolver. A non-positive ttl disables caching
// but keeps the de-duplication of concurrent lookups.
func NewCache(next chat.IdentityResolver, ttl time.Duration) *Cache {
	return &Cache{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Resolve implements chat.IdentityResolver.
func (c *Cache) Resolve(ctx context.Context, userID string) (chat.Identity, error) {
	if ident, ok := c.lookup(userID); ok {
		return ident, nil
	}

	// The shared lookup outlives any single caller's cancellation.
	v, err, _ := c.group.Do(userID, func() (any, error) {
		ident, err := c.next.Resolve(context.WithoutCancel(ctx), userID)
		if err != nil {
			return chat.Identity{}, err
		}
		c.store(userID, ident)
		return ident, nil
	})
	if err != nil {
		if errors.Is(err, chat.ErrUserNotFound) {
			c.Invalidate(userID)
		}
		return chat.Identity{}, err
	}
	return v.(chat.Identity), nil
}

// Invalidate drops a cached entry.
func (c *Cache) Invalidate(userID string) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}

func (c *Cache) lookup(userID string) (chat.Identity, bool) {
	if c.ttl <= 0 {
		return chat.Identity{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[userID]
	if !ok {
		return chat.Identity{}, false
	}
	if !c.now().Before(entry.expires) {
		delete(c.entries, userID)
		return chat.Identity{}, false
	}
	return entry.identity, true
}

func (c *Cache) store(userID string, ident chat.Identity) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[userID] = cacheEntry{identity: ident, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}
