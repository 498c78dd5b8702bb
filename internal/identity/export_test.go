package identity

import "time"

// SetClock replaces the cache's time source.
func SetClock(c *Cache, now func() time.Time) {
	c.now = now
}
