package entity

import "time"

// CacheEntry is the unit the Cache Manager stores under a "source:<id>" key.
// The remote tier is authoritative; the memory tier holds a subset.
type CacheEntry struct {
	Key      string
	Items    []NewsItem
	StoredAt time.Time
}

// Fresh reports whether the entry is still within ttl of now.
func (c *CacheEntry) Fresh(ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(c.StoredAt) < ttl
}
