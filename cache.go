package main

import (
	"crypto/md5"
	"encoding/hex"
	"sync"
	"time"
)

func urlHash(url string) string {
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}

// infoCache holds recently resolved media descriptions, keyed by the hash
// of the normalized URL. Capacity-bounded: past maxEntries the oldest
// entry is evicted. Entries expire by age and are refetched.
type infoCache struct {
	mu         sync.Mutex
	entries    map[string]*infoCacheEntry
	maxEntries int
	ttl        time.Duration
}

type infoCacheEntry struct {
	desc     MediaDescription
	cachedAt time.Time
}

func newInfoCache(maxEntries int, ttl time.Duration) *infoCache {
	return &infoCache{
		entries:    make(map[string]*infoCacheEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

func (c *infoCache) Get(hash string) (MediaDescription, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[hash]
	if !ok {
		return MediaDescription{}, false
	}
	if time.Since(e.cachedAt) > c.ttl {
		delete(c.entries, hash)
		return MediaDescription{}, false
	}
	return e.desc, true
}

func (c *infoCache) Put(hash string, desc MediaDescription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[hash] = &infoCacheEntry{desc: desc, cachedAt: time.Now()}
	if len(c.entries) > c.maxEntries {
		oldestKey := ""
		var oldestAt time.Time
		for k, e := range c.entries {
			if oldestKey == "" || e.cachedAt.Before(oldestAt) {
				oldestKey = k
				oldestAt = e.cachedAt
			}
		}
		delete(c.entries, oldestKey)
	}
}

func (c *infoCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
