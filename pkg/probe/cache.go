package probe

import "sync"

// sessionCache maps phrases to their hits with a monotonically advancing
// turn counter. Entries older than maxAge turns are evicted when the turn
// advances, so stale lookups never outlive a drifting conversation.
type sessionCache struct {
	mu      sync.Mutex
	turn    int
	maxAge  int
	entries map[string]cacheEntry
}

type cacheEntry struct {
	hits []Hit
	turn int
}

func newSessionCache(maxAge int) *sessionCache {
	if maxAge <= 0 {
		maxAge = DefaultCacheMaxAgeTurns
	}
	return &sessionCache{
		maxAge:  maxAge,
		entries: make(map[string]cacheEntry),
	}
}

// advanceTurn bumps the turn counter and evicts expired entries. Called
// once per probe invocation.
func (c *sessionCache) advanceTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turn++
	for phrase, entry := range c.entries {
		if c.turn-entry.turn > c.maxAge {
			delete(c.entries, phrase)
		}
	}
}

func (c *sessionCache) get(phrase string) ([]Hit, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[phrase]
	if !ok {
		return nil, false
	}
	return entry.hits, true
}

func (c *sessionCache) put(phrase string, hits []Hit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[phrase] = cacheEntry{hits: hits, turn: c.turn}
}

func (c *sessionCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
