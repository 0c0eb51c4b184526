package rules

import "sync"

// lookupCache memoizes applicable-rule lookups per (industry, indicator)
// key. The catalog behind it never changes, so entries have no TTL and
// are only built once; the cache exists to avoid re-concatenating the
// three lookup buckets on every record of a large batch.
type lookupCache struct {
	mu      sync.RWMutex
	entries map[string][]*RuleDefinition
}

func newLookupCache() *lookupCache {
	return &lookupCache{entries: make(map[string][]*RuleDefinition)}
}

func (c *lookupCache) get(key string) []*RuleDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[key]
}

func (c *lookupCache) set(key string, rules []*RuleDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = rules
}
