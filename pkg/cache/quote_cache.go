package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// Entry is one cached quote.
type Entry struct {
	Price         float64
	PreviousClose float64
	UpdatedAt     time.Time
}

// QuoteCache is a sharded symbol→quote cache. A short TTL bounds gateway
// lookups across a large execution sweep without serving stale prices.
type QuoteCache struct {
	ttl    time.Duration
	shards [numShards]*quoteShard
}

type quoteShard struct {
	mu    sync.RWMutex
	items map[string]Entry
}

// NewQuoteCache creates a cache whose entries stay fresh for ttl.
func NewQuoteCache(ttl time.Duration) *QuoteCache {
	c := &QuoteCache{ttl: ttl}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &quoteShard{items: make(map[string]Entry)}
	}
	return c
}

func (c *QuoteCache) getShard(key string) *quoteShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores a quote for a symbol.
func (c *QuoteCache) Set(symbol string, e Entry) {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now()
	}
	shard := c.getShard(symbol)
	shard.mu.Lock()
	shard.items[symbol] = e
	shard.mu.Unlock()
}

// GetFresh returns the cached quote only while it is within the TTL.
func (c *QuoteCache) GetFresh(symbol string) (Entry, bool) {
	shard := c.getShard(symbol)
	shard.mu.RLock()
	e, ok := shard.items[symbol]
	shard.mu.RUnlock()
	if !ok || (c.ttl > 0 && time.Since(e.UpdatedAt) > c.ttl) {
		return Entry{}, false
	}
	return e, true
}

// Get returns the cached quote regardless of age.
func (c *QuoteCache) Get(symbol string) (Entry, bool) {
	shard := c.getShard(symbol)
	shard.mu.RLock()
	e, ok := shard.items[symbol]
	shard.mu.RUnlock()
	return e, ok
}

// Len returns total items across all shards.
func (c *QuoteCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.items)
		shard.mu.RUnlock()
	}
	return total
}

// Cleanup removes entries older than maxAge and reports how many.
func (c *QuoteCache) Cleanup(maxAge time.Duration) int {
	removed := 0
	cutoff := time.Now().Add(-maxAge)

	for _, shard := range c.shards {
		shard.mu.Lock()
		for sym, e := range shard.items {
			if e.UpdatedAt.Before(cutoff) {
				delete(shard.items, sym)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}
