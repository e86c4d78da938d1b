package vectordb

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"
)

type cacheKey struct {
	collection string
	query      uint64
}

// queryCache memoizes search results per collection. A nil cache is a no-op.
type queryCache struct {
	items    *ttlcache.Cache[cacheKey, []Hit]
	stopOnce sync.Once

	// generations counts invalidations per collection. A result read under an
	// older generation is not stored.
	mu          sync.Mutex
	generations map[string]uint64
}

func newQueryCache(ttl time.Duration) *queryCache {
	if ttl <= 0 {
		return nil
	}
	items := ttlcache.New(
		ttlcache.WithTTL[cacheKey, []Hit](ttl),
		ttlcache.WithDisableTouchOnHit[cacheKey, []Hit](),
	)
	go items.Start()
	return &queryCache{items: items, generations: make(map[string]uint64)}
}

func queryKey(collection string, q QueryParam) (cacheKey, bool) {
	raw, err := json.Marshal(q)
	if err != nil {
		return cacheKey{}, false
	}
	return cacheKey{collection: collection, query: xxhash.Sum64(raw)}, true
}

func (c *queryCache) get(collection string, q QueryParam) ([]Hit, bool) {
	if c == nil {
		return nil, false
	}
	key, ok := queryKey(collection, q)
	if !ok {
		return nil, false
	}
	item := c.items.Get(key)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// generation returns the collection's current generation. Read it before
// issuing the query whose result is passed to set.
func (c *queryCache) generation(collection string) uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[collection]
}

func (c *queryCache) set(collection string, gen uint64, q QueryParam, hits []Hit) {
	if c == nil {
		return
	}
	key, ok := queryKey(collection, q)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[collection] != gen {
		return
	}
	c.items.Set(key, hits, ttlcache.DefaultTTL)
}

// invalidate drops every cached query of collection and stales results of
// queries still in flight.
func (c *queryCache) invalidate(collection string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[collection]++
	for _, key := range c.items.Keys() {
		if key.collection == collection {
			c.items.Delete(key)
		}
	}
}

func (c *queryCache) stop() {
	if c == nil {
		return
	}
	c.stopOnce.Do(c.items.Stop)
}
