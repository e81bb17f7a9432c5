package pathfind

import (
	"container/list"
	"sync"

	"turtlecraft.ai/internal/nav/pose"
	"turtlecraft.ai/internal/sim/mathx"
)

// cacheKey includes the guard's envelope version, so plans checked against
// stale exclusions or an old home are never replayed.
type cacheKey struct {
	start pose.Pose
	goal  pose.Vec3
	avoid uint64
	guard uint64
}

func avoidHash(avoid map[pose.Vec3]struct{}) uint64 {
	var h mathx.SetHash
	for v := range avoid {
		h.Add(v.X, v.Y, v.Z)
	}
	return h.Sum()
}

type CacheStats struct {
	Size   int    `json:"size"`
	Limit  int    `json:"limit"`
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

// planCache is a bounded LRU of successful plans.
type planCache struct {
	mu     sync.Mutex
	limit  int
	ll     *list.List
	items  map[cacheKey]*list.Element
	hits   uint64
	misses uint64
}

type cacheEntry struct {
	key  cacheKey
	plan Plan
}

func newPlanCache(limit int) *planCache {
	return &planCache{limit: limit, ll: list.New(), items: map[cacheKey]*list.Element{}}
}

func (c *planCache) get(k cacheKey) (Plan, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[k]
	if !ok {
		c.misses++
		return Plan{}, false
	}
	c.hits++
	c.ll.MoveToFront(el)
	return el.Value.(*cacheEntry).plan, true
}

func (c *planCache) put(k cacheKey, p Plan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[k]; ok {
		el.Value.(*cacheEntry).plan = p
		c.ll.MoveToFront(el)
		return
	}
	c.items[k] = c.ll.PushFront(&cacheEntry{key: k, plan: p})
	for c.ll.Len() > c.limit {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

func (c *planCache) clear() {
	c.mu.Lock()
	c.ll.Init()
	c.items = map[cacheKey]*list.Element{}
	c.mu.Unlock()
}

func (c *planCache) stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Size: c.ll.Len(), Limit: c.limit, Hits: c.hits, Misses: c.misses}
}
