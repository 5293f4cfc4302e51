// Package cache provides the sharded LRU cache behind the visualization
// feed's rendered slices.
package cache

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
)

const (
	// DefaultShardCount is the number of independently locked shards.
	// Must be a power of 2 so the shard index is a mask of the hash.
	DefaultShardCount = 16

	// DefaultCapacity is the per-shard capacity used when none is given.
	DefaultCapacity = 16

	shardMask = DefaultShardCount - 1
)

// Hasher computes the hash that selects a key's shard.
type Hasher[K any] func(K) uint64

// StringHasher is the FNV-1a hash of s.
func StringHasher(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s)) // fnv never fails
	return h.Sum64()
}

// Stats is a snapshot of a cache's occupancy and counters.
type Stats struct {
	// Len is the number of cached entries.
	Len int
	// Capacity is the per-shard capacity.
	Capacity int
	// TotalCapacity is Capacity times DefaultShardCount.
	TotalCapacity int
	Hits          uint64
	Misses        uint64
	// HitRate is Hits / (Hits + Misses), or 0 before any lookup.
	HitRate   float64
	Evictions uint64
}

// ShardedCache is a thread-safe LRU cache split into DefaultShardCount
// shards, each with its own lock and capacity. Eviction is per shard, so
// the least recently used entry of the whole cache is not necessarily the
// first to go.
type ShardedCache[K comparable, V any] struct {
	shards   [DefaultShardCount]*shard[K, V]
	hasher   Hasher[K]
	capacity int

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type shard[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]*entry[K, V]
	lru     *lruList[K]
}

type entry[K comparable, V any] struct {
	value V
	node  *lruNode[K]
}

// NewSharded returns a cache holding up to capacity entries per shard.
// A capacity <= 0 selects DefaultCapacity.
func NewSharded[K comparable, V any](capacity int, hasher Hasher[K]) *ShardedCache[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &ShardedCache[K, V]{hasher: hasher, capacity: capacity}
	for i := range c.shards {
		c.shards[i] = &shard[K, V]{
			entries: make(map[K]*entry[K, V]),
			lru:     newLRUList[K](),
		}
	}
	return c
}

func (c *ShardedCache[K, V]) shardFor(key K) *shard[K, V] {
	return c.shards[c.hasher(key)&shardMask]
}

// Get returns the value cached for key and marks it most recently used.
func (c *ShardedCache[K, V]) Get(key K) (V, bool) {
	s := c.shardFor(key)

	s.mu.RLock()
	_, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		s.mu.Lock()
		// The entry may have been evicted between the two locks.
		if e, ok := s.entries[key]; ok {
			s.lru.MoveToFront(e.node)
			v := e.value
			s.mu.Unlock()
			c.hits.Add(1)
			return v, true
		}
		s.mu.Unlock()
	}
	c.misses.Add(1)
	var zero V
	return zero, false
}

// Set caches value under key, evicting the shard's least recently used
// entries when it is full. The value is stored as is.
func (c *ShardedCache[K, V]) Set(key K, value V) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	c.insert(s, key, value)
}

// GetOrLoad returns the value cached for key, or calls load and caches its
// result. load runs with the shard locked, so concurrent callers for the
// same key wait for one load. Errors are returned and not cached.
func (c *ShardedCache[K, V]) GetOrLoad(key K, load func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		s.lru.MoveToFront(e.node)
		return e.value, nil
	}
	v, err := load()
	if err != nil {
		var zero V
		return zero, err
	}
	c.insert(s, key, v)
	return v, nil
}

// insert must be called with s locked.
func (c *ShardedCache[K, V]) insert(s *shard[K, V], key K, value V) {
	if e, ok := s.entries[key]; ok {
		e.value = value
		s.lru.MoveToFront(e.node)
		return
	}
	for s.lru.Len() >= c.capacity {
		oldest, ok := s.lru.RemoveOldest()
		if !ok {
			break
		}
		delete(s.entries, oldest)
		c.evictions.Add(1)
	}
	s.entries[key] = &entry[K, V]{value: value, node: s.lru.PushFront(key)}
}

// Clear drops every entry. Counters are kept.
func (c *ShardedCache[K, V]) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		clear(s.entries)
		s.lru.Clear()
		s.mu.Unlock()
	}
}

// Len returns the number of cached entries across all shards.
func (c *ShardedCache[K, V]) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// Stats returns the current occupancy and counters.
func (c *ShardedCache[K, V]) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		Len:           c.Len(),
		Capacity:      c.capacity,
		TotalCapacity: c.capacity * DefaultShardCount,
		Hits:          hits,
		Misses:        misses,
		HitRate:       rate,
		Evictions:     c.evictions.Load(),
	}
}
