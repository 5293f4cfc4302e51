package native

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/gogpu/naga"
)

// compileFunc translates WGSL source to SPIR-V bytes.
type compileFunc func(source string) ([]byte, error)

// moduleCache caches SPIR-V translations of WGSL sources.
//
// Several pipelines may share one shader, and an engine that is
// re-initialized on the same device asks for the same sources again.
// Entries are keyed by a hash of the source text, so an edited shader
// file is compiled afresh.
//
// Thread Safety: moduleCache is safe for concurrent use. It uses RWMutex
// with double-check locking.
type moduleCache struct {
	mu      sync.RWMutex
	compile compileFunc
	entries map[uint64][]uint32

	hits   atomic.Uint64
	misses atomic.Uint64
}

func newModuleCache(compile compileFunc) *moduleCache {
	if compile == nil {
		compile = naga.Compile
	}
	return &moduleCache{compile: compile, entries: make(map[uint64][]uint32)}
}

func hashSource(source string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(source))
	return h.Sum64()
}

// spirv returns the SPIR-V words for source, compiling on first use.
func (c *moduleCache) spirv(source string) ([]uint32, error) {
	key := hashSource(source)

	c.mu.RLock()
	if code, ok := c.entries[key]; ok {
		c.mu.RUnlock()
		c.hits.Add(1)
		return code, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if code, ok := c.entries[key]; ok {
		c.hits.Add(1)
		return code, nil
	}

	raw, err := c.compile(source)
	if err != nil {
		return nil, fmt.Errorf("native: compile shader: %w", err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("native: compile shader: SPIR-V size %d is not a multiple of 4", len(raw))
	}
	code := make([]uint32, len(raw)/4)
	for i := range code {
		code[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	c.entries[key] = code
	c.misses.Add(1)
	return code, nil
}

// Stats returns the number of cache hits and misses.
func (c *moduleCache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// Len returns the number of cached modules.
func (c *moduleCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
