package feed

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/gogpu/nestfluid/cache"
)

// sliceCacheCapacity is the number of encoded slices kept per cache shard.
const sliceCacheCapacity = 4

// sliceKey identifies one encoded slice of one snapshot.
type sliceKey struct {
	field string
	frame uint64
	level int
	z     int
	size  int
}

// hashSliceKey is the FNV-1a hash of every field of k.
func hashSliceKey(k sliceKey) uint64 {
	var buf [32]byte
	binary.LittleEndian.PutUint64(buf[0:], k.frame)
	binary.LittleEndian.PutUint64(buf[8:], uint64(k.level))
	binary.LittleEndian.PutUint64(buf[16:], uint64(k.z))
	binary.LittleEndian.PutUint64(buf[24:], uint64(k.size))
	h := fnv.New64a()
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte(k.field))
	return h.Sum64()
}

// newSliceCache returns the cache of encoded PNG slices. Viewers polling
// the same slice between snapshots are served without re-rendering.
func newSliceCache() *cache.ShardedCache[sliceKey, []byte] {
	return cache.NewSharded[sliceKey, []byte](sliceCacheCapacity, hashSliceKey)
}
