package native

import (
	"errors"
	"fmt"
	"sort"
)

// ErrArenaExhausted is returned when no free range can hold an allocation.
var ErrArenaExhausted = errors.New("native: arena exhausted")

// span is a free byte range of the arena.
type span struct {
	offset uint64
	size   uint64
}

// Arena sub-allocates byte ranges of a single device buffer.
//
// Every range starts at a multiple of the alignment. The first reserved
// bytes are never handed out, so offset 0 can serve as the null address.
// Free ranges are kept sorted and coalesced; allocation is first fit.
//
// Arena is not safe for concurrent use; Device serializes access.
type Arena struct {
	size  uint64
	align uint64
	used  uint64
	free  []span
}

// NewArena creates an allocator over size bytes. The first reserved bytes
// are rounded up to the alignment and excluded from allocation.
func NewArena(size, reserved, align uint64) *Arena {
	if align == 0 {
		align = 1
	}
	start := alignUp(reserved, align)
	a := &Arena{size: size, align: align}
	if start < size {
		a.free = []span{{offset: start, size: size - start}}
	}
	return a
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) / align * align
}

// Size returns the total size of the managed buffer.
func (a *Arena) Size() uint64 { return a.size }

// Used returns the number of allocated bytes, including alignment padding.
func (a *Arena) Used() uint64 { return a.used }

// Alloc reserves size bytes and returns their offset.
func (a *Arena) Alloc(size uint64) (uint64, error) {
	if size == 0 {
		return 0, fmt.Errorf("native: arena: zero-sized allocation")
	}
	n := alignUp(size, a.align)
	for i, s := range a.free {
		if s.size < n {
			continue
		}
		off := s.offset
		if s.size == n {
			a.free = append(a.free[:i], a.free[i+1:]...)
		} else {
			a.free[i] = span{offset: s.offset + n, size: s.size - n}
		}
		a.used += n
		return off, nil
	}
	return 0, fmt.Errorf("%w: %d bytes requested, %d of %d in use", ErrArenaExhausted, size, a.used, a.size)
}

// Free returns a range obtained from Alloc with the same size.
func (a *Arena) Free(offset, size uint64) {
	n := alignUp(size, a.align)
	i := sort.Search(len(a.free), func(i int) bool { return a.free[i].offset > offset })
	a.free = append(a.free, span{})
	copy(a.free[i+1:], a.free[i:])
	a.free[i] = span{offset: offset, size: n}
	a.used -= n

	// Merge with the following range, then with the preceding one.
	if i+1 < len(a.free) && a.free[i].offset+a.free[i].size == a.free[i+1].offset {
		a.free[i].size += a.free[i+1].size
		a.free = append(a.free[:i+1], a.free[i+2:]...)
	}
	if i > 0 && a.free[i-1].offset+a.free[i-1].size == a.free[i].offset {
		a.free[i-1].size += a.free[i].size
		a.free = append(a.free[:i], a.free[i+1:]...)
	}
}

// FreeRanges returns the number of disjoint free ranges.
func (a *Arena) FreeRanges() int { return len(a.free) }
