package native

import (
	"encoding/binary"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/nestfluid/gpucore"
)

// Layout of one slot of the params ring, bound as a uniform with a
// dynamic offset:
//
//	struct Frame {
//	    table_lo:    u32,   // arena byte offset of the hierarchy table
//	    table_hi:    u32,
//	    arena_words: u32,
//	    _pad:        u32,
//	    params:      array<vec4<u32>, 15>,
//	}
const (
	slotSize        = 256
	slotHeaderSize  = 16
	maxParamsSize   = slotSize - slotHeaderSize
	indirectStride  = 16
	arenaAlignment  = 256
	reservedAddress = 256
)

// encodeSlot fills one params slot.
func encodeSlot(dst []byte, table gpucore.DeviceAddress, arenaSize uint64, params []byte) {
	clear(dst[:slotSize])
	binary.LittleEndian.PutUint32(dst[0:], uint32(table))
	binary.LittleEndian.PutUint32(dst[4:], uint32(uint64(table)>>32))
	binary.LittleEndian.PutUint32(dst[8:], uint32(arenaSize/4))
	copy(dst[slotHeaderSize:slotSize], params)
}

// convertBufferUsage converts gpucore.BufferUsage to gputypes.BufferUsage.
func convertBufferUsage(usage gpucore.BufferUsage) gputypes.BufferUsage {
	var result gputypes.BufferUsage
	if usage&gpucore.BufferUsageMapRead != 0 {
		result |= gputypes.BufferUsageMapRead
	}
	if usage&gpucore.BufferUsageCopySrc != 0 {
		result |= gputypes.BufferUsageCopySrc
	}
	if usage&gpucore.BufferUsageCopyDst != 0 {
		result |= gputypes.BufferUsageCopyDst
	}
	if usage&gpucore.BufferUsageUniform != 0 {
		result |= gputypes.BufferUsageUniform
	}
	if usage&(gpucore.BufferUsageStorage|gpucore.BufferUsageDeviceAddress) != 0 {
		result |= gputypes.BufferUsageStorage
	}
	if usage&gpucore.BufferUsageIndirect != 0 {
		result |= gputypes.BufferUsageIndirect
	}
	return result
}

// accessUsage maps command accesses of arena memory to buffer usages.
// Indirect descriptors are staged out of the arena by a copy before the
// dispatch reads them.
func accessUsage(a gpucore.Access) gputypes.BufferUsage {
	var result gputypes.BufferUsage
	if a&(gpucore.AccessShaderRead|gpucore.AccessShaderWrite) != 0 {
		result |= gputypes.BufferUsageStorage
	}
	if a&(gpucore.AccessIndirectRead|gpucore.AccessTransferRead|gpucore.AccessHostRead) != 0 {
		result |= gputypes.BufferUsageCopySrc
	}
	if a&gpucore.AccessTransferWrite != 0 {
		result |= gputypes.BufferUsageCopyDst
	}
	return result
}

// arenaTransition folds the edges of one barrier command into a single
// usage transition of the arena buffer.
func arenaTransition(barriers []gpucore.BufferBarrier) (from, to gputypes.BufferUsage) {
	for _, b := range barriers {
		from |= accessUsage(b.Src)
		to |= accessUsage(b.Dst)
	}
	return from, to
}
