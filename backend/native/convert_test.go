package native

import (
	"encoding/binary"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/nestfluid/gpucore"
)

// testShader follows the shared binding layout and writes the first
// parameter word at the hierarchy table.
const testShader = `
struct Frame {
    table_lo: u32,
    table_hi: u32,
    arena_words: u32,
    pad: u32,
    params: array<vec4<u32>, 15>,
}

@group(0) @binding(0) var<storage, read_write> arena: array<u32>;
@group(0) @binding(1) var<uniform> frame: Frame;

@compute @workgroup_size(4, 4, 4)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    let i = frame.table_lo / 4u + id.x;
    if (i < frame.arena_words) {
        arena[i] = frame.params[0].x;
    }
}
`

func TestEncodeSlot(t *testing.T) {
	buf := make([]byte, slotSize)
	for i := range buf {
		buf[i] = 0xff
	}
	params := []byte{1, 0, 0, 0, 2, 0, 0, 0}
	encodeSlot(buf, gpucore.DeviceAddress(0x1_0000_0200), 1<<20, params)

	if got := binary.LittleEndian.Uint32(buf[0:]); got != 0x200 {
		t.Errorf("table_lo = %#x", got)
	}
	if got := binary.LittleEndian.Uint32(buf[4:]); got != 1 {
		t.Errorf("table_hi = %#x", got)
	}
	if got := binary.LittleEndian.Uint32(buf[8:]); got != 1<<18 {
		t.Errorf("arena_words = %d", got)
	}
	if got := binary.LittleEndian.Uint32(buf[slotHeaderSize+4:]); got != 2 {
		t.Errorf("params[1] = %d", got)
	}
	if buf[slotSize-1] != 0 {
		t.Error("slot tail not cleared")
	}
}

func TestConvertBufferUsage(t *testing.T) {
	tests := []struct {
		in   gpucore.BufferUsage
		want gputypes.BufferUsage
	}{
		{gpucore.FieldUsage, gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst},
		{gpucore.BufferUsageIndirect | gpucore.BufferUsageStorage, gputypes.BufferUsageIndirect | gputypes.BufferUsageStorage},
		{gpucore.BufferUsageMapRead, gputypes.BufferUsageMapRead},
		{gpucore.BufferUsageUniform, gputypes.BufferUsageUniform},
		{0, 0},
	}
	for _, tt := range tests {
		if got := convertBufferUsage(tt.in); got != tt.want {
			t.Errorf("convertBufferUsage(%#x) = %#x, want %#x", tt.in, got, tt.want)
		}
	}
}

func TestArenaTransition(t *testing.T) {
	from, to := arenaTransition([]gpucore.BufferBarrier{
		{Buffer: 1, Src: gpucore.AccessShaderWrite, Dst: gpucore.AccessIndirectRead},
		{Buffer: 2, Src: gpucore.AccessShaderWrite, Dst: gpucore.AccessShaderRead},
		{Buffer: 3, Src: gpucore.AccessTransferWrite, Dst: gpucore.AccessHostRead},
	})
	if from != gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst {
		t.Errorf("from = %#x", from)
	}
	if to != gputypes.BufferUsageStorage|gputypes.BufferUsageCopySrc {
		t.Errorf("to = %#x", to)
	}
}
