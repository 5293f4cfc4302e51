// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package kernels

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/nestfluid/backend/software"
	"github.com/gogpu/nestfluid/gpucore"
	"github.com/gogpu/nestfluid/grid"
)

// level is a kernel's view of one indirection record.
type level struct {
	index    uint32
	record   gpucore.DeviceAddress
	fields   [grid.FieldCount]gpucore.DeviceAddress
	indirect gpucore.DeviceAddress
	res      [4]uint32
	center   mgl32.Vec3
	cellSize float32
	live     uint32
	sub      uint32
	cells    uint32
}

// loadLevel reads level l's record through the hierarchy table.
// It returns false when the table slot is null.
func loadLevel(ctx *software.Context, l uint32) (level, bool) {
	if l >= grid.MaxLevels {
		return level{}, false
	}
	rec := gpucore.DeviceAddress(ctx.LoadU64(ctx.Table + gpucore.DeviceAddress(8*l)))
	if rec == 0 {
		return level{}, false
	}
	lv := level{index: l, record: rec}
	for f := range lv.fields {
		lv.fields[f] = gpucore.DeviceAddress(ctx.LoadU64(rec + gpucore.DeviceAddress(grid.RecordFieldAddrOffset+8*f)))
	}
	lv.indirect = gpucore.DeviceAddress(ctx.LoadU64(rec + grid.RecordIndirectAddrOffset))
	for i := range lv.res {
		lv.res[i] = ctx.LoadU32(rec + gpucore.DeviceAddress(grid.RecordResolutionOffset+4*i))
	}
	for i := range 3 {
		lv.center[i] = ctx.LoadF32(rec + gpucore.DeviceAddress(grid.RecordCenterOffset+4*i))
	}
	lv.cellSize = ctx.LoadF32(rec + grid.RecordCenterOffset + 12)
	lv.live = ctx.LoadU32(rec + grid.RecordLiveCellsOffset)
	lv.sub = ctx.LoadU32(rec + grid.RecordSubdivisionOffset)
	lv.cells = ctx.LoadU32(rec + grid.RecordCellCountOffset)
	return lv, true
}

func (lv *level) dims() [3]int {
	return [3]int{int(lv.res[0]), int(lv.res[1]), int(lv.res[2])}
}

func (lv *level) inside(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < int(lv.res[0]) && y < int(lv.res[1]) && z < int(lv.res[2])
}

func (lv *level) index3(x, y, z int) uint32 {
	return grid.Index(lv.res, uint32(x), uint32(y), uint32(z))
}

// clampIndex returns the index of the nearest in-range cell.
func (lv *level) clampIndex(x, y, z int) uint32 {
	x = clampInt(x, 0, int(lv.res[0])-1)
	y = clampInt(y, 0, int(lv.res[1])-1)
	z = clampInt(z, 0, int(lv.res[2])-1)
	return lv.index3(x, y, z)
}

func (lv *level) scalarAddr(f grid.Field, idx uint32) gpucore.DeviceAddress {
	return lv.fields[f] + gpucore.DeviceAddress(4*idx)
}

func (lv *level) vecAddr(f grid.Field, idx uint32) gpucore.DeviceAddress {
	return lv.fields[f] + gpucore.DeviceAddress(16*idx)
}

// world returns the world-space center of cell (x, y, z).
func (lv *level) world(x, y, z uint32) mgl32.Vec3 {
	h := lv.cellSize
	return mgl32.Vec3{
		lv.center[0] + (float32(x)+0.5)*h - float32(lv.res[0])*h/2,
		lv.center[1] + (float32(y)+0.5)*h - float32(lv.res[1])*h/2,
		lv.center[2] + (float32(z)+0.5)*h - float32(lv.res[2])*h/2,
	}
}

// cell maps an invocation to the cell it owns. Dense levels use the global
// invocation id as cell coordinates; sparse levels read the invocation's
// slot of the index-offset list and ignore invocations past the live count.
func (lv *level) cell(ctx *software.Context, inv software.Invocation) (uint32, [3]uint32, bool) {
	if lv.index == 0 {
		g := inv.GlobalID
		if g[0] >= lv.res[0] || g[1] >= lv.res[1] || g[2] >= lv.res[2] {
			return 0, g, false
		}
		return grid.Index(lv.res, g[0], g[1], g[2]), g, true
	}
	if inv.Linear >= lv.live {
		return 0, [3]uint32{}, false
	}
	idx := ctx.LoadU32(lv.scalarAddr(grid.FieldIndexOffsets, inv.Linear))
	if idx >= lv.cells {
		return 0, [3]uint32{}, false
	}
	x, y, z := grid.Coords(lv.res, idx)
	return idx, [3]uint32{x, y, z}, true
}

// parityCell maps an invocation of a red-black sweep to a cell of the given
// parity. Dense dispatches halved along x interleave the two parities per
// row; other dispatches cover every cell and drop the other parity.
func (lv *level) parityCell(ctx *software.Context, inv software.Invocation, parity, factor uint32) (uint32, [3]uint32, bool) {
	if lv.index == 0 && factor == 2 {
		g := inv.GlobalID
		x := 2*g[0] + ((parity + g[1] + g[2]) & 1)
		if x >= lv.res[0] || g[1] >= lv.res[1] || g[2] >= lv.res[2] {
			return 0, g, false
		}
		c := [3]uint32{x, g[1], g[2]}
		return grid.Index(lv.res, c[0], c[1], c[2]), c, true
	}
	idx, c, ok := lv.cell(ctx, inv)
	if !ok || (c[0]+c[1]+c[2])&1 != parity {
		return 0, c, false
	}
	return idx, c, true
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
