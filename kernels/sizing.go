// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package kernels

import (
	"github.com/gogpu/nestfluid/backend/software"
	"github.com/gogpu/nestfluid/dispatch"
	"github.com/gogpu/nestfluid/gpucore"
	"github.com/gogpu/nestfluid/grid"
)

func params(ctx *software.Context) dispatch.Params {
	return dispatch.DecodeParams(ctx.Params)
}

// resetLiveCounts zeroes the live counter of levels 1 to aux-1.
// Only the first invocation works.
func resetLiveCounts(ctx *software.Context) func(software.Invocation) {
	p := params(ctx)
	return func(inv software.Invocation) {
		if inv.Linear != 0 {
			return
		}
		for l := uint32(1); l < p.Aux && l < grid.MaxLevels; l++ {
			rec := gpucore.DeviceAddress(ctx.LoadU64(ctx.Table + gpucore.DeviceAddress(8*l)))
			if rec == 0 {
				continue
			}
			ctx.StoreU32(rec+grid.RecordLiveCellsOffset, 0)
		}
	}
}

// activeCell reports whether a coarse cell refines: any flag set, or
// density or speed above the threshold.
func activeCell(ctx *software.Context, lv *level, idx uint32, threshold float32) bool {
	if ctx.LoadU32(lv.scalarAddr(grid.FieldFlags, idx)) != 0 {
		return true
	}
	if ctx.LoadF32(lv.scalarAddr(grid.FieldDensity, idx)) > threshold {
		return true
	}
	v := ctx.LoadVec4(lv.vecAddr(grid.FieldVelocity, idx))
	return v[0]*v[0]+v[1]*v[1]+v[2]*v[2] > threshold*threshold
}

// generateSubgridOffsets appends the children of every active cell of
// level L to the index-offset list of level L+1. Each active cell reserves
// a contiguous block of sub³ slots with one atomic add on the fine live
// counter.
func generateSubgridOffsets(ctx *software.Context) func(software.Invocation) {
	p := params(ctx)
	coarse, ok := loadLevel(ctx, p.Level)
	if !ok {
		return nil
	}
	fine, ok := loadLevel(ctx, p.Level+1)
	if !ok {
		return nil
	}
	sub := fine.sub
	block := sub * sub * sub

	return func(inv software.Invocation) {
		idx, c, ok := coarse.cell(ctx, inv)
		if !ok || !activeCell(ctx, &coarse, idx, p.Threshold) {
			return
		}
		slot := ctx.AtomicAddU32(fine.record+grid.RecordLiveCellsOffset, block)
		if slot+block > fine.cells {
			return
		}
		k := slot
		for dz := range sub {
			for dy := range sub {
				for dx := range sub {
					child := grid.Index(fine.res, c[0]*sub+dx, c[1]*sub+dy, c[2]*sub+dz)
					ctx.StoreU32(fine.scalarAddr(grid.FieldIndexOffsets, k), child)
					k++
				}
			}
		}
	}
}

// generateIndirectCommands writes the dispatch descriptor of level L from
// its live counter. Params.Aux is the per-axis group ceiling.
func generateIndirectCommands(ctx *software.Context) func(software.Invocation) {
	p := params(ctx)
	lv, ok := loadLevel(ctx, p.Level)
	if !ok {
		return nil
	}
	return func(inv software.Invocation) {
		if inv.Linear != 0 {
			return
		}
		args := dispatch.SplitGroups(dispatch.GroupsForCells(lv.live), p.Aux)
		ctx.StoreU32(lv.indirect, args.X)
		ctx.StoreU32(lv.indirect+4, args.Y)
		ctx.StoreU32(lv.indirect+8, args.Z)
	}
}
