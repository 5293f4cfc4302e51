// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package dispatch

import (
	"github.com/gogpu/nestfluid/gpucore"
	"github.com/gogpu/nestfluid/grid"
)

// DefaultMaxGroupsPerAxis is the per-axis dispatch ceiling used when the
// adapter does not report one.
const DefaultMaxGroupsPerAxis = 65535

// DirectGroups returns the workgroup counts of a dense level:
// resolution / LocalGroupSize per axis (floor division).
func DirectGroups(res [4]uint32) [3]uint32 {
	return [3]uint32{
		res[0] / grid.LocalGroupSize,
		res[1] / grid.LocalGroupSize,
		res[2] / grid.LocalGroupSize,
	}
}

// GroupsForCells returns the number of workgroups needed to give every one
// of cells a thread.
func GroupsForCells(cells uint32) uint64 {
	return (uint64(cells) + grid.InvocationsPerGroup - 1) / grid.InvocationsPerGroup
}

// SplitGroups distributes a linear workgroup count over up to three axes so
// that no axis exceeds maxPerAxis and the product is at least groups.
// A zero count yields (0, 1, 1). If maxPerAxis is 0, DefaultMaxGroupsPerAxis
// is used.
func SplitGroups(groups uint64, maxPerAxis uint32) gpucore.DispatchIndirectArgs {
	if maxPerAxis == 0 {
		maxPerAxis = DefaultMaxGroupsPerAxis
	}
	if groups == 0 {
		return gpucore.DispatchIndirectArgs{X: 0, Y: 1, Z: 1}
	}
	limit := uint64(maxPerAxis)
	x := min(groups, limit)
	rem := ceilDiv(groups, x)
	y := min(rem, limit)
	z := min(ceilDiv(rem, y), limit)
	return gpucore.DispatchIndirectArgs{X: uint32(x), Y: uint32(y), Z: uint32(z)}
}

func ceilDiv(a, b uint64) uint64 { return (a + b - 1) / b }

// DispatchFluid issues level-scoped work for the pipeline and parameters
// currently bound on enc.
//
// Level 0 is sized directly from its resolution; factorOverride > 1 divides
// the x group count (rounding up), which red-black stages use to cover one
// parity only. Finer levels are dispatched indirectly from the descriptor
// produced this frame by the Sizer; factorOverride does not apply to them
// and their kernels filter by parity themselves. The host never reads the
// descriptor.
func DispatchFluid(enc gpucore.CommandEncoder, g *grid.Grid, level int, factorOverride uint32) {
	sg := g.Level(level)
	if !sg.Dense() {
		enc.DispatchIndirect(sg.IndirectArgs, 0)
		return
	}
	groups := DirectGroups(sg.Resolution)
	if factorOverride > 1 {
		groups[0] = uint32(ceilDiv(uint64(groups[0]), uint64(factorOverride)))
	}
	enc.Dispatch(groups[0], groups[1], groups[2])
}
