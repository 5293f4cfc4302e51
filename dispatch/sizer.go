// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package dispatch

import (
	"fmt"

	"github.com/gogpu/nestfluid/gpucore"
	"github.com/gogpu/nestfluid/grid"
)

// Shaders used by the dispatch sizing stages.
const (
	// ShaderResetLiveCounts zeroes the live cell counter of every sparse level.
	// Params: aux = number of levels. Dispatched as (1, 1, 1).
	ShaderResetLiveCounts gpucore.ShaderID = "reset_live_counts"

	// ShaderGenerateSubgridOffsets scans level L and, for every active cell,
	// reserves a block of gridSubdivision^3 slots in level L+1's index-offset
	// buffer, writes the linear indices of the child cells there and bumps
	// level L+1's live counter.
	// Params: level = L, threshold = activation threshold.
	ShaderGenerateSubgridOffsets gpucore.ShaderID = "generate_subgrid_offsets"

	// ShaderGenerateIndirectCommands turns level L's live counter into a
	// three-axis dispatch descriptor honoring the per-axis ceiling.
	// Params: level = L, aux = max groups per axis. Dispatched as (1, 1, 1).
	ShaderGenerateIndirectCommands gpucore.ShaderID = "generate_indirect_commands"
)

// Sizer records the per-frame dispatch sizing of the sparse levels.
type Sizer struct {
	adapter  gpucore.GPUAdapter
	maxAxis  uint32
	reset    gpucore.ComputePipelineID
	offsets  gpucore.ComputePipelineID
	commands gpucore.ComputePipelineID
}

// NewSizer creates the sizing pipelines. On error no pipeline is leaked.
func NewSizer(adapter gpucore.GPUAdapter) (*Sizer, error) {
	s := &Sizer{adapter: adapter, maxAxis: adapter.Limits().MaxComputeWorkgroupsPerDimension}
	if s.maxAxis == 0 {
		s.maxAxis = DefaultMaxGroupsPerAxis
	}

	specs := []struct {
		shader gpucore.ShaderID
		dst    *gpucore.ComputePipelineID
	}{
		{ShaderResetLiveCounts, &s.reset},
		{ShaderGenerateSubgridOffsets, &s.offsets},
		{ShaderGenerateIndirectCommands, &s.commands},
	}
	for _, spec := range specs {
		id, err := adapter.CreateComputePipeline(&gpucore.ComputePipelineDesc{
			Label:         string(spec.shader),
			Shader:        spec.shader,
			ParamsSize:    ParamsSize,
			WorkgroupSize: [3]uint32{grid.LocalGroupSize, grid.LocalGroupSize, grid.LocalGroupSize},
		})
		if err != nil {
			s.Destroy()
			return nil, fmt.Errorf("dispatch: create %s pipeline: %w", spec.shader, err)
		}
		*spec.dst = id
	}
	return s, nil
}

// Destroy releases the sizing pipelines.
func (s *Sizer) Destroy() {
	for _, id := range []*gpucore.ComputePipelineID{&s.reset, &s.offsets, &s.commands} {
		if *id != gpucore.InvalidID {
			s.adapter.DestroyComputePipeline(*id)
			*id = gpucore.InvalidID
		}
	}
}

// MaxGroupsPerAxis returns the per-axis ceiling written into descriptors.
func (s *Sizer) MaxGroupsPerAxis() uint32 { return s.maxAxis }

// Record records the two-phase sizing pass for every sparse level of g.
// It must run before any stage touches a level >= 1 in the frame, with the
// hierarchy table already bound. It is a no-op for a single-level grid.
//
// For each level L from 0 to finest-1:
//
//	generateSubgridOffsets(L)   sized like any level-L stage
//	barrier                     record, index offsets of L+1 visible to shaders
//	generateIndirectCommands(L+1)
//	barrier                     descriptor of L+1 visible to indirect dispatch
//
// Sizing of L+1 completes before the offsets of L+2 are generated, since
// that pass is itself dispatched indirectly over L+1.
func (s *Sizer) Record(enc gpucore.CommandEncoder, g *grid.Grid, threshold float32) {
	n := g.NumSubgrids()
	if n <= 1 {
		return
	}

	enc.SetPipeline(s.reset)
	enc.SetParams((&Params{Aux: uint32(n)}).Bytes())
	enc.Dispatch(1, 1, 1)
	records := make([]gpucore.BufferBarrier, 0, n-1)
	for l := 1; l < n; l++ {
		records = append(records, gpucore.BufferBarrier{
			Buffer: g.Level(l).Record,
			Src:    gpucore.AccessShaderWrite,
			Dst:    gpucore.AccessCompute,
		})
	}
	enc.Barrier(records...)

	for l := 0; l < n-1; l++ {
		fine := g.Level(l + 1)

		enc.SetPipeline(s.offsets)
		enc.SetParams((&Params{Level: uint32(l), Threshold: threshold}).Bytes())
		DispatchFluid(enc, g, l, 0)
		enc.Barrier(
			gpucore.BufferBarrier{Buffer: fine.Record, Src: gpucore.AccessShaderWrite, Dst: gpucore.AccessCompute},
			gpucore.BufferBarrier{Buffer: fine.Buffers[grid.FieldIndexOffsets], Src: gpucore.AccessShaderWrite, Dst: gpucore.AccessCompute},
		)

		enc.SetPipeline(s.commands)
		enc.SetParams((&Params{Level: uint32(l + 1), Aux: s.maxAxis}).Bytes())
		enc.Dispatch(1, 1, 1)
		enc.Barrier(gpucore.BufferBarrier{
			Buffer: fine.IndirectArgs,
			Src:    gpucore.AccessShaderWrite,
			Dst:    gpucore.AccessIndirectRead | gpucore.AccessShaderRead,
		})
	}
}
