// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package solver

import "github.com/gogpu/nestfluid/gpucore"

// Stage identifies one step of the per-frame solver pipeline.
type Stage int

const (
	// StageSizeDispatch computes live cells and indirect descriptors of sparse levels.
	StageSizeDispatch Stage = iota

	// StageInjectSources adds source velocity and density, finest level first.
	StageInjectSources

	// StageRasterizeObstacles lets the external rasterizer write cell flags.
	StageRasterizeObstacles

	// StageDiffuseVelocity relaxes level-0 velocity diffusion.
	StageDiffuseVelocity

	// StageAdvectVelocity advects velocity on every level and prolongs
	// density into the next finer level after each.
	StageAdvectVelocity

	// StageComputeDivergence computes divergence and vorticity.
	StageComputeDivergence

	// StageSolvePressure relaxes the pressure Poisson equation.
	StageSolvePressure

	// StageProject subtracts the pressure gradient from velocity.
	StageProject

	// StageRestrictVelocity blends fine velocity into coarser levels.
	StageRestrictVelocity

	// StageDiffuseDensity relaxes density diffusion on every level.
	StageDiffuseDensity

	// StageAdvectDensity advects density on every level.
	StageAdvectDensity

	// StageFeedVisualization publishes the frame to read-only consumers.
	StageFeedVisualization

	// StageCount is the number of stages.
	StageCount
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StageSizeDispatch:
		return "size_dispatch"
	case StageInjectSources:
		return "inject_sources"
	case StageRasterizeObstacles:
		return "rasterize_obstacles"
	case StageDiffuseVelocity:
		return "diffuse_velocity"
	case StageAdvectVelocity:
		return "advect_velocity"
	case StageComputeDivergence:
		return "compute_divergence"
	case StageSolvePressure:
		return "solve_pressure"
	case StageProject:
		return "project"
	case StageRestrictVelocity:
		return "restrict_velocity"
	case StageDiffuseDensity:
		return "diffuse_density"
	case StageAdvectDensity:
		return "advect_density"
	case StageFeedVisualization:
		return "feed_visualization"
	default:
		return "unknown"
	}
}

// Shaders used by the solver stages.
const (
	ShaderInjectSources       gpucore.ShaderID = "inject_sources"
	ShaderDiffuse             gpucore.ShaderID = "diffuse_rb"
	ShaderAdvect              gpucore.ShaderID = "advect"
	ShaderDivergenceVorticity gpucore.ShaderID = "divergence_vorticity"
	ShaderPressure            gpucore.ShaderID = "pressure_rb"
	ShaderProject             gpucore.ShaderID = "project"
	ShaderRestrictVelocity    gpucore.ShaderID = "restrict_velocity"
	ShaderProlongDensity      gpucore.ShaderID = "prolong_density"
	ShaderProlongVelocity     gpucore.ShaderID = "prolong_velocity"
)

// Shaders lists every shader the sequencer creates a pipeline for.
var Shaders = []gpucore.ShaderID{
	ShaderInjectSources,
	ShaderDiffuse,
	ShaderAdvect,
	ShaderDivergenceVorticity,
	ShaderPressure,
	ShaderProject,
	ShaderRestrictVelocity,
	ShaderProlongDensity,
	ShaderProlongVelocity,
}

// Params.Flags bits understood by the field-generic kernels.
const (
	// FlagVectorField selects velocity instead of density.
	FlagVectorField uint32 = 1 << 0
)

// RedBlackFactor is the level-0 dispatch divisor of red-black sweeps:
// each sweep covers one parity, half of the cells.
const RedBlackFactor = 2

// Parity returns the checkerboard parity processed by red-black iteration i.
func Parity(i int) uint32 { return uint32((i + 1) % 2) }
