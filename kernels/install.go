package kernels

import (
	"github.com/gogpu/nestfluid/backend/software"
	"github.com/gogpu/nestfluid/dispatch"
	"github.com/gogpu/nestfluid/gpucore"
	"github.com/gogpu/nestfluid/grid"
	"github.com/gogpu/nestfluid/solver"
)

// Kernels maps every shader the solver uses to its CPU implementation.
func Kernels() map[gpucore.ShaderID]software.Kernel {
	return map[gpucore.ShaderID]software.Kernel{
		dispatch.ShaderResetLiveCounts:          resetLiveCounts,
		dispatch.ShaderGenerateSubgridOffsets:   generateSubgridOffsets,
		dispatch.ShaderGenerateIndirectCommands: generateIndirectCommands,
		solver.ShaderInjectSources:              injectSources,
		solver.ShaderDiffuse:                    diffuseRB,
		solver.ShaderAdvect:                     advect,
		solver.ShaderDivergenceVorticity:        divergenceVorticity,
		solver.ShaderPressure:                   pressureRB,
		solver.ShaderProject:                    project,
		solver.ShaderRestrictVelocity:           restrict,
		solver.ShaderProlongDensity:             prolong(grid.FieldDensity),
		solver.ShaderProlongVelocity:            prolong(grid.FieldVelocity),
	}
}

// Install registers every solver kernel on dev.
func Install(dev *software.Device) {
	for id, k := range Kernels() {
		dev.Register(id, k)
	}
}
