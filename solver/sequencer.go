// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package solver

import (
	"fmt"

	"github.com/gogpu/nestfluid/dispatch"
	"github.com/gogpu/nestfluid/gpucore"
	"github.com/gogpu/nestfluid/grid"
)

// ObstacleRasterizer writes obstacle geometry into the flags field of every
// level. It is recorded between source injection and velocity diffusion;
// the sequencer places the barrier on the flags buffers after it.
type ObstacleRasterizer interface {
	RasterizeObstacles(enc gpucore.CommandEncoder, g *grid.Grid)
}

// Frame is the per-frame recording context.
type Frame struct {
	// Encoder receives the frame's commands.
	Encoder gpucore.CommandEncoder

	// DT is the simulated step size in seconds.
	DT float32

	// Elapsed is the simulated time at the start of the frame.
	Elapsed float32
}

// Sequencer records the fixed per-frame solver pipeline.
type Sequencer struct {
	adapter   gpucore.GPUAdapter
	grid      *grid.Grid
	sizer     *dispatch.Sizer
	pipelines map[gpucore.ShaderID]gpucore.ComputePipelineID
	obstacles ObstacleRasterizer
	onStage   func(Stage)
}

// NewSequencer creates the solver pipelines for g. The sizer is owned by
// the caller.
func NewSequencer(adapter gpucore.GPUAdapter, g *grid.Grid, sizer *dispatch.Sizer) (*Sequencer, error) {
	s := &Sequencer{
		adapter:   adapter,
		grid:      g,
		sizer:     sizer,
		pipelines: make(map[gpucore.ShaderID]gpucore.ComputePipelineID, len(Shaders)),
	}
	for _, shader := range Shaders {
		id, err := adapter.CreateComputePipeline(&gpucore.ComputePipelineDesc{
			Label:         string(shader),
			Shader:        shader,
			ParamsSize:    dispatch.ParamsSize,
			WorkgroupSize: [3]uint32{grid.LocalGroupSize, grid.LocalGroupSize, grid.LocalGroupSize},
		})
		if err != nil {
			s.Destroy()
			return nil, fmt.Errorf("solver: create %s pipeline: %w", shader, err)
		}
		s.pipelines[shader] = id
	}
	return s, nil
}

// Destroy releases the solver pipelines.
func (s *Sequencer) Destroy() {
	for shader, id := range s.pipelines {
		s.adapter.DestroyComputePipeline(id)
		delete(s.pipelines, shader)
	}
}

// SetObstacles installs the obstacle rasterizer. Nil disables the stage.
func (s *Sequencer) SetObstacles(r ObstacleRasterizer) { s.obstacles = r }

// OnStage registers a hook called as each stage starts recording.
func (s *Sequencer) OnStage(fn func(Stage)) { s.onStage = fn }

// Grid returns the hierarchy the sequencer records for.
func (s *Sequencer) Grid() *grid.Grid { return s.grid }

// PrepareFrame uploads the host-side inputs of the next frame. It must be
// called while no submission is in flight.
func (s *Sequencer) PrepareFrame(cfg Config) error {
	cfg = cfg.withDefaults()
	if len(cfg.Sources) == 0 {
		return nil
	}
	if err := s.adapter.WriteBuffer(s.grid.Sources(), 0, grid.EncodeSources(cfg.Sources)); err != nil {
		return fmt.Errorf("solver: upload sources: %w", err)
	}
	return nil
}

func (s *Sequencer) begin(stage Stage) {
	if s.onStage != nil {
		s.onStage(stage)
	}
}

// written returns the barrier protecting buffers just written by a compute
// stage from every later compute or transfer access.
func written(bufs ...gpucore.BufferID) []gpucore.BufferBarrier {
	out := make([]gpucore.BufferBarrier, len(bufs))
	for i, b := range bufs {
		out[i] = gpucore.BufferBarrier{Buffer: b, Src: gpucore.AccessShaderWrite, Dst: gpucore.AccessCompute}
	}
	return out
}

// copied returns the barrier protecting a copy destination.
func copied(buf gpucore.BufferID) gpucore.BufferBarrier {
	return gpucore.BufferBarrier{Buffer: buf, Src: gpucore.AccessTransferWrite, Dst: gpucore.AccessCompute}
}

// run binds shader and p and dispatches it over level.
func (s *Sequencer) run(enc gpucore.CommandEncoder, shader gpucore.ShaderID, p dispatch.Params, level int, factor uint32) {
	enc.SetPipeline(s.pipelines[shader])
	enc.SetParams(p.Bytes())
	dispatch.DispatchFluid(enc, s.grid, level, factor)
}

// Record records one simulated step into f.Encoder.
func (s *Sequencer) Record(f Frame, cfg Config) {
	cfg = cfg.withDefaults()
	enc := f.Encoder
	g := s.grid
	n := g.NumSubgrids()

	enc.SetHierarchy(g.Table())

	s.begin(StageSizeDispatch)
	s.sizer.Record(enc, g, cfg.ActivationThreshold)

	s.begin(StageInjectSources)
	s.injectSources(enc, f, cfg)

	s.begin(StageRasterizeObstacles)
	if s.obstacles != nil {
		s.obstacles.RasterizeObstacles(enc, g)
		enc.Barrier(written(g.Buffers(grid.FieldFlags)...)...)
	}

	s.begin(StageDiffuseVelocity)
	if cfg.VelocityDiffusion > 0 {
		s.diffuse(enc, 0, grid.FieldVelocity, f.DT, cfg.VelocityDiffusion, cfg.DiffusionIterations)
	}

	s.begin(StageAdvectVelocity)
	for l := range n {
		s.advect(enc, l, grid.FieldVelocity, f.DT, cfg.AdvectionIterations, 0)
		if l+1 < n {
			s.RecordProlong(enc, l+1, grid.FieldDensity, cfg.TransferAlpha)
			if cfg.ProlongVelocity {
				s.RecordProlong(enc, l+1, grid.FieldVelocity, cfg.TransferAlpha)
			}
		}
	}

	if cfg.ShouldProjectIncompressible {
		s.begin(StageComputeDivergence)
		for l := range n {
			sg := g.Level(l)
			s.run(enc, ShaderDivergenceVorticity, dispatch.Params{Level: uint32(l)}, l, 0)
			enc.Barrier(written(sg.Buffers[grid.FieldDivergence], sg.Buffers[grid.FieldVorticity])...)
		}

		s.begin(StageSolvePressure)
		for l := range n {
			s.solvePressure(enc, l, cfg.PressureIterationsFor(l))
		}

		s.begin(StageProject)
		for l := range n {
			p := dispatch.Params{Level: uint32(l), DT: f.DT, Rate: cfg.VorticityConfinement}
			s.run(enc, ShaderProject, p, l, 0)
			enc.Barrier(written(g.Level(l).Buffers[grid.FieldVelocity])...)
		}
	}

	s.begin(StageRestrictVelocity)
	for l := n - 1; l >= 1; l-- {
		s.RecordRestrict(enc, l, cfg.RestrictionAlpha)
	}

	s.begin(StageDiffuseDensity)
	if cfg.DensityDiffusion > 0 {
		for l := range n {
			s.diffuse(enc, l, grid.FieldDensity, f.DT, cfg.DensityDiffusion, cfg.DiffusionIterations)
		}
	}

	s.begin(StageAdvectDensity)
	for l := range n {
		s.advect(enc, l, grid.FieldDensity, f.DT, cfg.AdvectionIterations, cfg.DensityDissipation)
	}

	s.begin(StageFeedVisualization)
	feed := make([]gpucore.BufferBarrier, 0, 2*n)
	for l := range n {
		sg := g.Level(l)
		for _, fld := range []grid.Field{grid.FieldDensity, grid.FieldVelocity} {
			feed = append(feed, gpucore.BufferBarrier{
				Buffer: sg.Buffers[fld],
				Src:    gpucore.AccessShaderWrite,
				Dst:    gpucore.AccessShaderRead | gpucore.AccessHostRead,
			})
		}
	}
	enc.Barrier(feed...)
}

// injectSources adds every source to every level, finest first. Level L
// receives the strength scaled by w(L)/w(finest): its cumulative
// subdivision factor normalized to the finest level's, which is 1 on the
// finest level and 1/sub^(finest-L) below it.
func (s *Sequencer) injectSources(enc gpucore.CommandEncoder, f Frame, cfg Config) {
	if len(cfg.Sources) == 0 {
		return
	}
	g := s.grid
	finest := float32(g.Level(g.Finest()).Resolution[3])
	for l := g.Finest(); l >= 0; l-- {
		sg := g.Level(l)
		p := dispatch.Params{
			Level: uint32(l),
			Aux:   uint32(len(cfg.Sources)),
			DT:    f.DT,
			Rate:  float32(sg.Resolution[3]) / finest,
		}
		s.run(enc, ShaderInjectSources, p, l, 0)
		enc.Barrier(written(sg.Buffers[grid.FieldVelocity], sg.Buffers[grid.FieldDensity])...)
	}
}

// previous maps a relaxed or advected field to its scratch copy.
func previous(f grid.Field) grid.Field {
	if f == grid.FieldVelocity {
		return grid.FieldVelocityPrev
	}
	return grid.FieldDensityPrev
}

func fieldFlags(f grid.Field) uint32 {
	if f == grid.FieldVelocity {
		return FlagVectorField
	}
	return 0
}

// snapshot copies field into its scratch buffer and makes the copy visible.
func (s *Sequencer) snapshot(enc gpucore.CommandEncoder, level int, f grid.Field) {
	sg := s.grid.Level(level)
	prev := sg.Buffers[previous(f)]
	enc.CopyBuffer(sg.Buffers[f], prev, uint64(sg.CellCount())*f.ElementSize())
	enc.Barrier(copied(prev))
}

// diffuse records implicit diffusion of field on level as red-black
// relaxation against the field's value at the start of the stage.
func (s *Sequencer) diffuse(enc gpucore.CommandEncoder, level int, f grid.Field, dt, rate float32, iterations int) {
	s.snapshot(enc, level, f)
	sg := s.grid.Level(level)
	s.relax(enc, ShaderDiffuse, level, sg.Buffers[f], iterations, dispatch.Params{
		Level: uint32(level),
		Flags: fieldFlags(f),
		DT:    dt,
		Rate:  rate,
	})
}

// solvePressure records the red-black pressure relaxation of level.
func (s *Sequencer) solvePressure(enc gpucore.CommandEncoder, level, iterations int) {
	sg := s.grid.Level(level)
	s.relax(enc, ShaderPressure, level, sg.Buffers[grid.FieldPressure], iterations, dispatch.Params{
		Level: uint32(level),
	})
}

// relax records iterations red-black sweeps. Sweep i updates the cells of
// parity (i+1) mod 2 and is followed by a barrier on target, since sweep
// i+1 reads the values sweep i wrote.
func (s *Sequencer) relax(enc gpucore.CommandEncoder, shader gpucore.ShaderID, level int, target gpucore.BufferID, iterations int, p dispatch.Params) {
	p.Aux = RedBlackFactor
	for i := range iterations {
		p.Parity = Parity(i)
		s.run(enc, shader, p, level, RedBlackFactor)
		enc.Barrier(written(target)...)
	}
}

// advect records semi-Lagrangian advection of field on level, split into
// substeps of dt/substeps.
func (s *Sequencer) advect(enc gpucore.CommandEncoder, level int, f grid.Field, dt float32, substeps int, dissipation float32) {
	sg := s.grid.Level(level)
	p := dispatch.Params{
		Level: uint32(level),
		Flags: fieldFlags(f),
		DT:    dt / float32(substeps),
		Rate:  dissipation,
	}
	for range substeps {
		s.snapshot(enc, level, f)
		s.run(enc, ShaderAdvect, p, level, 0)
		enc.Barrier(written(sg.Buffers[f])...)
	}
}
