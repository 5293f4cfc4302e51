package solver_test

import (
	"slices"
	"testing"

	"github.com/gogpu/nestfluid/backend/software"
	"github.com/gogpu/nestfluid/dispatch"
	"github.com/gogpu/nestfluid/gpucore"
	"github.com/gogpu/nestfluid/grid"
	"github.com/gogpu/nestfluid/solver"
)

// namingDevice remembers which shader each pipeline runs.
type namingDevice struct {
	*software.Device
	shaders map[gpucore.ComputePipelineID]gpucore.ShaderID
}

func (d *namingDevice) CreateComputePipeline(desc *gpucore.ComputePipelineDesc) (gpucore.ComputePipelineID, error) {
	id, err := d.Device.CreateComputePipeline(desc)
	if err == nil {
		d.shaders[id] = desc.Shader
	}
	return id, err
}

type fixture struct {
	dev *namingDevice
	g   *grid.Grid
	seq *solver.Sequencer
}

func newFixture(t *testing.T, levels int) *fixture {
	t.Helper()
	sw := software.New(software.Options{})
	stub := func(*software.Context) func(software.Invocation) { return nil }
	for _, id := range append(slices.Clone(solver.Shaders),
		dispatch.ShaderResetLiveCounts, dispatch.ShaderGenerateSubgridOffsets, dispatch.ShaderGenerateIndirectCommands) {
		sw.Register(id, stub)
	}
	dev := &namingDevice{Device: sw, shaders: make(map[gpucore.ComputePipelineID]gpucore.ShaderID)}

	g, err := grid.New(dev, grid.Settings{Resolution: [3]int{8, 8, 8}, NumGridLevels: levels, GridSubdivision: 2, BaseCellSize: 1})
	if err != nil {
		t.Fatal(err)
	}
	sizer, err := dispatch.NewSizer(dev)
	if err != nil {
		t.Fatal(err)
	}
	seq, err := solver.NewSequencer(dev, g, sizer)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		seq.Destroy()
		sizer.Destroy()
		g.Destroy()
		sw.Close()
	})
	return &fixture{dev: dev, g: g, seq: seq}
}

// dispatched is one recorded dispatch with its decoded parameters.
type dispatched struct {
	index  int
	shader gpucore.ShaderID
	params dispatch.Params
	cmd    gpucore.Command
}

func (f *fixture) record(t *testing.T, cfg solver.Config) ([]gpucore.Command, []dispatched) {
	t.Helper()
	rec := gpucore.NewRecorder("frame", dispatch.DefaultMaxGroupsPerAxis)
	f.seq.Record(solver.Frame{Encoder: rec, DT: 0.1}, cfg)
	if err := rec.Err(); err != nil {
		t.Fatal(err)
	}
	var out []dispatched
	for i, c := range rec.Commands() {
		if c.Op == gpucore.OpDispatch || c.Op == gpucore.OpDispatchIndirect {
			out = append(out, dispatched{index: i, shader: f.dev.shaders[c.Pipeline], params: dispatch.DecodeParams(c.Params), cmd: c})
		}
	}
	return rec.Commands(), out
}

func only(ds []dispatched, shader gpucore.ShaderID) []dispatched {
	var out []dispatched
	for _, d := range ds {
		if d.shader == shader {
			out = append(out, d)
		}
	}
	return out
}

func TestStageOrder(t *testing.T) {
	f := newFixture(t, 2)
	var stages []solver.Stage
	f.seq.OnStage(func(s solver.Stage) { stages = append(stages, s) })

	cfg := solver.DefaultConfig()
	f.record(t, cfg)
	var want []solver.Stage
	for s := range solver.StageCount {
		want = append(want, s)
	}
	if !slices.Equal(stages, want) {
		t.Errorf("stages = %v, want %v", stages, want)
	}

	stages = nil
	cfg.ShouldProjectIncompressible = false
	_, ds := f.record(t, cfg)
	for _, s := range []solver.Stage{solver.StageComputeDivergence, solver.StageSolvePressure, solver.StageProject} {
		if slices.Contains(stages, s) {
			t.Errorf("stage %s recorded with projection disabled", s)
		}
	}
	for _, sh := range []gpucore.ShaderID{solver.ShaderDivergenceVorticity, solver.ShaderPressure, solver.ShaderProject} {
		if n := len(only(ds, sh)); n != 0 {
			t.Errorf("%s dispatched %d times with projection disabled", sh, n)
		}
	}
}

func TestRedBlackParityAndBarriers(t *testing.T) {
	f := newFixture(t, 1)
	cfg := solver.DefaultConfig()
	cfg.PressureIterations = 5
	cmds, ds := f.record(t, cfg)

	pressure := only(ds, solver.ShaderPressure)
	if len(pressure) != 5 {
		t.Fatalf("pressure sweeps = %d, want 5", len(pressure))
	}
	target := f.g.Level(0).Buffers[grid.FieldPressure]
	for i, d := range pressure {
		if d.params.Parity != solver.Parity(i) {
			t.Errorf("sweep %d parity = %d, want %d", i, d.params.Parity, solver.Parity(i))
		}
		if d.cmd.Groups != [3]uint32{1, 2, 2} {
			t.Errorf("sweep %d groups = %v, want x halved", i, d.cmd.Groups)
		}
		next := cmds[d.index+1]
		if next.Op != gpucore.OpBarrier || len(next.Barriers) != 1 || next.Barriers[0].Buffer != target {
			t.Errorf("sweep %d is not followed by a pressure barrier: %+v", i, next)
		}
	}
	if solver.Parity(0) != 1 || solver.Parity(1) != 0 {
		t.Errorf("parity sequence starts %d, %d", solver.Parity(0), solver.Parity(1))
	}
}

func TestPressureIterationsPerLevel(t *testing.T) {
	tests := []struct {
		name string
		cfg  solver.Config
		want []int
	}{
		{"linear", solver.Config{PressureIterations: 4, PressureLevelFactor: 0.5, ShouldProjectIncompressible: true}, []int{4, 6, 8}},
		{"flat", solver.Config{PressureIterations: 3, ShouldProjectIncompressible: true}, []int{3, 3, 3}},
		{"policy", solver.Config{
			PressureIterations:          2,
			ShouldProjectIncompressible: true,
			PressurePolicy:              func(level, base int) int { return base << level },
		}, []int{2, 4, 8}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 3)
			_, ds := f.record(t, tt.cfg)
			got := make([]int, 3)
			for _, d := range only(ds, solver.ShaderPressure) {
				got[d.params.Level]++
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("sweeps per level = %v, want %v", got, tt.want)
			}
			for l, w := range tt.want {
				if n := tt.cfg.PressureIterationsFor(l); n != w {
					t.Errorf("PressureIterationsFor(%d) = %d, want %d", l, n, w)
				}
			}
		})
	}
}

func TestProlongVelocityFlag(t *testing.T) {
	f := newFixture(t, 3)
	cfg := solver.DefaultConfig()

	_, ds := f.record(t, cfg)
	if n := len(only(ds, solver.ShaderProlongVelocity)); n != 0 {
		t.Errorf("velocity prolonged %d times with the flag off", n)
	}
	density := only(ds, solver.ShaderProlongDensity)
	if len(density) != 2 || density[0].params.Level != 1 || density[1].params.Level != 2 {
		t.Errorf("density prolongation = %+v", density)
	}

	cfg.ProlongVelocity = true
	_, ds = f.record(t, cfg)
	if n := len(only(ds, solver.ShaderProlongVelocity)); n != 2 {
		t.Errorf("velocity prolonged %d times, want 2", n)
	}
}

func TestRestrictFinestFirst(t *testing.T) {
	f := newFixture(t, 3)
	_, ds := f.record(t, solver.DefaultConfig())
	r := only(ds, solver.ShaderRestrictVelocity)
	if len(r) != 2 || r[0].params.Level != 2 || r[1].params.Level != 1 {
		t.Fatalf("restriction order = %+v", r)
	}
	if r[0].cmd.Op != gpucore.OpDispatchIndirect {
		t.Error("restriction from a sparse level must be dispatched indirectly")
	}
}

func TestSourceStrengthScaling(t *testing.T) {
	f := newFixture(t, 3)
	cfg := solver.DefaultConfig()
	cfg.Sources = []grid.Source{{Radius: 1, Density: 1, Strength: 1}, {Radius: 2, Density: 1, Strength: 1}}
	if err := f.seq.PrepareFrame(cfg); err != nil {
		t.Fatal(err)
	}
	_, ds := f.record(t, cfg)

	inject := only(ds, solver.ShaderInjectSources)
	if len(inject) != 3 {
		t.Fatalf("inject dispatches = %d, want 3", len(inject))
	}
	want := []struct {
		level uint32
		rate  float32
	}{{2, 1}, {1, 0.5}, {0, 0.25}}
	for i, w := range want {
		p := inject[i].params
		if p.Level != w.level || p.Rate != w.rate || p.Aux != 2 {
			t.Errorf("inject %d = %v, want level %d rate %g", i, p, w.level, w.rate)
		}
	}

	cfg.Sources = nil
	_, ds = f.record(t, cfg)
	if n := len(only(ds, solver.ShaderInjectSources)); n != 0 {
		t.Errorf("inject dispatched %d times without sources", n)
	}
}

func TestFeedBarrierPublishesEveryLevel(t *testing.T) {
	f := newFixture(t, 2)
	cmds, _ := f.record(t, solver.DefaultConfig())
	last := cmds[len(cmds)-1]
	if last.Op != gpucore.OpBarrier || len(last.Barriers) != 4 {
		t.Fatalf("last command = %+v", last)
	}
	for _, b := range last.Barriers {
		if b.Dst&gpucore.AccessHostRead == 0 {
			t.Errorf("feed barrier on %d does not reach the host", b.Buffer)
		}
	}
}

type flagWriter struct{ calls int }

func (w *flagWriter) RasterizeObstacles(enc gpucore.CommandEncoder, g *grid.Grid) { w.calls++ }

func TestObstacleStage(t *testing.T) {
	f := newFixture(t, 2)
	w := &flagWriter{}
	f.seq.SetObstacles(w)
	cmds, _ := f.record(t, solver.DefaultConfig())
	if w.calls != 1 {
		t.Errorf("rasterizer called %d times", w.calls)
	}
	flags := f.g.Buffers(grid.FieldFlags)
	found := false
	for _, c := range cmds {
		if c.Op == gpucore.OpBarrier && len(c.Barriers) == len(flags) && c.Barriers[0].Buffer == flags[0] {
			found = true
		}
	}
	if !found {
		t.Error("no barrier on the flags buffers after obstacle rasterization")
	}
}
