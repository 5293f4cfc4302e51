package kernels_test

import (
	"math"
	"slices"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/nestfluid/backend/software"
	"github.com/gogpu/nestfluid/dispatch"
	"github.com/gogpu/nestfluid/gpucore"
	"github.com/gogpu/nestfluid/grid"
	"github.com/gogpu/nestfluid/kernels"
	"github.com/gogpu/nestfluid/solver"
)

type harness struct {
	dev   *software.Device
	grid  *grid.Grid
	sizer *dispatch.Sizer
	seq   *solver.Sequencer
}

func newHarness(t *testing.T, s grid.Settings, limits gpucore.Limits) *harness {
	t.Helper()
	dev := software.New(software.Options{Workers: 4, Limits: limits, StrictHazards: true})
	kernels.Install(dev)

	g, err := grid.New(dev, s)
	if err != nil {
		t.Fatalf("grid.New: %v", err)
	}
	sizer, err := dispatch.NewSizer(dev)
	if err != nil {
		t.Fatalf("NewSizer: %v", err)
	}
	seq, err := solver.NewSequencer(dev, g, sizer)
	if err != nil {
		t.Fatalf("NewSequencer: %v", err)
	}
	t.Cleanup(func() {
		seq.Destroy()
		sizer.Destroy()
		g.Destroy()
		dev.Close()
	})
	return &harness{dev: dev, grid: g, sizer: sizer, seq: seq}
}

func (h *harness) step(t *testing.T, cfg solver.Config, dt float32) {
	t.Helper()
	if err := h.seq.PrepareFrame(cfg); err != nil {
		t.Fatalf("PrepareFrame: %v", err)
	}
	enc := h.dev.BeginCommands("step")
	h.seq.Record(solver.Frame{Encoder: enc, DT: dt}, cfg)
	if err := h.dev.Submit(enc); err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

func (h *harness) size(t *testing.T, threshold float32) {
	t.Helper()
	err := h.dev.SubmitImmediate("size", func(enc gpucore.CommandEncoder) {
		enc.SetHierarchy(h.grid.Table())
		h.sizer.Record(enc, h.grid, threshold)
	})
	if err != nil {
		t.Fatalf("sizing: %v", err)
	}
}

func children(res [4]uint32, sub uint32, parent [3]uint32) []uint32 {
	var out []uint32
	for dz := range sub {
		for dy := range sub {
			for dx := range sub {
				out = append(out, grid.Index(res, parent[0]*sub+dx, parent[1]*sub+dy, parent[2]*sub+dz))
			}
		}
	}
	return out
}

func TestSizingActivatesChildren(t *testing.T) {
	s := grid.Settings{Resolution: [3]int{4, 4, 4}, NumGridLevels: 3, GridSubdivision: 2, BaseCellSize: 1}
	h := newHarness(t, s, gpucore.Limits{})
	g := h.grid

	coarse := g.Level(0).Resolution
	active := [][3]uint32{{0, 0, 0}, {1, 2, 3}, {3, 3, 3}}
	density := make([]float32, g.Level(0).CellCount())
	for _, c := range active {
		density[grid.Index(coarse, c[0], c[1], c[2])] = 1
	}
	if err := g.WriteField(0, grid.FieldDensity, density); err != nil {
		t.Fatal(err)
	}

	// Flag one child of the (1, 2, 3) coarse cell so it refines again.
	fine := g.Level(1).Resolution
	flags := make([]uint32, g.Level(1).CellCount())
	flags[grid.Index(fine, 3, 5, 7)] = grid.FlagSource
	if err := g.WriteFlags(1, flags); err != nil {
		t.Fatal(err)
	}

	h.size(t, 0.5)

	live1, err := g.ReadLiveCells(1)
	if err != nil {
		t.Fatal(err)
	}
	if live1 != 24 {
		t.Fatalf("level 1 live = %d, want 24", live1)
	}
	live2, _ := g.ReadLiveCells(2)
	if live2 != 8 {
		t.Errorf("level 2 live = %d, want 8", live2)
	}

	offsets, err := g.ReadIndexOffsets(1, live1)
	if err != nil {
		t.Fatal(err)
	}
	var want []uint32
	for _, c := range active {
		want = append(want, children(fine, 2, c)...)
	}
	slices.Sort(offsets)
	slices.Sort(want)
	if !slices.Equal(offsets, want) {
		t.Errorf("level 1 offsets = %v, want %v", offsets, want)
	}

	level2, _ := g.ReadIndexOffsets(2, live2)
	wantFine := children(g.Level(2).Resolution, 2, [3]uint32{3, 5, 7})
	slices.Sort(level2)
	slices.Sort(wantFine)
	if !slices.Equal(level2, wantFine) {
		t.Errorf("level 2 offsets = %v, want %v", level2, wantFine)
	}

	for l, live := range map[int]uint32{1: live1, 2: live2} {
		args, err := g.ReadIndirectArgs(l)
		if err != nil {
			t.Fatal(err)
		}
		if want := dispatch.SplitGroups(dispatch.GroupsForCells(live), dispatch.DefaultMaxGroupsPerAxis); args != want {
			t.Errorf("level %d args = %+v, want %+v", l, args, want)
		}
	}
}

func TestSizingResetsEachFrame(t *testing.T) {
	s := grid.Settings{Resolution: [3]int{4, 4, 4}, NumGridLevels: 2, GridSubdivision: 2, BaseCellSize: 1}
	h := newHarness(t, s, gpucore.Limits{})

	density := make([]float32, 64)
	density[5] = 1
	if err := h.grid.WriteField(0, grid.FieldDensity, density); err != nil {
		t.Fatal(err)
	}
	h.size(t, 0.5)
	h.size(t, 0.5)
	if live, _ := h.grid.ReadLiveCells(1); live != 8 {
		t.Errorf("live after two frames = %d, want 8", live)
	}

	h.size(t, 2)
	if live, _ := h.grid.ReadLiveCells(1); live != 0 {
		t.Errorf("live above threshold = %d, want 0", live)
	}
	args, _ := h.grid.ReadIndirectArgs(1)
	if args.Groups() != 0 {
		t.Errorf("empty level args = %+v, want no groups", args)
	}
}

func TestSizingSpreadsAcrossAxes(t *testing.T) {
	limits := gpucore.DefaultLimits()
	limits.MaxComputeWorkgroupsPerDimension = 4
	s := grid.Settings{Resolution: [3]int{8, 8, 8}, NumGridLevels: 2, GridSubdivision: 2, BaseCellSize: 1}
	h := newHarness(t, s, limits)

	density := make([]float32, 512)
	for i := range density {
		density[i] = 1
	}
	if err := h.grid.WriteField(0, grid.FieldDensity, density); err != nil {
		t.Fatal(err)
	}
	h.size(t, 0.5)

	live, _ := h.grid.ReadLiveCells(1)
	if live != 4096 {
		t.Fatalf("live = %d, want 4096", live)
	}
	args, _ := h.grid.ReadIndirectArgs(1)
	if args.X > 4 || args.Y > 4 || args.Z > 4 {
		t.Errorf("args %+v exceed the per-axis limit", args)
	}
	if args.Groups()*grid.InvocationsPerGroup < uint64(live) {
		t.Errorf("args %+v cover fewer than %d cells", args, live)
	}
	if args.Y < 2 {
		t.Errorf("args %+v did not spread over a second axis", args)
	}
}

func quietConfig() solver.Config {
	return solver.Config{DiffusionIterations: 1, AdvectionIterations: 1}
}

func TestAdvectZeroVelocityIsIdentity(t *testing.T) {
	s := grid.Settings{Resolution: [3]int{8, 8, 8}, NumGridLevels: 1, BaseCellSize: 1}
	h := newHarness(t, s, gpucore.Limits{})

	density := make([]float32, 512)
	for i := range density {
		density[i] = float32(i%7) * 0.25
	}
	if err := h.grid.WriteField(0, grid.FieldDensity, density); err != nil {
		t.Fatal(err)
	}
	h.step(t, quietConfig(), 0.1)

	got, err := h.grid.ReadField(0, grid.FieldDensity)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, density) {
		t.Error("zero-velocity advection changed density")
	}
}

func TestUniformFieldStaysUniform(t *testing.T) {
	s := grid.Settings{Resolution: [3]int{8, 8, 8}, NumGridLevels: 1, BaseCellSize: 0.5}
	h := newHarness(t, s, gpucore.Limits{})

	vel := make([]float32, 4*512)
	density := make([]float32, 512)
	for i := range density {
		density[i] = 1
		vel[4*i], vel[4*i+1] = 0.5, 0.25
	}
	if err := h.grid.WriteField(0, grid.FieldVelocity, vel); err != nil {
		t.Fatal(err)
	}
	if err := h.grid.WriteField(0, grid.FieldDensity, density); err != nil {
		t.Fatal(err)
	}
	for range 5 {
		h.step(t, quietConfig(), 0.2)
	}

	gotD, _ := h.grid.ReadField(0, grid.FieldDensity)
	for i, v := range gotD {
		if math.Abs(float64(v-1)) > 1e-5 {
			t.Fatalf("density[%d] = %v, want 1", i, v)
		}
	}
	gotV, _ := h.grid.ReadField(0, grid.FieldVelocity)
	for i := range 512 {
		if math.Abs(float64(gotV[4*i]-0.5)) > 1e-5 || math.Abs(float64(gotV[4*i+1]-0.25)) > 1e-5 {
			t.Fatalf("velocity[%d] = %v", i, gotV[4*i:4*i+3])
		}
	}
}

// divergenceNorm returns the L2 norm of the central-difference divergence
// with zero velocity outside the grid.
func divergenceNorm(vel []float32, n int, h float32) float64 {
	at := func(x, y, z, c int) float32 {
		if x < 0 || y < 0 || z < 0 || x >= n || y >= n || z >= n {
			return 0
		}
		return vel[4*((z*n+y)*n+x)+c]
	}
	var sum float64
	for z := range n {
		for y := range n {
			for x := range n {
				d := (at(x+1, y, z, 0) - at(x-1, y, z, 0) +
					at(x, y+1, z, 1) - at(x, y-1, z, 1) +
					at(x, y, z+1, 2) - at(x, y, z-1, 2)) / (2 * h)
				sum += float64(d * d)
			}
		}
	}
	return math.Sqrt(sum)
}

// radialBlob is a smooth, compactly decaying outward flow.
func radialBlob(n int, sigma float32) []float32 {
	vel := make([]float32, 4*n*n*n)
	c := float32(n-1) / 2
	for z := range n {
		for y := range n {
			for x := range n {
				r := mgl32.Vec3{float32(x) - c, float32(y) - c, float32(z) - c}
				w := float32(math.Exp(float64(-r.Dot(r) / (sigma * sigma))))
				i := 4 * ((z*n+y)*n + x)
				vel[i], vel[i+1], vel[i+2] = r[0]*w, r[1]*w, r[2]*w
			}
		}
	}
	return vel
}

func TestProjectionReducesDivergence(t *testing.T) {
	const n = 16
	run := func(project bool) float64 {
		s := grid.Settings{Resolution: [3]int{n, n, n}, NumGridLevels: 1, BaseCellSize: 1}
		h := newHarness(t, s, gpucore.Limits{})
		if err := h.grid.WriteField(0, grid.FieldVelocity, radialBlob(n, 3)); err != nil {
			t.Fatal(err)
		}
		cfg := quietConfig()
		cfg.ShouldProjectIncompressible = project
		cfg.PressureIterations = 200
		h.step(t, cfg, 0.01)

		vel, err := h.grid.ReadField(0, grid.FieldVelocity)
		if err != nil {
			t.Fatal(err)
		}
		if project {
			p, _ := h.grid.ReadField(0, grid.FieldPressure)
			if slices.Max(p) == slices.Min(p) {
				t.Error("pressure solve left pressure uniform")
			}
		}
		return divergenceNorm(vel, n, 1)
	}

	free := run(false)
	projected := run(true)
	if free == 0 {
		t.Fatal("initial field has no divergence")
	}
	if projected > 0.5*free {
		t.Errorf("divergence after projection = %g, without = %g", projected, free)
	}
}

func TestFullStepHasNoHazards(t *testing.T) {
	for _, prolongVelocity := range []bool{false, true} {
		s := grid.Settings{Resolution: [3]int{4, 4, 4}, NumGridLevels: 3, GridSubdivision: 2, BaseCellSize: 1}
		h := newHarness(t, s, gpucore.Limits{})

		cfg := solver.DefaultConfig()
		cfg.ProlongVelocity = prolongVelocity
		cfg.DiffusionIterations = 4
		cfg.PressureIterations = 4
		cfg.VorticityConfinement = 0.3
		cfg.DensityDissipation = 0.1
		cfg.Sources = []grid.Source{{
			Position: mgl32.Vec3{0.5, 0, 0},
			Velocity: mgl32.Vec3{0, 1, 0},
			Radius:   2,
			Density:  1,
			Strength: 5,
		}}
		for range 3 {
			h.step(t, cfg, 0.05)
		}
		if hz := h.dev.Hazards(); len(hz) != 0 {
			t.Fatalf("prolongVelocity=%v: hazards %v", prolongVelocity, hz)
		}
		live, _ := h.grid.ReadLiveCells(1)
		if live == 0 {
			t.Errorf("prolongVelocity=%v: source did not activate level 1", prolongVelocity)
		}
		d, _ := h.grid.ReadField(2, grid.FieldDensity)
		if slices.Max(d) <= 0 {
			t.Errorf("prolongVelocity=%v: no density reached the finest level", prolongVelocity)
		}
	}
}

func linearVelocity(n int) []float32 {
	vel := make([]float32, 4*n*n*n)
	for z := range n {
		for y := range n {
			for x := range n {
				i := 4 * ((z*n+y)*n + x)
				vel[i] = float32(x) + 2*float32(y) - float32(z)
				vel[i+1] = 0.5 * float32(y)
				vel[i+2] = -float32(x)
			}
		}
	}
	return vel
}

func TestProlongRestrictRoundTrip(t *testing.T) {
	const n, sub = 8, 2
	s := grid.Settings{Resolution: [3]int{n, n, n}, NumGridLevels: 2, GridSubdivision: sub, BaseCellSize: 1}
	h := newHarness(t, s, gpucore.Limits{})
	g := h.grid

	density := make([]float32, n*n*n)
	for i := range density {
		density[i] = 1
	}
	if err := g.WriteField(0, grid.FieldDensity, density); err != nil {
		t.Fatal(err)
	}
	coarse := linearVelocity(n)
	if err := g.WriteField(0, grid.FieldVelocity, coarse); err != nil {
		t.Fatal(err)
	}
	h.size(t, 0.5)
	if live, _ := g.ReadLiveCells(1); live != n*n*n*sub*sub*sub {
		t.Fatalf("level 1 live = %d, want the whole level", live)
	}

	err := h.dev.SubmitImmediate("transfer", func(enc gpucore.CommandEncoder) {
		enc.SetHierarchy(g.Table())
		h.seq.RecordProlong(enc, 1, grid.FieldVelocity, 1)
		h.seq.RecordRestrict(enc, 1, 1)
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	fine, err := g.ReadField(1, grid.FieldVelocity)
	if err != nil {
		t.Fatal(err)
	}
	const fn = n * sub
	for z := range fn {
		for y := range fn {
			for x := range fn {
				q := [3]float32{
					(float32(x)+0.5)/sub - 0.5,
					(float32(y)+0.5)/sub - 0.5,
					(float32(z)+0.5)/sub - 0.5,
				}
				if slices.Min(q[:]) < 0 || slices.Max(q[:]) > n-1 {
					continue
				}
				want := q[0] + 2*q[1] - q[2]
				if got := fine[4*((z*fn+y)*fn+x)]; math.Abs(float64(got-want)) > 1e-4 {
					t.Fatalf("prolonged (%d,%d,%d) = %v, want %v", x, y, z, got, want)
				}
			}
		}
	}

	back, err := g.ReadField(0, grid.FieldVelocity)
	if err != nil {
		t.Fatal(err)
	}
	var worst float64
	for z := 1; z < n-1; z++ {
		for y := 1; y < n-1; y++ {
			for x := 1; x < n-1; x++ {
				i := 4 * ((z*n+y)*n + x)
				for c := range 3 {
					worst = max(worst, math.Abs(float64(back[i+c]-coarse[i+c])))
				}
			}
		}
	}
	if worst > 1e-4 {
		t.Errorf("interior round trip error = %g", worst)
	}
	if hz := h.dev.Hazards(); len(hz) != 0 {
		t.Errorf("hazards %v", hz)
	}
}

// diffusionResidual returns the max-norm residual of the implicit density
// system (1 + a*k) x - a * sum(neighbours) = x0 on an n³ level with
// zero-flux walls, k counting the neighbours inside the level.
func diffusionResidual(x, x0 []float32, n int, a float64) float64 {
	at := func(x, y, z int) int { return (z*n+y)*n + x }
	var worst float64
	for z := range n {
		for y := range n {
			for xx := range n {
				var sum float64
				k := 0
				for _, d := range [6][3]int{{-1, 0, 0}, {1, 0, 0}, {0, -1, 0}, {0, 1, 0}, {0, 0, -1}, {0, 0, 1}} {
					nx, ny, nz := xx+d[0], y+d[1], z+d[2]
					if nx < 0 || ny < 0 || nz < 0 || nx >= n || ny >= n || nz >= n {
						continue
					}
					sum += float64(x[at(nx, ny, nz)])
					k++
				}
				i := at(xx, y, z)
				r := (1+a*float64(k))*float64(x[i]) - a*sum - float64(x0[i])
				worst = max(worst, math.Abs(r))
			}
		}
	}
	return worst
}

func TestRedBlackDiffusionConverges(t *testing.T) {
	const (
		n    = 8
		rate = 0.25
		dt   = 1
	)
	bump := make([]float32, n*n*n)
	uniform := make([]float32, n*n*n)
	for i := range bump {
		bump[i] = 1
		uniform[i] = 1
	}
	bump[(4*n+4)*n+4] = 10
	bump[(3*n+2)*n+1] = 4
	bump[0] = 0

	tests := []struct {
		name    string
		initial []float32
	}{
		{"uniform", uniform},
		{"bump", bump},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := grid.Settings{Resolution: [3]int{n, n, n}, NumGridLevels: 1, BaseCellSize: 1}
			h := newHarness(t, s, gpucore.Limits{})
			relax := func(sweeps int) []float32 {
				t.Helper()
				if err := h.grid.WriteField(0, grid.FieldDensity, tt.initial); err != nil {
					t.Fatal(err)
				}
				cfg := quietConfig()
				cfg.DensityDiffusion = rate
				cfg.DiffusionIterations = sweeps
				h.step(t, cfg, dt)
				got, err := h.grid.ReadField(0, grid.FieldDensity)
				if err != nil {
					t.Fatal(err)
				}
				return got
			}

			const a = rate * dt
			exact := relax(200)
			errorTo := func(x []float32) float64 {
				var m float64
				for i := range x {
					m = max(m, math.Abs(float64(x[i]-exact[i])))
				}
				return m
			}

			firstRes, lastRes := 0.0, math.Inf(1)
			lastErr := errorTo(tt.initial)
			for sweeps := 1; sweeps <= 16; sweeps++ {
				x := relax(sweeps)
				res := diffusionResidual(x, tt.initial, n, a)
				if res > lastRes+1e-4 {
					t.Fatalf("sweep %d: residual grew from %g to %g", sweeps, lastRes, res)
				}
				e := errorTo(x)
				if e > lastErr+1e-4 {
					t.Fatalf("sweep %d: error grew from %g to %g", sweeps, lastErr, e)
				}
				if sweeps == 1 {
					firstRes = res
				}
				lastRes, lastErr = res, e
			}
			if lastRes > 1e-2*firstRes+1e-4 {
				t.Errorf("residual after 16 sweeps = %g, after one = %g", lastRes, firstRes)
			}
			if tt.name == "uniform" {
				for i, v := range exact {
					if math.Abs(float64(v-1)) > 1e-5 {
						t.Fatalf("uniform density[%d] = %v after relaxation", i, v)
					}
				}
			}
		})
	}
}

func TestSourceStrengthScalesWithLevel(t *testing.T) {
	const (
		n        = 8
		strength = 4
		dt       = 0.25
	)
	tests := []struct {
		levels int
		want   float32 // strength * w(0)/w(finest) * dt
	}{
		{1, 1},
		{2, 0.5},
		{3, 0.25},
	}
	for _, tt := range tests {
		s := grid.Settings{Resolution: [3]int{n, n, n}, NumGridLevels: tt.levels, GridSubdivision: 2, BaseCellSize: 1}
		h := newHarness(t, s, gpucore.Limits{})
		cfg := quietConfig()
		// Centered on level-0 cell (4, 4, 4), reaching none of its neighbours.
		cfg.Sources = []grid.Source{{
			Position: mgl32.Vec3{0.5, 0.5, 0.5},
			Radius:   0.75,
			Density:  1,
			Strength: strength,
		}}
		h.step(t, cfg, dt)

		d, err := h.grid.ReadField(0, grid.FieldDensity)
		if err != nil {
			t.Fatal(err)
		}
		if got := d[(4*n+4)*n+4]; math.Abs(float64(got-tt.want)) > 1e-6 {
			t.Errorf("%d levels: level-0 density = %v, want %v", tt.levels, got, tt.want)
		}
		if peak := slices.Max(d); peak != d[(4*n+4)*n+4] || d[(4*n+4)*n+3] != 0 {
			t.Errorf("%d levels: source reached neighbouring cells", tt.levels)
		}
	}
}
