// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package nestfluid

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/nestfluid/dispatch"
	"github.com/gogpu/nestfluid/gpucore"
	"github.com/gogpu/nestfluid/grid"
	"github.com/gogpu/nestfluid/internal/metrics"
	"github.com/gogpu/nestfluid/solver"
)

// Engine errors.
var (
	// ErrNotInitialized is returned by operations that need Init first.
	ErrNotInitialized = errors.New("nestfluid: engine not initialized")

	// ErrNilAdapter is returned by Init for an engine without an adapter.
	ErrNilAdapter = errors.New("nestfluid: nil adapter")

	// ErrLevelOutOfRange is returned for a level the hierarchy does not have.
	ErrLevelOutOfRange = errors.New("nestfluid: level out of range")

	// ErrInvalidTimeStep is returned by Step for a non-positive or
	// non-finite dt.
	ErrInvalidTimeStep = errors.New("nestfluid: invalid time step")
)

// initStep identifies one step of Engine.Init.
type initStep int

const (
	initGrid initStep = iota
	initSizer
	initSequencer
	initStepCount
)

func (s initStep) String() string {
	switch s {
	case initGrid:
		return "grid"
	case initSizer:
		return "sizer"
	case initSequencer:
		return "sequencer"
	default:
		return fmt.Sprintf("initStep(%d)", int(s))
	}
}

// Geometry describes one level of an initialized hierarchy.
type Geometry struct {
	Level int

	// Resolution is the voxel count; W is the cumulative subdivision factor.
	Resolution [4]uint32

	Center   mgl32.Vec3
	CellSize float32

	// Capacity is the number of cells the level's buffers hold.
	Capacity uint32
}

// Engine owns the grid hierarchy and the solver pipelines on one adapter
// and advances the simulation one frame per Step.
//
// Engine is safe for concurrent use; frames are recorded and submitted
// one at a time.
type Engine struct {
	mu sync.Mutex

	adapter  gpucore.GPUAdapter
	settings grid.Settings
	opts     options

	grid  *grid.Grid
	sizer *dispatch.Sizer
	seq   *solver.Sequencer

	elapsed float32
	frame   uint64
}

// New returns an engine for settings on adapter. No device resources are
// created until Init.
func New(adapter gpucore.GPUAdapter, settings grid.Settings, opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine{
		adapter:  adapter,
		settings: settings.WithDefaults(),
		opts:     o,
	}
}

// Init allocates the hierarchy and creates every pipeline. On failure all
// partially created state is released and Init may be retried.
func (e *Engine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.seq != nil {
		return nil
	}
	if e.adapter == nil {
		return ErrNilAdapter
	}

	for step := range initStepCount {
		if err := e.init(step); err != nil {
			e.destroyPartialInit(step)
			return fmt.Errorf("nestfluid: init %s: %w", step, err)
		}
		Logger().Debug("nestfluid: init step done", "step", step.String())
	}
	if e.opts.obstacles != nil {
		e.seq.SetObstacles(e.opts.obstacles)
	}
	if e.opts.metrics == nil && e.opts.registerer != nil {
		e.opts.metrics = metrics.New(e.opts.registerer)
	}
	trackAdapter(e.adapter)

	Logger().Info("nestfluid: engine initialized",
		"backend", e.adapter.Name(),
		"levels", e.grid.NumSubgrids(),
		"cells", e.grid.CellCounts())
	return nil
}

func (e *Engine) init(step initStep) error {
	var err error
	switch step {
	case initGrid:
		e.grid, err = grid.New(e.adapter, e.settings)
	case initSizer:
		e.sizer, err = dispatch.NewSizer(e.adapter)
	case initSequencer:
		e.seq, err = solver.NewSequencer(e.adapter, e.grid, e.sizer)
	}
	return err
}

// destroyPartialInit releases the state created by steps [0, upTo).
func (e *Engine) destroyPartialInit(upTo initStep) {
	for step := upTo - 1; step >= 0; step-- {
		switch step {
		case initGrid:
			e.grid.Destroy()
			e.grid = nil
		case initSizer:
			e.sizer.Destroy()
			e.sizer = nil
		case initSequencer:
			e.seq.Destroy()
			e.seq = nil
		}
	}
}

// Close releases every resource created by Init. The adapter itself is
// owned by the caller.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.seq == nil {
		return
	}
	e.destroyPartialInit(initStepCount)
	untrackAdapter(e.adapter)
	Logger().Debug("nestfluid: engine closed", "frames", e.frame)
}

// Step uploads the frame inputs of cfg, records one simulated step of dt
// seconds and submits it. Each Step advances the engine's simulated time
// by dt.
func (e *Engine) Step(cfg solver.Config, dt float32) error {
	if !(dt > 0) || math.IsInf(float64(dt), 0) {
		return fmt.Errorf("%w: %v", ErrInvalidTimeStep, dt)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.seq == nil {
		return ErrNotInitialized
	}

	start := time.Now()
	if err := e.seq.PrepareFrame(cfg); err != nil {
		return err
	}
	enc := e.opts.metrics.Wrap(e.adapter.BeginCommands(fmt.Sprintf("frame%d", e.frame)))
	e.seq.Record(solver.Frame{Encoder: enc, DT: dt, Elapsed: e.elapsed}, cfg)
	if err := e.adapter.Submit(enc); err != nil {
		return fmt.Errorf("nestfluid: frame %d: %w", e.frame, err)
	}
	e.elapsed += dt
	e.frame++

	if m := e.opts.metrics; m != nil {
		m.ObserveFrame(time.Since(start))
		if live, err := e.liveCells(); err == nil {
			m.SetLiveCells(live)
		}
	}
	Logger().Debug("nestfluid: step", "frame", e.frame, "dt", dt, "elapsed", e.elapsed)
	return nil
}

// PrepareFrame uploads the host-side inputs of cfg for a frame recorded
// with RecordFrame. It must not be called while a frame is in flight.
func (e *Engine) PrepareFrame(cfg solver.Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.seq == nil {
		return ErrNotInitialized
	}
	return e.seq.PrepareFrame(cfg)
}

// RecordFrame records one simulated step into enc without submitting it,
// for callers that batch the solver with their own work. The engine's
// simulated time is not advanced.
func (e *Engine) RecordFrame(enc gpucore.CommandEncoder, cfg solver.Config, dt, elapsed float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.seq == nil {
		return ErrNotInitialized
	}
	e.seq.Record(solver.Frame{Encoder: e.opts.metrics.Wrap(enc), DT: dt, Elapsed: elapsed}, cfg)
	return nil
}

// Elapsed returns the simulated time advanced by Step.
func (e *Engine) Elapsed() float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.elapsed
}

// Frames returns the number of frames submitted by Step.
func (e *Engine) Frames() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frame
}

// Grid returns the hierarchy, or nil before Init.
func (e *Engine) Grid() *grid.Grid {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.grid
}

// HierarchyAddress returns the device address of the hierarchy table that
// every solver kernel binds.
func (e *Engine) HierarchyAddress() (gpucore.DeviceAddress, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.grid == nil {
		return 0, ErrNotInitialized
	}
	return e.grid.TableAddress(), nil
}

// CellCounts returns the cell capacity of every level.
func (e *Engine) CellCounts() ([]uint32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.grid == nil {
		return nil, ErrNotInitialized
	}
	return e.grid.CellCounts(), nil
}

// LiveCells reads back the live cell count of every level. Level 0 is
// always full. This waits for submitted work.
func (e *Engine) LiveCells() ([]uint32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.grid == nil {
		return nil, ErrNotInitialized
	}
	return e.liveCells()
}

func (e *Engine) liveCells() ([]uint32, error) {
	live := make([]uint32, e.grid.NumSubgrids())
	for l := range live {
		n, err := e.grid.ReadLiveCells(l)
		if err != nil {
			return nil, err
		}
		live[l] = n
	}
	return live, nil
}

// LevelGeometry returns the geometry of level L.
func (e *Engine) LevelGeometry(level int) (Geometry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.grid == nil {
		return Geometry{}, ErrNotInitialized
	}
	if err := e.checkLevel(level); err != nil {
		return Geometry{}, err
	}
	sg := e.grid.Level(level)
	return Geometry{
		Level:      level,
		Resolution: sg.Resolution,
		Center:     sg.Center,
		CellSize:   sg.CellSize,
		Capacity:   sg.CellCount(),
	}, nil
}

func (e *Engine) checkLevel(level int) error {
	if level < 0 || level >= e.grid.NumSubgrids() {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrLevelOutOfRange, level, e.grid.NumSubgrids())
	}
	return nil
}

// DispatchFluid records a dispatch of the bound pipeline over level with the
// engine's sizing policy, for collaborators that run their own kernels on
// the hierarchy. The caller binds the pipeline, params and hierarchy.
func (e *Engine) DispatchFluid(enc gpucore.CommandEncoder, level int, factorOverride uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.grid == nil {
		return ErrNotInitialized
	}
	if err := e.checkLevel(level); err != nil {
		return err
	}
	dispatch.DispatchFluid(enc, e.grid, level, factorOverride)
	return nil
}

// ReadField reads a field of level L back to the host. Vector fields are
// returned as consecutive x, y, z, w components.
func (e *Engine) ReadField(level int, f grid.Field) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.grid == nil {
		return nil, ErrNotInitialized
	}
	if err := e.checkLevel(level); err != nil {
		return nil, err
	}
	return e.grid.ReadField(level, f)
}

// WriteField uploads a field of level L. It must not be called while a
// frame is in flight.
func (e *Engine) WriteField(level int, f grid.Field, values []float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.grid == nil {
		return ErrNotInitialized
	}
	if err := e.checkLevel(level); err != nil {
		return err
	}
	return e.grid.WriteField(level, f, values)
}
