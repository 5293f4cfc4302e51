// Package nestfluid is a multi-resolution fluid solver that runs entirely on
// a compute device.
//
// # Overview
//
// The simulated box is covered by a hierarchy of nested grids. Level 0 is a
// dense coarse grid processed in full every frame. Each finer level
// subdivides the cells of the level above by a fixed factor but only
// processes the cells its parent marks active: the device decides each frame
// which cells are live and writes the indirect dispatch descriptors itself,
// so the host never reads cell counts back.
//
// # Quick Start
//
//	dev, err := backend.Default(backend.Options{}, slog.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	eng := nestfluid.New(dev.Adapter, grid.DefaultSettings())
//	if err := eng.Init(); err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close()
//
//	cfg := solver.DefaultConfig()
//	cfg.Sources = []grid.Source{{Radius: 0.1, Density: 1, Strength: 1}}
//	for range 100 {
//	    if err := eng.Step(cfg, 1.0/60); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
// # Frame
//
// Every Step records a fixed sequence of stages into one command stream:
// dispatch sizing, source injection, obstacle rasterization, velocity
// diffusion, velocity advection with coarse-to-fine prolongation,
// divergence, pressure relaxation, projection, fine-to-coarse restriction,
// density diffusion, density advection and the visualization feed. Every
// dispatch is followed by a barrier on what it wrote.
//
// # Backends
//
// The software backend (backend/software) runs the solver kernels on the
// CPU and validates the barrier graph; the native backend (backend/native)
// runs WGSL shaders through gogpu/wgpu.
//
// # Logging
//
// nestfluid is silent by default. Use SetLogger to enable log output.
package nestfluid

// Version is the current version of the library.
const Version = "0.1.0"
