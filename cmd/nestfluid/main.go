// Command nestfluid runs the nested-grid fluid solver headless.
//
// It reads an optional YAML configuration, advances the simulation a fixed
// number of frames on the best available backend and can stream snapshots
// to a websocket feed, expose Prometheus metrics and write a PNG slice of
// the final density.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gogpu/nestfluid"
	"github.com/gogpu/nestfluid/backend"
	_ "github.com/gogpu/nestfluid/backend/native"
	"github.com/gogpu/nestfluid/feed"
	"github.com/gogpu/nestfluid/grid"
	"github.com/gogpu/nestfluid/internal/config"
	"github.com/gogpu/nestfluid/solver"
)

func main() {
	os.Exit(run())
}

// run is main with an exit code, so deferred cleanup runs before exit.
func run() int {
	var (
		configPath = flag.String("config", "", "YAML configuration file")
		watch      = flag.Bool("watch", false, "reload solver tunables when the configuration file changes")
		backendArg = flag.String("backend", "", "backend name (default: best available)")
		shaderDir  = flag.String("shaders", "", "WGSL shader directory of the native backend")
		steps      = flag.Int("steps", 0, "frames to simulate (overrides the configuration)")
		feedAddr   = flag.String("feed", "", "listen address of the snapshot feed")
		metrics    = flag.String("metrics", "", "listen address of the /metrics endpoint")
		output     = flag.String("png", "", "write a density slice of the finest level to this file")
		hold       = flag.Bool("hold", false, "keep serving after the last frame until interrupted")
		verbose    = flag.Bool("v", false, "debug logging")
		strict     = flag.Bool("strict", false, "fail frames with barrier hazards on the software backend")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	nestfluid.SetLogger(logger)

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			logger.Error("load configuration", "err", err)
			return 1
		}
	}
	if *steps > 0 {
		cfg.Run.Steps = *steps
	}
	if *backendArg != "" {
		cfg.Run.Backend = *backendArg
	}
	if *shaderDir != "" {
		cfg.Run.ShaderDir = *shaderDir
	}
	if *feedAddr != "" {
		cfg.Run.FeedAddr = *feedAddr
	}
	if *metrics != "" {
		cfg.Run.MetricsAddr = *metrics
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := &runner{logger: logger, file: cfg, strict: *strict}
	r.solver.Store(&cfg.Solver)
	if *watch && *configPath != "" {
		w, err := config.Watch(ctx, *configPath, config.DefaultDebounce, r.reload,
			func(err error) { logger.Warn("configuration reload failed", "err", err) })
		if err != nil {
			logger.Error("watch configuration", "err", err)
			return 1
		}
		defer w.Close()
	}

	if err := r.run(ctx, *output, *hold); err != nil {
		logger.Error("nestfluid", "err", err)
		return 1
	}
	return 0
}

type runner struct {
	logger *slog.Logger
	file   config.File
	strict bool
	solver atomic.Pointer[solver.Config]
}

// reload swaps in the solver tunables of f. Grid settings only apply on
// restart.
func (r *runner) reload(f config.File) {
	if f.Settings != r.file.Settings {
		r.logger.Warn("grid settings changed; restart to apply them")
	}
	r.solver.Store(&f.Solver)
	r.logger.Info("solver configuration reloaded",
		"pressure_iterations", f.Solver.PressureIterations, "sources", len(f.Solver.Sources))
}

func (r *runner) open() (backend.Device, error) {
	opts := backend.Options{ShaderDir: r.file.Run.ShaderDir, StrictHazards: r.strict}
	if r.file.Run.Backend != "" {
		return backend.Open(r.file.Run.Backend, opts)
	}
	return backend.Default(opts, r.logger)
}

func (r *runner) run(ctx context.Context, output string, hold bool) error {
	dev, err := r.open()
	if err != nil {
		return err
	}
	defer dev.Adapter.Close()

	var opts []nestfluid.Option
	var servers []*http.Server
	defer func() {
		for _, srv := range servers {
			shutdown(srv)
		}
	}()

	if addr := r.file.Run.MetricsAddr; addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, nestfluid.WithMetrics(reg))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		servers = append(servers, r.serve("metrics", addr, mux))
	}

	var fs *feed.Server
	if addr := r.file.Run.FeedAddr; addr != "" {
		fs = feed.NewServer(r.logger)
		defer fs.Close()
		servers = append(servers, r.serve("feed", addr, fs.Handler()))
	}

	eng := nestfluid.New(dev.Adapter, r.file.Settings, opts...)
	if err := eng.Init(); err != nil {
		return err
	}
	defer eng.Close()

	counts, _ := eng.CellCounts()
	r.logger.Info("engine ready", "backend", dev.Name, "levels", len(counts), "cells", counts)

	start := time.Now()
	for frame := range r.file.Run.Steps {
		if ctx.Err() != nil {
			r.logger.Info("interrupted", "frame", frame)
			break
		}
		if err := eng.Step(*r.solver.Load(), r.file.Run.DT); err != nil {
			return err
		}
		if fs != nil && (frame+1)%r.file.Run.SnapshotEvery == 0 {
			snap, err := feed.Capture(eng, grid.FieldDensity)
			if err != nil {
				return err
			}
			if err := fs.Publish(snap); err != nil {
				return err
			}
		}
	}
	r.logger.Info("simulation done", "frames", eng.Frames(), "elapsed", eng.Elapsed(),
		"wall", time.Since(start).Round(time.Millisecond))

	if output != "" {
		if err := writeSlice(eng, output); err != nil {
			return err
		}
		r.logger.Info("slice written", "file", output)
	}

	if hold && len(servers) > 0 {
		r.logger.Info("serving until interrupted")
		<-ctx.Done()
	}
	return nil
}

func (r *runner) serve(name, addr string, h http.Handler) *http.Server {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		r.logger.Info("listening", "server", name, "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("server failed", "server", name, "err", err)
		}
	}()
	return srv
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func writeSlice(eng *nestfluid.Engine, path string) error {
	snap, err := feed.Capture(eng, grid.FieldDensity)
	if err != nil {
		return err
	}
	l := &snap.Levels[len(snap.Levels)-1]
	z := int(l.Resolution[2]) / 2
	img, err := feed.RenderSlice(l, z, feed.SliceOptions{
		Caption: fmt.Sprintf("density L%d z=%d frame %d", l.Level, z, snap.Frame),
	})
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := feed.WritePNG(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
