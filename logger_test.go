package nestfluid

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/gogpu/nestfluid/backend"
	"github.com/gogpu/nestfluid/gpucore"
	"github.com/gogpu/nestfluid/grid"
)

func TestNopHandler(t *testing.T) {
	var h slog.Handler = nopHandler{}
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		if h.Enabled(context.Background(), level) {
			t.Errorf("Enabled(%v) = true", level)
		}
	}
	if err := h.Handle(context.Background(), slog.Record{}); err != nil {
		t.Errorf("Handle = %v", err)
	}
	if _, ok := h.WithAttrs([]slog.Attr{slog.Int("level", 1)}).(nopHandler); !ok {
		t.Error("WithAttrs left the nop handler")
	}
	if _, ok := h.WithGroup("solver").(nopHandler); !ok {
		t.Error("WithGroup left the nop handler")
	}
}

func TestSetLogger(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	if Logger().Enabled(context.Background(), slog.LevelWarn) {
		t.Error("default logger is not silent")
	}

	var buf bytes.Buffer
	custom := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	SetLogger(custom)
	if Logger() != custom {
		t.Fatal("Logger did not return the logger set")
	}

	// Engine lifecycle messages reach the custom logger.
	dev := backend.NewSoftware(backend.Options{})
	defer dev.Close()
	eng := New(dev, grid.Settings{Resolution: [3]int{4, 4, 4}})
	if err := eng.Init(); err != nil {
		t.Fatal(err)
	}
	eng.Close()
	if !strings.Contains(buf.String(), "nestfluid: init step done") {
		t.Errorf("no init messages in log output:\n%s", buf.String())
	}

	SetLogger(nil)
	if l := Logger(); l == nil || l.Enabled(context.Background(), slog.LevelError) {
		t.Error("SetLogger(nil) did not restore a silent logger")
	}
}

// recordingAdapter captures the logger handed to it.
type recordingAdapter struct {
	gpucore.GPUAdapter
	logger *slog.Logger
}

func (a *recordingAdapter) SetLogger(l *slog.Logger) { a.logger = l }

func TestSetLoggerReachesTrackedAdapters(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	custom := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	SetLogger(custom)

	a := &recordingAdapter{}
	trackAdapter(a)
	if a.logger != custom {
		t.Error("trackAdapter did not hand over the current logger")
	}
	// Two engines on one adapter: it stays tracked until both close.
	trackAdapter(a)
	untrackAdapter(a)

	next := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	SetLogger(next)
	if a.logger != next {
		t.Error("SetLogger did not reach an adapter still in use")
	}

	untrackAdapter(a)
	SetLogger(nil)
	if a.logger != next {
		t.Error("untracked adapter still receives loggers")
	}
}

func TestLoggerConcurrentAccess(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			Logger().Debug("frame", "n", 1)
		}()
		go func() {
			defer wg.Done()
			SetLogger(slog.Default())
			SetLogger(nil)
		}()
	}
	wg.Wait()
}
