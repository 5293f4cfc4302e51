package nestfluid

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/nestfluid/backend/software"
	"github.com/gogpu/nestfluid/gpucore"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip message formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

// adapters holds the adapters of initialized engines so that SetLogger
// reaches devices created before it was called.
var (
	adaptersMu sync.Mutex
	adapters   = make(map[gpucore.GPUAdapter]int)
)

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for nestfluid and its backends.
// By default, nestfluid produces no log output.
//
// SetLogger is safe for concurrent use. Pass nil to restore silence.
//
// Log levels used by nestfluid:
//   - [slog.LevelDebug]: per-frame and per-pipeline diagnostics
//   - [slog.LevelInfo]: lifecycle events (engine initialized, backend selected)
//   - [slog.LevelWarn]: non-fatal issues (hazards found by the software
//     validator, backend fallback)
//
// Example:
//
//	nestfluid.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
	software.SetLogger(l)

	adaptersMu.Lock()
	defer adaptersMu.Unlock()
	for a := range adapters {
		propagateLogger(a, l)
	}
}

// Logger returns the current logger used by nestfluid.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// loggerSetter is implemented by adapters that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

// propagateLogger passes the logger to an adapter if it implements
// loggerSetter.
func propagateLogger(a gpucore.GPUAdapter, l *slog.Logger) {
	if ls, ok := a.(loggerSetter); ok {
		ls.SetLogger(l)
	}
}

// trackAdapter registers a for logger propagation and hands it the
// current logger.
func trackAdapter(a gpucore.GPUAdapter) {
	adaptersMu.Lock()
	adapters[a]++
	adaptersMu.Unlock()
	propagateLogger(a, Logger())
}

func untrackAdapter(a gpucore.GPUAdapter) {
	adaptersMu.Lock()
	defer adaptersMu.Unlock()
	if adapters[a]--; adapters[a] <= 0 {
		delete(adapters, a)
	}
}
