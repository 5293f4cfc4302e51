package backend

import (
	"errors"

	"github.com/gogpu/nestfluid/gpucore"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not available.
	ErrBackendNotAvailable = errors.New("backend: not available")
)

// Backend name constants.
const (
	// BackendSoftware is the name of the CPU device running Go kernels.
	BackendSoftware = "software"
	// BackendNative is the name of the Pure Go GPU backend (gogpu/wgpu HAL).
	BackendNative = "native"
)

// Options configures the device a factory creates.
type Options struct {
	// ShaderDir is the directory holding the WGSL compute shaders.
	// Only GPU backends use it.
	ShaderDir string

	// Workers is the number of CPU workers of the software backend.
	// If 0, defaults to GOMAXPROCS.
	Workers int

	// StrictHazards makes the software backend fail submissions that
	// violate their barrier contract.
	StrictHazards bool
}

// Factory creates a compute device.
//
// Factories report an error when the device cannot be created in the
// current environment (no GPU, no shader directory), so that Default can
// move on to the next backend.
type Factory func(opts Options) (gpucore.GPUAdapter, error)
