//go:build !nogpu

package native

import (
	"errors"

	"github.com/gogpu/nestfluid/backend"
	"github.com/gogpu/nestfluid/gpucore"
)

// ErrNoShaderDir is returned by the registered factory when no shader
// directory was configured.
var ErrNoShaderDir = errors.New("native: no shader directory configured")

func init() {
	backend.Register(backend.BackendNative, func(opts backend.Options) (gpucore.GPUAdapter, error) {
		if opts.ShaderDir == "" {
			return nil, ErrNoShaderDir
		}
		return NewStandalone(DirLibrary(opts.ShaderDir), Options{})
	})
}
