// Package backend provides a pluggable compute device registry.
//
// Every backend produces a gpucore.GPUAdapter. The solver never depends on
// a concrete device: it records command streams against the adapter and
// lets the backend execute them.
//
// # Backend Registration
//
// Backends are registered via init() functions and selected at runtime.
// The software backend is automatically registered on import:
//
//	import "github.com/gogpu/nestfluid/backend"
//
// The GPU backend registers itself when its package is imported:
//
//	import _ "github.com/gogpu/nestfluid/backend/native"
//
// # Backend Selection
//
// Use Default to open the best available backend, or Open to request a
// specific backend by name:
//
//	dev, err := backend.Default(backend.Options{ShaderDir: "shaders"}, logger)
//
//	dev, err := backend.Open("software", backend.Options{StrictHazards: true})
//
// # Available Backends
//
// - "native": GPU compute via gogpu/wgpu HAL and WGSL shaders compiled by naga
// - "software": CPU device running the Go kernels (always available)
package backend
