package backend

import (
	"github.com/gogpu/nestfluid/backend/software"
	"github.com/gogpu/nestfluid/gpucore"
	"github.com/gogpu/nestfluid/kernels"
)

// Device is an opened compute device and the backend that created it.
type Device struct {
	Name    string
	Adapter gpucore.GPUAdapter
}

// init registers the software backend on package import.
func init() {
	Register(BackendSoftware, func(opts Options) (gpucore.GPUAdapter, error) {
		return NewSoftware(opts), nil
	})
}

// NewSoftware creates a software device with every solver kernel installed.
func NewSoftware(opts Options) *software.Device {
	dev := software.New(software.Options{
		Workers:       opts.Workers,
		StrictHazards: opts.StrictHazards,
	})
	kernels.Install(dev)
	return dev
}
