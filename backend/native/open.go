//go:build !nogpu

package native

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// ErrNoAdapter is returned when no GPU adapter can be opened.
var ErrNoAdapter = errors.New("native: no GPU adapter")

// NewStandalone opens the first discrete or integrated Vulkan adapter and
// owns it: Close destroys the HAL device and instance.
func NewStandalone(lib ShaderLibrary, opts Options) (*Device, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("%w: vulkan backend not available", ErrNoAdapter)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("native: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}
	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}

	if opts.Limits == (gputypes.Limits{}) {
		opts.Limits = gputypes.DefaultLimits()
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), opts.Limits)
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("native: open %s: %w", selected.Info.Name, err)
	}

	d, err := NewDevice(openDev.Device, openDev.Queue, lib, opts)
	if err != nil {
		openDev.Device.Destroy()
		instance.Destroy()
		return nil, err
	}
	d.instance = instance
	d.owned = true
	slogger().Info("native: adapter opened", "name", selected.Info.Name)
	return d, nil
}

// halProvider is implemented by device providers that expose their HAL
// device and queue.
type halProvider interface {
	HalDevice() any
	HalQueue() any
}

// NewFromProvider shares the device of a host application. The provider
// must expose its HAL device and queue through HalDevice() and
// HalQueue(). The host keeps ownership: Close leaves its device alive.
func NewFromProvider(provider gpucontext.DeviceProvider, lib ShaderLibrary, opts Options) (*Device, error) {
	if provider == nil {
		return nil, fmt.Errorf("native: nil device provider")
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("native: provider %T does not expose HAL types", provider)
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("native: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("native: provider HalQueue is not hal.Queue")
	}
	d, err := NewDevice(device, queue, lib, opts)
	if err != nil {
		return nil, err
	}
	slogger().Info("native: sharing provider device", "adapter", provider.AdapterInfo().Name)
	return d, nil
}
