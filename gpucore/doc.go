// Package gpucore defines the accelerator contracts used by the nested-grid
// fluid solver.
//
// The solver never talks to a graphics API directly. It allocates buffers,
// creates compute pipelines and records command streams through the
// [GPUAdapter] and [CommandEncoder] interfaces, which are implemented by:
//   - backend/native (gogpu/wgpu HAL, Vulkan/Metal/DX12)
//   - backend/software (CPU reference device used by tests and as fallback)
//
// # Device Addresses
//
// Buffers created with [BufferUsageDeviceAddress] have a [DeviceAddress].
// Addresses are opaque integers: host code stores them in indirection
// records and uploads them, compute stages use them to locate a level's
// data. The host never dereferences an address.
//
// # Command Streams
//
// A [CommandEncoder] records dispatches, indirect dispatches, copies and
// barriers in order. Dispatches are fire-and-forget. Ordering between
// dependent commands is expressed only through [BufferBarrier] values, each
// naming the producing and consuming [Access]. Two dispatches with no barrier
// between them may overlap on the device.
//
// The [Recorder] type is the shared encoder implementation: backends
// replay or translate its command list at submit time.
package gpucore
