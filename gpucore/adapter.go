// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucore

// GPUAdapter abstracts over the accelerator that executes the solver.
//
// Implementations must be safe for concurrent use, but a single
// CommandEncoder is owned by one goroutine at a time.
//
// Resource lifecycle:
//   - Resources are created via Create* methods
//   - Resources must be explicitly destroyed via Destroy* methods
//   - Destroying a resource while in use is undefined behavior
//   - IDs become invalid after destruction and must not be reused
type GPUAdapter interface {
	// === Capabilities ===

	// Name returns the backend identifier (e.g., "software", "native").
	Name() string

	// Limits returns the dispatch and buffer limits of the device.
	Limits() Limits

	// === Buffer Management ===

	// CreateBuffer creates a zero-initialized buffer of size bytes.
	CreateBuffer(label string, size uint64, usage BufferUsage) (BufferID, error)

	// BufferAddress returns the device address of a buffer created with
	// BufferUsageDeviceAddress, or 0 if the buffer is unknown.
	BufferAddress(id BufferID) DeviceAddress

	// DestroyBuffer releases a buffer.
	DestroyBuffer(id BufferID)

	// WriteBuffer uploads data to a buffer at offset.
	// It must not be called while a submission reading the buffer is in flight.
	WriteBuffer(id BufferID, offset uint64, data []byte) error

	// ReadBuffer reads size bytes at offset.
	// This waits for all submitted work to complete.
	ReadBuffer(id BufferID, offset, size uint64) ([]byte, error)

	// === Pipeline Management ===

	// CreateComputePipeline creates a compute pipeline for desc.Shader.
	CreateComputePipeline(desc *ComputePipelineDesc) (ComputePipelineID, error)

	// DestroyComputePipeline releases a compute pipeline.
	DestroyComputePipeline(id ComputePipelineID)

	// === Command Submission ===

	// BeginCommands starts recording a command stream.
	BeginCommands(label string) CommandEncoder

	// Submit executes a recorded command stream and waits for completion.
	// It reports the first error latched while recording, if any.
	Submit(enc CommandEncoder) error

	// SubmitImmediate records and executes a one-shot command stream.
	SubmitImmediate(label string, record func(CommandEncoder)) error

	// Close releases every resource still owned by the adapter.
	Close()
}

// CommandEncoder records an ordered stream of compute work.
//
// Recording methods are fire-and-forget: they return nothing and the
// first invalid call is latched and reported by GPUAdapter.Submit.
type CommandEncoder interface {
	// Label returns the debug label given to BeginCommands.
	Label() string

	// SetPipeline selects the compute pipeline for subsequent dispatches.
	SetPipeline(id ComputePipelineID)

	// SetHierarchy binds the hierarchy table for subsequent dispatches.
	SetHierarchy(table BufferID)

	// SetParams sets the parameter block for subsequent dispatches.
	// The slice is copied.
	SetParams(data []byte)

	// Dispatch issues x*y*z workgroups.
	Dispatch(x, y, z uint32)

	// DispatchIndirect issues the workgroup count stored in buffer at offset.
	// The offset must be 4-byte aligned.
	DispatchIndirect(buffer BufferID, offset uint64)

	// CopyBuffer copies size bytes from src to dst, both at offset 0.
	CopyBuffer(src, dst BufferID, size uint64)

	// Barrier records hazard edges for the given buffers.
	Barrier(barriers ...BufferBarrier)
}
