// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucore

// Resource IDs
//
// These opaque IDs represent accelerator resources. Each adapter implementation
// maintains a mapping between IDs and actual backend resources.
// IDs are uint64 to accommodate various backend handle sizes.

// BufferID is an opaque handle to a device buffer.
type BufferID uint64

// ComputePipelineID is an opaque handle to a compute pipeline.
type ComputePipelineID uint64

// InvalidID is the zero value, representing an invalid/null resource.
const InvalidID = 0

// DeviceAddress is the device-visible address of a buffer.
//
// Host code treats it as an opaque integer capability: it is stored in
// indirection records and forwarded to compute stages, never dereferenced.
// Zero is the null address.
type DeviceAddress uint64

// ShaderID names a compute shader in the backend's shader library.
type ShaderID string

// BufferUsage is a bitmask specifying how a buffer will be used.
type BufferUsage uint32

// Buffer usage flags.
const (
	// BufferUsageMapRead indicates the buffer can be mapped for reading.
	BufferUsageMapRead BufferUsage = 1 << 0

	// BufferUsageCopySrc indicates the buffer can be used as a copy source.
	BufferUsageCopySrc BufferUsage = 1 << 2

	// BufferUsageCopyDst indicates the buffer can be used as a copy destination.
	BufferUsageCopyDst BufferUsage = 1 << 3

	// BufferUsageUniform indicates the buffer can be used as a uniform buffer.
	BufferUsageUniform BufferUsage = 1 << 6

	// BufferUsageStorage indicates the buffer can be used as a storage buffer.
	BufferUsageStorage BufferUsage = 1 << 7

	// BufferUsageIndirect indicates the buffer can be used for indirect dispatch.
	BufferUsageIndirect BufferUsage = 1 << 8

	// BufferUsageDeviceAddress indicates compute stages may reach the buffer
	// through its DeviceAddress.
	BufferUsageDeviceAddress BufferUsage = 1 << 9
)

// FieldUsage is the usage every solver field buffer is created with.
const FieldUsage = BufferUsageStorage | BufferUsageDeviceAddress | BufferUsageCopySrc | BufferUsageCopyDst

// Access describes how a command touches a buffer. Barriers name the access
// that produced the data and the accesses that will consume it.
type Access uint32

// Access flags.
const (
	AccessShaderRead Access = 1 << iota
	AccessShaderWrite
	AccessIndirectRead
	AccessTransferRead
	AccessTransferWrite
	AccessHostRead
)

// AccessCompute is the consumer mask used after a compute or transfer
// write: any later compute stage or copy may touch the buffer.
const AccessCompute = AccessShaderRead | AccessShaderWrite | AccessTransferRead | AccessTransferWrite

// String returns a compact representation of the access mask.
func (a Access) String() string {
	if a == 0 {
		return "none"
	}
	names := [...]string{"shader_read", "shader_write", "indirect_read", "transfer_read", "transfer_write", "host_read"}
	s := ""
	for i, n := range names {
		if a&(1<<i) == 0 {
			continue
		}
		if s != "" {
			s += "|"
		}
		s += n
	}
	return s
}

// BufferBarrier is a hazard edge between the command that produced a buffer's
// contents and the commands that consume it. Nothing recorded after the
// barrier may observe the buffer until the producer's writes are visible to
// the consumer accesses in Dst.
type BufferBarrier struct {
	Buffer BufferID
	Src    Access
	Dst    Access
}

// DispatchIndirectArgs is the layout of an indirect dispatch descriptor
// as read by the accelerator.
//
//	struct DispatchIndirectArgs {
//	    x: u32,
//	    y: u32,
//	    z: u32,
//	}
type DispatchIndirectArgs struct {
	X uint32
	Y uint32
	Z uint32
}

// DispatchIndirectArgsSize is the byte size of DispatchIndirectArgs.
const DispatchIndirectArgsSize = 12

// Groups returns the total number of workgroups described by the arguments.
func (a DispatchIndirectArgs) Groups() uint64 {
	return uint64(a.X) * uint64(a.Y) * uint64(a.Z)
}

// Limits describes the adapter limits relevant to compute dispatch.
type Limits struct {
	// MaxComputeWorkgroupsPerDimension is the per-axis dispatch ceiling.
	MaxComputeWorkgroupsPerDimension uint32

	// MaxBufferSize is the maximum buffer size in bytes.
	MaxBufferSize uint64
}

// DefaultLimits returns conservative limits matching the WebGPU defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxComputeWorkgroupsPerDimension: 65535,
		MaxBufferSize:                    256 << 20,
	}
}

// ComputePipelineDesc describes a compute pipeline.
type ComputePipelineDesc struct {
	// Label is an optional debug label.
	Label string

	// Shader selects the compute shader from the backend's library.
	Shader ShaderID

	// ParamsSize is the size in bytes of the per-dispatch parameter block.
	// If 0, the pipeline takes no parameters.
	ParamsSize int

	// WorkgroupSize is the local workgroup size declared by the shader.
	WorkgroupSize [3]uint32
}
