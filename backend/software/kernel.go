// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package software

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/gogpu/nestfluid/gpucore"
)

// Kernel is the CPU implementation of a compute shader.
//
// It is called once per dispatch, on a single goroutine, to prepare
// per-dispatch state (typically by reading the hierarchy table), and
// returns the per-invocation body. The body runs concurrently for
// different workgroups and must only touch memory through the Context.
// Returning nil skips the dispatch.
type Kernel func(ctx *Context) func(inv Invocation)

// Invocation identifies one shader invocation.
type Invocation struct {
	// GlobalID is the global invocation id (group * workgroupSize + local).
	GlobalID [3]uint32

	// GroupID is the workgroup id.
	GroupID [3]uint32

	// LocalIndex is the flattened index inside the workgroup.
	LocalIndex uint32

	// Linear is the flattened invocation index across the whole dispatch:
	// flattened group index * invocations per group + LocalIndex.
	Linear uint32
}

// Context is the view of device memory and bindings seen by one dispatch.
type Context struct {
	dev *Device

	// Params is the parameter block bound by SetParams.
	Params []byte

	// Table is the device address of the bound hierarchy table.
	Table gpucore.DeviceAddress

	// NumGroups is the workgroup count of the dispatch.
	NumGroups [3]uint32

	// WorkgroupSize is the local size declared by the pipeline.
	WorkgroupSize [3]uint32
}

// resolve maps an address to the backing word. Out-of-range accesses are
// reported as device faults and resolve to nil.
func (c *Context) resolve(addr gpucore.DeviceAddress, write bool) *uint32 {
	id, off := splitAddress(addr)
	b := c.dev.lookup(id)
	if b == nil || off%4 != 0 || off/4 >= uint64(len(b.words)) {
		c.dev.fault(fmt.Errorf("software: invalid access at %#x", uint64(addr)))
		return nil
	}
	b.touch(write)
	return &b.words[off/4]
}

// LoadU32 reads a 32-bit word.
func (c *Context) LoadU32(addr gpucore.DeviceAddress) uint32 {
	if p := c.resolve(addr, false); p != nil {
		return *p
	}
	return 0
}

// StoreU32 writes a 32-bit word.
func (c *Context) StoreU32(addr gpucore.DeviceAddress, v uint32) {
	if p := c.resolve(addr, true); p != nil {
		*p = v
	}
}

// AtomicAddU32 adds delta to a word and returns the previous value.
func (c *Context) AtomicAddU32(addr gpucore.DeviceAddress, delta uint32) uint32 {
	if p := c.resolve(addr, true); p != nil {
		return atomic.AddUint32(p, delta) - delta
	}
	return 0
}

// LoadU64 reads a little-endian 64-bit value made of two words.
func (c *Context) LoadU64(addr gpucore.DeviceAddress) uint64 {
	lo := c.LoadU32(addr)
	hi := c.LoadU32(addr + 4)
	return uint64(hi)<<32 | uint64(lo)
}

// LoadF32 reads a float.
func (c *Context) LoadF32(addr gpucore.DeviceAddress) float32 {
	return math.Float32frombits(c.LoadU32(addr))
}

// StoreF32 writes a float.
func (c *Context) StoreF32(addr gpucore.DeviceAddress, v float32) {
	c.StoreU32(addr, math.Float32bits(v))
}

// LoadVec4 reads four consecutive floats.
func (c *Context) LoadVec4(addr gpucore.DeviceAddress) [4]float32 {
	return [4]float32{
		c.LoadF32(addr),
		c.LoadF32(addr + 4),
		c.LoadF32(addr + 8),
		c.LoadF32(addr + 12),
	}
}

// StoreVec4 writes four consecutive floats.
func (c *Context) StoreVec4(addr gpucore.DeviceAddress, v [4]float32) {
	for i := range v {
		c.StoreF32(addr+gpucore.DeviceAddress(4*i), v[i])
	}
}

// InvocationsPerGroup returns the number of invocations in one workgroup.
func (c *Context) InvocationsPerGroup() uint32 {
	return c.WorkgroupSize[0] * c.WorkgroupSize[1] * c.WorkgroupSize[2]
}
