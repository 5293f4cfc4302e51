//go:build !nogpu

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/nestfluid/gpucore"
)

// Name is the backend identifier of the native device.
const Name = "native"

// DefaultArenaSize is the arena size used when Options.ArenaSize is 0
// and the device allows it.
const DefaultArenaSize = 128 << 20

// Device errors.
var (
	// ErrUnknownBuffer is returned for operations on destroyed or foreign buffers.
	ErrUnknownBuffer = errors.New("native: unknown buffer")

	// ErrOutOfRange is returned when an access exceeds a buffer.
	ErrOutOfRange = errors.New("native: access out of range")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("native: device closed")
)

// Options configures a native Device.
type Options struct {
	// ArenaSize is the size in bytes of the device memory arena.
	// If 0, defaults to DefaultArenaSize capped by the storage binding limit.
	ArenaSize uint64

	// Limits are the HAL limits the device was opened with.
	// If zero, defaults to gputypes.DefaultLimits.
	Limits gputypes.Limits
}

type allocation struct {
	label  string
	offset uint64
	size   uint64
}

type pipeline struct {
	label  string
	shader gpucore.ShaderID
	module hal.ShaderModule
	hal    hal.ComputePipeline
}

// Device implements gpucore.GPUAdapter on a gogpu/wgpu HAL device.
//
// All solver buffers are ranges of one storage buffer, the arena, so a
// DeviceAddress is a byte offset into it and every shader reaches every
// field through binding 0. Per-dispatch parameters live in a uniform ring
// bound at binding 1 with a dynamic offset.
//
// Thread Safety: Device is safe for concurrent use. Submissions are
// serialized.
type Device struct {
	device   hal.Device
	queue    hal.Queue
	instance hal.Instance // nil when the device is borrowed
	owned    bool

	lib     ShaderLibrary
	modules *moduleCache
	limits  gpucore.Limits

	mu        sync.RWMutex
	submitMu  sync.Mutex
	closed    bool
	arena     *Arena
	arenaBuf  hal.Buffer
	buffers   map[gpucore.BufferID]allocation
	pipelines map[gpucore.ComputePipelineID]*pipeline
	nextID    atomic.Uint64

	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout

	// Resources sized on demand by Submit.
	params      hal.Buffer
	paramSlots  int
	bindGroup   hal.BindGroup
	indirect    hal.Buffer
	indirectCap int
	scratch     hal.Buffer
	scratchSize uint64

	submissions atomic.Uint64
}

// NewDevice wraps an opened HAL device and queue. The caller keeps
// ownership of the HAL device; Close releases only what NewDevice created.
func NewDevice(device hal.Device, queue hal.Queue, lib ShaderLibrary, opts Options) (*Device, error) {
	if device == nil || queue == nil {
		return nil, fmt.Errorf("native: nil HAL device or queue")
	}
	if lib == nil {
		return nil, fmt.Errorf("native: nil shader library")
	}
	if opts.Limits == (gputypes.Limits{}) {
		opts.Limits = gputypes.DefaultLimits()
	}
	size := opts.ArenaSize
	if size == 0 {
		size = min(DefaultArenaSize, opts.Limits.MaxStorageBufferBindingSize)
	}
	if size > opts.Limits.MaxStorageBufferBindingSize || size > opts.Limits.MaxBufferSize {
		return nil, fmt.Errorf("native: arena of %d bytes exceeds device limits", size)
	}
	size = size / 4 * 4

	d := &Device{
		device:    device,
		queue:     queue,
		lib:       lib,
		modules:   newModuleCache(nil),
		arena:     NewArena(size, reservedAddress, arenaAlignment),
		buffers:   make(map[gpucore.BufferID]allocation),
		pipelines: make(map[gpucore.ComputePipelineID]*pipeline),
		limits: gpucore.Limits{
			MaxComputeWorkgroupsPerDimension: opts.Limits.MaxComputeWorkgroupsPerDimension,
			MaxBufferSize:                    size - reservedAddress,
		},
	}
	d.nextID.Store(1)

	if err := d.createShared(size); err != nil {
		d.destroyShared()
		return nil, err
	}
	slogger().Info("native: device ready", "arena", size)
	return d, nil
}

// createShared creates the arena and the binding layout every pipeline uses.
func (d *Device) createShared(size uint64) error {
	var err error
	d.arenaBuf, err = d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "nestfluid_arena",
		Size:  size,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("native: create arena: %w", err)
	}

	d.bindLayout, err = d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "nestfluid_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
			{Binding: 1, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{
				Type:             gputypes.BufferBindingTypeUniform,
				HasDynamicOffset: true,
				MinBindingSize:   slotSize,
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("native: create bind group layout: %w", err)
	}

	d.pipeLayout, err = d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "nestfluid_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{d.bindLayout},
	})
	if err != nil {
		return fmt.Errorf("native: create pipeline layout: %w", err)
	}
	return nil
}

func (d *Device) destroyShared() {
	if d.bindGroup != nil {
		d.device.DestroyBindGroup(d.bindGroup)
		d.bindGroup = nil
	}
	for _, b := range []*hal.Buffer{&d.params, &d.indirect, &d.scratch, &d.arenaBuf} {
		if *b != nil {
			d.device.DestroyBuffer(*b)
			*b = nil
		}
	}
	if d.pipeLayout != nil {
		d.device.DestroyPipelineLayout(d.pipeLayout)
		d.pipeLayout = nil
	}
	if d.bindLayout != nil {
		d.device.DestroyBindGroupLayout(d.bindLayout)
		d.bindLayout = nil
	}
}

// SetLogger routes the package logger. The root package calls it on
// every adapter it tracks.
func (d *Device) SetLogger(l *slog.Logger) { SetLogger(l) }

// Name returns the backend identifier.
func (d *Device) Name() string { return Name }

// Limits returns the dispatch and arena limits.
func (d *Device) Limits() gpucore.Limits { return d.limits }

// ModuleStats returns the shader cache hit and miss counts.
func (d *Device) ModuleStats() (hits, misses uint64) { return d.modules.Stats() }

// ArenaUsed returns the number of arena bytes in use.
func (d *Device) ArenaUsed() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.arena.Used()
}

// === Buffer Management ===

// zeroChunk bounds the staging memory used to clear new buffers.
const zeroChunk = 1 << 20

// CreateBuffer allocates a zero-initialized range of the arena.
// Every range is usable for storage, copies and indirect dispatch
// regardless of usage.
func (d *Device) CreateBuffer(label string, size uint64, usage gpucore.BufferUsage) (gpucore.BufferID, error) {
	if size == 0 {
		return gpucore.InvalidID, fmt.Errorf("native: buffer %q: size must be positive", label)
	}
	size = (size + 3) / 4 * 4

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, ErrClosed
	}
	off, err := d.arena.Alloc(size)
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: buffer %q: %w", label, err)
	}

	zeros := make([]byte, min(size, zeroChunk))
	for done := uint64(0); done < size; done += uint64(len(zeros)) {
		n := min(size-done, uint64(len(zeros)))
		if err := d.queue.WriteBuffer(d.arenaBuf, off+done, zeros[:n]); err != nil {
			d.arena.Free(off, size)
			return gpucore.InvalidID, fmt.Errorf("native: clear buffer %q: %w", label, err)
		}
	}

	id := gpucore.BufferID(d.nextID.Add(1) - 1)
	d.buffers[id] = allocation{label: label, offset: off, size: size}
	slogger().Debug("native: buffer created", "label", label, "offset", off, "size", size,
		"usage", uint64(convertBufferUsage(usage)))
	return id, nil
}

// BufferAddress returns the arena offset of a buffer.
func (d *Device) BufferAddress(id gpucore.BufferID) gpucore.DeviceAddress {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.buffers[id]
	if !ok {
		return 0
	}
	return gpucore.DeviceAddress(a.offset)
}

// DestroyBuffer returns a buffer's range to the arena.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if a, ok := d.buffers[id]; ok {
		d.arena.Free(a.offset, a.size)
		delete(d.buffers, id)
	}
}

// LiveBuffers returns the number of buffers not yet destroyed.
func (d *Device) LiveBuffers() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.buffers)
}

func (d *Device) lookup(id gpucore.BufferID, offset, size uint64) (allocation, error) {
	a, ok := d.buffers[id]
	if !ok {
		return allocation{}, fmt.Errorf("%w: %d", ErrUnknownBuffer, id)
	}
	if offset+size > a.size {
		return allocation{}, fmt.Errorf("native: %q: %w: offset %d, size %d", a.label, ErrOutOfRange, offset, size)
	}
	return a, nil
}

// WriteBuffer uploads data at offset.
func (d *Device) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	if offset%4 != 0 || len(data)%4 != 0 {
		return fmt.Errorf("native: write: %w: offset %d, len %d not word aligned", ErrOutOfRange, offset, len(data))
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, err := d.lookup(id, offset, uint64(len(data)))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return d.queue.WriteBuffer(d.arenaBuf, a.offset+offset, data)
}

// ReadBuffer copies a range into a host-visible staging buffer after all
// submitted work completed.
func (d *Device) ReadBuffer(id gpucore.BufferID, offset, size uint64) ([]byte, error) {
	d.submitMu.Lock()
	defer d.submitMu.Unlock()
	d.mu.RLock()
	defer d.mu.RUnlock()

	if offset%4 != 0 {
		return nil, fmt.Errorf("native: read: %w: offset %d not word aligned", ErrOutOfRange, offset)
	}
	a, err := d.lookup(id, offset, size)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return []byte{}, nil
	}
	padded := (size + 3) / 4 * 4

	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "nestfluid_readback",
		Size:  padded,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create staging buffer: %w", err)
	}
	defer d.device.DestroyBuffer(staging)

	err = d.encodeAndWait("readback", func(enc hal.CommandEncoder) error {
		enc.CopyBufferToBuffer(d.arenaBuf, staging, []hal.BufferCopy{
			{SrcOffset: a.offset + offset, DstOffset: 0, Size: padded},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	m, err := d.device.MapBuffer(staging, 0, padded)
	if err != nil {
		return nil, fmt.Errorf("native: map staging buffer: %w", err)
	}
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(m.Ptr), padded))
	if err := d.device.UnmapBuffer(staging); err != nil {
		return nil, fmt.Errorf("native: unmap staging buffer: %w", err)
	}
	return out, nil
}

// === Pipeline Management ===

// CreateComputePipeline compiles the library's WGSL for desc.Shader.
func (d *Device) CreateComputePipeline(desc *gpucore.ComputePipelineDesc) (gpucore.ComputePipelineID, error) {
	if desc == nil {
		return gpucore.InvalidID, fmt.Errorf("native: nil pipeline descriptor")
	}
	if desc.ParamsSize > maxParamsSize {
		return gpucore.InvalidID, fmt.Errorf("native: pipeline %q: params block of %d bytes exceeds %d", desc.Label, desc.ParamsSize, maxParamsSize)
	}
	src, err := d.lib.Source(desc.Shader)
	if err != nil {
		return gpucore.InvalidID, err
	}
	code, err := d.modules.spirv(src)
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: shader %q: %w", desc.Shader, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, ErrClosed
	}

	module, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  string(desc.Shader),
		Source: hal.ShaderSource{SPIRV: code},
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: shader module %q: %w", desc.Shader, err)
	}
	p, err := d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   desc.Label,
		Layout:  d.pipeLayout,
		Compute: hal.ComputeState{Module: module, EntryPoint: "main"},
	})
	if err != nil {
		d.device.DestroyShaderModule(module)
		return gpucore.InvalidID, fmt.Errorf("native: pipeline %q: %w", desc.Label, err)
	}

	id := gpucore.ComputePipelineID(d.nextID.Add(1) - 1)
	d.pipelines[id] = &pipeline{label: desc.Label, shader: desc.Shader, module: module, hal: p}
	slogger().Debug("native: pipeline created", "label", desc.Label, "shader", string(desc.Shader))
	return id, nil
}

// DestroyComputePipeline releases a pipeline and its shader module.
func (d *Device) DestroyComputePipeline(id gpucore.ComputePipelineID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pipelines[id]; ok {
		d.device.DestroyComputePipeline(p.hal)
		d.device.DestroyShaderModule(p.module)
		delete(d.pipelines, id)
	}
}

// === Command Submission ===

// BeginCommands starts recording a command stream.
func (d *Device) BeginCommands(label string) gpucore.CommandEncoder {
	return gpucore.NewRecorder(label, d.limits.MaxComputeWorkgroupsPerDimension)
}

// SubmitImmediate records and executes a one-shot command stream.
func (d *Device) SubmitImmediate(label string, record func(gpucore.CommandEncoder)) error {
	enc := d.BeginCommands(label)
	record(enc)
	return d.Submit(enc)
}

// Submit translates a recorded stream into HAL commands and waits for the
// GPU to finish it.
//
// Each dispatch runs in its own compute pass. Barrier commands become
// usage transitions of the arena. Indirect descriptors are copied out of
// the arena into a dedicated indirect buffer right before their dispatch,
// and arena-to-arena copies go through a scratch buffer.
func (d *Device) Submit(enc gpucore.CommandEncoder) error {
	rec, ok := gpucore.Unwrap(enc)
	if !ok {
		return fmt.Errorf("native: encoder %T was not created by this device", enc)
	}
	if err := rec.Err(); err != nil {
		return err
	}

	d.submitMu.Lock()
	defer d.submitMu.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}

	plan, err := d.plan(rec.Commands())
	if err != nil {
		return fmt.Errorf("native: %s: %w", rec.Label(), err)
	}
	if err := d.reserve(plan); err != nil {
		return fmt.Errorf("native: %s: %w", rec.Label(), err)
	}
	if len(plan.slots) > 0 {
		if err := d.queue.WriteBuffer(d.params, 0, plan.slots); err != nil {
			return fmt.Errorf("native: %s: upload params: %w", rec.Label(), err)
		}
	}

	err = d.encodeAndWait(rec.Label(), func(henc hal.CommandEncoder) error {
		return d.encode(henc, rec.Commands(), plan)
	})
	if err != nil {
		return err
	}
	n := d.submissions.Add(1)
	slogger().Debug("native: submitted", "label", rec.Label(), "commands", len(rec.Commands()), "submission", n)
	return nil
}

// submitPlan holds the resolved resources of one stream.
type submitPlan struct {
	slots     []byte
	dispatch  int
	indirect  int
	maxCopy   uint64
	pipelines []hal.ComputePipeline
	regions   []allocation // indexed like commands; buffer of indirect or copy source
	dsts      []allocation
}

// plan resolves every ID of the stream and packs the params ring.
// Callers hold d.mu.
func (d *Device) plan(cmds []gpucore.Command) (*submitPlan, error) {
	p := &submitPlan{
		pipelines: make([]hal.ComputePipeline, len(cmds)),
		regions:   make([]allocation, len(cmds)),
		dsts:      make([]allocation, len(cmds)),
	}
	for i := range cmds {
		c := &cmds[i]
		switch c.Op {
		case gpucore.OpDispatch, gpucore.OpDispatchIndirect:
			pl, ok := d.pipelines[c.Pipeline]
			if !ok {
				return nil, fmt.Errorf("command %d: unknown pipeline %d", i, c.Pipeline)
			}
			p.pipelines[i] = pl.hal
			table, ok := d.buffers[c.Table]
			if !ok {
				return nil, fmt.Errorf("command %d: %w: hierarchy table %d", i, ErrUnknownBuffer, c.Table)
			}
			slot := make([]byte, slotSize)
			encodeSlot(slot, gpucore.DeviceAddress(table.offset), d.arena.Size(), c.Params)
			p.slots = append(p.slots, slot...)
			p.dispatch++
			if c.Op == gpucore.OpDispatchIndirect {
				a, err := d.lookup(c.Buffer, c.Offset, gpucore.DispatchIndirectArgsSize)
				if err != nil {
					return nil, fmt.Errorf("command %d: indirect: %w", i, err)
				}
				p.regions[i] = a
				p.indirect++
			}
		case gpucore.OpCopy:
			src, err := d.lookup(c.Src, 0, c.Size)
			if err != nil {
				return nil, fmt.Errorf("command %d: copy source: %w", i, err)
			}
			dst, err := d.lookup(c.Dst, 0, c.Size)
			if err != nil {
				return nil, fmt.Errorf("command %d: copy destination: %w", i, err)
			}
			p.regions[i], p.dsts[i] = src, dst
			p.maxCopy = max(p.maxCopy, (c.Size+3)/4*4)
		}
	}
	return p, nil
}

// reserve grows the params ring, the indirect buffer and the copy scratch
// buffer to fit the plan. Callers hold d.mu.
func (d *Device) reserve(p *submitPlan) error {
	if p.dispatch > d.paramSlots || d.bindGroup == nil {
		n := max(p.dispatch, d.paramSlots*2, 64)
		buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
			Label: "nestfluid_params",
			Size:  uint64(n) * slotSize,
			Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			return fmt.Errorf("create params ring: %w", err)
		}
		bg, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
			Label:  "nestfluid_bind",
			Layout: d.bindLayout,
			Entries: []gputypes.BindGroupEntry{
				{Binding: 0, Resource: gputypes.BufferBinding{Buffer: d.arenaBuf.NativeHandle(), Offset: 0, Size: d.arena.Size()}},
				{Binding: 1, Resource: gputypes.BufferBinding{Buffer: buf.NativeHandle(), Offset: 0, Size: slotSize}},
			},
		})
		if err != nil {
			d.device.DestroyBuffer(buf)
			return fmt.Errorf("create bind group: %w", err)
		}
		if d.bindGroup != nil {
			d.device.DestroyBindGroup(d.bindGroup)
		}
		if d.params != nil {
			d.device.DestroyBuffer(d.params)
		}
		d.params, d.paramSlots, d.bindGroup = buf, n, bg
	}

	if p.indirect > d.indirectCap {
		n := max(p.indirect, d.indirectCap*2, 16)
		buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
			Label: "nestfluid_indirect",
			Size:  uint64(n) * indirectStride,
			Usage: gputypes.BufferUsageIndirect | gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			return fmt.Errorf("create indirect buffer: %w", err)
		}
		if d.indirect != nil {
			d.device.DestroyBuffer(d.indirect)
		}
		d.indirect, d.indirectCap = buf, n
	}

	if p.maxCopy > d.scratchSize {
		buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
			Label: "nestfluid_copy_scratch",
			Size:  p.maxCopy,
			Usage: gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			return fmt.Errorf("create copy scratch: %w", err)
		}
		if d.scratch != nil {
			d.device.DestroyBuffer(d.scratch)
		}
		d.scratch, d.scratchSize = buf, p.maxCopy
	}
	return nil
}

// encode records the stream into a HAL encoder.
func (d *Device) encode(enc hal.CommandEncoder, cmds []gpucore.Command, p *submitPlan) error {
	slot, indirect := 0, 0
	for i := range cmds {
		c := &cmds[i]
		switch c.Op {
		case gpucore.OpDispatch:
			pass := enc.BeginComputePass(&hal.ComputePassDescriptor{Label: "nestfluid_dispatch"})
			pass.SetPipeline(p.pipelines[i])
			pass.SetBindGroup(0, d.bindGroup, []uint32{uint32(slot * slotSize)})
			pass.Dispatch(c.Groups[0], c.Groups[1], c.Groups[2])
			pass.End()
			slot++

		case gpucore.OpDispatchIndirect:
			off := uint64(indirect) * indirectStride
			enc.TransitionBuffers([]hal.BufferBarrier{{
				Buffer: d.indirect,
				Usage:  hal.BufferUsageTransition{OldUsage: gputypes.BufferUsageIndirect, NewUsage: gputypes.BufferUsageCopyDst},
			}})
			enc.CopyBufferToBuffer(d.arenaBuf, d.indirect, []hal.BufferCopy{
				{SrcOffset: p.regions[i].offset + c.Offset, DstOffset: off, Size: gpucore.DispatchIndirectArgsSize},
			})
			enc.TransitionBuffers([]hal.BufferBarrier{{
				Buffer: d.indirect,
				Usage:  hal.BufferUsageTransition{OldUsage: gputypes.BufferUsageCopyDst, NewUsage: gputypes.BufferUsageIndirect},
			}})
			pass := enc.BeginComputePass(&hal.ComputePassDescriptor{Label: "nestfluid_dispatch_indirect"})
			pass.SetPipeline(p.pipelines[i])
			pass.SetBindGroup(0, d.bindGroup, []uint32{uint32(slot * slotSize)})
			pass.DispatchIndirect(d.indirect, off)
			pass.End()
			slot++
			indirect++

		case gpucore.OpCopy:
			n := (c.Size + 3) / 4 * 4
			enc.TransitionBuffers([]hal.BufferBarrier{{
				Buffer: d.scratch,
				Usage:  hal.BufferUsageTransition{OldUsage: gputypes.BufferUsageCopySrc, NewUsage: gputypes.BufferUsageCopyDst},
			}})
			enc.CopyBufferToBuffer(d.arenaBuf, d.scratch, []hal.BufferCopy{
				{SrcOffset: p.regions[i].offset, DstOffset: 0, Size: n},
			})
			enc.TransitionBuffers([]hal.BufferBarrier{{
				Buffer: d.scratch,
				Usage:  hal.BufferUsageTransition{OldUsage: gputypes.BufferUsageCopyDst, NewUsage: gputypes.BufferUsageCopySrc},
			}})
			enc.CopyBufferToBuffer(d.scratch, d.arenaBuf, []hal.BufferCopy{
				{SrcOffset: 0, DstOffset: p.dsts[i].offset, Size: n},
			})

		case gpucore.OpBarrier:
			from, to := arenaTransition(c.Barriers)
			enc.TransitionBuffers([]hal.BufferBarrier{{
				Buffer: d.arenaBuf,
				Usage:  hal.BufferUsageTransition{OldUsage: from, NewUsage: to},
			}})

		default:
			return fmt.Errorf("command %d: unsupported op %s", i, c.Op)
		}
	}
	return nil
}

// encodeAndWait records with fn, submits and blocks until the GPU is idle.
func (d *Device) encodeAndWait(label string, fn func(hal.CommandEncoder) error) error {
	enc, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return fmt.Errorf("native: create command encoder: %w", err)
	}
	if err := enc.BeginEncoding(label); err != nil {
		return fmt.Errorf("native: begin encoding: %w", err)
	}
	if err := fn(enc); err != nil {
		enc.DiscardEncoding()
		return fmt.Errorf("native: %s: %w", label, err)
	}
	cmdBuf, err := enc.EndEncoding()
	if err != nil {
		return fmt.Errorf("native: end encoding: %w", err)
	}
	defer d.device.FreeCommandBuffer(cmdBuf)

	if _, err := d.queue.Submit([]hal.CommandBuffer{cmdBuf}); err != nil {
		return fmt.Errorf("native: submit %s: %w", label, err)
	}
	if err := d.device.WaitIdle(); err != nil {
		return fmt.Errorf("native: wait for %s: %w", label, err)
	}
	return nil
}

// Close releases every resource the device created. A HAL device opened
// by NewStandalone is destroyed as well.
func (d *Device) Close() {
	d.submitMu.Lock()
	defer d.submitMu.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	_ = d.device.WaitIdle()

	for id, p := range d.pipelines {
		d.device.DestroyComputePipeline(p.hal)
		d.device.DestroyShaderModule(p.module)
		delete(d.pipelines, id)
	}
	clear(d.buffers)
	d.destroyShared()

	if d.owned {
		d.device.Destroy()
		if d.instance != nil {
			d.instance.Destroy()
		}
	}
	slogger().Info("native: device closed", "submissions", d.submissions.Load())
}

var _ gpucore.GPUAdapter = (*Device)(nil)
