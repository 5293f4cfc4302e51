// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package software provides a CPU implementation of gpucore.GPUAdapter.
//
// Device memory is a set of word-addressed buffers reachable through
// device addresses. Compute shaders are Go kernels registered per
// gpucore.ShaderID. Submitted command streams are replayed in order;
// the workgroups of each dispatch run in parallel. Every replay is checked
// against the stream's barriers, so a missing hazard edge is reported
// instead of silently corrupting results.
package software

import (
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/nestfluid/gpucore"
)

// Name is the backend identifier of the software device.
const Name = "software"

// Device errors.
var (
	// ErrUnknownShader is returned when a pipeline names an unregistered kernel.
	ErrUnknownShader = errors.New("software: unknown shader")

	// ErrUnknownBuffer is returned for operations on destroyed or foreign buffers.
	ErrUnknownBuffer = errors.New("software: unknown buffer")

	// ErrOutOfRange is returned when a buffer access exceeds its size.
	ErrOutOfRange = errors.New("software: access out of range")

	// ErrDeviceFault is returned when a kernel made an invalid memory access.
	ErrDeviceFault = errors.New("software: device fault")
)

// groupsPerTask is the number of workgroups one worker task executes.
const groupsPerTask = 8

// Options configures a software Device.
type Options struct {
	// Workers is the number of goroutines executing workgroups.
	// If 0, defaults to GOMAXPROCS.
	Workers int

	// Limits overrides the reported device limits.
	// If zero, defaults to gpucore.DefaultLimits.
	Limits gpucore.Limits

	// StrictHazards makes Submit fail with ErrHazard when a command stream
	// violates its barrier contract.
	StrictHazards bool
}

type buffer struct {
	label  string
	size   uint64
	words  []uint32
	access atomic.Uint32
}

const (
	touchedRead  = 1 << 0
	touchedWrite = 1 << 1
)

func (b *buffer) touch(write bool) {
	flag := uint32(touchedRead)
	if write {
		flag = touchedWrite
	}
	if b.access.Load()&flag == 0 {
		b.access.Or(flag)
	}
}

type pipeline struct {
	label  string
	kernel Kernel
	wgSize [3]uint32
}

// Device is a CPU accelerator implementing gpucore.GPUAdapter.
//
// Thread Safety: Device is safe for concurrent use. Submissions are
// serialized; buffer creation waits for in-flight submissions.
type Device struct {
	opts Options

	mu        sync.RWMutex
	submitMu  sync.Mutex
	buffers   []*buffer
	pipelines map[gpucore.ComputePipelineID]*pipeline
	nextID    atomic.Uint64

	kernelMu sync.RWMutex
	kernels  map[gpucore.ShaderID]Kernel

	faultMu  sync.Mutex
	faultErr error

	hazardMu sync.Mutex
	hazards  []Hazard
}

// New creates a software device.
func New(opts Options) *Device {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.Limits == (gpucore.Limits{}) {
		opts.Limits = gpucore.DefaultLimits()
	}
	d := &Device{
		opts:      opts,
		buffers:   make([]*buffer, 1), // id 0 is invalid
		pipelines: make(map[gpucore.ComputePipelineID]*pipeline),
		kernels:   make(map[gpucore.ShaderID]Kernel),
	}
	d.nextID.Store(1)
	return d
}

// Register installs the kernel implementing shader id.
// Registering an id again replaces the previous kernel.
func (d *Device) Register(id gpucore.ShaderID, k Kernel) {
	d.kernelMu.Lock()
	defer d.kernelMu.Unlock()
	d.kernels[id] = k
}

// Name returns the backend identifier.
func (d *Device) Name() string { return Name }

// Limits returns the device limits.
func (d *Device) Limits() gpucore.Limits { return d.opts.Limits }

// makeAddress packs a buffer id and byte offset into a device address.
func makeAddress(id gpucore.BufferID, offset uint64) gpucore.DeviceAddress {
	return gpucore.DeviceAddress(uint64(id)<<32 | offset)
}

// splitAddress is the inverse of makeAddress.
func splitAddress(addr gpucore.DeviceAddress) (gpucore.BufferID, uint64) {
	return gpucore.BufferID(uint64(addr) >> 32), uint64(addr) & 0xFFFFFFFF
}

// lookup returns the buffer for id. Callers hold d.mu.
func (d *Device) lookup(id gpucore.BufferID) *buffer {
	if id == gpucore.InvalidID || uint64(id) >= uint64(len(d.buffers)) {
		return nil
	}
	return d.buffers[id]
}

func (d *Device) label(id gpucore.BufferID) string {
	if b := d.lookup(id); b != nil {
		return b.label
	}
	return fmt.Sprintf("buffer#%d", id)
}

// fault latches the first invalid kernel memory access.
func (d *Device) fault(err error) {
	d.faultMu.Lock()
	if d.faultErr == nil {
		d.faultErr = err
	}
	d.faultMu.Unlock()
}

func (d *Device) takeFault() error {
	d.faultMu.Lock()
	defer d.faultMu.Unlock()
	err := d.faultErr
	d.faultErr = nil
	return err
}

// === Buffer Management ===

// CreateBuffer creates a zero-initialized buffer. Sizes are rounded up to
// whole words.
func (d *Device) CreateBuffer(label string, size uint64, usage gpucore.BufferUsage) (gpucore.BufferID, error) {
	if size == 0 {
		return gpucore.InvalidID, fmt.Errorf("software: buffer %q: size must be positive", label)
	}
	if size > d.opts.Limits.MaxBufferSize || size > 0xFFFFFFFF {
		return gpucore.InvalidID, fmt.Errorf("software: buffer %q: %w: %d bytes", label, ErrOutOfRange, size)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	id := gpucore.BufferID(d.nextID.Add(1) - 1)
	b := &buffer{label: label, size: size, words: make([]uint32, (size+3)/4)}
	for uint64(len(d.buffers)) <= uint64(id) {
		d.buffers = append(d.buffers, nil)
	}
	d.buffers[id] = b

	slogger().Debug("software: buffer created", "label", label, "size", size, "usage", uint32(usage))
	return id, nil
}

// BufferAddress returns the device address of a buffer.
func (d *Device) BufferAddress(id gpucore.BufferID) gpucore.DeviceAddress {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.lookup(id) == nil {
		return 0
	}
	return makeAddress(id, 0)
}

// DestroyBuffer releases a buffer.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lookup(id) != nil {
		d.buffers[id] = nil
	}
}

// LiveBuffers returns the number of buffers not yet destroyed.
func (d *Device) LiveBuffers() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, b := range d.buffers {
		if b != nil {
			n++
		}
	}
	return n
}

// WriteBuffer uploads data at offset.
func (d *Device) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	b := d.lookup(id)
	if b == nil {
		return fmt.Errorf("%w: %d", ErrUnknownBuffer, id)
	}
	if offset%4 != 0 || len(data)%4 != 0 || offset+uint64(len(data)) > uint64(len(b.words))*4 {
		return fmt.Errorf("software: write %q: %w: offset %d, len %d", b.label, ErrOutOfRange, offset, len(data))
	}
	for i := 0; i < len(data); i += 4 {
		b.words[offset/4+uint64(i/4)] = binary.LittleEndian.Uint32(data[i:])
	}
	return nil
}

// ReadBuffer reads size bytes at offset.
func (d *Device) ReadBuffer(id gpucore.BufferID, offset, size uint64) ([]byte, error) {
	d.submitMu.Lock()
	defer d.submitMu.Unlock()
	d.mu.RLock()
	defer d.mu.RUnlock()

	b := d.lookup(id)
	if b == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownBuffer, id)
	}
	if offset%4 != 0 || offset+size > uint64(len(b.words))*4 {
		return nil, fmt.Errorf("software: read %q: %w: offset %d, size %d", b.label, ErrOutOfRange, offset, size)
	}
	out := make([]byte, (size+3)/4*4)
	for i := uint64(0); i < uint64(len(out)); i += 4 {
		binary.LittleEndian.PutUint32(out[i:], b.words[(offset+i)/4])
	}
	return out[:size], nil
}

// === Pipeline Management ===

// CreateComputePipeline binds a pipeline to the kernel registered for desc.Shader.
func (d *Device) CreateComputePipeline(desc *gpucore.ComputePipelineDesc) (gpucore.ComputePipelineID, error) {
	if desc == nil {
		return gpucore.InvalidID, fmt.Errorf("software: nil pipeline descriptor")
	}
	d.kernelMu.RLock()
	k, ok := d.kernels[desc.Shader]
	d.kernelMu.RUnlock()
	if !ok {
		return gpucore.InvalidID, fmt.Errorf("%w: %q", ErrUnknownShader, desc.Shader)
	}

	wg := desc.WorkgroupSize
	for i := range wg {
		if wg[i] == 0 {
			wg[i] = 1
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpucore.ComputePipelineID(d.nextID.Add(1) - 1)
	d.pipelines[id] = &pipeline{label: desc.Label, kernel: k, wgSize: wg}
	return id, nil
}

// DestroyComputePipeline releases a pipeline.
func (d *Device) DestroyComputePipeline(id gpucore.ComputePipelineID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pipelines, id)
}

// === Command Submission ===

// BeginCommands starts recording a command stream.
func (d *Device) BeginCommands(label string) gpucore.CommandEncoder {
	return gpucore.NewRecorder(label, d.opts.Limits.MaxComputeWorkgroupsPerDimension)
}

// SubmitImmediate records and executes a one-shot command stream.
func (d *Device) SubmitImmediate(label string, record func(gpucore.CommandEncoder)) error {
	enc := d.BeginCommands(label)
	record(enc)
	return d.Submit(enc)
}

// Submit replays a recorded command stream and waits for completion.
func (d *Device) Submit(enc gpucore.CommandEncoder) error {
	rec, ok := gpucore.Unwrap(enc)
	if !ok {
		return fmt.Errorf("software: encoder %T was not created by this device", enc)
	}
	if err := rec.Err(); err != nil {
		return err
	}

	d.submitMu.Lock()
	defer d.submitMu.Unlock()
	d.mu.RLock()
	defer d.mu.RUnlock()

	tracker := newHazardTracker(rec.Label(), d.label)
	for i := range rec.Commands() {
		cmd := &rec.Commands()[i]
		tracker.command = i
		if err := d.execute(tracker, cmd); err != nil {
			return fmt.Errorf("software: %s: command %d (%s): %w", rec.Label(), i, cmd.Op, err)
		}
	}
	if err := d.takeFault(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDeviceFault, rec.Label(), err)
	}

	if len(tracker.found) > 0 {
		d.hazardMu.Lock()
		d.hazards = append(d.hazards, tracker.found...)
		d.hazardMu.Unlock()
		for _, h := range tracker.found {
			slogger().Warn("software: hazard violation", "hazard", h.Error())
		}
		if d.opts.StrictHazards {
			return fmt.Errorf("%w: %w", ErrHazard, tracker.found[0])
		}
	}
	return nil
}

// Hazards returns every violation found since the device was created
// or ResetHazards was called.
func (d *Device) Hazards() []Hazard {
	d.hazardMu.Lock()
	defer d.hazardMu.Unlock()
	return append([]Hazard(nil), d.hazards...)
}

// ResetHazards clears the violation log.
func (d *Device) ResetHazards() {
	d.hazardMu.Lock()
	d.hazards = nil
	d.hazardMu.Unlock()
}

func (d *Device) execute(t *hazardTracker, cmd *gpucore.Command) error {
	switch cmd.Op {
	case gpucore.OpDispatch:
		return d.dispatch(t, cmd, cmd.Groups)

	case gpucore.OpDispatchIndirect:
		b := d.lookup(cmd.Buffer)
		if b == nil {
			return fmt.Errorf("%w: indirect buffer %d", ErrUnknownBuffer, cmd.Buffer)
		}
		if cmd.Offset+gpucore.DispatchIndirectArgsSize > uint64(len(b.words))*4 {
			return fmt.Errorf("%w: indirect offset %d", ErrOutOfRange, cmd.Offset)
		}
		t.read(cmd.Buffer, gpucore.AccessIndirectRead)
		w := cmd.Offset / 4
		groups := [3]uint32{b.words[w], b.words[w+1], b.words[w+2]}
		if limit := d.opts.Limits.MaxComputeWorkgroupsPerDimension; groups[0] > limit || groups[1] > limit || groups[2] > limit {
			return fmt.Errorf("%w: indirect (%d, %d, %d)", gpucore.ErrWorkgroupCountExceedsLimit, groups[0], groups[1], groups[2])
		}
		return d.dispatch(t, cmd, groups)

	case gpucore.OpCopy:
		src, dst := d.lookup(cmd.Src), d.lookup(cmd.Dst)
		if src == nil || dst == nil {
			return fmt.Errorf("%w: copy %d -> %d", ErrUnknownBuffer, cmd.Src, cmd.Dst)
		}
		n := (cmd.Size + 3) / 4
		if n > uint64(len(src.words)) || n > uint64(len(dst.words)) {
			return fmt.Errorf("%w: copy of %d bytes", ErrOutOfRange, cmd.Size)
		}
		t.read(cmd.Src, gpucore.AccessTransferRead)
		t.write(cmd.Dst, gpucore.AccessTransferWrite)
		copy(dst.words[:n], src.words[:n])
		return nil

	case gpucore.OpBarrier:
		for _, b := range cmd.Barriers {
			t.barrier(b)
		}
		return nil
	}
	return fmt.Errorf("software: unknown op %d", cmd.Op)
}

// dispatch runs one compute dispatch. Workgroups are distributed over the
// worker goroutines; invocations inside a workgroup run sequentially.
func (d *Device) dispatch(t *hazardTracker, cmd *gpucore.Command, groups [3]uint32) error {
	p, ok := d.pipelines[cmd.Pipeline]
	if !ok {
		return fmt.Errorf("software: unknown pipeline %d", cmd.Pipeline)
	}
	table := d.lookup(cmd.Table)
	if table == nil {
		return fmt.Errorf("%w: hierarchy table %d", ErrUnknownBuffer, cmd.Table)
	}

	for _, b := range d.buffers {
		if b != nil {
			b.access.Store(0)
		}
	}

	ctx := &Context{
		dev:           d,
		Params:        cmd.Params,
		Table:         makeAddress(cmd.Table, 0),
		NumGroups:     groups,
		WorkgroupSize: p.wgSize,
	}
	if body := p.kernel(ctx); body != nil {
		d.run(ctx, body)
	}

	for id, b := range d.buffers {
		if b == nil {
			continue
		}
		access := b.access.Load()
		if access&touchedRead != 0 {
			t.read(gpucore.BufferID(id), gpucore.AccessShaderRead)
		}
		if access&touchedWrite != 0 {
			t.write(gpucore.BufferID(id), gpucore.AccessShaderWrite)
		}
	}

	slogger().Debug("software: dispatched",
		"pipeline", p.label,
		"groups", groups)
	return nil
}

func (d *Device) run(ctx *Context, body func(Invocation)) {
	groups := ctx.NumGroups
	total := uint64(groups[0]) * uint64(groups[1]) * uint64(groups[2])
	if total == 0 {
		return
	}
	wg := ctx.WorkgroupSize
	perGroup := wg[0] * wg[1] * wg[2]

	var g errgroup.Group
	g.SetLimit(d.opts.Workers)
	for start := uint64(0); start < total; start += groupsPerTask {
		end := min(start+groupsPerTask, total)
		g.Go(func() error {
			for gi := start; gi < end; gi++ {
				gx := uint32(gi % uint64(groups[0]))
				gy := uint32(gi / uint64(groups[0]) % uint64(groups[1]))
				gz := uint32(gi / (uint64(groups[0]) * uint64(groups[1])))
				for local := uint32(0); local < perGroup; local++ {
					lx := local % wg[0]
					ly := local / wg[0] % wg[1]
					lz := local / (wg[0] * wg[1])
					body(Invocation{
						GlobalID:   [3]uint32{gx*wg[0] + lx, gy*wg[1] + ly, gz*wg[2] + lz},
						GroupID:    [3]uint32{gx, gy, gz},
						LocalIndex: local,
						Linear:     uint32(gi)*perGroup + local,
					})
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Close releases every buffer and pipeline.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buffers = make([]*buffer, 1)
	d.pipelines = make(map[gpucore.ComputePipelineID]*pipeline)
}
