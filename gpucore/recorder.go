// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucore

import (
	"errors"
	"fmt"
)

// Recording errors.
var (
	// ErrNoPipeline is returned when a dispatch is recorded before SetPipeline.
	ErrNoPipeline = errors.New("gpucore: dispatch without pipeline")

	// ErrNoHierarchy is returned when a dispatch is recorded before SetHierarchy.
	ErrNoHierarchy = errors.New("gpucore: dispatch without hierarchy table")

	// ErrDispatchOffsetNotAligned is returned when an indirect offset is not 4-byte aligned.
	ErrDispatchOffsetNotAligned = errors.New("gpucore: indirect offset must be 4-byte aligned")

	// ErrWorkgroupCountExceedsLimit is returned when a direct dispatch exceeds the per-axis limit.
	ErrWorkgroupCountExceedsLimit = errors.New("gpucore: workgroup count exceeds limit")

	// ErrInvalidBuffer is returned when a command names buffer 0.
	ErrInvalidBuffer = errors.New("gpucore: invalid buffer")
)

// Op identifies a recorded command.
type Op uint8

// Recorded command kinds.
const (
	OpDispatch Op = iota + 1
	OpDispatchIndirect
	OpCopy
	OpBarrier
)

// String returns the command name.
func (o Op) String() string {
	switch o {
	case OpDispatch:
		return "dispatch"
	case OpDispatchIndirect:
		return "dispatch_indirect"
	case OpCopy:
		return "copy"
	case OpBarrier:
		return "barrier"
	default:
		return fmt.Sprintf("Op(%d)", o)
	}
}

// Command is one entry of a recorded command stream. Dispatch commands
// capture the pipeline, hierarchy table and parameter block current at
// record time.
type Command struct {
	Op       Op
	Pipeline ComputePipelineID
	Table    BufferID
	Params   []byte

	// Groups is the workgroup count of OpDispatch.
	Groups [3]uint32

	// Buffer and Offset locate the descriptor of OpDispatchIndirect.
	Buffer BufferID
	Offset uint64

	// Src, Dst and Size describe OpCopy.
	Src  BufferID
	Dst  BufferID
	Size uint64

	// Barriers holds the hazard edges of OpBarrier.
	Barriers []BufferBarrier
}

// Recorder is a CommandEncoder that stores commands in order.
// Backends replay or translate the stream at submit time; tests inspect it.
type Recorder struct {
	label    string
	maxAxis  uint32
	pipeline ComputePipelineID
	table    BufferID
	params   []byte
	commands []Command
	err      error
}

// NewRecorder creates an empty command stream. If maxGroupsPerAxis is 0,
// direct dispatches are not range checked.
func NewRecorder(label string, maxGroupsPerAxis uint32) *Recorder {
	return &Recorder{label: label, maxAxis: maxGroupsPerAxis}
}

// Label returns the stream label.
func (r *Recorder) Label() string { return r.label }

// Commands returns the recorded commands.
func (r *Recorder) Commands() []Command { return r.commands }

// Err returns the first recording error.
func (r *Recorder) Err() error { return r.err }

func (r *Recorder) fail(err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%s: command %d: %w", r.label, len(r.commands), err)
	}
}

// SetPipeline selects the compute pipeline for subsequent dispatches.
func (r *Recorder) SetPipeline(id ComputePipelineID) { r.pipeline = id }

// SetHierarchy binds the hierarchy table for subsequent dispatches.
func (r *Recorder) SetHierarchy(table BufferID) { r.table = table }

// SetParams copies the parameter block for subsequent dispatches.
func (r *Recorder) SetParams(data []byte) {
	r.params = append([]byte(nil), data...)
}

func (r *Recorder) checkBindings() bool {
	if r.pipeline == InvalidID {
		r.fail(ErrNoPipeline)
		return false
	}
	if r.table == InvalidID {
		r.fail(ErrNoHierarchy)
		return false
	}
	return true
}

// Dispatch records a direct dispatch.
func (r *Recorder) Dispatch(x, y, z uint32) {
	if !r.checkBindings() {
		return
	}
	if r.maxAxis > 0 && (x > r.maxAxis || y > r.maxAxis || z > r.maxAxis) {
		r.fail(fmt.Errorf("%w: (%d, %d, %d) > %d", ErrWorkgroupCountExceedsLimit, x, y, z, r.maxAxis))
		return
	}
	r.commands = append(r.commands, Command{
		Op:       OpDispatch,
		Pipeline: r.pipeline,
		Table:    r.table,
		Params:   r.params,
		Groups:   [3]uint32{x, y, z},
	})
}

// DispatchIndirect records an indirect dispatch.
func (r *Recorder) DispatchIndirect(buffer BufferID, offset uint64) {
	if !r.checkBindings() {
		return
	}
	if buffer == InvalidID {
		r.fail(ErrInvalidBuffer)
		return
	}
	if offset%4 != 0 {
		r.fail(fmt.Errorf("%w: offset %d", ErrDispatchOffsetNotAligned, offset))
		return
	}
	r.commands = append(r.commands, Command{
		Op:       OpDispatchIndirect,
		Pipeline: r.pipeline,
		Table:    r.table,
		Params:   r.params,
		Buffer:   buffer,
		Offset:   offset,
	})
}

// CopyBuffer records a buffer-to-buffer copy.
func (r *Recorder) CopyBuffer(src, dst BufferID, size uint64) {
	if src == InvalidID || dst == InvalidID {
		r.fail(ErrInvalidBuffer)
		return
	}
	r.commands = append(r.commands, Command{Op: OpCopy, Src: src, Dst: dst, Size: size})
}

// Barrier records hazard edges. An empty call is ignored.
func (r *Recorder) Barrier(barriers ...BufferBarrier) {
	if len(barriers) == 0 {
		return
	}
	r.commands = append(r.commands, Command{
		Op:       OpBarrier,
		Barriers: append([]BufferBarrier(nil), barriers...),
	})
}

// Unwrap returns the innermost Recorder of enc, following encoders that
// decorate another one through an Unwrap method.
func Unwrap(enc CommandEncoder) (*Recorder, bool) {
	for enc != nil {
		switch e := enc.(type) {
		case *Recorder:
			return e, true
		case interface{ Unwrap() CommandEncoder }:
			enc = e.Unwrap()
		default:
			return nil, false
		}
	}
	return nil, false
}
