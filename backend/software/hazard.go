// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package software

import (
	"errors"
	"fmt"

	"github.com/gogpu/nestfluid/gpucore"
)

// ErrHazard is returned by Submit in strict mode when a command observed a
// buffer whose producing write was not made visible by a barrier.
var ErrHazard = errors.New("software: hazard violation")

// HazardKind classifies a hazard violation.
type HazardKind uint8

// Hazard kinds.
const (
	// HazardReadAfterWrite is a read of a buffer written earlier in the
	// stream with no barrier in between.
	HazardReadAfterWrite HazardKind = iota + 1

	// HazardWriteAfterWrite is a write to a buffer written earlier in the
	// stream with no barrier in between.
	HazardWriteAfterWrite

	// HazardUncoveredAccess is an access that a barrier exists for, but
	// whose destination mask does not include the access.
	HazardUncoveredAccess
)

// String returns the hazard kind name.
func (k HazardKind) String() string {
	switch k {
	case HazardReadAfterWrite:
		return "read-after-write"
	case HazardWriteAfterWrite:
		return "write-after-write"
	case HazardUncoveredAccess:
		return "uncovered-access"
	default:
		return fmt.Sprintf("HazardKind(%d)", k)
	}
}

// Hazard describes one violation found while replaying a command stream.
type Hazard struct {
	Stream  string
	Command int
	Kind    HazardKind
	Buffer  string
	Access  gpucore.Access
	Writer  int
}

func (h Hazard) Error() string {
	return fmt.Sprintf("%s: command %d: %s on %q (%s), written by command %d",
		h.Stream, h.Command, h.Kind, h.Buffer, h.Access, h.Writer)
}

// bufferState is the tracker's view of one buffer within a stream.
type bufferState struct {
	pending bool
	written bool
	visible gpucore.Access
	writer  int
}

// hazardTracker replays barrier semantics over a command stream.
// Writes mark a buffer pending until a barrier whose source mask covers the
// write clears it; subsequent accesses must be in the barrier's destination
// mask. Write-after-read ordering is not tracked.
type hazardTracker struct {
	stream  string
	names   func(gpucore.BufferID) string
	states  map[gpucore.BufferID]*bufferState
	command int
	found   []Hazard
}

func newHazardTracker(stream string, names func(gpucore.BufferID) string) *hazardTracker {
	return &hazardTracker{
		stream: stream,
		names:  names,
		states: make(map[gpucore.BufferID]*bufferState),
	}
}

func (t *hazardTracker) state(id gpucore.BufferID) *bufferState {
	s, ok := t.states[id]
	if !ok {
		s = &bufferState{}
		t.states[id] = s
	}
	return s
}

func (t *hazardTracker) report(id gpucore.BufferID, kind HazardKind, a gpucore.Access, writer int) {
	t.found = append(t.found, Hazard{
		Stream:  t.stream,
		Command: t.command,
		Kind:    kind,
		Buffer:  t.names(id),
		Access:  a,
		Writer:  writer,
	})
}

func (t *hazardTracker) read(id gpucore.BufferID, a gpucore.Access) {
	s := t.state(id)
	switch {
	case s.pending && s.writer != t.command:
		t.report(id, HazardReadAfterWrite, a, s.writer)
	case s.written && !s.pending && s.visible&a == 0:
		t.report(id, HazardUncoveredAccess, a, s.writer)
	}
}

func (t *hazardTracker) write(id gpucore.BufferID, a gpucore.Access) {
	s := t.state(id)
	switch {
	case s.pending && s.writer != t.command:
		t.report(id, HazardWriteAfterWrite, a, s.writer)
	case s.written && !s.pending && s.visible&a == 0:
		t.report(id, HazardUncoveredAccess, a, s.writer)
	}
	s.pending = true
	s.written = true
	s.visible = 0
	s.writer = t.command
}

func (t *hazardTracker) barrier(b gpucore.BufferBarrier) {
	s := t.state(b.Buffer)
	const producers = gpucore.AccessShaderWrite | gpucore.AccessTransferWrite
	if s.pending {
		if b.Src&producers == 0 {
			return
		}
		s.pending = false
		s.visible = b.Dst
		return
	}
	s.visible |= b.Dst
}
