// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package grid

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/nestfluid/gpucore"
)

// Field identifies one per-level field buffer.
type Field int

// Field buffers of a level, in indirection-record order.
const (
	FieldVelocity Field = iota
	FieldDensity
	FieldPressure
	FieldDivergence
	FieldVorticity
	FieldFlags
	FieldDebug
	FieldIndexOffsets

	// FieldVelocityPrev and FieldDensityPrev hold the previous iterate read
	// by advection and diffusion while the live field is written.
	FieldVelocityPrev
	FieldDensityPrev

	// FieldCount is the number of per-level field buffers.
	FieldCount
)

// String returns the field name.
func (f Field) String() string {
	switch f {
	case FieldVelocity:
		return "velocity"
	case FieldDensity:
		return "density"
	case FieldPressure:
		return "pressure"
	case FieldDivergence:
		return "divergence"
	case FieldVorticity:
		return "vorticity"
	case FieldFlags:
		return "flags"
	case FieldDebug:
		return "debug"
	case FieldIndexOffsets:
		return "index_offsets"
	case FieldVelocityPrev:
		return "velocity_prev"
	case FieldDensityPrev:
		return "density_prev"
	default:
		return fmt.Sprintf("Field(%d)", int(f))
	}
}

// ElementSize returns the per-cell byte size of the field.
func (f Field) ElementSize() uint64 {
	switch f {
	case FieldVelocity, FieldVorticity, FieldDebug, FieldVelocityPrev:
		return 16 // vec4<f32>
	default:
		return 4
	}
}

// Cell flags stored in FieldFlags.
const (
	// FlagSolid marks a cell occupied by obstacle geometry.
	FlagSolid uint32 = 1 << 0

	// FlagSource marks a cell forced active by the host.
	FlagSource uint32 = 1 << 1
)

// Indirection record layout. All offsets are in bytes; the record is
// little-endian and 16-byte aligned.
const (
	// RecordFieldAddrOffset is the offset of the FieldCount field addresses (u64 each).
	RecordFieldAddrOffset = 0

	// RecordIndirectAddrOffset is the offset of the indirect descriptor
	// address (u64), right after the FieldCount field addresses.
	RecordIndirectAddrOffset = 80

	// RecordResolutionOffset is the offset of resolution (vec4<u32>, w = scale).
	RecordResolutionOffset = 96

	// RecordCenterOffset is the offset of center.xyz and cellSize (vec4<f32>).
	RecordCenterOffset = 112

	// RecordLevelOffset is the offset of the level index (u32).
	RecordLevelOffset = 128

	// RecordLiveCellsOffset is the offset of the live cell counter (u32).
	// Only the dispatch sizing stages write it.
	RecordLiveCellsOffset = 132

	// RecordSubdivisionOffset is the offset of the subdivision factor (u32).
	RecordSubdivisionOffset = 136

	// RecordCellCountOffset is the offset of the level's cell capacity (u32).
	RecordCellCountOffset = 140

	// RecordSize is the byte size of one indirection record.
	RecordSize = 144
)

// Hierarchy table layout: MaxLevels record addresses followed by the
// address of the source list and a reserved slot.
const (
	// TableSourcesOffset is the offset of the source list address (u64).
	TableSourcesOffset = 8 * MaxLevels

	// TableSize is the byte size of the hierarchy table.
	TableSize = TableSourcesOffset + 16
)

// IndirectionRecord is the host view of the per-level record that compute
// stages use to locate a level's buffers and geometry.
type IndirectionRecord struct {
	Fields      [FieldCount]gpucore.DeviceAddress
	Indirect    gpucore.DeviceAddress
	Resolution  [4]uint32
	Center      mgl32.Vec3
	CellSize    float32
	Level       uint32
	LiveCells   uint32
	Subdivision uint32
	CellCount   uint32
}

// Encode returns the little-endian byte layout of the record.
func (r *IndirectionRecord) Encode() []byte {
	buf := make([]byte, RecordSize)
	for i, a := range r.Fields {
		binary.LittleEndian.PutUint64(buf[RecordFieldAddrOffset+8*i:], uint64(a))
	}
	binary.LittleEndian.PutUint64(buf[RecordIndirectAddrOffset:], uint64(r.Indirect))
	for i, v := range r.Resolution {
		binary.LittleEndian.PutUint32(buf[RecordResolutionOffset+4*i:], v)
	}
	for i, v := range r.Center {
		binary.LittleEndian.PutUint32(buf[RecordCenterOffset+4*i:], math.Float32bits(v))
	}
	binary.LittleEndian.PutUint32(buf[RecordCenterOffset+12:], math.Float32bits(r.CellSize))
	binary.LittleEndian.PutUint32(buf[RecordLevelOffset:], r.Level)
	binary.LittleEndian.PutUint32(buf[RecordLiveCellsOffset:], r.LiveCells)
	binary.LittleEndian.PutUint32(buf[RecordSubdivisionOffset:], r.Subdivision)
	binary.LittleEndian.PutUint32(buf[RecordCellCountOffset:], r.CellCount)
	return buf
}

// DecodeRecord parses a record from its byte layout.
func DecodeRecord(buf []byte) (IndirectionRecord, error) {
	var r IndirectionRecord
	if len(buf) < RecordSize {
		return r, fmt.Errorf("grid: record needs %d bytes, got %d", RecordSize, len(buf))
	}
	for i := range r.Fields {
		r.Fields[i] = gpucore.DeviceAddress(binary.LittleEndian.Uint64(buf[RecordFieldAddrOffset+8*i:]))
	}
	r.Indirect = gpucore.DeviceAddress(binary.LittleEndian.Uint64(buf[RecordIndirectAddrOffset:]))
	for i := range r.Resolution {
		r.Resolution[i] = binary.LittleEndian.Uint32(buf[RecordResolutionOffset+4*i:])
	}
	for i := range r.Center {
		r.Center[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[RecordCenterOffset+4*i:]))
	}
	r.CellSize = math.Float32frombits(binary.LittleEndian.Uint32(buf[RecordCenterOffset+12:]))
	r.Level = binary.LittleEndian.Uint32(buf[RecordLevelOffset:])
	r.LiveCells = binary.LittleEndian.Uint32(buf[RecordLiveCellsOffset:])
	r.Subdivision = binary.LittleEndian.Uint32(buf[RecordSubdivisionOffset:])
	r.CellCount = binary.LittleEndian.Uint32(buf[RecordCellCountOffset:])
	return r, nil
}
