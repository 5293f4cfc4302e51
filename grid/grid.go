// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package grid

import (
	"encoding/binary"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/nestfluid/gpucore"
)

// MaxSources is the capacity of the per-frame source list.
const MaxSources = 16

// SourceSize is the byte size of one encoded source.
const SourceSize = 48

// SubGrid is one resolution level of the hierarchy and its buffers.
type SubGrid struct {
	// Level is 0 for the coarsest, dense level; higher levels are finer and sparse.
	Level int

	// Resolution is the voxel count; W is the cumulative subdivision factor.
	Resolution [4]uint32

	Center   mgl32.Vec3
	CellSize float32

	// Buffers holds one buffer per Field.
	Buffers [FieldCount]gpucore.BufferID

	// Addresses holds the device address of each field buffer.
	Addresses [FieldCount]gpucore.DeviceAddress

	// IndirectArgs holds the indirect dispatch descriptor of levels >= 1.
	// It is written on the device by the dispatch sizing stages.
	IndirectArgs gpucore.BufferID

	// Record holds the level's indirection record.
	Record gpucore.BufferID
}

// CellCount returns the number of cells of the level.
func (s *SubGrid) CellCount() uint32 {
	return s.Resolution[0] * s.Resolution[1] * s.Resolution[2]
}

// Dense reports whether the level is processed in full every stage.
// Only level 0 is dense.
func (s *SubGrid) Dense() bool { return s.Level == 0 }

// Grid is the fixed-capacity hierarchy of sub-grids and its hierarchy table.
type Grid struct {
	adapter     gpucore.GPUAdapter
	settings    Settings
	levels      [MaxLevels]SubGrid
	numSubgrids int

	table   gpucore.BufferID
	sources gpucore.BufferID
	records [MaxLevels]IndirectionRecord
}

// New allocates every level's buffers, uploads the indirection records and
// the hierarchy table. On failure all allocated buffers are released.
func New(adapter gpucore.GPUAdapter, settings Settings) (*Grid, error) {
	settings = settings.WithDefaults()
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	g := &Grid{adapter: adapter, settings: settings, numSubgrids: settings.NumGridLevels}
	if err := g.allocate(); err != nil {
		g.Destroy()
		return nil, err
	}
	if err := g.upload(); err != nil {
		g.Destroy()
		return nil, err
	}
	return g, nil
}

func (g *Grid) createBuffer(label string, size uint64, usage gpucore.BufferUsage) (gpucore.BufferID, error) {
	id, err := g.adapter.CreateBuffer(label, size, usage)
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("grid: create %s: %w", label, err)
	}
	return id, nil
}

func (g *Grid) allocate() error {
	var err error
	for l := range g.numSubgrids {
		sg := &g.levels[l]
		sg.Level = l
		sg.Resolution = g.settings.LevelResolution(l)
		sg.Center = g.settings.Center
		sg.CellSize = g.settings.LevelCellSize(l)
		cells := uint64(sg.CellCount())

		for f := range FieldCount {
			label := fmt.Sprintf("level%d_%s", l, f)
			if sg.Buffers[f], err = g.createBuffer(label, cells*f.ElementSize(), gpucore.FieldUsage); err != nil {
				return err
			}
			sg.Addresses[f] = g.adapter.BufferAddress(sg.Buffers[f])
		}
		sg.IndirectArgs, err = g.createBuffer(fmt.Sprintf("level%d_indirect", l), 16,
			gpucore.FieldUsage|gpucore.BufferUsageIndirect)
		if err != nil {
			return err
		}
		if sg.Record, err = g.createBuffer(fmt.Sprintf("level%d_record", l), RecordSize, gpucore.FieldUsage); err != nil {
			return err
		}
	}
	if g.table, err = g.createBuffer("hierarchy_table", TableSize, gpucore.FieldUsage|gpucore.BufferUsageUniform); err != nil {
		return err
	}
	g.sources, err = g.createBuffer("sources", MaxSources*SourceSize, gpucore.FieldUsage)
	return err
}

// upload writes the indirection records and the hierarchy table once.
func (g *Grid) upload() error {
	table := make([]byte, TableSize)
	for l := range g.numSubgrids {
		sg := &g.levels[l]
		g.records[l] = IndirectionRecord{
			Fields:      sg.Addresses,
			Indirect:    g.adapter.BufferAddress(sg.IndirectArgs),
			Resolution:  sg.Resolution,
			Center:      sg.Center,
			CellSize:    sg.CellSize,
			Level:       uint32(l),
			Subdivision: uint32(g.settings.GridSubdivision),
			CellCount:   sg.CellCount(),
		}
		if sg.Dense() {
			g.records[l].LiveCells = sg.CellCount()
		}
		if err := g.adapter.WriteBuffer(sg.Record, 0, g.records[l].Encode()); err != nil {
			return fmt.Errorf("grid: upload record %d: %w", l, err)
		}
		binary.LittleEndian.PutUint64(table[8*l:], uint64(g.adapter.BufferAddress(sg.Record)))
	}
	binary.LittleEndian.PutUint64(table[TableSourcesOffset:], uint64(g.adapter.BufferAddress(g.sources)))
	if err := g.adapter.WriteBuffer(g.table, 0, table); err != nil {
		return fmt.Errorf("grid: upload hierarchy table: %w", err)
	}
	return nil
}

// Destroy releases every buffer owned by the grid.
func (g *Grid) Destroy() {
	if g == nil || g.adapter == nil {
		return
	}
	for l := range g.levels {
		sg := &g.levels[l]
		for f := range sg.Buffers {
			if sg.Buffers[f] != gpucore.InvalidID {
				g.adapter.DestroyBuffer(sg.Buffers[f])
			}
		}
		if sg.IndirectArgs != gpucore.InvalidID {
			g.adapter.DestroyBuffer(sg.IndirectArgs)
		}
		if sg.Record != gpucore.InvalidID {
			g.adapter.DestroyBuffer(sg.Record)
		}
		*sg = SubGrid{}
	}
	if g.table != gpucore.InvalidID {
		g.adapter.DestroyBuffer(g.table)
		g.table = gpucore.InvalidID
	}
	if g.sources != gpucore.InvalidID {
		g.adapter.DestroyBuffer(g.sources)
		g.sources = gpucore.InvalidID
	}
	g.numSubgrids = 0
}

// Settings returns the settings the grid was built from.
func (g *Grid) Settings() Settings { return g.settings }

// NumSubgrids returns the number of active levels.
func (g *Grid) NumSubgrids() int { return g.numSubgrids }

// Level returns level L. It panics if L is out of range.
func (g *Grid) Level(level int) *SubGrid {
	if level < 0 || level >= g.numSubgrids {
		panic(fmt.Sprintf("grid: level %d out of range [0, %d)", level, g.numSubgrids))
	}
	return &g.levels[level]
}

// Finest returns the index of the finest level.
func (g *Grid) Finest() int { return g.numSubgrids - 1 }

// Table returns the hierarchy table buffer.
func (g *Grid) Table() gpucore.BufferID { return g.table }

// TableAddress returns the device address of the hierarchy table.
func (g *Grid) TableAddress() gpucore.DeviceAddress { return g.adapter.BufferAddress(g.table) }

// Sources returns the buffer holding the per-frame source list.
func (g *Grid) Sources() gpucore.BufferID { return g.sources }

// Record returns the host copy of level L's indirection record as uploaded.
// LiveCells of sparse levels is only known on the device.
func (g *Grid) Record(level int) IndirectionRecord { return g.records[level] }

// CellCounts returns the cell capacity of every active level.
func (g *Grid) CellCounts() []uint32 {
	counts := make([]uint32, g.numSubgrids)
	for l := range counts {
		counts[l] = g.levels[l].CellCount()
	}
	return counts
}

// Buffers returns the given field's buffer for every active level.
func (g *Grid) Buffers(f Field) []gpucore.BufferID {
	ids := make([]gpucore.BufferID, g.numSubgrids)
	for l := range ids {
		ids[l] = g.levels[l].Buffers[f]
	}
	return ids
}

// ReadField reads a scalar field of level L back to the host.
// Vector fields are returned as consecutive x, y, z, w components.
func (g *Grid) ReadField(level int, f Field) ([]float32, error) {
	sg := g.Level(level)
	size := uint64(sg.CellCount()) * f.ElementSize()
	data, err := g.adapter.ReadBuffer(sg.Buffers[f], 0, size)
	if err != nil {
		return nil, fmt.Errorf("grid: read level %d %s: %w", level, f, err)
	}
	return decodeFloats(data), nil
}

// WriteField uploads a field of level L from the host. Vector fields take
// consecutive x, y, z, w components.
func (g *Grid) WriteField(level int, f Field, values []float32) error {
	sg := g.Level(level)
	want := uint64(sg.CellCount()) * f.ElementSize() / 4
	if uint64(len(values)) != want {
		return fmt.Errorf("grid: write level %d %s: got %d values, want %d", level, f, len(values), want)
	}
	if err := g.adapter.WriteBuffer(sg.Buffers[f], 0, encodeFloats(values)); err != nil {
		return fmt.Errorf("grid: write level %d %s: %w", level, f, err)
	}
	return nil
}

// ReadLiveCells reads the device-written live cell counter of level L.
// Intended for diagnostics; the solver never reads it on the host.
func (g *Grid) ReadLiveCells(level int) (uint32, error) {
	sg := g.Level(level)
	data, err := g.adapter.ReadBuffer(sg.Record, RecordLiveCellsOffset, 4)
	if err != nil {
		return 0, fmt.Errorf("grid: read live cells of level %d: %w", level, err)
	}
	return binary.LittleEndian.Uint32(data), nil
}

// ReadIndirectArgs reads the device-written dispatch descriptor of level L.
// Intended for diagnostics and tests.
func (g *Grid) ReadIndirectArgs(level int) (gpucore.DispatchIndirectArgs, error) {
	sg := g.Level(level)
	data, err := g.adapter.ReadBuffer(sg.IndirectArgs, 0, gpucore.DispatchIndirectArgsSize)
	if err != nil {
		return gpucore.DispatchIndirectArgs{}, fmt.Errorf("grid: read indirect args of level %d: %w", level, err)
	}
	return gpucore.DispatchIndirectArgs{
		X: binary.LittleEndian.Uint32(data[0:]),
		Y: binary.LittleEndian.Uint32(data[4:]),
		Z: binary.LittleEndian.Uint32(data[8:]),
	}, nil
}

// WriteFlags uploads the cell flags of level L.
func (g *Grid) WriteFlags(level int, flags []uint32) error {
	sg := g.Level(level)
	if uint32(len(flags)) != sg.CellCount() {
		return fmt.Errorf("grid: write level %d flags: got %d values, want %d", level, len(flags), sg.CellCount())
	}
	buf := make([]byte, 4*len(flags))
	for i, f := range flags {
		binary.LittleEndian.PutUint32(buf[4*i:], f)
	}
	if err := g.adapter.WriteBuffer(sg.Buffers[FieldFlags], 0, buf); err != nil {
		return fmt.Errorf("grid: write level %d flags: %w", level, err)
	}
	return nil
}

// ReadIndexOffsets reads the first n entries of level L's index-offset list.
func (g *Grid) ReadIndexOffsets(level int, n uint32) ([]uint32, error) {
	sg := g.Level(level)
	n = min(n, sg.CellCount())
	data, err := g.adapter.ReadBuffer(sg.Buffers[FieldIndexOffsets], 0, 4*uint64(n))
	if err != nil {
		return nil, fmt.Errorf("grid: read level %d index offsets: %w", level, err)
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(data[4*i:])
	}
	return out, nil
}
