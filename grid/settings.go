// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package grid

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	// MaxLevels is the capacity of the hierarchy. It must stay even: the
	// hierarchy table holds MaxLevels 8-byte record addresses and is read
	// as 16-byte vectors.
	MaxLevels = 4

	// LocalGroupSize is the edge of the cubic compute workgroup used by every
	// solver stage (LocalGroupSize^3 invocations per group).
	LocalGroupSize = 4

	// InvocationsPerGroup is LocalGroupSize^3.
	InvocationsPerGroup = LocalGroupSize * LocalGroupSize * LocalGroupSize
)

// Settings errors.
var (
	// ErrInvalidSettings is returned when Settings fail validation.
	ErrInvalidSettings = errors.New("grid: invalid settings")

	// ErrTooManyLevels is returned when NumGridLevels exceeds MaxLevels.
	ErrTooManyLevels = errors.New("grid: too many levels")
)

// Settings describes the grid hierarchy. Settings are immutable once a Grid
// has been created from them.
type Settings struct {
	// Resolution is the voxel count of level 0 along each axis.
	// Each component must be a positive multiple of LocalGroupSize.
	Resolution [3]int `yaml:"resolution"`

	// NumGridLevels is the number of levels, in [1, MaxLevels].
	// If 0, defaults to 1.
	NumGridLevels int `yaml:"num_grid_levels"`

	// GridSubdivision is the refinement factor applied per level.
	// If 0, defaults to 4.
	GridSubdivision int `yaml:"grid_subdivision"`

	// BaseCellSize is the world-space edge length of a level-0 cell.
	// If 0, defaults to 1.
	BaseCellSize float32 `yaml:"base_cell_size"`

	// Center is the world-space center of the simulated box.
	Center mgl32.Vec3 `yaml:"center,flow"`
}

// DefaultSettings returns a two-level hierarchy over a 16^3 base grid.
func DefaultSettings() Settings {
	return Settings{
		Resolution:      [3]int{16, 16, 16},
		NumGridLevels:   2,
		GridSubdivision: 4,
		BaseCellSize:    1.0 / 16,
	}
}

// WithDefaults returns a copy of s with zero fields replaced by defaults.
func (s Settings) WithDefaults() Settings {
	if s.NumGridLevels == 0 {
		s.NumGridLevels = 1
	}
	if s.GridSubdivision == 0 {
		s.GridSubdivision = 4
	}
	if s.BaseCellSize == 0 {
		s.BaseCellSize = 1
	}
	return s
}

// Validate reports whether the settings describe a buildable hierarchy.
func (s Settings) Validate() error {
	if s.NumGridLevels < 1 {
		return fmt.Errorf("%w: num_grid_levels %d < 1", ErrInvalidSettings, s.NumGridLevels)
	}
	if s.NumGridLevels > MaxLevels {
		return fmt.Errorf("%w: %d > %d", ErrTooManyLevels, s.NumGridLevels, MaxLevels)
	}
	if s.NumGridLevels > 1 && s.GridSubdivision < 2 {
		return fmt.Errorf("%w: grid_subdivision %d < 2", ErrInvalidSettings, s.GridSubdivision)
	}
	if s.BaseCellSize <= 0 {
		return fmt.Errorf("%w: base_cell_size %g <= 0", ErrInvalidSettings, s.BaseCellSize)
	}
	for axis, n := range s.Resolution {
		if n <= 0 || n%LocalGroupSize != 0 {
			return fmt.Errorf("%w: resolution[%d] = %d is not a positive multiple of %d",
				ErrInvalidSettings, axis, n, LocalGroupSize)
		}
	}
	// Cell indices are 32-bit. The finest level is sized in 64 bits here
	// since LevelResolution wraps once an axis passes 1<<32.
	const limit = 1<<32 - 1
	scale := uint64(1)
	for range s.NumGridLevels - 1 {
		scale *= uint64(s.GridSubdivision)
		if scale > limit {
			return fmt.Errorf("%w: subdivision %d over %d levels overflows",
				ErrInvalidSettings, s.GridSubdivision, s.NumGridLevels)
		}
	}
	cells := uint64(1)
	for axis, n := range s.Resolution {
		if uint64(n) > limit/scale {
			return fmt.Errorf("%w: finest resolution[%d] = %d*%d exceeds %d",
				ErrInvalidSettings, axis, n, scale, uint64(limit))
		}
		r := uint64(n) * scale
		if r > limit/cells {
			return fmt.Errorf("%w: finest level has more than %d cells", ErrInvalidSettings, uint64(limit))
		}
		cells *= r
	}
	return nil
}

// Scale returns the cumulative subdivision factor of level L, gridSubdivision^L.
func (s Settings) Scale(level int) uint32 {
	w := uint32(1)
	for range level {
		w *= uint32(s.GridSubdivision)
	}
	return w
}

// LevelResolution returns the voxel counts of level L. The w component holds
// the cumulative subdivision factor.
func (s Settings) LevelResolution(level int) [4]uint32 {
	w := s.Scale(level)
	return [4]uint32{
		uint32(s.Resolution[0]) * w,
		uint32(s.Resolution[1]) * w,
		uint32(s.Resolution[2]) * w,
		w,
	}
}

// LevelCellSize returns the world-space cell edge of level L.
func (s Settings) LevelCellSize(level int) float32 {
	return s.BaseCellSize / float32(s.Scale(level))
}

// CellCount returns the number of cells of level L.
func (s Settings) CellCount(level int) uint32 {
	r := s.LevelResolution(level)
	return r[0] * r[1] * r[2]
}
