package feed

import (
	"errors"
	"fmt"
	"math"

	"github.com/gogpu/nestfluid/grid"
)

// ErrNoGrid is returned when capturing from a source with no grid.
var ErrNoGrid = errors.New("feed: source has no grid")

// Source is the solver state a snapshot is taken from.
type Source interface {
	Grid() *grid.Grid
	Frames() uint64
	Elapsed() float32
}

// LevelSnapshot is the host copy of one level.
type LevelSnapshot struct {
	Level      int        `json:"level"`
	Resolution [3]uint32  `json:"resolution"`
	Center     [3]float32 `json:"center"`
	CellSize   float32    `json:"cell_size"`
	LiveCells  uint32     `json:"live_cells"`

	// Values holds one scalar per cell in x-fastest order. Vector fields
	// are reduced to the magnitude of their xyz components.
	Values []float32 `json:"values"`
}

// At returns the value of cell (x, y, z).
func (l *LevelSnapshot) At(x, y, z int) float32 {
	return l.Values[grid.Index([4]uint32{l.Resolution[0], l.Resolution[1], l.Resolution[2]}, uint32(x), uint32(y), uint32(z))]
}

// Range returns the smallest and largest value.
func (l *LevelSnapshot) Range() (lo, hi float32) {
	if len(l.Values) == 0 {
		return 0, 0
	}
	lo, hi = l.Values[0], l.Values[0]
	for _, v := range l.Values[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return lo, hi
}

// Snapshot is one field of every level at a frame boundary.
type Snapshot struct {
	Frame   uint64          `json:"frame"`
	Elapsed float32         `json:"elapsed"`
	Field   string          `json:"field"`
	Levels  []LevelSnapshot `json:"levels"`
}

// Capture reads field f of every level of src. It must run between
// frames; the device work of the last frame has to be complete.
func Capture(src Source, f grid.Field) (*Snapshot, error) {
	g := src.Grid()
	if g == nil {
		return nil, ErrNoGrid
	}
	snap := &Snapshot{
		Frame:   src.Frames(),
		Elapsed: src.Elapsed(),
		Field:   f.String(),
		Levels:  make([]LevelSnapshot, g.NumSubgrids()),
	}
	for l := range snap.Levels {
		sg := g.Level(l)
		values, err := g.ReadField(l, f)
		if err != nil {
			return nil, fmt.Errorf("feed: %w", err)
		}
		if f.ElementSize() == 16 {
			values = magnitudes(values)
		}
		live := sg.CellCount()
		if !sg.Dense() {
			if live, err = g.ReadLiveCells(l); err != nil {
				return nil, fmt.Errorf("feed: %w", err)
			}
		}
		snap.Levels[l] = LevelSnapshot{
			Level:      l,
			Resolution: [3]uint32{sg.Resolution[0], sg.Resolution[1], sg.Resolution[2]},
			Center:     sg.Center,
			CellSize:   sg.CellSize,
			LiveCells:  live,
			Values:     values,
		}
	}
	return snap, nil
}

func magnitudes(vec4 []float32) []float32 {
	out := make([]float32, len(vec4)/4)
	for i := range out {
		x, y, z := vec4[4*i], vec4[4*i+1], vec4[4*i+2]
		out[i] = float32(math.Sqrt(float64(x*x + y*y + z*z)))
	}
	return out
}
