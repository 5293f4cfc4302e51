package kernels

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// neighbours are the six face-adjacent cell offsets.
var neighbours = [6][3]int{
	{-1, 0, 0}, {1, 0, 0},
	{0, -1, 0}, {0, 1, 0},
	{0, 0, -1}, {0, 0, 1},
}

// taps are the eight corners and weights of a trilinear lookup.
type taps struct {
	cell   [8][3]int
	weight [8]float32
}

// axisTap clamps p into [0, n-1] and returns the lower and upper sample
// index along one axis with the fractional weight of the upper one.
func axisTap(p float32, n int) (int, int, float32) {
	if n <= 1 || p <= 0 {
		return 0, 0, 0
	}
	hi := float32(n - 1)
	if p >= hi {
		return n - 1, n - 1, 0
	}
	i0 := int(math.Floor(float64(p)))
	return i0, min(i0+1, n-1), p - float32(i0)
}

// trilinearTaps returns the corners around p, given in cell-index
// coordinates of a grid of resolution res. Lookups outside the grid are
// clamped to the boundary cells.
func trilinearTaps(res [3]int, p mgl32.Vec3) taps {
	x0, x1, tx := axisTap(p[0], res[0])
	y0, y1, ty := axisTap(p[1], res[1])
	z0, z1, tz := axisTap(p[2], res[2])

	var t taps
	k := 0
	for _, z := range [2]struct {
		i int
		w float32
	}{{z0, 1 - tz}, {z1, tz}} {
		for _, y := range [2]struct {
			i int
			w float32
		}{{y0, 1 - ty}, {y1, ty}} {
			for _, x := range [2]struct {
				i int
				w float32
			}{{x0, 1 - tx}, {x1, tx}} {
				t.cell[k] = [3]int{x.i, y.i, z.i}
				t.weight[k] = x.w * y.w * z.w
				k++
			}
		}
	}
	return t
}

func (t *taps) scalar(at func(x, y, z int) float32) float32 {
	var sum float32
	for k, c := range t.cell {
		if t.weight[k] != 0 {
			sum += t.weight[k] * at(c[0], c[1], c[2])
		}
	}
	return sum
}

func (t *taps) vector(at func(x, y, z int) [4]float32) [4]float32 {
	var sum [4]float32
	for k, c := range t.cell {
		w := t.weight[k]
		if w == 0 {
			continue
		}
		v := at(c[0], c[1], c[2])
		for i := range sum {
			sum[i] += w * v[i]
		}
	}
	return sum
}

// prolongCoord maps fine cell c to cell-index coordinates of the coarse
// level, sub fine cells per coarse cell. Cell centers coincide with the
// fine-cell centers of the same nested region.
func prolongCoord(c [3]uint32, sub float32) mgl32.Vec3 {
	return mgl32.Vec3{
		(float32(c[0])+0.5)/sub - 0.5,
		(float32(c[1])+0.5)/sub - 0.5,
		(float32(c[2])+0.5)/sub - 0.5,
	}
}

// relaxValue is one Jacobi update of (1 + a*k) x - a * sum = x0.
func relaxValue(x0, a, sum float32, k int) float32 {
	return (x0 + a*sum) / (1 + a*float32(k))
}

func mix(a, b, t float32) float32 { return a + (b-a)*t }

func mix4(a, b [4]float32, t float32) [4]float32 {
	return [4]float32{mix(a[0], b[0], t), mix(a[1], b[1], t), mix(a[2], b[2], t), mix(a[3], b[3], t)}
}
