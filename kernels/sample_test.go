package kernels

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func index(res [3]int, x, y, z int) int { return (z*res[1]+y)*res[0] + x }

func linearField(res [3]int) []float32 {
	f := make([]float32, res[0]*res[1]*res[2])
	for z := range res[2] {
		for y := range res[1] {
			for x := range res[0] {
				f[index(res, x, y, z)] = float32(x) + 2*float32(y) - float32(z)
			}
		}
	}
	return f
}

func sample(field []float32, res [3]int, p mgl32.Vec3) float32 {
	t := trilinearTaps(res, p)
	return t.scalar(func(x, y, z int) float32 { return field[index(res, x, y, z)] })
}

func TestTrilinearTapsAtCenters(t *testing.T) {
	res := [3]int{4, 3, 5}
	f := linearField(res)
	for z := range res[2] {
		for y := range res[1] {
			for x := range res[0] {
				got := sample(f, res, mgl32.Vec3{float32(x), float32(y), float32(z)})
				if want := f[index(res, x, y, z)]; got != want {
					t.Fatalf("sample at (%d,%d,%d) = %v, want %v", x, y, z, got, want)
				}
			}
		}
	}
}

func TestTrilinearTapsClamp(t *testing.T) {
	res := [3]int{4, 4, 4}
	f := linearField(res)
	tests := []struct {
		name string
		p    mgl32.Vec3
		want float32
	}{
		{"below", mgl32.Vec3{-3, 0, 0}, 0},
		{"above", mgl32.Vec3{10, 0, 0}, 3},
		{"midpoint", mgl32.Vec3{1.5, 0, 0}, 1.5},
		{"corner", mgl32.Vec3{-1, -1, 9}, -3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sample(f, res, tt.p); math.Abs(float64(got-tt.want)) > 1e-6 {
				t.Errorf("sample(%v) = %v, want %v", tt.p, got, tt.want)
			}
		})
	}
}

func TestTrilinearTapsWeightsSumToOne(t *testing.T) {
	res := [3]int{5, 5, 5}
	for _, p := range []mgl32.Vec3{{0.25, 1.5, 3.75}, {-2, 2.1, 9}, {4, 4, 4}, {2.5, 2.5, 2.5}} {
		tp := trilinearTaps(res, p)
		var sum float32
		for _, w := range tp.weight {
			sum += w
		}
		if math.Abs(float64(sum-1)) > 1e-6 {
			t.Errorf("weights at %v sum to %v", p, sum)
		}
	}
}

func TestProlongCoord(t *testing.T) {
	tests := []struct {
		c    [3]uint32
		sub  float32
		want mgl32.Vec3
	}{
		{[3]uint32{0, 0, 0}, 2, mgl32.Vec3{-0.25, -0.25, -0.25}},
		{[3]uint32{1, 2, 3}, 2, mgl32.Vec3{0.25, 0.75, 1.25}},
		{[3]uint32{3, 0, 7}, 4, mgl32.Vec3{0.375, -0.375, 1.375}},
	}
	for _, tt := range tests {
		if got := prolongCoord(tt.c, tt.sub); !got.ApproxEqual(tt.want) {
			t.Errorf("prolongCoord(%v, %v) = %v, want %v", tt.c, tt.sub, got, tt.want)
		}
	}
}

func TestRelaxValue(t *testing.T) {
	tests := []struct {
		x0, a, sum float32
		k          int
		want       float32
	}{
		{1, 0, 5, 6, 1},
		{0, 1, 6, 6, 6.0 / 7},
		{2, 0.5, 3, 3, 7.0 / 5},
	}
	for _, tt := range tests {
		if got := relaxValue(tt.x0, tt.a, tt.sum, tt.k); math.Abs(float64(got-tt.want)) > 1e-6 {
			t.Errorf("relaxValue(%v, %v, %v, %d) = %v, want %v", tt.x0, tt.a, tt.sum, tt.k, got, tt.want)
		}
	}
}
