package grid

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

func decodeFloats(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return out
}

func encodeFloats(values []float32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

// Source is an emitter of velocity and density, in world space.
type Source struct {
	Position mgl32.Vec3 `yaml:"position,flow"`
	Velocity mgl32.Vec3 `yaml:"velocity,flow"`
	Radius   float32    `yaml:"radius"`
	Density  float32    `yaml:"density"`
	Strength float32    `yaml:"strength"`
}

// EncodeSources packs up to MaxSources sources into the device layout:
//
//	struct Source {
//	    position: vec3<f32>, radius: f32,
//	    velocity: vec3<f32>, density: f32,
//	    strength: f32, pad: vec3<f32>,
//	}
func EncodeSources(sources []Source) []byte {
	if len(sources) > MaxSources {
		sources = sources[:MaxSources]
	}
	buf := make([]byte, MaxSources*SourceSize)
	put := func(off int, v float32) {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
	}
	for i, s := range sources {
		base := i * SourceSize
		for k := range 3 {
			put(base+4*k, s.Position[k])
			put(base+16+4*k, s.Velocity[k])
		}
		put(base+12, s.Radius)
		put(base+28, s.Density)
		put(base+32, s.Strength)
	}
	return buf
}

// Cell coordinates are linearized x-fastest.

// Index returns the linear index of cell (x, y, z) in a grid of resolution res.
func Index(res [4]uint32, x, y, z uint32) uint32 {
	return (z*res[1]+y)*res[0] + x
}

// Coords is the inverse of Index.
func Coords(res [4]uint32, idx uint32) (x, y, z uint32) {
	x = idx % res[0]
	y = idx / res[0] % res[1]
	z = idx / (res[0] * res[1])
	return x, y, z
}
