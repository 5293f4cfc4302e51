// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package dispatch

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ParamsSize is the byte size of the per-dispatch parameter block.
const ParamsSize = 64

// Params is the per-dispatch parameter block shared by all solver stages.
// Fields a stage does not use are left zero.
//
// WGSL layout:
//
//	struct Params {
//	    level: u32, parity: u32, flags: u32, aux: u32,
//	    dt: f32, rate: f32, alpha: f32, threshold: f32,
//	    extra0: vec4<f32>,
//	    extra1: vec4<f32>,
//	}
type Params struct {
	Level     uint32
	Parity    uint32
	Flags     uint32
	Aux       uint32
	DT        float32
	Rate      float32
	Alpha     float32
	Threshold float32
	Extra0    [4]float32
	Extra1    [4]float32
}

// Bytes returns the little-endian encoding of p.
func (p *Params) Bytes() []byte {
	buf := make([]byte, ParamsSize)
	binary.LittleEndian.PutUint32(buf[0:], p.Level)
	binary.LittleEndian.PutUint32(buf[4:], p.Parity)
	binary.LittleEndian.PutUint32(buf[8:], p.Flags)
	binary.LittleEndian.PutUint32(buf[12:], p.Aux)
	binary.LittleEndian.PutUint32(buf[16:], math.Float32bits(p.DT))
	binary.LittleEndian.PutUint32(buf[20:], math.Float32bits(p.Rate))
	binary.LittleEndian.PutUint32(buf[24:], math.Float32bits(p.Alpha))
	binary.LittleEndian.PutUint32(buf[28:], math.Float32bits(p.Threshold))
	for i := range 4 {
		binary.LittleEndian.PutUint32(buf[32+4*i:], math.Float32bits(p.Extra0[i]))
		binary.LittleEndian.PutUint32(buf[48+4*i:], math.Float32bits(p.Extra1[i]))
	}
	return buf
}

// DecodeParams parses a parameter block. Short blocks are zero-extended.
func DecodeParams(buf []byte) Params {
	var full [ParamsSize]byte
	copy(full[:], buf)
	b := full[:]
	f := func(off int) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(b[off:])) }
	p := Params{
		Level:     binary.LittleEndian.Uint32(b[0:]),
		Parity:    binary.LittleEndian.Uint32(b[4:]),
		Flags:     binary.LittleEndian.Uint32(b[8:]),
		Aux:       binary.LittleEndian.Uint32(b[12:]),
		DT:        f(16),
		Rate:      f(20),
		Alpha:     f(24),
		Threshold: f(28),
	}
	for i := range 4 {
		p.Extra0[i] = f(32 + 4*i)
		p.Extra1[i] = f(48 + 4*i)
	}
	return p
}

// String returns a compact description used in debug logs.
func (p Params) String() string {
	return fmt.Sprintf("level=%d parity=%d flags=%#x aux=%d dt=%g rate=%g alpha=%g",
		p.Level, p.Parity, p.Flags, p.Aux, p.DT, p.Rate, p.Alpha)
}
