// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package solver

import (
	"fmt"

	"github.com/gogpu/nestfluid/dispatch"
	"github.com/gogpu/nestfluid/gpucore"
	"github.com/gogpu/nestfluid/grid"
)

// RecordProlong records coarse-to-fine transfer of field into level fine
// from level fine-1: every live fine cell becomes
// mix(fine, trilinear(coarse), alpha). Only density and velocity can be
// prolonged. The fine field is barriered afterwards.
func (s *Sequencer) RecordProlong(enc gpucore.CommandEncoder, fine int, f grid.Field, alpha float32) {
	if fine < 1 {
		panic(fmt.Sprintf("solver: prolong into level %d", fine))
	}
	shader := ShaderProlongDensity
	switch f {
	case grid.FieldDensity:
	case grid.FieldVelocity:
		shader = ShaderProlongVelocity
	default:
		panic(fmt.Sprintf("solver: cannot prolong %s", f))
	}
	p := dispatch.Params{Level: uint32(fine), Alpha: alpha}
	s.run(enc, shader, p, fine, 0)
	enc.Barrier(written(s.grid.Level(fine).Buffers[f])...)
}

// RecordRestrict records fine-to-coarse transfer of velocity from level fine
// into level fine-1: each coarse cell with live children becomes
// mix(coarse, mean(children), alpha). The work is sized by the fine level;
// the thread owning the first child of a block writes the parent. The
// coarse velocity is barriered afterwards.
func (s *Sequencer) RecordRestrict(enc gpucore.CommandEncoder, fine int, alpha float32) {
	if fine < 1 {
		panic(fmt.Sprintf("solver: restrict from level %d", fine))
	}
	p := dispatch.Params{Level: uint32(fine), Alpha: alpha, Flags: FlagVectorField}
	s.run(enc, ShaderRestrictVelocity, p, fine, 0)
	enc.Barrier(written(s.grid.Level(fine - 1).Buffers[grid.FieldVelocity])...)
}
