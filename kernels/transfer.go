// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package kernels

import (
	"github.com/gogpu/nestfluid/backend/software"
	"github.com/gogpu/nestfluid/grid"
	"github.com/gogpu/nestfluid/solver"
)

// fineAndCoarse loads level p.Level and its parent.
func fineAndCoarse(ctx *software.Context, l uint32) (fine, coarse level, ok bool) {
	if l == 0 {
		return level{}, level{}, false
	}
	if fine, ok = loadLevel(ctx, l); !ok {
		return level{}, level{}, false
	}
	coarse, ok = loadLevel(ctx, l-1)
	return fine, coarse, ok
}

// restrict averages each block of sub³ fine cells into its parent and
// blends the mean into the coarse field by Params.Alpha. The invocation
// owning the first child of a block does the work; live blocks are always
// complete.
func restrict(ctx *software.Context) func(software.Invocation) {
	p := params(ctx)
	fine, coarse, ok := fineAndCoarse(ctx, p.Level)
	if !ok {
		return nil
	}
	sub := fine.sub
	weight := 1 / float32(sub*sub*sub)
	vector := p.Flags&solver.FlagVectorField != 0

	return func(inv software.Invocation) {
		_, c, ok := fine.cell(ctx, inv)
		if !ok || c[0]%sub != 0 || c[1]%sub != 0 || c[2]%sub != 0 {
			return
		}
		parent := coarse.index3(int(c[0]/sub), int(c[1]/sub), int(c[2]/sub))

		if vector {
			var mean [4]float32
			for dz := range sub {
				for dy := range sub {
					for dx := range sub {
						v := ctx.LoadVec4(fine.vecAddr(grid.FieldVelocity, grid.Index(fine.res, c[0]+dx, c[1]+dy, c[2]+dz)))
						for i := range mean {
							mean[i] += v[i] * weight
						}
					}
				}
			}
			a := coarse.vecAddr(grid.FieldVelocity, parent)
			ctx.StoreVec4(a, mix4(ctx.LoadVec4(a), mean, p.Alpha))
			return
		}

		var mean float32
		for dz := range sub {
			for dy := range sub {
				for dx := range sub {
					mean += ctx.LoadF32(fine.scalarAddr(grid.FieldDensity, grid.Index(fine.res, c[0]+dx, c[1]+dy, c[2]+dz))) * weight
				}
			}
		}
		a := coarse.scalarAddr(grid.FieldDensity, parent)
		ctx.StoreF32(a, mix(ctx.LoadF32(a), mean, p.Alpha))
	}
}

// prolong returns the kernel blending the trilinear interpolation of the
// parent level's field into every live fine cell by Params.Alpha.
func prolong(f grid.Field) software.Kernel {
	return func(ctx *software.Context) func(software.Invocation) {
		p := params(ctx)
		fine, coarse, ok := fineAndCoarse(ctx, p.Level)
		if !ok {
			return nil
		}
		sub := float32(fine.sub)
		res := coarse.dims()

		return func(inv software.Invocation) {
			idx, c, ok := fine.cell(ctx, inv)
			if !ok {
				return
			}
			t := trilinearTaps(res, prolongCoord(c, sub))
			if f == grid.FieldVelocity {
				v := t.vector(func(x, y, z int) [4]float32 {
					return ctx.LoadVec4(coarse.vecAddr(grid.FieldVelocity, coarse.index3(x, y, z)))
				})
				a := fine.vecAddr(grid.FieldVelocity, idx)
				ctx.StoreVec4(a, mix4(ctx.LoadVec4(a), v, p.Alpha))
				return
			}
			v := t.scalar(func(x, y, z int) float32 {
				return ctx.LoadF32(coarse.scalarAddr(f, coarse.index3(x, y, z)))
			})
			a := fine.scalarAddr(f, idx)
			ctx.StoreF32(a, mix(ctx.LoadF32(a), v, p.Alpha))
		}
	}
}
