// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package kernels

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/nestfluid/backend/software"
	"github.com/gogpu/nestfluid/gpucore"
	"github.com/gogpu/nestfluid/grid"
	"github.com/gogpu/nestfluid/solver"
)

type source struct {
	position mgl32.Vec3
	velocity mgl32.Vec3
	radius   float32
	density  float32
	strength float32
}

func loadSources(ctx *software.Context, n uint32) []source {
	base := gpucore.DeviceAddress(ctx.LoadU64(ctx.Table + grid.TableSourcesOffset))
	if base == 0 {
		return nil
	}
	n = min(n, grid.MaxSources)
	out := make([]source, n)
	for i := range out {
		a := base + gpucore.DeviceAddress(i*grid.SourceSize)
		s := &out[i]
		for k := range 3 {
			s.position[k] = ctx.LoadF32(a + gpucore.DeviceAddress(4*k))
			s.velocity[k] = ctx.LoadF32(a + 16 + gpucore.DeviceAddress(4*k))
		}
		s.radius = ctx.LoadF32(a + 12)
		s.density = ctx.LoadF32(a + 28)
		s.strength = ctx.LoadF32(a + 32)
	}
	return out
}

// injectSources adds every source to the cells inside its radius with a
// linear falloff. Params.Rate scales the strength for the level.
func injectSources(ctx *software.Context) func(software.Invocation) {
	p := params(ctx)
	lv, ok := loadLevel(ctx, p.Level)
	if !ok || p.Aux == 0 {
		return nil
	}
	sources := loadSources(ctx, p.Aux)

	return func(inv software.Invocation) {
		idx, c, ok := lv.cell(ctx, inv)
		if !ok || ctx.LoadU32(lv.scalarAddr(grid.FieldFlags, idx))&grid.FlagSolid != 0 {
			return
		}
		pos := lv.world(c[0], c[1], c[2])

		var dv mgl32.Vec3
		var dd float32
		hit := false
		for i := range sources {
			s := &sources[i]
			if s.radius <= 0 {
				continue
			}
			d := pos.Sub(s.position).Len()
			if d >= s.radius {
				continue
			}
			amount := s.strength * p.Rate * p.DT * (1 - d/s.radius)
			dv = dv.Add(s.velocity.Mul(amount))
			dd += s.density * amount
			hit = true
		}
		if !hit {
			return
		}
		va := lv.vecAddr(grid.FieldVelocity, idx)
		v := ctx.LoadVec4(va)
		ctx.StoreVec4(va, [4]float32{v[0] + dv[0], v[1] + dv[1], v[2] + dv[2], v[3]})
		da := lv.scalarAddr(grid.FieldDensity, idx)
		ctx.StoreF32(da, ctx.LoadF32(da)+dd)
	}
}

// diffuseRB is one red-black sweep of implicit diffusion against the
// snapshot in the scratch field. Density uses zero-flux walls, velocity
// no-slip walls.
func diffuseRB(ctx *software.Context) func(software.Invocation) {
	p := params(ctx)
	lv, ok := loadLevel(ctx, p.Level)
	if !ok {
		return nil
	}
	h := lv.cellSize
	a := p.Rate * p.DT / (h * h)
	vector := p.Flags&solver.FlagVectorField != 0

	return func(inv software.Invocation) {
		idx, c, ok := lv.parityCell(ctx, inv, p.Parity, p.Aux)
		if !ok {
			return
		}
		x, y, z := int(c[0]), int(c[1]), int(c[2])
		if vector {
			var sum [4]float32
			for _, n := range neighbours {
				nx, ny, nz := x+n[0], y+n[1], z+n[2]
				if !lv.inside(nx, ny, nz) {
					continue
				}
				v := ctx.LoadVec4(lv.vecAddr(grid.FieldVelocity, lv.index3(nx, ny, nz)))
				for i := range 3 {
					sum[i] += v[i]
				}
			}
			x0 := ctx.LoadVec4(lv.vecAddr(grid.FieldVelocityPrev, idx))
			var out [4]float32
			for i := range 3 {
				out[i] = relaxValue(x0[i], a, sum[i], len(neighbours))
			}
			ctx.StoreVec4(lv.vecAddr(grid.FieldVelocity, idx), out)
			return
		}

		var sum float32
		k := 0
		for _, n := range neighbours {
			nx, ny, nz := x+n[0], y+n[1], z+n[2]
			if lv.inside(nx, ny, nz) {
				sum += ctx.LoadF32(lv.scalarAddr(grid.FieldDensity, lv.index3(nx, ny, nz)))
				k++
			}
		}
		x0 := ctx.LoadF32(lv.scalarAddr(grid.FieldDensityPrev, idx))
		ctx.StoreF32(lv.scalarAddr(grid.FieldDensity, idx), relaxValue(x0, a, sum, k))
	}
}

// advect traces each cell center back along the velocity and samples the
// snapshot there. Density is reduced by Params.Rate per second.
func advect(ctx *software.Context) func(software.Invocation) {
	p := params(ctx)
	lv, ok := loadLevel(ctx, p.Level)
	if !ok {
		return nil
	}
	res := lv.dims()
	steps := p.DT / lv.cellSize
	vector := p.Flags&solver.FlagVectorField != 0
	keep := max(0, 1-p.Rate*p.DT)

	prevVec := func(x, y, z int) [4]float32 {
		return ctx.LoadVec4(lv.vecAddr(grid.FieldVelocityPrev, lv.index3(x, y, z)))
	}
	prevScalar := func(x, y, z int) float32 {
		return ctx.LoadF32(lv.scalarAddr(grid.FieldDensityPrev, lv.index3(x, y, z)))
	}

	return func(inv software.Invocation) {
		idx, c, ok := lv.cell(ctx, inv)
		if !ok {
			return
		}
		solid := ctx.LoadU32(lv.scalarAddr(grid.FieldFlags, idx))&grid.FlagSolid != 0

		velField := grid.FieldVelocity
		if vector {
			velField = grid.FieldVelocityPrev
		}
		v := ctx.LoadVec4(lv.vecAddr(velField, idx))
		back := mgl32.Vec3{
			float32(c[0]) - v[0]*steps,
			float32(c[1]) - v[1]*steps,
			float32(c[2]) - v[2]*steps,
		}
		t := trilinearTaps(res, back)

		if vector {
			out := t.vector(prevVec)
			if solid {
				out = [4]float32{}
			}
			ctx.StoreVec4(lv.vecAddr(grid.FieldVelocity, idx), out)
			return
		}
		if solid {
			return
		}
		ctx.StoreF32(lv.scalarAddr(grid.FieldDensity, idx), t.scalar(prevScalar)*keep)
	}
}

// velocityAt returns the velocity of an in-range cell and zero outside the
// level.
func velocityAt(ctx *software.Context, lv *level, x, y, z int) [4]float32 {
	if !lv.inside(x, y, z) {
		return [4]float32{}
	}
	return ctx.LoadVec4(lv.vecAddr(grid.FieldVelocity, lv.index3(x, y, z)))
}

// divergenceVorticity computes the central-difference divergence and curl
// of velocity. The vorticity w component holds the curl magnitude.
func divergenceVorticity(ctx *software.Context) func(software.Invocation) {
	p := params(ctx)
	lv, ok := loadLevel(ctx, p.Level)
	if !ok {
		return nil
	}
	inv2h := 1 / (2 * lv.cellSize)

	return func(inv software.Invocation) {
		idx, c, ok := lv.cell(ctx, inv)
		if !ok {
			return
		}
		x, y, z := int(c[0]), int(c[1]), int(c[2])
		xm, xp := velocityAt(ctx, &lv, x-1, y, z), velocityAt(ctx, &lv, x+1, y, z)
		ym, yp := velocityAt(ctx, &lv, x, y-1, z), velocityAt(ctx, &lv, x, y+1, z)
		zm, zp := velocityAt(ctx, &lv, x, y, z-1), velocityAt(ctx, &lv, x, y, z+1)

		div := (xp[0] - xm[0] + yp[1] - ym[1] + zp[2] - zm[2]) * inv2h
		curl := mgl32.Vec3{
			(yp[2] - ym[2] - (zp[1] - zm[1])) * inv2h,
			(zp[0] - zm[0] - (xp[2] - xm[2])) * inv2h,
			(xp[1] - xm[1] - (yp[0] - ym[0])) * inv2h,
		}
		ctx.StoreF32(lv.scalarAddr(grid.FieldDivergence, idx), div)
		ctx.StoreVec4(lv.vecAddr(grid.FieldVorticity, idx), [4]float32{curl[0], curl[1], curl[2], curl.Len()})
	}
}

// pressureRB is one red-black sweep of the pressure Poisson equation
// lap(p) = div with zero-gradient walls.
func pressureRB(ctx *software.Context) func(software.Invocation) {
	p := params(ctx)
	lv, ok := loadLevel(ctx, p.Level)
	if !ok {
		return nil
	}
	h2 := lv.cellSize * lv.cellSize

	return func(inv software.Invocation) {
		idx, c, ok := lv.parityCell(ctx, inv, p.Parity, p.Aux)
		if !ok {
			return
		}
		x, y, z := int(c[0]), int(c[1]), int(c[2])
		var sum float32
		k := 0
		for _, n := range neighbours {
			nx, ny, nz := x+n[0], y+n[1], z+n[2]
			if lv.inside(nx, ny, nz) {
				sum += ctx.LoadF32(lv.scalarAddr(grid.FieldPressure, lv.index3(nx, ny, nz)))
				k++
			}
		}
		if k == 0 {
			return
		}
		div := ctx.LoadF32(lv.scalarAddr(grid.FieldDivergence, idx))
		ctx.StoreF32(lv.scalarAddr(grid.FieldPressure, idx), (sum-h2*div)/float32(k))
	}
}

// project subtracts the pressure gradient from velocity and applies
// vorticity confinement of strength Params.Rate. Solid cells are zeroed.
func project(ctx *software.Context) func(software.Invocation) {
	p := params(ctx)
	lv, ok := loadLevel(ctx, p.Level)
	if !ok {
		return nil
	}
	h := lv.cellSize
	inv2h := 1 / (2 * h)
	confine := p.Rate

	pressure := func(x, y, z int) float32 {
		return ctx.LoadF32(lv.scalarAddr(grid.FieldPressure, lv.clampIndex(x, y, z)))
	}
	omega := func(x, y, z int) float32 {
		return ctx.LoadVec4(lv.vecAddr(grid.FieldVorticity, lv.clampIndex(x, y, z)))[3]
	}

	return func(inv software.Invocation) {
		idx, c, ok := lv.cell(ctx, inv)
		if !ok {
			return
		}
		va := lv.vecAddr(grid.FieldVelocity, idx)
		if ctx.LoadU32(lv.scalarAddr(grid.FieldFlags, idx))&grid.FlagSolid != 0 {
			ctx.StoreVec4(va, [4]float32{})
			return
		}
		x, y, z := int(c[0]), int(c[1]), int(c[2])
		grad := mgl32.Vec3{
			(pressure(x+1, y, z) - pressure(x-1, y, z)) * inv2h,
			(pressure(x, y+1, z) - pressure(x, y-1, z)) * inv2h,
			(pressure(x, y, z+1) - pressure(x, y, z-1)) * inv2h,
		}
		v := ctx.LoadVec4(va)
		u := mgl32.Vec3{v[0], v[1], v[2]}.Sub(grad)

		if confine > 0 {
			n := mgl32.Vec3{
				(omega(x+1, y, z) - omega(x-1, y, z)) * inv2h,
				(omega(x, y+1, z) - omega(x, y-1, z)) * inv2h,
				(omega(x, y, z+1) - omega(x, y, z-1)) * inv2h,
			}
			if l := n.Len(); l > 1e-6 {
				w := ctx.LoadVec4(lv.vecAddr(grid.FieldVorticity, idx))
				f := n.Mul(1 / l).Cross(mgl32.Vec3{w[0], w[1], w[2]})
				u = u.Add(f.Mul(p.DT * confine * h))
			}
		}
		ctx.StoreVec4(va, [4]float32{u[0], u[1], u[2], v[3]})
	}
}
