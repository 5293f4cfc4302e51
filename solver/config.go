// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package solver

import (
	"github.com/gogpu/nestfluid/grid"
)

// PressurePolicy returns the number of pressure relaxation iterations for a
// level given the base iteration count.
type PressurePolicy func(level, base int) int

// Config holds every per-frame tunable of the solver. It is passed to each
// Step explicitly; the solver keeps no other mutable configuration.
type Config struct {
	// VelocityDiffusion is the kinematic viscosity applied to level 0.
	VelocityDiffusion float32 `yaml:"velocity_diffusion"`

	// DensityDiffusion is the diffusion rate of density on every level.
	DensityDiffusion float32 `yaml:"density_diffusion"`

	// DiffusionIterations is the number of red-black sweeps per diffusion.
	// If 0, defaults to 20.
	DiffusionIterations int `yaml:"diffusion_iterations"`

	// PressureIterations is the base number of red-black sweeps of the
	// pressure solve. Zero disables the solve; the projection still runs
	// with whatever pressure the previous frames left.
	PressureIterations int `yaml:"pressure_iterations"`

	// PressureLevelFactor scales the extra sweeps given to finer levels:
	// iterations(L) = base + base*L*factor.
	PressureLevelFactor float32 `yaml:"pressure_level_factor"`

	// PressurePolicy overrides the per-level iteration formula when set.
	PressurePolicy PressurePolicy `yaml:"-"`

	// AdvectionIterations splits advection into equal substeps of
	// dt/AdvectionIterations. If 0, defaults to 1.
	AdvectionIterations int `yaml:"advection_iterations"`

	// RestrictionAlpha is the blend weight of fine velocity written back
	// into the coarse level. 1 replaces the coarse value.
	RestrictionAlpha float32 `yaml:"restriction_alpha"`

	// TransferAlpha is the blend weight of coarse data prolonged into the
	// fine level. 1 replaces the fine value.
	TransferAlpha float32 `yaml:"transfer_alpha"`

	// ActivationThreshold is the density or speed above which a coarse cell
	// activates its children.
	ActivationThreshold float32 `yaml:"activation_threshold"`

	// ShouldProjectIncompressible enables divergence, pressure and
	// projection stages.
	ShouldProjectIncompressible bool `yaml:"project_incompressible"`

	// ProlongVelocity enables coarse-to-fine velocity prolongation alongside
	// the always-on density prolongation.
	ProlongVelocity bool `yaml:"prolong_velocity"`

	// VorticityConfinement is the strength of the confinement force applied
	// during projection. Zero disables it.
	VorticityConfinement float32 `yaml:"vorticity_confinement"`

	// DensityDissipation is the fraction of density removed per second
	// during density advection.
	DensityDissipation float32 `yaml:"density_dissipation"`

	// Sources are injected into every level each frame. At most
	// grid.MaxSources are used.
	Sources []grid.Source `yaml:"sources"`
}

// DefaultConfig returns the tunables used by the command-line driver.
func DefaultConfig() Config {
	return Config{
		VelocityDiffusion:           0.0001,
		DensityDiffusion:            0.0001,
		DiffusionIterations:         20,
		PressureIterations:          20,
		PressureLevelFactor:         0.5,
		AdvectionIterations:         1,
		RestrictionAlpha:            0.5,
		TransferAlpha:               0.5,
		ActivationThreshold:         0.01,
		ShouldProjectIncompressible: true,
	}
}

func (c Config) withDefaults() Config {
	if c.DiffusionIterations <= 0 {
		c.DiffusionIterations = 20
	}
	if c.AdvectionIterations <= 0 {
		c.AdvectionIterations = 1
	}
	if c.PressureIterations < 0 {
		c.PressureIterations = 0
	}
	if len(c.Sources) > grid.MaxSources {
		c.Sources = c.Sources[:grid.MaxSources]
	}
	return c
}

// PressureIterationsFor returns the pressure sweeps for level L.
func (c Config) PressureIterationsFor(level int) int {
	if c.PressurePolicy != nil {
		return max(c.PressurePolicy(level, c.PressureIterations), 0)
	}
	return LinearPressurePolicy(c.PressureLevelFactor)(level, c.PressureIterations)
}

// LinearPressurePolicy returns base + base*L*factor, rounded down.
func LinearPressurePolicy(factor float32) PressurePolicy {
	return func(level, base int) int {
		return base + int(float32(base)*float32(level)*factor)
	}
}
