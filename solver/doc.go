// Package solver records the per-frame pipeline of the nested-grid fluid
// solver.
//
// A [Sequencer] owns one compute pipeline per solver shader and records,
// for every frame, the fixed stage order:
//
//  1. dispatch sizing of sparse levels
//  2. source injection, finest level first
//  3. obstacle rasterization (external)
//  4. level-0 velocity diffusion (red-black)
//  5. velocity advection, prolonging density into the next finer level
//  6. divergence and vorticity
//  7. pressure solve (red-black, more sweeps on finer levels)
//  8. projection
//  9. velocity restriction, finest to coarsest
//  10. density diffusion
//  11. density advection
//  12. visualization feed
//
// Every dispatch is followed by a barrier on the buffers it wrote, and
// every red-black sweep is followed by a barrier on the relaxed field.
// All tunables arrive in a [Config] passed to each Record call.
package solver
