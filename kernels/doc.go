// Package kernels provides the CPU implementations of the solver's compute
// shaders for the software device.
//
// Each kernel finds its level through the bound hierarchy table, exactly as
// the WGSL shaders do: table[level] gives the indirection record, which
// gives the field addresses and the level geometry. Dense level 0 maps
// global invocation ids to cells; sparse levels map the flattened
// invocation index through the level's index-offset list.
//
// Install wires the kernels into a software device:
//
//	dev := software.New(software.Options{})
//	kernels.Install(dev)
package kernels
