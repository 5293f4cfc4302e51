// Package grid defines the nested grid hierarchy and its device buffers.
//
// Level 0 is dense and coarsest. Each finer level L refines the same box by
// gridSubdivision^L per axis and is sparse: only cells whose parent is
// active are processed. Every level owns one buffer per [Field], an indirect
// dispatch descriptor and an [IndirectionRecord] holding the device address
// of each of them together with the level geometry. The hierarchy table
// lists the record addresses by level and is the only resource compute
// stages bind.
package grid
