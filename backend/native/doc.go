// Package native runs the solver on a GPU through gogpu/wgpu HAL.
//
// Device sub-allocates every solver buffer from one storage buffer, the
// arena, so device addresses are arena byte offsets. The first 256 bytes
// are never allocated and address 0 stays null. Compute shaders are WGSL
// supplied by a ShaderLibrary, compiled to SPIR-V with naga and cached by
// source hash. Every shader is compiled against one binding layout:
//
//	struct Frame {
//	    table_lo:    u32,              // arena offset of the hierarchy table
//	    table_hi:    u32,
//	    arena_words: u32,
//	    _pad:        u32,
//	    params:      array<vec4<u32>, 15>,
//	}
//
//	@group(0) @binding(0) var<storage, read_write> arena: array<u32>;
//	@group(0) @binding(1) var<uniform> frame: Frame;
//
// and declares its entry point as "main". The solver's parameter block
// occupies the first words of params.
//
// Importing the package registers the "native" backend:
//
//	import _ "github.com/gogpu/nestfluid/backend/native"
//
// Build with the nogpu tag to leave it out.
package native
