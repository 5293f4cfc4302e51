package native

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/gogpu/nestfluid/gpucore"
)

// ErrShaderNotFound is returned when a library has no source for a shader.
var ErrShaderNotFound = errors.New("native: shader not found")

// ShaderLibrary supplies the WGSL source of each compute shader.
//
// Shader bodies live outside this module. Every shader is compiled against
// the shared binding layout described in the package documentation and
// must declare a compute entry point named "main".
type ShaderLibrary interface {
	Source(id gpucore.ShaderID) (string, error)
}

// FSLibrary loads "<id>.wgsl" files from a file system.
type FSLibrary struct {
	FS fs.FS
}

// Source reads the WGSL file of id.
func (l FSLibrary) Source(id gpucore.ShaderID) (string, error) {
	name := string(id) + ".wgsl"
	if !fs.ValidPath(name) {
		return "", fmt.Errorf("native: invalid shader id %q", id)
	}
	data, err := fs.ReadFile(l.FS, name)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %q", ErrShaderNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("native: read shader %q: %w", id, err)
	}
	return string(data), nil
}

// DirLibrary returns a library reading shaders from dir.
func DirLibrary(dir string) FSLibrary {
	return FSLibrary{FS: os.DirFS(dir)}
}

// MapLibrary serves shaders from memory.
type MapLibrary map[gpucore.ShaderID]string

// Source returns the WGSL registered for id.
func (m MapLibrary) Source(id gpucore.ShaderID) (string, error) {
	src, ok := m[id]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrShaderNotFound, id)
	}
	return src, nil
}
