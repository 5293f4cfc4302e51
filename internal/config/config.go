// Package config loads the driver's YAML configuration and watches it for
// changes to the per-frame solver tunables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gogpu/nestfluid/grid"
	"github.com/gogpu/nestfluid/solver"
)

// Run holds the options of a headless run.
type Run struct {
	// Steps is the number of frames to simulate. If 0, defaults to 100.
	Steps int `yaml:"steps"`

	// DT is the time step in seconds. If 0, defaults to 1/60.
	DT float32 `yaml:"dt"`

	// Backend selects a backend by name. Empty selects the best available.
	Backend string `yaml:"backend"`

	// ShaderDir holds the WGSL shaders of the native backend.
	ShaderDir string `yaml:"shader_dir"`

	// FeedAddr is the listen address of the visualization feed. Empty disables it.
	FeedAddr string `yaml:"feed_addr"`

	// MetricsAddr is the listen address of the /metrics endpoint. Empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`

	// SnapshotEvery captures a feed snapshot every N frames. If 0, defaults to 1.
	SnapshotEvery int `yaml:"snapshot_every"`
}

// File is the on-disk configuration.
type File struct {
	Settings grid.Settings `yaml:"settings"`
	Solver   solver.Config `yaml:"solver"`
	Run      Run           `yaml:"run"`
}

// Default returns the configuration used when no file is given.
func Default() File {
	return File{
		Settings: grid.DefaultSettings(),
		Solver:   solver.DefaultConfig(),
		Run:      Run{Steps: 100, DT: 1.0 / 60, SnapshotEvery: 1},
	}
}

func (f File) withDefaults() File {
	if f.Run.Steps <= 0 {
		f.Run.Steps = 100
	}
	if f.Run.DT <= 0 {
		f.Run.DT = 1.0 / 60
	}
	if f.Run.SnapshotEvery <= 0 {
		f.Run.SnapshotEvery = 1
	}
	f.Settings = f.Settings.WithDefaults()
	return f
}

// Parse decodes a configuration over the defaults. Keys the document
// omits keep their default values; unknown keys are an error.
func Parse(r io.Reader) (File, error) {
	f := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("config: decode: %w", err)
	}
	f = f.withDefaults()
	if err := f.Settings.Validate(); err != nil {
		return File{}, fmt.Errorf("config: settings: %w", err)
	}
	if len(f.Solver.Sources) > grid.MaxSources {
		return File{}, fmt.Errorf("config: %d sources exceed the limit of %d", len(f.Solver.Sources), grid.MaxSources)
	}
	return f, nil
}

// Load reads and parses the file at path.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("config: %w", err)
	}
	f, err := Parse(bytes.NewReader(data))
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Marshal encodes f as YAML.
func Marshal(f File) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return nil, fmt.Errorf("config: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("config: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// DefaultDebounce is the quiet period Watch waits for after the last
// file event before reloading.
const DefaultDebounce = 200 * time.Millisecond
