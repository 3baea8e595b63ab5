// Package manifest handles cinder.toml runtime configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/cinder/compiler"
	"github.com/chazu/cinder/vm"
)

// FileName is the name of the configuration file.
const FileName = "cinder.toml"

// Manifest represents a cinder.toml configuration.
type Manifest struct {
	Interpreter Interpreter `toml:"interpreter"`
	Compiler    Compiler    `toml:"compiler"`
	Log         Log         `toml:"log"`

	// Dir is the directory containing the cinder.toml file (set at load time).
	Dir string `toml:"-"`
}

// Interpreter configures execution limits.
type Interpreter struct {
	MaxFrameDepth    int   `toml:"max-frame-depth"`
	InstructionLimit int64 `toml:"instruction-limit"`
	CheckInterval    int   `toml:"check-interval"`
}

// Compiler configures code generation.
type Compiler struct {
	DebugInfo bool `toml:"debug-info"`
}

// Log configures logging.
type Log struct {
	Debug   bool `toml:"debug"`
	NoColor bool `toml:"no-color"`
}

// Default returns the configuration used when no cinder.toml exists.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Interpreter.MaxFrameDepth <= 0 {
		m.Interpreter.MaxFrameDepth = vm.DefaultMaxFrameDepth
	}
	if m.Interpreter.CheckInterval <= 0 {
		m.Interpreter.CheckInterval = vm.DefaultCheckInterval
	}
	if m.Interpreter.InstructionLimit < 0 {
		m.Interpreter.InstructionLimit = 0
	}
}

// Load parses a cinder.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %s", path, undecoded[0])
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	m.applyDefaults()
	return &m, nil
}

// FindAndLoad walks up from startDir to find a cinder.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// InterpreterOptions converts the [interpreter] section to vm options.
func (m *Manifest) InterpreterOptions() []vm.Option {
	return []vm.Option{
		vm.WithMaxFrameDepth(m.Interpreter.MaxFrameDepth),
		vm.WithInstructionLimit(m.Interpreter.InstructionLimit),
		vm.WithCheckInterval(m.Interpreter.CheckInterval),
	}
}

// CompilerOptions converts the [compiler] section to compiler options.
func (m *Manifest) CompilerOptions() []compiler.Option {
	return []compiler.Option{
		compiler.WithDebugInfo(m.Compiler.DebugInfo),
	}
}
