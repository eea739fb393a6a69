// Package manifest handles cleo.toml project configuration.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the manifest file looked up in a project directory.
const FileName = "cleo.toml"

// Defaults applied by Load to fields left empty.
const (
	DefaultGlobals   = 0x10000
	DefaultInterval  = "10ms"
	DefaultVerbosity = 0
)

// ErrDuplicateScript is returned when two [[scripts]] entries share a name.
var ErrDuplicateScript = errors.New("duplicate script name")

// Manifest represents a cleo.toml project configuration.
type Manifest struct {
	Project Project      `toml:"project" json:"project"`
	VM      VMConfig     `toml:"vm" json:"vm"`
	Scripts []ScriptFile `toml:"scripts" json:"scripts"`
	Bundle  PathConfig   `toml:"bundle" json:"bundle"`
	Store   PathConfig   `toml:"store" json:"store"`

	// Dir is the directory containing the cleo.toml file (set at load time).
	Dir string `toml:"-" json:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name" json:"name"`
	Version string `toml:"version" json:"version"`
}

// VMConfig configures the virtual machine and its scheduler.
type VMConfig struct {
	Globals  int       `toml:"globals" json:"globals"`
	Interval string    `toml:"interval" json:"interval"`
	Ticks    uint64    `toml:"ticks" json:"ticks"` // 0 runs until every script is done
	Profile  bool      `toml:"profile" json:"profile"`
	Log      LogConfig `toml:"log" json:"log"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity" json:"verbosity"`
	File      string `toml:"file" json:"file"`
}

// ScriptFile names a raw bytecode file to load as a script.
type ScriptFile struct {
	Name string `toml:"name" json:"name"`
	Path string `toml:"path" json:"path"`
}

// PathConfig is a section holding a single file path.
type PathConfig struct {
	Path string `toml:"path" json:"path"`
}

// Load parses a cleo.toml file from the given directory, applies defaults
// and validates the result.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	if m.Project.Name == "" {
		m.Project.Name = filepath.Base(m.Dir)
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes manifest text and applies defaults. It does not validate.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	m.applyDefaults()
	return &m, nil
}

func (m *Manifest) applyDefaults() {
	if m.VM.Globals == 0 {
		m.VM.Globals = DefaultGlobals
	}
	if m.VM.Interval == "" {
		m.VM.Interval = DefaultInterval
	}
	if m.Scripts == nil {
		m.Scripts = []ScriptFile{}
	}
	for i := range m.Scripts {
		if m.Scripts[i].Name == "" {
			m.Scripts[i].Name = ScriptName(m.Scripts[i].Path)
		}
	}
}

// Validate checks the manifest against the schema and rejects duplicate
// script names.
func (m *Manifest) Validate() error {
	if err := validateSchema(m); err != nil {
		return err
	}
	seen := make(map[string]bool, len(m.Scripts))
	for _, s := range m.Scripts {
		if seen[s.Name] {
			return fmt.Errorf("%w: %q", ErrDuplicateScript, s.Name)
		}
		seen[s.Name] = true
	}
	if _, err := time.ParseDuration(m.VM.Interval); err != nil {
		return fmt.Errorf("vm.interval: %w", err)
	}
	return nil
}

// TickInterval returns the parsed [vm] interval.
func (m *Manifest) TickInterval() time.Duration {
	d, err := time.ParseDuration(m.VM.Interval)
	if err != nil {
		return 0
	}
	return d
}

// Resolve returns path relative to the manifest directory, unless it is
// already absolute or empty.
func (m *Manifest) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(m.Dir, path)
}

// ScriptName derives a script name from a bytecode file path: the base name
// without its extension.
func ScriptName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// FindAndLoad walks up from startDir to find a cleo.toml file,
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
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}
