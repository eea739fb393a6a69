package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	// Create a temporary directory with a cleo.toml
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "test-app"
version = "0.1.0"

[vm]
globals = 256
interval = "5ms"
ticks = 1000
profile = true

[vm.log]
verbosity = 2
file = "cleo.log"

[[scripts]]
name = "main"
path = "bin/main.bc"

[[scripts]]
path = "bin/door.bc"

[bundle]
path = "out/app.cbor"

[store]
path = "scripts.db"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Project.Name != "test-app" {
		t.Errorf("project name = %q, want test-app", m.Project.Name)
	}
	if m.Project.Version != "0.1.0" {
		t.Errorf("project version = %q, want 0.1.0", m.Project.Version)
	}
	if m.VM.Globals != 256 {
		t.Errorf("globals = %d, want 256", m.VM.Globals)
	}
	if m.TickInterval() != 5*time.Millisecond {
		t.Errorf("interval = %v, want 5ms", m.TickInterval())
	}
	if m.VM.Ticks != 1000 || !m.VM.Profile {
		t.Errorf("vm = %+v", m.VM)
	}
	if m.VM.Log.Verbosity != 2 || m.VM.Log.File != "cleo.log" {
		t.Errorf("log = %+v", m.VM.Log)
	}
	if len(m.Scripts) != 2 {
		t.Fatalf("scripts count = %d, want 2", len(m.Scripts))
	}
	if m.Scripts[1].Name != "door" {
		t.Errorf("derived script name = %q, want door", m.Scripts[1].Name)
	}
	if got := m.Resolve(m.Bundle.Path); got != filepath.Join(m.Dir, "out", "app.cbor") {
		t.Errorf("bundle path = %q", got)
	}
	if m.Store.Path != "scripts.db" {
		t.Errorf("store path = %q, want scripts.db", m.Store.Path)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "")

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Project.Name != filepath.Base(m.Dir) {
		t.Errorf("default name = %q, want %q", m.Project.Name, filepath.Base(m.Dir))
	}
	if m.VM.Globals != DefaultGlobals {
		t.Errorf("default globals = %d, want %d", m.VM.Globals, DefaultGlobals)
	}
	if m.VM.Interval != DefaultInterval {
		t.Errorf("default interval = %q, want %q", m.VM.Interval, DefaultInterval)
	}
	if m.Scripts == nil || len(m.Scripts) != 0 {
		t.Errorf("default scripts = %v, want empty", m.Scripts)
	}
}

func TestLoadManifestSchemaViolations(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad interval", "[vm]\ninterval = \"soon\"\n"},
		{"too many globals", "[vm]\nglobals = 70000\n"},
		{"verbosity out of range", "[vm.log]\nverbosity = 9\n"},
		{"bad script name", "[[scripts]]\nname = \"has space\"\npath = \"a.bc\"\n"},
		{"script without path", "[[scripts]]\nname = \"a\"\n"},
	}
	for _, tt := range tests {
		dir := t.TempDir()
		writeManifest(t, dir, tt.content)
		if _, err := Load(dir); !errors.Is(err, ErrSchema) {
			t.Errorf("%s: err = %v, want ErrSchema", tt.name, err)
		}
	}
}

func TestLoadManifestIgnoresUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[vm]\nturbo = true\n")
	if _, err := Load(dir); err != nil {
		t.Errorf("Load: %v", err)
	}
}

func TestLoadManifestDuplicateScripts(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[[scripts]]
path = "a/main.bc"

[[scripts]]
path = "b/main.bc"
`)
	if _, err := Load(dir); !errors.Is(err, ErrDuplicateScript) {
		t.Errorf("err = %v, want ErrDuplicateScript", err)
	}
}

func TestLoadManifestParseError(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[vm\n")
	if _, err := Load(dir); err == nil {
		t.Error("expected a parse error")
	}
}

func TestFindAndLoad(t *testing.T) {
	// Create nested directory structure
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, "[project]\nname = \"found-project\"\n")

	// Should find manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Project.Name != "found-project" {
		t.Errorf("project name = %q, want found-project", m.Project.Name)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no cleo.toml exists")
	}
}

func TestScriptName(t *testing.T) {
	tests := []struct {
		path, want string
	}{
		{"main.bc", "main"},
		{"dir/door.bin", "door"},
		{"plain", "plain"},
		{"a.b.c", "a.b"},
	}
	for _, tt := range tests {
		if got := ScriptName(tt.path); got != tt.want {
			t.Errorf("ScriptName(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestResolve(t *testing.T) {
	m := &Manifest{Dir: "/app"}
	if got := m.Resolve("data/x.db"); got != "/app/data/x.db" {
		t.Errorf("Resolve relative = %q", got)
	}
	if got := m.Resolve("/abs/x.db"); got != "/abs/x.db" {
		t.Errorf("Resolve absolute = %q", got)
	}
	if got := m.Resolve(""); got != "" {
		t.Errorf("Resolve empty = %q", got)
	}
}
