package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/chazu/cleo/bundle"
	"github.com/chazu/cleo/manifest"
	"github.com/chazu/cleo/store"
	"github.com/chazu/cleo/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("cleo")

// scriptFile is a bytecode file to load under a script name.
type scriptFile struct {
	Name string
	Path string
}

// config is everything a run needs, merged from cleo.toml and flags.
type config struct {
	Project    string
	Verbosity  int
	LogFile    string
	Globals    int
	Interval   time.Duration
	Ticks      uint64
	Profile    bool
	BundlePath string
	DBPath     string
	Files      []scriptFile

	PackOut string
	Import  bool
	Disasm  bool
}

func defaultConfig() *config {
	return &config{
		Project:  "cleo",
		Globals:  vm.DefaultGlobalCount,
		Interval: defaultInterval,
	}
}

// applyManifest copies the manifest's settings into cfg. Relative paths
// are resolved against the manifest directory.
func (cfg *config) applyManifest(m *manifest.Manifest) {
	cfg.Project = m.Project.Name
	cfg.Verbosity = m.VM.Log.Verbosity
	cfg.LogFile = m.Resolve(m.VM.Log.File)
	cfg.Globals = m.VM.Globals
	cfg.Interval = m.TickInterval()
	cfg.Ticks = m.VM.Ticks
	cfg.Profile = m.VM.Profile
	cfg.BundlePath = m.Resolve(m.Bundle.Path)
	cfg.DBPath = m.Resolve(m.Store.Path)
	for _, s := range m.Scripts {
		cfg.Files = append(cfg.Files, scriptFile{Name: s.Name, Path: m.Resolve(s.Path)})
	}
}

// namedFiles names each path after its base name.
func namedFiles(paths []string) []scriptFile {
	files := make([]scriptFile, len(paths))
	for i, p := range paths {
		files[i] = scriptFile{Name: manifest.ScriptName(p), Path: p}
	}
	return files
}

// collect gathers every configured script into one bundle: the bundle
// file first, then the store, then individual files. A name may appear
// only once across all sources.
func collect(ctx context.Context, cfg *config, db *store.Store) (*bundle.Bundle, error) {
	b := bundle.New(cfg.Project)

	if cfg.BundlePath != "" {
		src, err := bundle.ReadFile(cfg.BundlePath)
		if err != nil {
			return nil, err
		}
		for _, e := range src.Scripts {
			if err := b.Add(e.Name, e.Code); err != nil {
				return nil, err
			}
		}
	}

	if db != nil && !cfg.Import {
		lib, err := db.Export(ctx, cfg.Project)
		if err != nil {
			return nil, err
		}
		for _, e := range lib.Scripts {
			if err := b.Add(e.Name, e.Code); err != nil {
				return nil, err
			}
		}
	}

	for _, f := range cfg.Files {
		code, err := os.ReadFile(f.Path)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", f.Path, err)
		}
		if err := b.Add(f.Name, code); err != nil {
			return nil, fmt.Errorf("%s: %w", f.Path, err)
		}
	}
	return b, nil
}

// run loads the configured scripts and carries out the requested action.
func run(ctx context.Context, cfg *config, stdout io.Writer) error {
	var db *store.Store
	if cfg.DBPath != "" {
		var err error
		db, err = store.Open(ctx, cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()
	} else if cfg.Import {
		return errors.New("-import needs a -db store")
	}

	b, err := collect(ctx, cfg, db)
	if err != nil {
		return err
	}

	switch {
	case cfg.PackOut != "":
		if err := bundle.WriteFile(cfg.PackOut, b); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Packed %d scripts into %s\n", len(b.Scripts), cfg.PackOut)
		return nil
	case cfg.Import:
		if err := db.Import(ctx, b); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Imported %d scripts into %s\n", len(b.Scripts), cfg.DBPath)
		return nil
	case cfg.Disasm:
		for _, e := range b.Scripts {
			fmt.Fprintf(stdout, "== %s (%d bytes)\n%s\n", e.Name, len(e.Code), vm.Disassemble(e.Code))
		}
		return nil
	}

	if len(b.Scripts) == 0 {
		return errors.New("no scripts to run")
	}

	opts := []vm.Option{vm.WithGlobals(cfg.Globals), vm.WithOutput(stdout)}
	var prof *vm.Profiler
	if cfg.Profile {
		prof = vm.NewProfiler()
		prof.OnHot = func(op vm.Opcode, p *vm.OpcodeProfile) {
			log.Debugf("opcode %s is hot (%d dispatches)", op, p.Dispatches)
		}
		opts = append(opts, vm.WithProfiler(prof))
	}
	v := vm.New(opts...)
	vm.RegisterDefaultOpcodes(v)
	if err := b.Install(v); err != nil {
		return err
	}

	err = execute(ctx, v, cfg.Interval, cfg.Ticks)
	if errors.Is(err, context.Canceled) {
		log.Notice("interrupted")
		err = nil
	}
	log.Infof("stopped after %d ticks", v.Ticks())

	if prof != nil {
		printProfile(stdout, prof)
	}
	return err
}

// execute ticks v until every script is done, limit ticks have run (when
// non-zero), or ctx is cancelled.
func execute(ctx context.Context, v *vm.VM, interval time.Duration, limit uint64) error {
	if limit == 0 {
		return v.Run(ctx, interval)
	}

	var ticker *time.Ticker
	if interval > 0 {
		ticker = time.NewTicker(interval)
		defer ticker.Stop()
	}
	for v.Ticks() < limit {
		if err := ctx.Err(); err != nil {
			return err
		}
		v.Tick()
		if v.AllDone() {
			return nil
		}
		if ticker != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}
	return nil
}

// printProfile writes the opcode dispatch table.
func printProfile(w io.Writer, p *vm.Profiler) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OPCODE\tDISPATCHES\tERRORS")
	for _, s := range p.Snapshot() {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", s.Opcode, s.Dispatches, s.Errors)
	}
	tw.Flush()
}
