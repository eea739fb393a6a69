// Cleo CLI - loads bytecode scripts and runs them on the cleo VM
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/chazu/cleo/manifest"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

func main() {
	projectDir := flag.String("config", "", "Project directory holding cleo.toml (default: search upward from the working directory)")
	noConfig := flag.Bool("no-config", false, "Ignore cleo.toml")
	verbosity := flag.Int("v", 0, "Log verbosity: -4 silent, -2 errors, 0 notices, 1 info, 2 debug")
	logFile := flag.String("log", "", "Write logs to this file instead of stderr")
	bundlePath := flag.String("bundle", "", "Load every script from a bundle file")
	dbPath := flag.String("db", "", "Load every script from a SQLite script store")
	packOut := flag.String("pack", "", "Write the loaded scripts to a bundle file and exit")
	importDB := flag.Bool("import", false, "Save the loaded scripts into the -db store and exit")
	disasm := flag.Bool("disasm", false, "Disassemble the loaded scripts and exit")
	ticks := flag.Uint64("ticks", 0, "Stop after this many ticks (0: until every script is done)")
	interval := flag.Duration("interval", 0, "Time between ticks (default from cleo.toml, else 10ms)")
	globals := flag.Int("globals", 0, "Number of global variable slots (default from cleo.toml)")
	profile := flag.Bool("profile", false, "Print opcode dispatch counts on exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cleo [options] [bytecode files...]\n\n")
		fmt.Fprintf(os.Stderr, "Runs raw bytecode scripts cooperatively, one opcode per script per tick.\n")
		fmt.Fprintf(os.Stderr, "Each file becomes a script named after its base name.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  cleo main.bc door.bc             # Run two scripts until both finish\n")
		fmt.Fprintf(os.Stderr, "  cleo -ticks 100 -interval 0 a.bc # Run 100 ticks as fast as possible\n")
		fmt.Fprintf(os.Stderr, "  cleo -pack app.cbor *.bc         # Pack scripts into a bundle\n")
		fmt.Fprintf(os.Stderr, "  cleo -bundle app.cbor -disasm    # Disassemble a bundle\n")
		fmt.Fprintf(os.Stderr, "  cleo -db lib.db -import *.bc     # Save scripts into a store\n")
	}
	flag.Parse()

	cfg := defaultConfig()

	// cleo.toml first, then explicit flags on top
	if !*noConfig {
		m, err := loadManifest(*projectDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if m != nil {
			cfg.applyManifest(m)
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "v":
			cfg.Verbosity = *verbosity
		case "log":
			cfg.LogFile = *logFile
		case "bundle":
			cfg.BundlePath = *bundlePath
		case "db":
			cfg.DBPath = *dbPath
		case "ticks":
			cfg.Ticks = *ticks
		case "interval":
			cfg.Interval = *interval
		case "globals":
			cfg.Globals = *globals
		case "profile":
			cfg.Profile = *profile
		}
	})
	cfg.PackOut = *packOut
	cfg.Import = *importDB
	cfg.Disasm = *disasm
	cfg.Files = append(cfg.Files, namedFiles(flag.Args())...)

	if cfg.LogFile != "" {
		commonlog.Configure(cfg.Verbosity, &cfg.LogFile)
	} else {
		commonlog.Configure(cfg.Verbosity, nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadManifest loads cleo.toml from dir, or searches upward from the
// working directory when dir is empty. A missing manifest is not an error
// unless dir was given.
func loadManifest(dir string) (*manifest.Manifest, error) {
	if dir != "" {
		return manifest.Load(dir)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return manifest.FindAndLoad(wd)
}

// defaultInterval matches the manifest default.
const defaultInterval = 10 * time.Millisecond
