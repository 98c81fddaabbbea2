package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	pkgerrors "github.com/pkg/errors"

	"github.com/pgtoolkit/pg-rewind-go/internal/config"
	"github.com/pgtoolkit/pg-rewind-go/internal/control"
	"github.com/pgtoolkit/pg-rewind-go/internal/orchestrator"
	"github.com/pgtoolkit/pg-rewind-go/logger"
)

const version = "pg-rewind-go 1.0"

const usage = `pg-rewind-go [-D|--target-pgdata DIR] [--source-pgdata DIR | --source-server CONNSTR]
              [-n|--dry-run] [-v|--verbose] [-V|--version] [-?|--help]
              [--config-file FILE]

Resynchronizes a diverged target data directory against a source cluster
by copying only the files and blocks that changed after the two forked
onto separate timelines.

  -D, --target-pgdata DIR   target data directory to rewind (required)
      --source-pgdata DIR   source data directory, read locally
      --source-server CONN  source connection string, read over the wire
  -n, --dry-run             report the file map without touching the target
  -v, --verbose             log per-file actions and dump the file map
  -V, --version             print the version and exit
  -?, --help                print this message and exit
      --config-file FILE    ini file overlaying page_size/relseg_size/checksum_hook
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	fs := flag.NewFlagSet("pg-rewind-go", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }

	args := &config.CommandLineArgs{}
	var showVersion, showHelp bool

	for _, name := range []string{"D", "target-pgdata"} {
		fs.StringVar(&args.TargetDir, name, "", "target data directory")
	}
	fs.StringVar(&args.SourceDir, "source-pgdata", "", "source data directory")
	fs.StringVar(&args.SourceConn, "source-server", "", "source connection string")
	for _, name := range []string{"n", "dry-run"} {
		fs.BoolVar(&args.DryRun, name, false, "dry run")
	}
	for _, name := range []string{"v", "verbose"} {
		fs.BoolVar(&args.Verbose, name, false, "verbose")
	}
	for _, name := range []string{"V", "version"} {
		fs.BoolVar(&showVersion, name, false, "print version")
	}
	for _, name := range []string{"?", "help"} {
		fs.BoolVar(&showHelp, name, false, "print help")
	}
	fs.StringVar(&args.ConfigFile, "config-file", "", "ini config file")

	if err := fs.Parse(argv); err != nil {
		return 1
	}
	if showHelp {
		fmt.Fprint(os.Stdout, usage)
		return 0
	}
	if showVersion {
		fmt.Println(version)
		return 0
	}

	cfg, err := config.Load(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pg-rewind-go: %v\n", err)
		return 1
	}

	logLevel := "info"
	if cfg.Verbose {
		logLevel = "debug"
	}
	if err := logger.Init(logger.Config{LogLevel: logLevel}); err != nil {
		panic("pg-rewind-go: failed to initialize logger: " + err.Error())
	}

	result, err := orchestrator.Run(context.Background(), cfg)
	if err != nil {
		logger.Errorf("%v", err)
		return exitCodeFor(err)
	}

	if cfg.Verbose {
		dumpVerbose(cfg)
	}

	if result.RewindPerformed {
		logger.Infof("rewind complete")
	} else {
		logger.Infof("no rewind required")
	}
	return 0
}

// exitCodeFor implements §6's exit-code split: 1 for usage/sanity/decode/
// protocol failures, 2 when the root cause is a filesystem operation.
// pkg/errors.Cause structurally unwraps any error exposing Cause() error,
// which every wrapping layer in this codebase (juju/errors, pkg/errors,
// pingcap/errors) does, regardless of which one produced the outermost
// wrap.
func exitCodeFor(err error) int {
	root := pkgerrors.Cause(err)
	if _, ok := root.(*os.PathError); ok {
		return 2
	}
	if _, ok := root.(*os.LinkError); ok {
		return 2
	}
	return 1
}

// dumpVerbose prints the decoded target control file when -v is set.
// Best-effort: a failure here never changes the exit code, since the
// rewind itself already succeeded.
func dumpVerbose(cfg *config.Cfg) {
	buf, err := os.ReadFile(cfg.TargetDir + "/global/pg_control")
	if err != nil {
		return
	}
	cf, err := control.Read(buf)
	if err != nil {
		return
	}
	if js, err := control.DumpVerbose(cf); err == nil {
		logger.Infof("target control file: %s", js)
	}
}
