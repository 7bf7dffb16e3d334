package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sheerbytes/fluxcopy/internal/app"
	"github.com/sheerbytes/fluxcopy/internal/config"
	"github.com/sheerbytes/fluxcopy/internal/logging"
	"github.com/sheerbytes/fluxcopy/internal/termio"
	"github.com/sheerbytes/fluxcopy/internal/transport"
	"github.com/sheerbytes/fluxcopy/pkg/manifest"
	"github.com/spf13/afero"
)

const version = "v0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	termio.Init()
	defer termio.Sync()

	if hasVersionFlag(args) {
		fmt.Fprintln(termio.Stdout(), "fluxcp", version)
		return 0
	}

	cfg, err := config.ParseClientConfig(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(termio.Stderr(), "error: %v\n", err)
		if errors.Is(err, config.ErrUsage) {
			printUsage()
			return 2
		}
		return 1
	}

	logger := logging.NewWithWriter(termio.Stderr(), "fluxcp", cfg.LogLevel)
	fsys := afero.NewOsFs()

	m, err := manifest.Scan(fsys, cfg.SourceDir)
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "error: %v\n", err)
		if errors.Is(err, manifest.ErrNotDirectory) || errors.Is(err, manifest.ErrEmpty) {
			return 2
		}
		return 1
	}
	for _, name := range m.Skipped {
		logger.Debug("skipping entry that is not a regular file", "name", name)
	}

	tr, err := app.NewTransport(cfg.Transport, cfg.SocketBuffer, logger)
	if err != nil {
		fmt.Fprintf(termio.Stderr(), "error: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := app.NewClient(tr, fsys, app.ClientOptions{
		Addr:        cfg.Addr,
		Concurrency: cfg.Concurrency,
		ChunkSize:   cfg.ChunkSize,

		ProgressInterval: cfg.ProgressInterval,
	}, logger)
	report, err := client.Run(ctx, m.Files)
	if err != nil {
		logger.Error("transfer failed", "error", err)
		return 1
	}

	s := report.Summary
	fmt.Fprintf(termio.Stdout(), "sent %d/%d files from %s: %s of %s in %.3fs (%s) over %d connection(s)\n",
		report.Confirmed(), report.Files, m.Root,
		transport.FormatMB(s.Bytes), transport.FormatMB(s.Total),
		s.Elapsed.Seconds(), transport.FormatRate(s.Bytes, s.Elapsed),
		report.Connections(),
	)
	if !report.OK() {
		return 1
	}
	return 0
}

func printUsage() {
	fmt.Fprintln(termio.Stderr(), "usage: fluxcp [flags] <source-directory> [concurrency]")
	fmt.Fprintln(termio.Stderr(), "run fluxcp -h for the list of flags")
}

func hasVersionFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--version" || arg == "-version" {
			return true
		}
	}
	return false
}
