package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sheerbytes/fluxcopy/internal/app"
	"github.com/sheerbytes/fluxcopy/internal/config"
	"github.com/sheerbytes/fluxcopy/internal/logging"
	"github.com/sheerbytes/fluxcopy/internal/termio"
	"github.com/spf13/afero"
)

const (
	serverVersion   = "v0.1.0"
	shutdownTimeout = 5 * time.Second
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	termio.Init()
	defer termio.Sync()

	if hasVersionFlag(args) {
		fmt.Fprintln(termio.Stdout(), "fluxcpd", serverVersion)
		return 0
	}

	cfg, err := config.ParseServerConfig(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(termio.Stderr(), "error: %v\n", err)
		if errors.Is(err, config.ErrUsage) {
			fmt.Fprintln(termio.Stderr(), "usage: fluxcpd [flags] (run fluxcpd -h for the list of flags)")
			return 2
		}
		return 1
	}

	logger := logging.NewWithWriter(termio.Stderr(), "fluxcpd", cfg.LogLevel)
	fsys := afero.NewOsFs()

	if err := app.CheckOutDir(fsys, cfg.OutDir); err != nil {
		logger.Error("invalid output directory", "error", err)
		return 1
	}

	tr, err := app.NewTransport(cfg.Transport, cfg.SocketBuffer, logger)
	if err != nil {
		logger.Error("invalid transport", "error", err)
		return 2
	}
	ln, err := tr.Listen(cfg.Addr, cfg.MaxConns)
	if err != nil {
		logger.Error("listen failed", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := app.NewServer(fsys, app.ServerOptions{
		OutDir:      cfg.OutDir,
		StrictNames: cfg.StrictNames,
		ChunkSize:   cfg.ChunkSize,
	}, logger)

	var health *http.Server
	if cfg.HealthAddr != "" {
		health = &http.Server{
			Addr:              cfg.HealthAddr,
			Handler:           app.NewHealthHandler(srv.Stats),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("health endpoint listening", "addr", cfg.HealthAddr)
			if err := health.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("health server failed", "error", err)
			}
		}()
	}

	serveErr := srv.Serve(ctx, ln)

	if health != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		_ = health.Shutdown(shutdownCtx)
		cancel()
	}
	if serveErr != nil {
		logger.Error("server failed", "error", serveErr)
		return 1
	}
	logger.Info("shutdown complete")
	return 0
}

func hasVersionFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--version" || arg == "-version" {
			return true
		}
	}
	return false
}
