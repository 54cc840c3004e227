// ABOUTME: CLI entrypoint for the chimera thread engine server.
// ABOUTME: Wires configuration, the widget catalog, and signal handling around the HTTP surface.
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

	"github.com/2389-research/chimera/server"
	"github.com/2389-research/chimera/widgets"
)

var version = "dev"

type config struct {
	bind        string
	dataDir     string
	configFile  string
	showVersion bool
}

func main() {
	loadDotEnv(".env")

	cfg := parseFlags()

	if cfg.showVersion {
		fmt.Printf("chimera %s\n", version)
		os.Exit(0)
	}

	os.Exit(run(cfg))
}

func parseFlags() config {
	var cfg config

	fs := flag.NewFlagSet("chimera", flag.ContinueOnError)
	fs.StringVar(&cfg.bind, "bind", "", "Listen address (default: CHIMERA_BIND or "+server.DefaultBind+")")
	fs.StringVar(&cfg.dataDir, "data-dir", "", "Directory for thread logs and the index (default: CHIMERA_DATA_DIR)")
	fs.StringVar(&cfg.configFile, "config", "", "Optional YAML config file")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}
	return cfg
}

// run starts the server and blocks until a signal arrives.
// Returns an exit code: 0 for success, 1 for failure.
func run(cfg config) int {
	srvCfg, err := server.LoadConfig(cfg.configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if cfg.bind != "" {
		srvCfg.Bind = cfg.bind
	}
	if cfg.dataDir != "" {
		srvCfg.DataDir = cfg.dataDir
	}

	srv, err := server.NewServer(srvCfg, widgets.DefaultRegistry())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down...")
		cancel()
	}()

	httpServer := &http.Server{
		Addr:              srvCfg.Bind,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(os.Stderr, "listening on %s\n", srvCfg.Bind)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
