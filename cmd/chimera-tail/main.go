// ABOUTME: CLI entrypoint for the chimera log observer TUI.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/2389-research/chimera/tail"
)

func main() {
	var logPath string
	flag.StringVar(&logPath, "log", "", "Path to the thread log (.jsonl) to follow")
	flag.Parse()

	if logPath == "" && flag.NArg() > 0 {
		logPath = flag.Arg(0)
	}
	if logPath == "" {
		fmt.Fprintln(os.Stderr, "usage: chimera-tail -log <path/to/thread.jsonl>")
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := tail.Run(ctx, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
