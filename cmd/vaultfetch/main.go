// Package main is the entry point for the vaultfetch console program.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// version is set by ldflags during build.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(os.Stdout, os.Stderr, newFetcher)
	if err := cmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
