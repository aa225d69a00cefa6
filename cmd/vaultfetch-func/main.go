// Package main is the entry point for the vaultfetch function host, a
// custom handler serving the secret over HTTP.
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

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
