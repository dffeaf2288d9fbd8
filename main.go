package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"verdict/cmd"
	"verdict/internal/observability"
)

// main is the entry point for the verdict CLI.
func main() {
	// Set up a context that listens for interrupt signals (SIGINT, SIGTERM)
	// so an aborted run still flushes logs and removes its temp checkouts.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Graceful shutdown is not a failure.
			os.Exit(0)
		}
		os.Exit(1)
	}
}
