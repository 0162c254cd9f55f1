package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	appLog "edscal/internal/log"
)

const version = "0.3.0"

func main() {
	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := newApp(ctx).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		cancel()
		os.Exit(1)
	}
}
