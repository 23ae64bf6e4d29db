// Package main provides the entry point for the DDAS agent daemon.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/do/v2"

	"github.com/ddasapp/ddas-agent/internal/di"
	"github.com/ddasapp/ddas-agent/internal/di/providers"
	"github.com/ddasapp/ddas-agent/internal/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Create DI container
	injector := di.NewContainer(providers.Launch{
		Version: version,
		Args:    os.Args[1:],
	})

	// Bootstrap all services
	if err := di.Bootstrap(injector); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start agent: %v\n", err)
		_ = injector.Shutdown()
		os.Exit(1)
	}

	// Get logger for shutdown messages
	log := do.MustInvoke[*logger.Logger](injector)

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info("Shutting down agent gracefully...", "signal", sig.String())

	// The DI container shuts services down in reverse dependency order:
	// HTTP server, watcher (waits for files in flight), SSE manager, lock.
	if report := injector.Shutdown(); report != nil && !report.Succeed {
		log.Error("Shutdown error", "error", report)
	}

	log.Info("Agent stopped")
	_ = log.Close()
}
