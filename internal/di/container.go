// Package di provides dependency injection configuration for the DDAS agent.
package di

import (
	"github.com/samber/do/v2"

	"github.com/ddasapp/ddas-agent/internal/agent"
	"github.com/ddasapp/ddas-agent/internal/config"
	"github.com/ddasapp/ddas-agent/internal/di/providers"
	"github.com/ddasapp/ddas-agent/internal/logger"
	"github.com/ddasapp/ddas-agent/internal/processor"
	"github.com/ddasapp/ddas-agent/internal/registry"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer(launch providers.Launch) *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.ProvideValue(injector, launch)
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideInstanceLock)

	// Processing
	do.Provide(injector, providers.ProvideSSEManager)
	do.Provide(injector, providers.ProvideRegistryClient)
	do.Provide(injector, providers.ProvideProcessor)
	do.Provide(injector, providers.ProvideAgent)

	// Workers
	do.Provide(injector, providers.ProvideFileWatcher)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap initializes all services in dependency order.
// This triggers lazy initialization of all core services.
func Bootstrap(injector *do.RootScope) error {
	if _, err := do.Invoke[*config.Config](injector); err != nil {
		return err
	}
	_ = do.MustInvoke[*logger.Logger](injector)

	// Fail before anything observable starts if another agent owns the state dir.
	if _, err := do.Invoke[*providers.InstanceLock](injector); err != nil {
		return err
	}

	_ = do.MustInvoke[*providers.SSEManagerHandle](injector)
	if _, err := do.Invoke[*registry.Client](injector); err != nil {
		return err
	}
	_ = do.MustInvoke[*processor.Processor](injector)
	_ = do.MustInvoke[*agent.Agent](injector)

	if _, err := do.Invoke[*providers.FileWatcherHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*providers.HTTPServerHandle](injector); err != nil {
		return err
	}

	return nil
}
