package providers

import (
	"github.com/samber/do/v2"

	"github.com/ddasapp/ddas-agent/internal/agent"
	"github.com/ddasapp/ddas-agent/internal/config"
	"github.com/ddasapp/ddas-agent/internal/logger"
	"github.com/ddasapp/ddas-agent/internal/processor"
	"github.com/ddasapp/ddas-agent/internal/registry"
)

// ProvideRegistryClient provides the HTTP client for the duplicate registry.
func ProvideRegistryClient(i do.Injector) (*registry.Client, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	return registry.New(registry.Options{
		BaseURL:       cfg.Registry.URL,
		CheckTimeout:  cfg.Registry.CheckTimeout,
		UploadTimeout: cfg.Registry.UploadTimeout,
		MinThroughput: cfg.Registry.MinThroughput,
	}, log.With("component", "registry"))
}

// ProvideProcessor provides the file processor.
func ProvideProcessor(i do.Injector) (*processor.Processor, error) {
	client := do.MustInvoke[*registry.Client](i)
	log := do.MustInvoke[*logger.Logger](i)

	return processor.New(client, log.With("component", "processor")), nil
}

// ProvideAgent provides the agent that ties the watcher, processor and event stream together.
func ProvideAgent(i do.Injector) (*agent.Agent, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	proc := do.MustInvoke[*processor.Processor](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)

	if cfg.Watch.Enabled && cfg.Registry.Token == "" {
		log.Warn("REGISTRY_TOKEN is not set; files found by the watcher will fail without contacting the registry")
	}

	return agent.New(proc, sseHandle.Manager, cfg.Registry.Token, log.Logger), nil
}
