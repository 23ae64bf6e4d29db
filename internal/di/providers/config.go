// Package providers contains dependency injection providers for the DDAS agent.
package providers

import (
	"github.com/samber/do/v2"

	"github.com/ddasapp/ddas-agent/internal/config"
	"github.com/ddasapp/ddas-agent/internal/logger"
)

// Launch carries what the process was started with.
type Launch struct {
	Version string
	Args    []string
}

// ProvideConfig provides the application configuration.
func ProvideConfig(i do.Injector) (*config.Config, error) {
	launch := do.MustInvoke[Launch](i)
	return config.Load(launch.Args)
}

// ProvideLogger provides the structured logger.
func ProvideLogger(i do.Injector) (*logger.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)
	launch := do.MustInvoke[Launch](i)

	log := logger.New(logger.Config{
		Level:       logger.ParseLevel(cfg.Logger.Level),
		Format:      cfg.Logger.Format,
		File:        cfg.Logger.File,
		AddSource:   cfg.App.Environment == "development",
		Environment: cfg.App.Environment,
	})

	log.Info("Starting DDAS agent",
		"version", launch.Version,
		"environment", cfg.App.Environment,
		"log_level", cfg.Logger.Level,
		"watch_dir", cfg.Watch.Dir,
		"registry", cfg.Registry.URL,
		"state_dir", cfg.State.Dir,
	)

	return log, nil
}
