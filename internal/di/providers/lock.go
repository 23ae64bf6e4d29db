package providers

import (
	"fmt"
	"os"

	"github.com/gofrs/flock"
	"github.com/samber/do/v2"

	"github.com/ddasapp/ddas-agent/internal/config"
	"github.com/ddasapp/ddas-agent/internal/logger"
)

// InstanceLock holds the exclusive lock on the state directory.
type InstanceLock struct {
	*flock.Flock
}

// Shutdown implements do.Shutdownable.
func (h *InstanceLock) Shutdown() error {
	return h.Unlock()
}

// ProvideInstanceLock makes sure only one agent runs per state directory.
func ProvideInstanceLock(i do.Injector) (*InstanceLock, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if err := os.MkdirAll(cfg.State.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	lock := flock.New(cfg.State.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", lock.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("another agent is already running with state dir %s", cfg.State.Dir)
	}

	log.Debug("Instance lock acquired", "path", lock.Path())

	return &InstanceLock{Flock: lock}, nil
}
