package providers

import (
	"context"
	"fmt"

	"github.com/samber/do/v2"

	"github.com/ddasapp/ddas-agent/internal/agent"
	"github.com/ddasapp/ddas-agent/internal/config"
	"github.com/ddasapp/ddas-agent/internal/logger"
	"github.com/ddasapp/ddas-agent/internal/sse"
	"github.com/ddasapp/ddas-agent/internal/watcher"
)

// SSEManagerHandle wraps the SSE manager with its context for lifecycle management.
type SSEManagerHandle struct {
	*sse.Manager
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *SSEManagerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := h.Manager.Shutdown(ctx)
	h.cancel()
	return err
}

// ProvideSSEManager provides the server-sent events manager.
func ProvideSSEManager(i do.Injector) (*SSEManagerHandle, error) {
	log := do.MustInvoke[*logger.Logger](i)

	manager := sse.NewManager(log.With("component", "sse"))

	// Start in background
	ctx, cancel := context.WithCancel(context.Background())
	manager.Start(ctx)

	log.Info("SSE manager started")

	return &SSEManagerHandle{
		Manager: manager,
		cancel:  cancel,
	}, nil
}

// FileWatcherHandle wraps the download watcher with shutdown capability.
// Watcher is nil when watching is disabled.
type FileWatcherHandle struct {
	*watcher.Watcher
	cancel context.CancelFunc
	done   chan struct{}
}

// Shutdown implements do.Shutdownable. It waits until files being
// processed reach a terminal state.
func (h *FileWatcherHandle) Shutdown() error {
	if h.Watcher == nil {
		return nil
	}
	h.cancel()
	<-h.done
	return nil
}

// ProvideFileWatcher provides the download directory watcher.
func ProvideFileWatcher(i do.Injector) (*FileWatcherHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	ag := do.MustInvoke[*agent.Agent](i)

	if !cfg.Watch.Enabled {
		log.Info("Download watcher disabled by configuration")
		return &FileWatcherHandle{}, nil
	}

	w, err := watcher.New(cfg.Watch.Dir, ag, log.Logger, watcher.Options{
		OnTransition:    ag.OnTransition,
		Backend:         cfg.Watch.Backend,
		PartialSuffixes: cfg.Watch.PartialSuffixes,
		PollInterval:    cfg.Watch.PollInterval,
		GraceDelay:      cfg.Watch.GraceDelay,
		Timeout:         cfg.Watch.Timeout,
		StableReadings:  cfg.Watch.StableReadings,
	})
	if err != nil {
		return nil, err
	}
	if err := w.Open(); err != nil {
		return nil, fmt.Errorf("download watcher: %w", err)
	}
	ag.AttachWatcher(w)

	// Start in background
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		if err := w.Run(ctx); err != nil {
			log.Error("Download watcher stopped", "error", err, "dir", w.Dir())
		}
	}()

	log.Info("Download watcher started", "dir", w.Dir())

	return &FileWatcherHandle{
		Watcher: w,
		cancel:  cancel,
		done:    done,
	}, nil
}
