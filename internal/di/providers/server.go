package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/samber/do/v2"

	"github.com/ddasapp/ddas-agent/internal/agent"
	"github.com/ddasapp/ddas-agent/internal/api"
	"github.com/ddasapp/ddas-agent/internal/config"
	"github.com/ddasapp/ddas-agent/internal/logger"
	"github.com/ddasapp/ddas-agent/internal/sse"
)

// HTTPServerHandle wraps http.Server with Shutdownable.
// Server is nil when the control API is disabled.
type HTTPServerHandle struct {
	*http.Server
	api *api.Server
}

// Shutdown implements do.Shutdownable.
func (h *HTTPServerHandle) Shutdown() error {
	if h.Server == nil {
		return nil
	}
	defer h.api.Close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Server.Shutdown(ctx)
}

// ProvideHTTPServer provides the control API server. The listener is bound
// before returning so an address conflict fails startup.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	launch := do.MustInvoke[Launch](i)
	ag := do.MustInvoke[*agent.Agent](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)

	// The watcher must be attached before status is served.
	_ = do.MustInvoke[*FileWatcherHandle](i)

	if !cfg.Server.Enabled {
		log.Info("Control API disabled by configuration")
		return &HTTPServerHandle{}, nil
	}

	sseHandler := sse.NewHandler(sseHandle.Manager, log.With("component", "sse"))
	handler := api.NewServer(ag, sseHandler, api.Options{
		Version:      launch.Version,
		CORSOrigins:  cfg.Server.CORSOrigins,
		ProcessRPS:   cfg.Server.ProcessRPS,
		ProcessBurst: cfg.Server.ProcessBurst,
	}, log.Logger)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		handler.Close()
		return nil, fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}

	// Start in background
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "error", err)
		}
	}()

	log.Info("Control API listening", "addr", ln.Addr().String())

	return &HTTPServerHandle{Server: srv, api: handler}, nil
}
