// Package api provides the agent's local control surface: health, status,
// on-demand processing and the live event stream.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ddasapp/ddas-agent/internal/agent"
	"github.com/ddasapp/ddas-agent/internal/http/response"
	"github.com/ddasapp/ddas-agent/internal/processor"
	"github.com/ddasapp/ddas-agent/internal/ratelimit"
	"github.com/ddasapp/ddas-agent/internal/validation"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "ddas-agent"

// Agent is what the handlers need from agent.Agent.
type Agent interface {
	ProcessManual(ctx context.Context, path, credential string) processor.Result
	Status() agent.Status
	WatcherState() string
}

// Options configures the HTTP surface.
type Options struct {
	Version      string
	CORSOrigins  []string
	ProcessRPS   float64
	ProcessBurst int
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	agent     Agent
	events    http.Handler
	router    *chi.Mux
	api       huma.API
	limiter   *ratelimit.KeyedRateLimiter
	validator *validation.Validator
	logger    *slog.Logger
	opts      Options
}

// NewServer creates a new HTTP server with all routes configured.
// events serves the SSE stream; it may be nil.
func NewServer(ag Agent, events http.Handler, opts Options, logger *slog.Logger) *Server {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.ProcessRPS <= 0 {
		opts.ProcessRPS = 2
	}
	if opts.ProcessBurst <= 0 {
		opts.ProcessBurst = 5
	}

	s := &Server{
		agent:     ag,
		events:    events,
		router:    chi.NewRouter(),
		limiter:   ratelimit.New(opts.ProcessRPS, opts.ProcessBurst),
		validator: validation.New(),
		logger:    logger.With("component", "api"),
		opts:      opts,
	}

	s.setupMiddleware()

	humaConfig := huma.DefaultConfig("DDAS Agent API", opts.Version)
	humaConfig.Transformers = append(humaConfig.Transformers, EnvelopeTransformer)
	s.api = humachi.New(s.router, humaConfig)
	RegisterErrorHandler()

	s.setupRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close releases the rate limiter's background sweeper.
func (s *Server) Close() {
	s.limiter.Stop()
}

// setupMiddleware configures middleware stack.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	s.router.Use(RateLimitMiddleware(s.limiter, isProcessRequest, s.logger))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.registerHealthRoutes()
	s.registerStatusRoutes()
	s.registerProcessRoutes()

	if s.events != nil {
		s.router.Get("/api/v1/events", s.events.ServeHTTP)
	}

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, "no route for "+r.URL.Path, s.logger)
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.MethodNotAllowed(w, r.Method+" not allowed on "+r.URL.Path, s.logger)
	})
}

// requestLogger logs one line per request after it completes.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
