package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

func (s *Server) registerHealthRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "healthCheck",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Reports that the agent is up and whether the download watcher is running",
		Tags:        []string{"Health"},
	}, s.handleHealthCheck)
}

// HealthResponse contains health check data in API responses.
type HealthResponse struct {
	Timestamp time.Time `json:"timestamp" doc:"Server time"`
	Status    string    `json:"status" doc:"Always healthy while the process serves requests"`
	Service   string    `json:"service" doc:"Service name"`
	Version   string    `json:"version" doc:"Agent version"`
	Watcher   string    `json:"watcher" enum:"running,stopped,disabled" doc:"Download watcher state"`
}

// HealthOutput wraps the health response for Huma.
type HealthOutput struct {
	Body HealthResponse
}

func (s *Server) handleHealthCheck(_ context.Context, _ *struct{}) (*HealthOutput, error) {
	return &HealthOutput{
		Body: HealthResponse{
			Status:    "healthy",
			Service:   ServiceName,
			Version:   s.opts.Version,
			Timestamp: time.Now().UTC(),
			Watcher:   s.agent.WatcherState(),
		},
	}, nil
}
