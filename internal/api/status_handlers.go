package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/ddasapp/ddas-agent/internal/agent"
)

func (s *Server) registerStatusRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "getStatus",
		Method:      http.MethodGet,
		Path:        "/api/v1/status",
		Summary:     "Agent status",
		Description: "Returns tracked downloads, watcher counters, in-flight paths and the most recent results",
		Tags:        []string{"Status"},
	}, s.handleGetStatus)
}

// StatusOutput wraps the agent snapshot for Huma.
type StatusOutput struct {
	Body agent.Status
}

func (s *Server) handleGetStatus(_ context.Context, _ *struct{}) (*StatusOutput, error) {
	return &StatusOutput{Body: s.agent.Status()}, nil
}
