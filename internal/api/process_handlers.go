package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/ddasapp/ddas-agent/internal/processor"
)

func (s *Server) registerProcessRoutes() {
	op := huma.Operation{
		Method:  http.MethodPost,
		Summary: "Process a file",
		Description: "Fingerprints the file, checks the registry for a duplicate and uploads it when new. " +
			"The credential comes from auth_token or an Authorization: Bearer header.",
		Tags: []string{"Process"},
	}

	legacy := op
	legacy.OperationID = "processFileLegacy"
	legacy.Path = "/process"
	huma.Register(s.api, legacy, s.handleProcess)

	v1 := op
	v1.OperationID = "processFile"
	v1.Path = "/api/v1/process"
	huma.Register(s.api, v1, s.handleProcess)
}

// ProcessRequest is the body of a processing request.
type ProcessRequest struct {
	Path      string `json:"path,omitempty" doc:"Absolute path of the file to process"`
	AuthToken string `json:"auth_token,omitempty" doc:"Registry credential; falls back to the Authorization header"`
}

// ProcessInput wraps the processing request for Huma.
type ProcessInput struct {
	Authorization string `header:"Authorization" doc:"Bearer credential for the registry"`
	Body          ProcessRequest
}

// ProcessOutput wraps a successful result for Huma.
type ProcessOutput struct {
	Body processor.Result
}

// processCommand is the request after the credential has been resolved.
type processCommand struct {
	Path       string `json:"path" validate:"required,abspath"`
	Credential string `json:"auth_token" validate:"required"`
}

func (s *Server) handleProcess(ctx context.Context, input *ProcessInput) (*ProcessOutput, error) {
	cmd := processCommand{
		Path:       strings.TrimSpace(input.Body.Path),
		Credential: input.Body.AuthToken,
	}
	if cmd.Credential == "" {
		cmd.Credential = bearerToken(input.Authorization)
	}

	if err := s.validator.Validate(cmd); err != nil {
		return nil, toAPIError(err)
	}

	result := s.agent.ProcessManual(ctx, cmd.Path, cmd.Credential)
	if result.Failed() {
		return nil, toAPIError(result.AsError())
	}
	return &ProcessOutput{Body: result}, nil
}

// bearerToken extracts the token from an Authorization header value.
func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
