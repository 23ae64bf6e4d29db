package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ddasapp/ddas-agent/internal/agent"
	"github.com/ddasapp/ddas-agent/internal/api"
	"github.com/ddasapp/ddas-agent/internal/processor"
)

// envelope mirrors api.APIEnvelope and api.APIErrorEnvelope on the wire.
type envelope struct {
	Data    json.RawMessage `json:"data"`
	Details json.RawMessage `json:"details"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Version int             `json:"v"`
	Success bool            `json:"success"`
}

// apiError is a non-2xx answer from the agent.
type apiError struct {
	Details json.RawMessage
	Code    string
	Message string
	Status  int
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Status)
}

type controlClient struct {
	http *http.Client
	base *url.URL
}

func newControlClient(addr string, timeout time.Duration) (*controlClient, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	base, err := url.Parse(strings.TrimRight(addr, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse --addr: %w", err)
	}
	return &controlClient{
		http: &http.Client{Timeout: timeout},
		base: base,
	}, nil
}

func (c *controlClient) Health(ctx context.Context) (api.HealthResponse, error) {
	var out api.HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, "", &out)
	return out, err
}

func (c *controlClient) Status(ctx context.Context) (agent.Status, error) {
	var out agent.Status
	err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, "", &out)
	return out, err
}

// Process asks the agent to process path. A FAILED result is returned along
// with the *apiError describing it.
func (c *controlClient) Process(ctx context.Context, path, token string) (processor.Result, error) {
	var out processor.Result
	err := c.do(ctx, http.MethodPost, "/api/v1/process", api.ProcessRequest{Path: path}, token, &out)

	var apiErr *apiError
	if errors.As(err, &apiErr) && len(apiErr.Details) > 0 {
		// Failed results travel in the error details.
		var failed processor.Result
		if json.Unmarshal(apiErr.Details, &failed) == nil && failed.Outcome != "" {
			return failed, err
		}
	}
	return out, err
}

func (c *controlClient) do(ctx context.Context, method, path string, body any, token string, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contact agent at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode %s response (HTTP %d): %w", path, resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := env.Message
		if msg == "" {
			msg = env.Error
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &apiError{Status: resp.StatusCode, Code: env.Code, Message: msg, Details: env.Details}
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s data: %w", path, err)
	}
	return nil
}
