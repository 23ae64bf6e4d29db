package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddasapp/ddas-agent/internal/agent"
	domainerrors "github.com/ddasapp/ddas-agent/internal/errors"
	"github.com/ddasapp/ddas-agent/internal/processor"
)

type processCall struct {
	path       string
	credential string
}

type fakeAgent struct {
	result func(path string) processor.Result
	calls  []processCall
	mu     sync.Mutex
}

func (f *fakeAgent) ProcessManual(_ context.Context, path, credential string) processor.Result {
	f.mu.Lock()
	f.calls = append(f.calls, processCall{path: path, credential: credential})
	f.mu.Unlock()
	if f.result != nil {
		return f.result(path)
	}
	return processor.Result{
		Outcome:  processor.OutcomeUploaded,
		Path:     path,
		Filename: "report.pdf",
		Message:  "File 'report.pdf' uploaded successfully",
	}
}

func (f *fakeAgent) Status() agent.Status {
	return agent.Status{
		StartedAt:    time.Now(),
		Uptime:       "1m0s",
		WatcherState: agent.WatcherRunning,
		InFlight:     []string{},
		Recent:       []processor.Result{{Outcome: processor.OutcomeDuplicate, Filename: "old.zip"}},
		Totals:       agent.Totals{Duplicate: 1},
	}
}

func (f *fakeAgent) WatcherState() string { return agent.WatcherRunning }

func (f *fakeAgent) lastCall(t *testing.T) processCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.calls)
	return f.calls[len(f.calls)-1]
}

type testServer struct {
	*Server
	api   humatest.TestAPI
	agent *fakeAgent
}

func setupTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()

	ag := &fakeAgent{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	events := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event: connected\ndata: {}\n\n")
	})

	s := NewServer(ag, events, opts, logger)
	t.Cleanup(s.Close)

	return &testServer{Server: s, api: humatest.Wrap(t, s.api), agent: ag}
}

func decodeEnvelope(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var env map[string]any
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Equal(t, float64(EnvelopeVersion), env["v"])
	return env
}

func TestHealthCheck(t *testing.T) {
	ts := setupTestServer(t, Options{Version: "1.2.3"})

	resp := ts.api.Get("/health")
	require.Equal(t, http.StatusOK, resp.Code)

	env := decodeEnvelope(t, resp.Body.Bytes())
	assert.Equal(t, true, env["success"])

	data, ok := env["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "healthy", data["status"])
	assert.Equal(t, ServiceName, data["service"])
	assert.Equal(t, "1.2.3", data["version"])
	assert.Equal(t, agent.WatcherRunning, data["watcher"])
}

func TestGetStatus(t *testing.T) {
	ts := setupTestServer(t, Options{})

	resp := ts.api.Get("/api/v1/status")
	require.Equal(t, http.StatusOK, resp.Code)

	env := decodeEnvelope(t, resp.Body.Bytes())
	data, ok := env["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, agent.WatcherRunning, data["watcher_state"])

	recent, ok := data["recent"].([]any)
	require.True(t, ok)
	assert.Len(t, recent, 1)
}

func TestProcess_BodyCredential(t *testing.T) {
	ts := setupTestServer(t, Options{})

	resp := ts.api.Post("/process", map[string]any{
		"path":       "/downloads/report.pdf",
		"auth_token": "body-token",
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	env := decodeEnvelope(t, resp.Body.Bytes())
	data, ok := env["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "UPLOADED", data["outcome"])

	assert.Equal(t, processCall{path: "/downloads/report.pdf", credential: "body-token"}, ts.agent.lastCall(t))
}

func TestProcess_BearerCredential(t *testing.T) {
	ts := setupTestServer(t, Options{})

	resp := ts.api.Post("/api/v1/process",
		"Authorization: Bearer header-token",
		map[string]any{"path": "/downloads/report.pdf"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	assert.Equal(t, "header-token", ts.agent.lastCall(t).credential)
}

func TestProcess_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{name: "missing path", body: map[string]any{"auth_token": "t"}, field: "path"},
		{name: "relative path", body: map[string]any{"path": "report.pdf", "auth_token": "t"}, field: "path"},
		{name: "missing credential", body: map[string]any{"path": "/downloads/report.pdf"}, field: "auth_token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := setupTestServer(t, Options{})

			resp := ts.api.Post("/process", tt.body)
			require.Equal(t, http.StatusBadRequest, resp.Code)

			env := decodeEnvelope(t, resp.Body.Bytes())
			assert.Equal(t, false, env["success"])
			assert.Equal(t, string(domainerrors.CodeInput), env["code"])

			details, ok := env["details"].(map[string]any)
			require.True(t, ok)
			assert.Contains(t, details, tt.field)
			assert.Empty(t, ts.agent.calls)
		})
	}
}

func TestProcess_FailedResultMapsStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    *domainerrors.Error
		status int
	}{
		{name: "not found", err: domainerrors.NotFoundf("file not found"), status: http.StatusNotFound},
		{name: "busy", err: domainerrors.Busyf("already processing"), status: http.StatusConflict},
		{name: "rejected", err: domainerrors.Wrapf(assert.AnError, domainerrors.CodeRemoteRejected, "upload failed: HTTP 500"), status: http.StatusBadGateway},
		{name: "fingerprint", err: domainerrors.Wrap(assert.AnError, domainerrors.CodeFingerprint, "read failed"), status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := setupTestServer(t, Options{})
			ts.agent.result = func(path string) processor.Result {
				return processor.Rejected(path, tt.err)
			}

			resp := ts.api.Post("/process", map[string]any{"path": "/downloads/x.bin", "auth_token": "t"})
			require.Equal(t, tt.status, resp.Code, resp.Body.String())

			env := decodeEnvelope(t, resp.Body.Bytes())
			assert.Equal(t, string(tt.err.Code), env["code"])

			details, ok := env["details"].(map[string]any)
			require.True(t, ok, "failed result should be carried in details")
			assert.Equal(t, "FAILED", details["outcome"])
			assert.Equal(t, "x.bin", details["filename"])
		})
	}
}

func TestProcess_RateLimited(t *testing.T) {
	ts := setupTestServer(t, Options{ProcessRPS: 0.001, ProcessBurst: 1})

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/process",
			strings.NewReader(`{"path":"/downloads/a.bin","auth_token":"t"}`))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "10.0.0.7:5555"
		rec := httptest.NewRecorder()
		ts.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, post().Code)

	limited := post()
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))

	// Other endpoints are not limited.
	assert.Equal(t, http.StatusOK, ts.api.Get("/health").Code)
}

func TestCORS_AllowsConfiguredOrigin(t *testing.T) {
	ts := setupTestServer(t, Options{CORSOrigins: []string{"chrome-extension://*"}})

	req := httptest.NewRequest(http.MethodOptions, "/process", nil)
	req.Header.Set("Origin", "chrome-extension://abcdef")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)

	assert.Equal(t, "chrome-extension://abcdef", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	ts.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestEventsRoute(t *testing.T) {
	ts := setupTestServer(t, Options{})

	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
}

func TestUnknownRoute(t *testing.T) {
	ts := setupTestServer(t, Options{})

	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), string(domainerrors.CodeNotFound))
}
