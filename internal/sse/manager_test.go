package sse

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddasapp/ddas-agent/internal/processor"
	"github.com/ddasapp/ddas-agent/internal/watcher"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startManager(t *testing.T) (*Manager, context.CancelFunc) {
	t.Helper()
	m := NewManager(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	t.Cleanup(cancel)
	return m, cancel
}

func TestManager_BroadcastToAllClients(t *testing.T) {
	m, _ := startManager(t)

	a, err := m.Connect()
	require.NoError(t, err)
	b, err := m.Connect()
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, m.ClientCount())

	m.Emit(NewResultEvent(processor.Result{Outcome: processor.OutcomeUploaded, Filename: "a.pdf"}))

	for _, c := range []*Client{a, b} {
		select {
		case ev := <-c.EventChan:
			assert.Equal(t, EventProcessResult, ev.Type)
			res, ok := ev.Data.(processor.Result)
			require.True(t, ok)
			assert.Equal(t, "a.pdf", res.Filename)
		case <-time.After(time.Second):
			t.Fatalf("client %s got no event", c.ID)
		}
	}
}

func TestManager_Disconnect(t *testing.T) {
	m, _ := startManager(t)

	c, err := m.Connect()
	require.NoError(t, err)
	m.Disconnect(c.ID)
	assert.Equal(t, 0, m.ClientCount())

	_, open := <-c.EventChan
	assert.False(t, open)

	// Unknown IDs are ignored.
	m.Disconnect(c.ID)
}

func TestManager_SlowClientDropsEvents(t *testing.T) {
	m, _ := startManager(t)

	c, err := m.Connect()
	require.NoError(t, err)

	for range cap(c.EventChan) + 10 {
		m.Emit(NewTransitionEvent(watcher.Transition{Path: "/tmp/x", To: watcher.StateDiscovered}))
	}

	assert.Eventually(t, func() bool {
		return len(c.EventChan) == cap(c.EventChan)
	}, time.Second, 10*time.Millisecond)
}

func TestManager_ShutdownClosesClients(t *testing.T) {
	m, _ := startManager(t)

	c, err := m.Connect()
	require.NoError(t, err)

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, 0, m.ClientCount())

	select {
	case <-c.Done:
	case <-time.After(time.Second):
		t.Fatal("client not closed on shutdown")
	}

	// Emit and a second Shutdown after shutdown are no-ops.
	m.Emit(NewHeartbeatEvent())
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_ShutdownImmediatelyAfterStart(t *testing.T) {
	for range 50 {
		m := NewManager(testLogger())
		ctx, cancel := context.WithCancel(context.Background())
		m.Start(ctx)

		c, err := m.Connect()
		require.NoError(t, err)

		require.NoError(t, m.Shutdown(context.Background()))
		require.Equal(t, 0, m.ClientCount())
		select {
		case <-c.Done:
		default:
			t.Fatal("Shutdown returned before clients were closed")
		}
		cancel()
	}
}

func TestHandler_StreamsEvents(t *testing.T) {
	m, _ := startManager(t)
	srv := httptest.NewServer(NewHandler(m, testLogger()))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		var name, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case line == "":
				return name, data
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			}
		}
	}

	name, data := readEvent()
	assert.Equal(t, "connected", name)
	assert.Contains(t, data, `"client_id":"sse-`)

	m.Emit(NewTransitionEvent(watcher.Transition{Path: "/dl/report.pdf", From: watcher.StateStabilizing, To: watcher.StateReady}))

	name, data = readEvent()
	assert.Equal(t, string(EventWatcherTransition), name)
	assert.Contains(t, data, `"/dl/report.pdf"`)
	assert.Contains(t, data, `"READY"`)
}

func TestHandler_RejectsNonGet(t *testing.T) {
	m := NewManager(testLogger())
	rec := httptest.NewRecorder()
	NewHandler(m, testLogger()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"INPUT_ERROR"`)
	assert.Equal(t, 0, m.ClientCount())
}

// plainWriter hides the recorder's Flush method.
type plainWriter struct {
	http.ResponseWriter
}

func TestHandler_StreamingUnsupported(t *testing.T) {
	m, _ := startManager(t)
	rec := httptest.NewRecorder()

	NewHandler(m, testLogger()).ServeHTTP(plainWriter{rec}, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"code":"INTERNAL"`)
	assert.Equal(t, 0, m.ClientCount())
}
