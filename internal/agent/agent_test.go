package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/ddasapp/ddas-agent/internal/errors"
	"github.com/ddasapp/ddas-agent/internal/processor"
	"github.com/ddasapp/ddas-agent/internal/sse"
	"github.com/ddasapp/ddas-agent/internal/watcher"
)

type call struct {
	path       string
	credential string
}

type fakeProcessor struct {
	calls []call
	mu    sync.Mutex
}

func (f *fakeProcessor) Process(_ context.Context, path, credential string) processor.Result {
	f.mu.Lock()
	f.calls = append(f.calls, call{path: path, credential: credential})
	f.mu.Unlock()
	return processor.Result{
		Outcome:  processor.OutcomeUploaded,
		Path:     path,
		Filename: filepath.Base(path),
		Message:  fmt.Sprintf("File '%s' uploaded successfully", filepath.Base(path)),
	}
}

func (f *fakeProcessor) InFlight() []string { return nil }

func (f *fakeProcessor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingEmitter struct {
	events []sse.Event
	mu     sync.Mutex
}

func (r *recordingEmitter) Emit(ev sse.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingEmitter) types() []sse.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sse.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAgent_HandleUsesConfiguredCredential(t *testing.T) {
	proc := &fakeProcessor{}
	events := &recordingEmitter{}
	a := New(proc, events, "watcher-token", testLogger())

	a.Handle(context.Background(), "/downloads/report.pdf")

	require.Equal(t, 1, proc.callCount())
	assert.Equal(t, call{path: "/downloads/report.pdf", credential: "watcher-token"}, proc.calls[0])
	assert.Equal(t, []sse.EventType{sse.EventProcessResult}, events.types())

	recent := a.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, "report.pdf", recent[0].Filename)
}

func TestAgent_ProcessManualPassesRequestCredential(t *testing.T) {
	proc := &fakeProcessor{}
	a := New(proc, nil, "watcher-token", testLogger())

	r := a.ProcessManual(context.Background(), "/downloads/a.zip", "user-token")

	assert.Equal(t, processor.OutcomeUploaded, r.Outcome)
	require.Equal(t, 1, proc.callCount())
	assert.Equal(t, "user-token", proc.calls[0].credential)
}

func TestAgent_ProcessManualBusyWhileWatcherTracks(t *testing.T) {
	proc := &fakeProcessor{}
	a := New(proc, nil, "token", testLogger())

	dir := t.TempDir()
	w, err := watcher.New(dir, a, testLogger(), watcher.Options{
		PollInterval: 10 * time.Millisecond,
		Timeout:      2 * time.Second,
		GraceDelay:   time.Millisecond,
	})
	require.NoError(t, err)
	a.AttachWatcher(w)

	// An empty file never stabilizes, so it stays tracked until the timeout.
	path := filepath.Join(dir, "pending.bin")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, w.Submit(ctx, path))

	r := a.ProcessManual(context.Background(), path, "user-token")
	assert.Equal(t, processor.OutcomeFailed, r.Outcome)
	assert.Equal(t, domainerrors.CodeBusy, r.Code)
	assert.Zero(t, proc.callCount())

	cancel()
	w.Wait()
	assert.Equal(t, int64(1), a.Status().Totals.Failed)
}

func TestAgent_OnTransitionEmits(t *testing.T) {
	events := &recordingEmitter{}
	a := New(&fakeProcessor{}, events, "", testLogger())

	a.OnTransition(watcher.Transition{Path: "/dl/x", To: watcher.StateDiscovered, Size: -1})
	a.OnTransition(watcher.Transition{Path: "/dl/x", From: watcher.StateDiscovered, To: watcher.StateStabilizing, Size: 10})
	a.OnTransition(watcher.Transition{Path: "/dl/x", From: watcher.StateStabilizing, To: watcher.StateAbandoned, Size: 10})

	assert.Equal(t, []sse.EventType{
		sse.EventWatcherTransition,
		sse.EventWatcherTransition,
		sse.EventWatcherTransition,
	}, events.types())
}

func TestAgent_HistoryKeepsNewest(t *testing.T) {
	a := New(&fakeProcessor{}, nil, "token", testLogger())

	for i := range HistorySize + 10 {
		a.Handle(context.Background(), fmt.Sprintf("/dl/file-%02d", i))
	}

	recent := a.Recent()
	require.Len(t, recent, HistorySize)
	assert.Equal(t, fmt.Sprintf("file-%02d", HistorySize+9), recent[0].Filename)
	assert.Equal(t, "file-10", recent[HistorySize-1].Filename)
	assert.Equal(t, int64(HistorySize+10), a.Status().Totals.Uploaded)
}

func TestAgent_Status(t *testing.T) {
	a := New(&fakeProcessor{}, nil, "token", testLogger())

	s := a.Status()
	assert.Equal(t, WatcherDisabled, s.WatcherState)
	assert.Nil(t, s.Watcher)
	assert.NotNil(t, s.InFlight)
	assert.Empty(t, s.Recent)

	w, err := watcher.New(t.TempDir(), a, testLogger(), watcher.Options{})
	require.NoError(t, err)
	a.AttachWatcher(w)

	s = a.Status()
	assert.Equal(t, WatcherStopped, s.WatcherState)
	require.NotNil(t, s.Watcher)
	assert.Equal(t, w.Dir(), s.Watcher.Dir)
}

func TestHistory_Empty(t *testing.T) {
	h := newHistory(0)
	h.add(processor.Result{Outcome: processor.OutcomeFailed})
	assert.Empty(t, h.recent())
	assert.Equal(t, Totals{Failed: 1}, h.snapshotTotals())
}
