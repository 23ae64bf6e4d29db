package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingHandler remembers every path it was handed.
type recordingHandler struct {
	mu    sync.Mutex
	calls []string
	ch    chan string
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{ch: make(chan string, 16)}
}

func (h *recordingHandler) Handle(_ context.Context, path string) {
	h.mu.Lock()
	h.calls = append(h.calls, path)
	h.mu.Unlock()
	h.ch <- path
}

func (h *recordingHandler) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

// transitionLog collects OnTransition callbacks.
type transitionLog struct {
	mu  sync.Mutex
	all []Transition
}

func (l *transitionLog) record(t Transition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.all = append(l.all, t)
}

func (l *transitionLog) states(path string) []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []State
	for _, t := range l.all {
		if t.Path == path {
			out = append(out, t.To)
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastOptions(log *transitionLog) Options {
	opts := Options{
		PollInterval:   10 * time.Millisecond,
		StableReadings: 3,
		Timeout:        2 * time.Second,
	}
	if log != nil {
		opts.OnTransition = log.record
	}
	return opts
}

func newTestWatcher(t *testing.T, dir string, h Handler, opts Options) *Watcher {
	t.Helper()
	w, err := New(dir, h, testLogger(), opts)
	require.NoError(t, err)
	return w
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func waitForCall(t *testing.T, h *recordingHandler) string {
	t.Helper()
	select {
	case path := <-h.ch:
		return path
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for handler call")
		return ""
	}
}

func TestNew(t *testing.T) {
	w, err := New(t.TempDir(), newRecordingHandler(), testLogger(), Options{})
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(w.Dir()))
}

func TestNew_RejectsUnknownBackend(t *testing.T) {
	_, err := New(t.TempDir(), newRecordingHandler(), testLogger(), Options{Backend: "kqueue"})
	assert.Error(t, err)
}

func TestNew_RequiresHandler(t *testing.T) {
	_, err := New(t.TempDir(), nil, testLogger(), Options{})
	assert.Error(t, err)
}

func TestWatcher_StableFileReadyOnce(t *testing.T) {
	dir := t.TempDir()
	h := newRecordingHandler()
	log := &transitionLog{}
	w := newTestWatcher(t, dir, h, fastOptions(log))

	path := filepath.Join(dir, "report.pdf")
	writeFile(t, path, "finished download")

	require.True(t, w.Submit(context.Background(), path))
	assert.Equal(t, path, waitForCall(t, h))
	w.Wait()

	assert.Equal(t, []string{path}, h.Calls())
	assert.Equal(t, []State{
		StateDiscovered,
		StateStabilizing,
		StateReady,
		StateProcessing,
		StateDone,
	}, log.states(path))

	status := w.Status()
	assert.Empty(t, status.Tracked)
	assert.Equal(t, 1, status.Processed)
	assert.Equal(t, int64(1), status.Counters.Discovered)
	assert.Equal(t, int64(1), status.Counters.Ready)
	assert.Equal(t, int64(1), status.Counters.Done)
}

func TestWatcher_MissingFileRestartsStabilization(t *testing.T) {
	dir := t.TempDir()
	h := newRecordingHandler()
	log := &transitionLog{}
	opts := fastOptions(log)
	opts.PollInterval = 50 * time.Millisecond
	w := newTestWatcher(t, dir, h, opts)
	target := filepath.Join(dir, "statement.pdf")

	stableReadings := func() int {
		for _, tf := range w.Status().Tracked {
			if tf.Path == target {
				return tf.StableReadings
			}
		}
		return -1
	}

	writeFile(t, target, "attachment body")
	require.True(t, w.Submit(context.Background(), target))

	require.Eventually(t, func() bool { return stableReadings() >= 1 }, time.Second, 2*time.Millisecond)
	require.NoError(t, os.Remove(target))
	require.Eventually(t, func() bool { return stableReadings() == 0 }, time.Second, 2*time.Millisecond)

	recreated := time.Now()
	writeFile(t, target, "attachment body")

	assert.Equal(t, target, waitForCall(t, h))
	// One fresh baseline reading plus StableReadings unchanged ones.
	assert.GreaterOrEqual(t, time.Since(recreated), time.Duration(opts.StableReadings)*opts.PollInterval)
	w.Wait()

	assert.Equal(t, []string{target}, h.Calls())
	ready := 0
	for _, s := range log.states(target) {
		if s == StateReady {
			ready++
		}
	}
	assert.Equal(t, 1, ready)
	assert.Equal(t, int64(1), w.Status().Counters.Ready)
}

func TestWatcher_GrowingFileAbandoned(t *testing.T) {
	dir := t.TempDir()
	h := newRecordingHandler()
	log := &transitionLog{}
	opts := fastOptions(log)
	opts.Timeout = 200 * time.Millisecond
	w := newTestWatcher(t, dir, h, opts)

	path := filepath.Join(dir, "big.iso")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	stop := make(chan struct{})
	grew := make(chan struct{})
	go func() {
		defer close(grew)
		ticker := time.NewTicker(2 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_, _ = f.Write([]byte("chunk"))
			}
		}
	}()

	require.True(t, w.Submit(context.Background(), path))
	w.Wait()
	close(stop)
	<-grew

	assert.Empty(t, h.Calls(), "a file that never settles must not be processed")
	states := log.states(path)
	require.NotEmpty(t, states)
	assert.Equal(t, StateAbandoned, states[len(states)-1])
	assert.NotContains(t, states, StateReady)
	assert.False(t, w.Tracking(path))
	assert.Equal(t, int64(1), w.Status().Counters.Abandoned)
}

func TestWatcher_EmptyFileAbandoned(t *testing.T) {
	dir := t.TempDir()
	h := newRecordingHandler()
	opts := fastOptions(nil)
	opts.Timeout = 100 * time.Millisecond
	w := newTestWatcher(t, dir, h, opts)

	path := filepath.Join(dir, "empty.bin")
	writeFile(t, path, "")

	require.True(t, w.Submit(context.Background(), path))
	w.Wait()

	assert.Empty(t, h.Calls())
}

func TestWatcher_AbandonedPathCanBeResubmitted(t *testing.T) {
	dir := t.TempDir()
	h := newRecordingHandler()
	opts := fastOptions(nil)
	opts.Timeout = 100 * time.Millisecond
	w := newTestWatcher(t, dir, h, opts)

	path := filepath.Join(dir, "late.bin")
	writeFile(t, path, "")
	require.True(t, w.Submit(context.Background(), path))
	w.Wait()

	writeFile(t, path, "now complete")
	require.True(t, w.Submit(context.Background(), path))
	assert.Equal(t, path, waitForCall(t, h))
	w.Wait()
}

func TestWatcher_PartialSuffixNeverTracked(t *testing.T) {
	dir := t.TempDir()
	h := newRecordingHandler()
	w := newTestWatcher(t, dir, h, fastOptions(nil))

	for _, name := range []string{"movie.mkv.crdownload", "setup.exe.part", "x.tmp"} {
		path := filepath.Join(dir, name)
		writeFile(t, path, "stable content")

		assert.False(t, w.Submit(context.Background(), path), name)
		assert.False(t, w.Tracking(path), name)
	}
	w.Wait()

	assert.Empty(t, h.Calls())
	assert.Equal(t, int64(3), w.Status().Counters.Ignored)
	assert.Zero(t, w.Status().Counters.Discovered)
}

func TestWatcher_DonePathNotReprocessed(t *testing.T) {
	dir := t.TempDir()
	h := newRecordingHandler()
	w := newTestWatcher(t, dir, h, fastOptions(nil))

	path := filepath.Join(dir, "once.zip")
	writeFile(t, path, "content")

	require.True(t, w.Submit(context.Background(), path))
	waitForCall(t, h)
	w.Wait()

	assert.False(t, w.Submit(context.Background(), path))
	w.Wait()

	assert.Len(t, h.Calls(), 1)
	assert.Equal(t, int64(1), w.Status().Counters.Rejected)
}

func TestWatcher_ConcurrentSubmitSinglePass(t *testing.T) {
	dir := t.TempDir()
	h := newRecordingHandler()
	w := newTestWatcher(t, dir, h, fastOptions(nil))

	path := filepath.Join(dir, "race.bin")
	writeFile(t, path, "content")

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Go(func() {
			if w.Submit(context.Background(), path) {
				admitted.Add(1)
			}
		})
	}
	wg.Wait()
	w.Wait()

	assert.Equal(t, int32(1), admitted.Load())
	assert.Len(t, h.Calls(), 1)
}

func TestWatcher_TrackingDuringStabilization(t *testing.T) {
	dir := t.TempDir()
	h := newRecordingHandler()
	opts := fastOptions(nil)
	opts.GraceDelay = 200 * time.Millisecond
	w := newTestWatcher(t, dir, h, opts)

	path := filepath.Join(dir, "slow.bin")
	writeFile(t, path, "content")

	require.True(t, w.Submit(context.Background(), path))
	assert.True(t, w.Tracking(path))
	assert.Len(t, w.Status().Tracked, 1)
	assert.False(t, w.Submit(context.Background(), path), "second notification while tracked is discarded")

	waitForCall(t, h)
	w.Wait()
	assert.False(t, w.Tracking(path))
}

func TestWatcher_HandlerPanicContained(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int32
	h := HandlerFunc(func(context.Context, string) {
		calls.Add(1)
		panic("boom")
	})
	log := &transitionLog{}
	w := newTestWatcher(t, dir, h, fastOptions(log))

	first := filepath.Join(dir, "a.bin")
	second := filepath.Join(dir, "b.bin")
	writeFile(t, first, "a")
	writeFile(t, second, "b")

	require.True(t, w.Submit(context.Background(), first))
	require.True(t, w.Submit(context.Background(), second))
	w.Wait()

	assert.Equal(t, int32(2), calls.Load())
	assert.Contains(t, log.states(first), StateDone)
	assert.Contains(t, log.states(second), StateDone)
}

func TestWatcher_CanceledContextAbandons(t *testing.T) {
	dir := t.TempDir()
	h := newRecordingHandler()
	opts := fastOptions(nil)
	opts.GraceDelay = time.Minute
	w := newTestWatcher(t, dir, h, opts)

	path := filepath.Join(dir, "c.bin")
	writeFile(t, path, "content")

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, w.Submit(ctx, path))
	time.Sleep(100 * time.Millisecond)
	cancel()
	w.Wait()

	assert.Empty(t, h.Calls())
}
