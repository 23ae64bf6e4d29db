package watcher

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backendsUnderTest() []string {
	names := []string{BackendFsnotify}
	if runtime.GOOS == "linux" {
		names = append(names, BackendInotify)
	}
	return names
}

func TestBackend_WatchRejectsFile(t *testing.T) {
	for _, name := range backendsUnderTest() {
		t.Run(name, func(t *testing.T) {
			opts := Options{Backend: name}
			opts.setDefaults()
			backend, _, err := newBackend(testLogger(), opts)
			require.NoError(t, err)
			defer backend.Stop() //nolint:errcheck // Test cleanup

			file := filepath.Join(t.TempDir(), "plain.txt")
			writeFile(t, file, "x")

			assert.Error(t, backend.Watch(file))
			assert.Error(t, backend.Watch(filepath.Join(t.TempDir(), "missing")))
		})
	}
}

func TestBackend_ReportsCreation(t *testing.T) {
	for _, name := range backendsUnderTest() {
		t.Run(name, func(t *testing.T) {
			opts := Options{Backend: name}
			opts.setDefaults()
			backend, _, err := newBackend(testLogger(), opts)
			require.NoError(t, err)
			defer backend.Stop() //nolint:errcheck // Test cleanup

			dir := t.TempDir()
			require.NoError(t, backend.Watch(dir))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go backend.Start(ctx) //nolint:errcheck // Test goroutine

			path := filepath.Join(dir, "new.txt")
			writeFile(t, path, "content")

			select {
			case ev := <-backend.Events():
				assert.Equal(t, path, ev.Path)
				assert.Equal(t, OpCreated, ev.Op)
				assert.False(t, ev.ObservedAt.IsZero())
			case err := <-backend.Errors():
				t.Fatalf("unexpected error: %v", err)
			case <-time.After(2 * time.Second):
				t.Fatal("timeout waiting for event")
			}
		})
	}
}

func TestBackend_StopTwice(t *testing.T) {
	for _, name := range backendsUnderTest() {
		t.Run(name, func(t *testing.T) {
			opts := Options{Backend: name}
			opts.setDefaults()
			backend, _, err := newBackend(testLogger(), opts)
			require.NoError(t, err)

			assert.NoError(t, backend.Stop())
			assert.NoError(t, backend.Stop())
		})
	}
}

func TestWatcher_RunDetectsCompletedDownload(t *testing.T) {
	for _, name := range backendsUnderTest() {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			h := newRecordingHandler()
			opts := fastOptions(nil)
			opts.Backend = name
			w := newTestWatcher(t, dir, h, opts)

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- w.Run(ctx) }()

			require.Eventually(t, func() bool { return w.Status().Running }, 2*time.Second, 10*time.Millisecond)
			// Give the backend a moment to register its watch.
			time.Sleep(50 * time.Millisecond)

			// A browser writes to a partial name and renames it on completion.
			partial := filepath.Join(dir, "paper.pdf.crdownload")
			final := filepath.Join(dir, "paper.pdf")
			writeFile(t, partial, "%PDF-1.7 complete")
			require.NoError(t, os.Rename(partial, final))

			assert.Equal(t, final, waitForCall(t, h))

			cancel()
			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("Run did not return after cancel")
			}

			assert.Equal(t, []string{final}, h.Calls())
			assert.Equal(t, name, w.Status().Backend)
		})
	}
}

func TestWatcher_RunTwice(t *testing.T) {
	w := newTestWatcher(t, t.TempDir(), newRecordingHandler(), fastOptions(nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx) //nolint:errcheck // Test goroutine

	require.Eventually(t, func() bool { return w.Status().Running }, 2*time.Second, 10*time.Millisecond)
	assert.Error(t, w.Run(ctx))
}

func TestWatcher_RunReportsRemovedDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "downloads")
	require.NoError(t, os.Mkdir(dir, 0o755))
	w := newTestWatcher(t, dir, newRecordingHandler(), fastOptions(nil))

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()
	require.Eventually(t, func() bool { return w.Status().Running }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.Remove(dir))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, errDirRemoved)
	case <-time.After(5 * time.Second):
		t.Fatal("Run kept running after the directory was removed")
	}
	assert.False(t, w.Status().Running)
}

func TestWatcher_OpenMissingDir(t *testing.T) {
	w := newTestWatcher(t, filepath.Join(t.TempDir(), "gone"), newRecordingHandler(), fastOptions(nil))
	require.Error(t, w.Open())
	assert.False(t, w.Status().Running)
}

func TestWatcher_OpenThenRun(t *testing.T) {
	w := newTestWatcher(t, t.TempDir(), newRecordingHandler(), fastOptions(nil))
	require.NoError(t, w.Open())
	require.NoError(t, w.Open())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	require.Eventually(t, func() bool { return w.Status().Running }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWatcher_RunMissingDir(t *testing.T) {
	w := newTestWatcher(t, filepath.Join(t.TempDir(), "gone"), newRecordingHandler(), fastOptions(nil))
	assert.Error(t, w.Run(context.Background()))
}

func TestBackend_StartFailsWhenDirRemoved(t *testing.T) {
	for _, name := range backendsUnderTest() {
		t.Run(name, func(t *testing.T) {
			opts := Options{Backend: name}
			opts.setDefaults()
			backend, _, err := newBackend(testLogger(), opts)
			require.NoError(t, err)
			defer backend.Stop() //nolint:errcheck // Test cleanup

			dir := filepath.Join(t.TempDir(), "downloads")
			require.NoError(t, os.Mkdir(dir, 0o755))
			require.NoError(t, backend.Watch(dir))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			done := make(chan error, 1)
			go func() { done <- backend.Start(ctx) }()

			time.Sleep(50 * time.Millisecond)
			require.NoError(t, os.Remove(dir))

			select {
			case err := <-done:
				assert.ErrorIs(t, err, errDirRemoved)
			case <-time.After(2 * time.Second):
				t.Fatal("Start kept running without a watched directory")
			}
		})
	}
}

func TestBackend_StartReturnsNilOnCancel(t *testing.T) {
	for _, name := range backendsUnderTest() {
		t.Run(name, func(t *testing.T) {
			opts := Options{Backend: name}
			opts.setDefaults()
			backend, _, err := newBackend(testLogger(), opts)
			require.NoError(t, err)
			defer backend.Stop() //nolint:errcheck // Test cleanup

			require.NoError(t, backend.Watch(t.TempDir()))

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- backend.Start(ctx) }()
			cancel()

			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(2 * time.Second):
				t.Fatal("Start did not return after cancel")
			}
		})
	}
}
