package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// fsnotifyBackend implements Backend on top of fsnotify. It works on every
// platform fsnotify supports and is the default outside Linux.
type fsnotifyBackend struct {
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	dirs    map[string]struct{}

	events   chan WatchedEvent
	errors   chan error
	done     chan struct{}
	failed   *fatal
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex
}

// newFsnotifyBackend creates a backend using fsnotify.
func newFsnotifyBackend(logger *slog.Logger) (*fsnotifyBackend, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &fsnotifyBackend{
		logger:  logger,
		watcher: watcher,
		dirs:    make(map[string]struct{}),
		events:  make(chan WatchedEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
		failed:  newFatal(),
	}, nil
}

// Watch adds a directory to be monitored.
func (b *fsnotifyBackend) Watch(dir string) error {
	dir, err := checkDir(dir)
	if err != nil {
		return err
	}
	if err := b.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to add watch: %w", err)
	}
	b.mu.Lock()
	b.dirs[dir] = struct{}{}
	b.mu.Unlock()
	b.logger.Debug("added watch", "path", dir, "backend", BackendFsnotify)
	return nil
}

// Start begins watching for events.
func (b *fsnotifyBackend) Start(ctx context.Context) error {
	b.wg.Add(1)
	go b.processEvents(ctx)

	return b.failed.wait(ctx, b.done)
}

// processEvents translates fsnotify events.
func (b *fsnotifyBackend) processEvents(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case event, ok := <-b.watcher.Events:
			if !ok {
				b.failed.set(errors.New("fsnotify event stream closed"))
				return
			}
			b.handleFsnotifyEvent(event)
		case err, ok := <-b.watcher.Errors:
			if !ok {
				b.failed.set(errors.New("fsnotify error stream closed"))
				return
			}
			b.emitError(err)
		}
	}
}

// handleFsnotifyEvent maps one fsnotify event onto a WatchedEvent.
func (b *fsnotifyBackend) handleFsnotifyEvent(event fsnotify.Event) {
	path := event.Name

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		if b.forgetDir(path) {
			return
		}
	}

	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// fsnotify reports the old name on rename; the new name arrives as Create.
		b.emitEvent(WatchedEvent{Path: path, Op: OpRemoved, ObservedAt: time.Now()})
	case event.Has(fsnotify.Create):
		if isDir(path) {
			return
		}
		b.emitEvent(WatchedEvent{Path: path, Op: OpCreated, ObservedAt: time.Now()})
	case event.Has(fsnotify.Write):
		b.emitEvent(WatchedEvent{Path: path, Op: OpWritten, ObservedAt: time.Now()})
	}
}

// forgetDir drops path when it is a watched directory that went away. The
// backend fails once nothing is left to watch.
func (b *fsnotifyBackend) forgetDir(path string) bool {
	b.mu.Lock()
	_, watched := b.dirs[path]
	delete(b.dirs, path)
	remaining := len(b.dirs)
	b.mu.Unlock()

	if !watched {
		return false
	}
	if remaining == 0 {
		b.failed.set(fmt.Errorf("%w: %s", errDirRemoved, path))
	}
	return true
}

// emitEvent sends an event to the events channel.
func (b *fsnotifyBackend) emitEvent(event WatchedEvent) {
	select {
	case b.events <- event:
	case <-b.done:
	}
}

// emitError forwards an error without blocking the event loop.
func (b *fsnotifyBackend) emitError(err error) {
	select {
	case b.errors <- err:
	default:
		b.logger.Warn("dropping watcher error", "error", err)
	}
}

// Events returns the events channel.
func (b *fsnotifyBackend) Events() <-chan WatchedEvent {
	return b.events
}

// Errors returns the errors channel.
func (b *fsnotifyBackend) Errors() <-chan error {
	return b.errors
}

// Stop stops the watcher.
func (b *fsnotifyBackend) Stop() error {
	var err error
	b.stopOnce.Do(func() {
		close(b.done)
		err = b.watcher.Close()
		b.wg.Wait()
		close(b.events)
		close(b.errors)
	})
	return err
}

// checkDir cleans dir and verifies it is an existing directory.
func checkDir(dir string) (string, error) {
	dir = filepath.Clean(dir)
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("failed to stat path: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", dir)
	}
	return dir, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
