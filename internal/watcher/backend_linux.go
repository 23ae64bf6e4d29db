//go:build linux

package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// inotifyMask selects the notifications the watcher needs from a directory.
// IN_CLOSE_WRITE: a writer closed a file it modified.
// IN_CREATE / IN_MOVED_TO: a name appeared (browsers rename the partial file on completion).
// IN_DELETE / IN_MOVED_FROM: a name disappeared.
// IN_DELETE_SELF: the watched directory itself is gone.
const inotifyMask = unix.IN_CLOSE_WRITE | unix.IN_CREATE | unix.IN_MOVED_TO |
	unix.IN_DELETE | unix.IN_MOVED_FROM | unix.IN_DELETE_SELF

// pollTimeoutMS bounds how long the reader blocks before rechecking for shutdown.
const pollTimeoutMS = 250

// inotifyBackend implements Backend using Linux inotify directly.
type inotifyBackend struct {
	logger   *slog.Logger
	watches  map[string]int
	wdPaths  map[int]string
	events   chan WatchedEvent
	errors   chan error
	done     chan struct{}
	failed   *fatal
	wg       sync.WaitGroup
	stopOnce sync.Once
	fd       int
	mu       sync.RWMutex
}

// newInotifyBackend creates a new Linux inotify backend.
func newInotifyBackend(logger *slog.Logger) (Backend, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize inotify: %w", err)
	}

	return &inotifyBackend{
		logger:  logger,
		fd:      fd,
		watches: make(map[string]int),
		wdPaths: make(map[int]string),
		events:  make(chan WatchedEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
		failed:  newFatal(),
	}, nil
}

// Watch adds a directory to be monitored.
func (b *inotifyBackend) Watch(dir string) error {
	dir, err := checkDir(dir)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.watches[dir]; exists {
		return nil
	}

	wd, err := unix.InotifyAddWatch(b.fd, dir, inotifyMask)
	if err != nil {
		return fmt.Errorf("inotify_add_watch failed: %w", err)
	}

	b.watches[dir] = wd
	b.wdPaths[wd] = dir
	b.logger.Debug("added watch", "path", dir, "wd", wd, "backend", BackendInotify)

	return nil
}

// removeWatch forgets a watch descriptor whose directory is gone and
// reports how many watches remain.
func (b *inotifyBackend) removeWatch(wd int) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	path, exists := b.wdPaths[wd]
	if !exists {
		return len(b.watches)
	}

	//nolint:gosec // G115: wd is always a small non-negative int from inotify
	_, _ = unix.InotifyRmWatch(b.fd, uint32(wd))

	delete(b.watches, path)
	delete(b.wdPaths, wd)
	b.logger.Debug("removed watch", "path", path, "wd", wd)
	return len(b.watches)
}

// Start begins watching for events.
func (b *inotifyBackend) Start(ctx context.Context) error {
	b.wg.Add(1)
	go b.readEvents(ctx)

	return b.failed.wait(ctx, b.done)
}

// readEvents waits on the inotify descriptor and parses what it reads.
func (b *inotifyBackend) readEvents(ctx context.Context) {
	defer b.wg.Done()

	buf := make([]byte, (unix.SizeofInotifyEvent+unix.NAME_MAX+1)*16)
	fds := []unix.PollFd{{Fd: int32(b.fd), Events: unix.POLLIN}} //nolint:gosec // G115: fd fits in int32

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		default:
		}

		n, err := unix.Poll(fds, pollTimeoutMS)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			b.failed.set(fmt.Errorf("failed to poll inotify: %w", err))
			return
		}
		if n == 0 {
			continue
		}

		n, err = unix.Read(b.fd, buf)
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			b.failed.set(fmt.Errorf("failed to read inotify events: %w", err))
			return
		}

		if n < unix.SizeofInotifyEvent {
			continue
		}

		b.parseEvents(buf[:n])
	}
}

// parseEvents parses raw inotify events.
func (b *inotifyBackend) parseEvents(buf []byte) {
	now := time.Now()
	offset := 0
	for offset+unix.SizeofInotifyEvent <= len(buf) {
		//nolint:gosec // G103: Legitimate use of unsafe for syscall interface with inotify
		event := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
		offset += unix.SizeofInotifyEvent + int(event.Len)

		if event.Mask&unix.IN_Q_OVERFLOW != 0 {
			b.emitError(errors.New("inotify queue overflow, events were lost"))
			continue
		}

		b.mu.RLock()
		dir, ok := b.wdPaths[int(event.Wd)]
		b.mu.RUnlock()
		if !ok {
			continue
		}

		if event.Mask&unix.IN_DELETE_SELF != 0 {
			if b.removeWatch(int(event.Wd)) == 0 {
				b.failed.set(fmt.Errorf("%w: %s", errDirRemoved, dir))
			}
			continue
		}

		// Events on the directory itself carry no name.
		if event.Len == 0 || event.Mask&unix.IN_ISDIR != 0 {
			continue
		}

		nameBytes := buf[offset-int(event.Len) : offset]
		path := filepath.Join(dir, string(nameBytes[:clen(nameBytes)]))

		b.processEvent(path, event.Mask, now)
	}
}

// processEvent maps one inotify mask onto a WatchedEvent.
func (b *inotifyBackend) processEvent(path string, mask uint32, at time.Time) {
	switch {
	case mask&(unix.IN_DELETE|unix.IN_MOVED_FROM) != 0:
		b.emitEvent(WatchedEvent{Path: path, Op: OpRemoved, ObservedAt: at})
	case mask&(unix.IN_CREATE|unix.IN_MOVED_TO) != 0:
		b.emitEvent(WatchedEvent{Path: path, Op: OpCreated, ObservedAt: at})
	case mask&unix.IN_CLOSE_WRITE != 0:
		b.emitEvent(WatchedEvent{Path: path, Op: OpWritten, ObservedAt: at})
	}
}

// emitEvent sends an event to the events channel.
func (b *inotifyBackend) emitEvent(event WatchedEvent) {
	select {
	case b.events <- event:
	case <-b.done:
	}
}

// emitError forwards an error without blocking the reader.
func (b *inotifyBackend) emitError(err error) {
	select {
	case b.errors <- err:
	default:
		b.logger.Warn("dropping watcher error", "error", err)
	}
}

// Events returns the events channel.
func (b *inotifyBackend) Events() <-chan WatchedEvent {
	return b.events
}

// Errors returns the errors channel.
func (b *inotifyBackend) Errors() <-chan error {
	return b.errors
}

// Stop stops the watcher.
func (b *inotifyBackend) Stop() error {
	var closeErr error
	b.stopOnce.Do(func() {
		close(b.done)
		b.wg.Wait()

		if b.fd >= 0 {
			closeErr = unix.Close(b.fd)
		}

		close(b.events)
		close(b.errors)
	})
	return closeErr
}

// clen returns the length of a null-terminated byte slice.
func clen(n []byte) int {
	for i := range n {
		if n[i] == 0 {
			return i
		}
	}
	return len(n)
}
