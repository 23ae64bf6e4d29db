// Package watcher turns filesystem notifications for one download directory
// into a stream of files that are fully written and ready for processing.
//
// Each admitted path gets its own goroutine that polls the file size until it
// settles, then hands the path to a Handler. A path is admitted at most once
// while it is tracked and never again after it was processed.
package watcher

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	errBackendClosed = errors.New("watcher backend closed unexpectedly")
	errDirRemoved    = errors.New("watched directory removed")
)

// Handler receives files that reached READY. Handle runs on the file's own
// goroutine; the file stays in PROCESSING until it returns.
type Handler interface {
	Handle(ctx context.Context, path string)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, path string)

// Handle calls f(ctx, path).
func (f HandlerFunc) Handle(ctx context.Context, path string) {
	f(ctx, path)
}

// Counters are monotonic totals since the watcher was created.
type Counters struct {
	Discovered int64 `json:"discovered"`
	Ignored    int64 `json:"ignored"`
	Rejected   int64 `json:"rejected"`
	Ready      int64 `json:"ready"`
	Abandoned  int64 `json:"abandoned"`
	Done       int64 `json:"done"`
}

type counters struct {
	discovered atomic.Int64
	ignored    atomic.Int64
	rejected   atomic.Int64
	ready      atomic.Int64
	abandoned  atomic.Int64
	done       atomic.Int64
}

// Snapshot is a point-in-time view of the watcher.
type Snapshot struct {
	Dir       string        `json:"dir"`
	Backend   string        `json:"backend,omitempty"`
	Tracked   []TrackedFile `json:"tracked"`
	Counters  Counters      `json:"counters"`
	Processed int           `json:"processed"`
	Running   bool          `json:"running"`
}

// Watcher monitors one directory for completed downloads.
type Watcher struct {
	handler Handler
	logger  *slog.Logger
	tracker *tracker
	dir     string
	opts    Options

	backend     Backend
	backendName atomic.Value
	counters    counters
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     atomic.Bool
}

// New creates a watcher for dir. Nothing is observed until Open or Run is
// called; Submit may be used on its own.
func New(dir string, handler Handler, logger *slog.Logger, opts Options) (*Watcher, error) {
	opts.setDefaults()

	switch opts.Backend {
	case BackendAuto, BackendInotify, BackendFsnotify:
	default:
		return nil, fmt.Errorf("unknown watcher backend %q", opts.Backend)
	}
	if handler == nil {
		return nil, errors.New("watcher requires a handler")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve watch dir: %w", err)
	}

	return &Watcher{
		handler: handler,
		logger:  logger.With("component", "watcher"),
		tracker: newTracker(),
		dir:     abs,
		opts:    opts,
	}, nil
}

// Dir returns the absolute watched directory.
func (w *Watcher) Dir() string {
	return w.dir
}

// Open creates the notification backend and subscribes to the directory,
// so a missing or unreadable directory is reported before Run is started.
// Run opens the watcher itself when Open was not called.
func (w *Watcher) Open() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.backend != nil {
		return nil
	}

	backend, name, err := newBackend(w.logger, w.opts)
	if err != nil {
		return fmt.Errorf("failed to create backend: %w", err)
	}
	if err := backend.Watch(w.dir); err != nil {
		_ = backend.Stop()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	w.backend = backend
	w.backendName.Store(name)
	return nil
}

// Run watches the directory until ctx is canceled or the backend fails. It
// waits for every tracked file to finish or abandon before returning.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return errors.New("watcher already running")
	}
	defer w.running.Store(false)

	if err := w.Open(); err != nil {
		return err
	}

	w.mu.Lock()
	backend := w.backend
	w.mu.Unlock()
	name, _ := w.backendName.Load().(string)

	w.logger.Info("watching for completed downloads",
		"dir", w.dir,
		"backend", name,
		"poll_interval", w.opts.PollInterval,
		"timeout", w.opts.Timeout,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return backend.Start(gctx)
	})
	g.Go(func() error {
		return w.dispatch(gctx, backend)
	})

	runErr := g.Wait()
	w.mu.Lock()
	if err := backend.Stop(); err != nil {
		w.logger.Warn("failed to stop watcher backend", "error", err)
	}
	w.backend = nil
	w.mu.Unlock()
	w.wg.Wait()

	w.logger.Info("watcher stopped", "dir", w.dir)
	return runErr
}

// dispatch feeds backend events into Submit until ctx is done.
func (w *Watcher) dispatch(ctx context.Context, backend Backend) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-backend.Events():
			if !ok {
				return errBackendClosed
			}
			w.handleEvent(ctx, ev)
		case err, ok := <-backend.Errors():
			if !ok {
				return errBackendClosed
			}
			w.logger.Warn("watcher backend error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev WatchedEvent) {
	switch ev.Op {
	case OpRemoved:
		w.logger.Debug("entry removed", "path", ev.Path)
	case OpCreated, OpWritten:
		w.Submit(ctx, ev.Path)
	}
}

// Submit offers path for tracking. It reports whether the path was admitted.
// Partial downloads, ignored names, paths already tracked and paths already
// processed are refused.
func (w *Watcher) Submit(ctx context.Context, path string) bool {
	path = filepath.Clean(path)

	if w.opts.isPartial(path) {
		w.counters.ignored.Add(1)
		w.logger.Debug("skipping partial download", "path", path)
		return false
	}
	if w.opts.shouldIgnore(path) {
		w.counters.ignored.Add(1)
		return false
	}

	if _, ok := w.tracker.admit(path, time.Now()); !ok {
		w.counters.rejected.Add(1)
		w.logger.Debug("already tracked or processed", "path", path)
		return false
	}

	w.counters.discovered.Add(1)
	w.notify(Transition{At: time.Now(), Path: path, To: StateDiscovered, Size: -1})
	w.logger.Info("new download detected", "path", path, "file", filepath.Base(path))

	w.wg.Go(func() {
		w.follow(ctx, path)
	})
	return true
}

// follow drives one file from DISCOVERED to DONE or ABANDONED.
func (w *Watcher) follow(ctx context.Context, path string) {
	if !w.stabilize(ctx, path) {
		w.counters.abandoned.Add(1)
		w.finish(path, StateAbandoned)
		return
	}

	w.counters.ready.Add(1)
	w.transition(path, StateReady)
	w.transition(path, StateProcessing)

	w.invoke(ctx, path)

	w.counters.done.Add(1)
	w.finish(path, StateDone)
}

// stabilize polls the size of path until it was unchanged and non-zero for
// StableReadings consecutive readings, then waits GraceDelay. It returns
// false when Timeout elapses first or ctx is canceled.
func (w *Watcher) stabilize(ctx context.Context, path string) bool {
	w.transition(path, StateStabilizing)

	timeout := time.NewTimer(w.opts.Timeout)
	defer timeout.Stop()
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	last := int64(-1)
	stable := 0
	for {
		info, err := os.Stat(path)
		switch {
		case err != nil:
			// A vanished file starts over; its old size is no baseline.
			stable = 0
			last = -1
			w.tracker.update(path, func(tf *TrackedFile) {
				tf.StableReadings = 0
			})
		case info.IsDir():
			w.logger.Debug("not a regular file", "path", path)
			return false
		default:
			size := info.Size()
			if size == last && size > 0 {
				stable++
			} else {
				stable = 0
			}
			last = size
			w.tracker.update(path, func(tf *TrackedFile) {
				if tf.FirstSeenSize < 0 {
					tf.FirstSeenSize = size
				}
				tf.LastSeenSize = size
				tf.StableReadings = stable
			})
		}

		if stable >= w.opts.StableReadings {
			break
		}

		select {
		case <-ctx.Done():
			return false
		case <-timeout.C:
			w.logger.Warn("file did not stabilize in time, abandoning",
				"path", path,
				"timeout", w.opts.Timeout,
				"last_size", last,
			)
			return false
		case <-ticker.C:
		}
	}

	if w.opts.GraceDelay > 0 {
		grace := time.NewTimer(w.opts.GraceDelay)
		defer grace.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-grace.C:
		}
	}
	return true
}

// invoke calls the handler and contains any panic to this file.
func (w *Watcher) invoke(ctx context.Context, path string) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("handler panicked", "path", path, "panic", r)
		}
	}()
	w.handler.Handle(ctx, path)
}

// transition moves a tracked file to state and reports it.
func (w *Watcher) transition(path string, to State) {
	var from State
	tf, ok := w.tracker.update(path, func(tf *TrackedFile) {
		from = tf.State
		tf.State = to
	})
	if !ok {
		return
	}
	w.notify(Transition{At: time.Now(), Path: path, From: from, To: to, Size: tf.LastSeenSize})
}

// finish records the terminal state and releases the path.
func (w *Watcher) finish(path string, final State) {
	w.transition(path, final)
	w.tracker.release(path, final)
}

func (w *Watcher) notify(t Transition) {
	w.logger.Debug("file state changed", "path", t.Path, "from", t.From, "state", t.To, "size", t.Size)
	if w.opts.OnTransition != nil {
		w.opts.OnTransition(t)
	}
}

// Tracking reports whether path is currently being stabilized or processed.
func (w *Watcher) Tracking(path string) bool {
	return w.tracker.tracking(filepath.Clean(path))
}

// Wait blocks until every admitted file reached a terminal state.
func (w *Watcher) Wait() {
	w.wg.Wait()
}

// Status returns a snapshot of tracked files and counters.
func (w *Watcher) Status() Snapshot {
	files, processed := w.tracker.snapshot()
	slices.SortFunc(files, func(a, b TrackedFile) int {
		return cmp.Compare(a.Path, b.Path)
	})

	name, _ := w.backendName.Load().(string)
	return Snapshot{
		Dir:       w.dir,
		Backend:   name,
		Running:   w.running.Load(),
		Tracked:   files,
		Processed: processed,
		Counters: Counters{
			Discovered: w.counters.discovered.Load(),
			Ignored:    w.counters.ignored.Load(),
			Rejected:   w.counters.rejected.Load(),
			Ready:      w.counters.ready.Load(),
			Abandoned:  w.counters.abandoned.Load(),
			Done:       w.counters.done.Load(),
		},
	}
}

// newBackend selects the notification source named by opts.Backend.
// The automatic choice is inotify on Linux, falling back to fsnotify if
// inotify cannot be initialized.
func newBackend(logger *slog.Logger, opts Options) (Backend, string, error) {
	switch opts.Backend {
	case BackendInotify:
		b, err := newInotifyBackend(logger)
		if err != nil {
			return nil, "", err
		}
		return b, BackendInotify, nil
	case BackendFsnotify:
		b, err := newFsnotifyBackend(logger)
		if err != nil {
			return nil, "", err
		}
		return b, BackendFsnotify, nil
	}

	if runtime.GOOS == "linux" {
		b, err := newInotifyBackend(logger)
		if err == nil {
			return b, BackendInotify, nil
		}
		logger.Warn("inotify unavailable, using fsnotify", "error", err)
	}

	b, err := newFsnotifyBackend(logger)
	if err != nil {
		return nil, "", err
	}
	return b, BackendFsnotify, nil
}
