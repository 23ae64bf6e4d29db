package watcher

import (
	"context"
	"sync"
)

// Backend is the platform-specific notification source.
type Backend interface {
	// Watch adds a directory to be monitored. Only its direct children are
	// reported; subdirectories are not descended into.
	Watch(dir string) error

	// Start begins reading notifications. It blocks until the context is
	// canceled or Stop is called, returning nil, or until the backend can no
	// longer deliver notifications, returning the cause.
	Start(ctx context.Context) error

	// Stop releases all resources and closes the channels.
	Stop() error

	// Events returns the channel of notifications.
	Events() <-chan WatchedEvent

	// Errors returns the channel of non-fatal backend errors.
	Errors() <-chan error
}

// Backend names accepted by Options.Backend.
const (
	BackendAuto     = "auto"
	BackendInotify  = "inotify"
	BackendFsnotify = "fsnotify"
)

// fatal records the first error that leaves a backend unable to deliver
// notifications and wakes Start.
type fatal struct {
	ch   chan struct{}
	err  error
	once sync.Once
}

func newFatal() *fatal {
	return &fatal{ch: make(chan struct{})}
}

func (f *fatal) set(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.ch)
	})
}

// wait returns the recorded error once fatal is set, or nil when ctx or
// done closes first.
func (f *fatal) wait(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-ctx.Done():
		return nil
	case <-done:
		return nil
	case <-f.ch:
		return f.err
	}
}
