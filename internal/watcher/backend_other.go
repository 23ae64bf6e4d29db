//go:build !linux

package watcher

import (
	"errors"
	"log/slog"
)

// newInotifyBackend is unavailable outside Linux.
func newInotifyBackend(_ *slog.Logger) (Backend, error) {
	return nil, errors.New("inotify backend is only available on Linux")
}
