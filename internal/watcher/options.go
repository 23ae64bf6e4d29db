package watcher

import (
	"path/filepath"
	"strings"
	"time"
)

// DefaultPartialSuffixes are the in-progress markers written by common
// browsers and download managers.
var DefaultPartialSuffixes = []string{".crdownload", ".tmp", ".part", ".download", ".partial"}

// Options configures the file watcher behavior.
type Options struct {
	// OnTransition, when set, is called after every state change of a
	// tracked file. It must not block.
	OnTransition func(Transition)

	// Backend selects the notification source: auto, inotify or fsnotify.
	Backend string

	// PartialSuffixes are name suffixes that mark an unfinished download.
	// Matching paths are never tracked.
	PartialSuffixes []string

	// IgnorePatterns are filepath.Match patterns applied to the base name.
	IgnorePatterns []string

	// PollInterval is the time between two size readings.
	PollInterval time.Duration

	// GraceDelay is waited once after the size settled, to absorb trailing
	// flushes from the writer. Zero disables it.
	GraceDelay time.Duration

	// Timeout bounds the whole stabilization of one file.
	Timeout time.Duration

	// StableReadings is the number of consecutive unchanged, non-zero size
	// readings required before a file is ready.
	StableReadings int

	IgnoreHidden bool
}

// setDefaults applies default values to unset options.
func (o *Options) setDefaults() {
	if o.Backend == "" {
		o.Backend = BackendAuto
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.StableReadings <= 0 {
		o.StableReadings = 3
	}
	if o.GraceDelay < 0 {
		o.GraceDelay = 0
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.PartialSuffixes == nil {
		o.PartialSuffixes = DefaultPartialSuffixes
	}

	// Set default ignore patterns if none specified (nil, not just empty).
	if o.IgnorePatterns == nil {
		o.IgnorePatterns = []string{
			".DS_Store",
			"Thumbs.db",
			"desktop.ini",
		}
		o.IgnoreHidden = true
	}
}

// isPartial reports whether the name carries an in-progress marker.
func (o *Options) isPartial(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	for _, suffix := range o.PartialSuffixes {
		if suffix != "" && strings.HasSuffix(name, strings.ToLower(suffix)) {
			return true
		}
	}
	return false
}

// shouldIgnore checks if a path matches ignore patterns.
func (o *Options) shouldIgnore(path string) bool {
	base := filepath.Base(path)

	if o.IgnoreHidden && strings.HasPrefix(base, ".") && base != "." && base != ".." {
		return true
	}

	for _, pattern := range o.IgnorePatterns {
		matched, err := filepath.Match(pattern, base)
		if err == nil && matched {
			return true
		}
	}

	return false
}
