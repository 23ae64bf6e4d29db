package watcher

import (
	"sync"
	"time"
)

// State is the lifecycle position of a tracked file.
type State string

// Tracked file states. DONE and ABANDONED are terminal.
const (
	StateDiscovered  State = "DISCOVERED"
	StateStabilizing State = "STABILIZING"
	StateReady       State = "READY"
	StateProcessing  State = "PROCESSING"
	StateDone        State = "DONE"
	StateAbandoned   State = "ABANDONED"
)

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAbandoned
}

// TrackedFile is the watcher's record for a path under evaluation.
type TrackedFile struct {
	FirstSeen      time.Time `json:"first_seen"`
	Path           string    `json:"path"`
	State          State     `json:"state"`
	FirstSeenSize  int64     `json:"first_seen_size"`
	LastSeenSize   int64     `json:"last_seen_size"`
	StableReadings int       `json:"stable_readings"`
}

// Transition describes one state change of a tracked file.
type Transition struct {
	At   time.Time `json:"at"`
	Path string    `json:"path"`
	From State     `json:"from,omitempty"`
	To   State     `json:"to"`
	Size int64     `json:"size"`
}

// tracker is the set of paths being stabilized or processed plus the set of
// paths already finished. All mutations go through its mutex, so admission
// is insert-if-absent.
type tracker struct {
	files map[string]*TrackedFile
	done  map[string]struct{}
	mu    sync.Mutex
}

func newTracker() *tracker {
	return &tracker{
		files: make(map[string]*TrackedFile),
		done:  make(map[string]struct{}),
	}
}

// admit creates a DISCOVERED record for path unless it is already tracked or
// was already processed.
func (t *tracker) admit(path string, now time.Time) (*TrackedFile, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.files[path]; ok {
		return nil, false
	}
	if _, ok := t.done[path]; ok {
		return nil, false
	}

	tf := &TrackedFile{Path: path, State: StateDiscovered, FirstSeen: now, FirstSeenSize: -1, LastSeenSize: -1}
	t.files[path] = tf
	return tf, true
}

// update applies fn to the record under the lock and returns a copy.
func (t *tracker) update(path string, fn func(tf *TrackedFile)) (TrackedFile, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tf, ok := t.files[path]
	if !ok {
		return TrackedFile{}, false
	}
	fn(tf)
	return *tf, true
}

// release removes path from tracking. A DONE path is remembered so that
// later notifications for it are refused; an ABANDONED path is not.
func (t *tracker) release(path string, final State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.files, path)
	if final == StateDone {
		t.done[path] = struct{}{}
	}
}

// tracking reports whether path has a non-terminal record.
func (t *tracker) tracking(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.files[path]
	return ok
}

// snapshot returns copies of every record and the number of finished paths.
func (t *tracker) snapshot() ([]TrackedFile, int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	files := make([]TrackedFile, 0, len(t.files))
	for _, tf := range t.files {
		files = append(files, *tf)
	}
	return files, len(t.done)
}
