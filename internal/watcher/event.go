package watcher

import "time"

// EventOp is the kind of filesystem notification a backend observed.
type EventOp int

const (
	// OpCreated is emitted when a name appears in the directory, either
	// created in place or renamed into it.
	OpCreated EventOp = iota
	// OpWritten is emitted when a writer closes a file it modified.
	OpWritten
	// OpRemoved is emitted when a name disappears from the directory.
	OpRemoved
)

// String returns the string representation of the operation.
func (o EventOp) String() string {
	switch o {
	case OpCreated:
		return "created"
	case OpWritten:
		return "written"
	case OpRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// WatchedEvent is one filesystem notification. It is consumed once by the
// dispatcher and then discarded.
type WatchedEvent struct {
	// ObservedAt is when the backend received the notification.
	ObservedAt time.Time

	// Path is the absolute path of the entry.
	Path string

	Op EventOp
}
