// Package sse implements Server-Sent Events so a browser extension or
// ddasctl can follow the agent's activity live.
package sse

import (
	"time"

	"github.com/ddasapp/ddas-agent/internal/processor"
	"github.com/ddasapp/ddas-agent/internal/watcher"
)

// EventType represents the type of SSE Event.
type EventType string

const (
	// EventWatcherTransition is a tracked file changing state.
	EventWatcherTransition EventType = "watcher.transition"
	// EventProcessResult is the terminal result of one processing attempt.
	EventProcessResult EventType = "process.result"
	// EventHeartbeat represents a connection keepalive event.
	EventHeartbeat EventType = "heartbeat"
)

// Event represents an SSE event to be sent to clients.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Type      EventType `json:"type"`
}

// HeartbeatEventData is the data payload for heartbeat events.
type HeartbeatEventData struct {
	ServerTime time.Time `json:"server_time"`
}

// NewTransitionEvent wraps a watcher state change.
func NewTransitionEvent(t watcher.Transition) Event {
	return Event{
		Type:      EventWatcherTransition,
		Timestamp: t.At,
		Data:      t,
	}
}

// NewResultEvent wraps a processing result.
func NewResultEvent(r processor.Result) Event {
	return Event{
		Type:      EventProcessResult,
		Timestamp: time.Now(),
		Data:      r,
	}
}

// NewHeartbeatEvent creates a heartbeat event.
func NewHeartbeatEvent() Event {
	now := time.Now()
	return Event{
		Type:      EventHeartbeat,
		Timestamp: now,
		Data:      HeartbeatEventData{ServerTime: now},
	}
}
