// Package agent connects the download watcher to the processor and reports
// every outcome to the log, the event stream and a short result history.
package agent

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	domainerrors "github.com/ddasapp/ddas-agent/internal/errors"
	"github.com/ddasapp/ddas-agent/internal/processor"
	"github.com/ddasapp/ddas-agent/internal/sse"
	"github.com/ddasapp/ddas-agent/internal/watcher"
)

// HistorySize is the number of results kept for the status endpoint.
const HistorySize = 50

// Watcher states reported by health checks.
const (
	WatcherRunning  = "running"
	WatcherStopped  = "stopped"
	WatcherDisabled = "disabled"
)

// Source tells where a processing request came from.
type Source string

// Request sources.
const (
	SourceWatcher Source = "watcher"
	SourceRequest Source = "request"
)

// Processor is the part of processor.Processor the agent drives.
type Processor interface {
	Process(ctx context.Context, path, credential string) processor.Result
	InFlight() []string
}

// Emitter publishes events to live subscribers.
type Emitter interface {
	Emit(event sse.Event)
}

// Totals counts results per outcome since startup.
type Totals struct {
	Duplicate int64 `json:"duplicate"`
	Uploaded  int64 `json:"uploaded"`
	Failed    int64 `json:"failed"`
}

// Status is the agent-wide snapshot served by the control API.
type Status struct {
	StartedAt     time.Time          `json:"started_at"`
	Watcher       *watcher.Snapshot  `json:"watcher,omitempty"`
	Uptime        string             `json:"uptime"`
	WatcherState  string             `json:"watcher_state"`
	InFlight      []string           `json:"in_flight"`
	Recent        []processor.Result `json:"recent"`
	Totals        Totals             `json:"totals"`
	UptimeSeconds int64              `json:"uptime_seconds"`
}

// Agent routes ready files and on-demand requests through the processor.
type Agent struct {
	startedAt  time.Time
	processor  Processor
	events     Emitter
	logger     *slog.Logger
	history    *history
	watcher    atomic.Pointer[watcher.Watcher]
	credential string
}

// New creates an Agent. credential is used for files found by the watcher;
// events may be nil.
func New(proc Processor, events Emitter, credential string, logger *slog.Logger) *Agent {
	return &Agent{
		startedAt:  time.Now(),
		processor:  proc,
		events:     events,
		logger:     logger.With("component", "agent"),
		history:    newHistory(HistorySize),
		credential: credential,
	}
}

// AttachWatcher registers the watcher whose files the agent handles.
func (a *Agent) AttachWatcher(w *watcher.Watcher) {
	a.watcher.Store(w)
}

// Handle implements watcher.Handler.
func (a *Agent) Handle(ctx context.Context, path string) {
	a.run(ctx, SourceWatcher, path, a.credential)
}

// OnTransition logs a watcher state change and forwards it to subscribers.
func (a *Agent) OnTransition(t watcher.Transition) {
	attrs := []any{"path", t.Path, "state", t.To}
	if t.Size >= 0 {
		attrs = append(attrs, "size", humanize.IBytes(uint64(t.Size)))
	}

	switch t.To {
	case watcher.StateAbandoned:
		a.logger.Warn("download abandoned", attrs...)
	case watcher.StateReady, watcher.StateDiscovered:
		a.logger.Info("download "+strings.ToLower(string(t.To)), attrs...)
	default:
		a.logger.Debug("download "+strings.ToLower(string(t.To)), attrs...)
	}

	a.emit(sse.NewTransitionEvent(t))
}

// ProcessManual processes a path on request. A path the watcher is still
// stabilizing or processing is refused with BUSY.
func (a *Agent) ProcessManual(ctx context.Context, path, credential string) processor.Result {
	if w := a.watcher.Load(); w != nil && path != "" && w.Tracking(path) {
		r := processor.Rejected(filepath.Clean(path),
			domainerrors.Busyf("%s is being handled by the watcher", filepath.Base(path)))
		a.record(SourceRequest, r)
		return r
	}
	return a.run(ctx, SourceRequest, path, credential)
}

func (a *Agent) run(ctx context.Context, source Source, path, credential string) processor.Result {
	r := a.processor.Process(ctx, path, credential)
	a.record(source, r)
	return r
}

func (a *Agent) record(source Source, r processor.Result) {
	a.history.add(r)

	attrs := []any{
		"source", source,
		"attempt_id", r.AttemptID,
		"path", r.Path,
		"outcome", r.Outcome,
		"elapsed", time.Duration(r.ElapsedMS) * time.Millisecond,
	}
	if r.Size > 0 {
		attrs = append(attrs, "size", humanize.IBytes(uint64(r.Size)))
	}
	if r.Fingerprint != "" {
		attrs = append(attrs, "fingerprint", r.Fingerprint.Short())
	}

	if r.Failed() {
		attrs = append(attrs, "code", r.Code, "error", r.Message)
		a.logger.Warn("processing failed", attrs...)
	} else {
		a.logger.Info(r.Message, attrs...)
	}

	a.emit(sse.NewResultEvent(r))
}

func (a *Agent) emit(ev sse.Event) {
	if a.events != nil {
		a.events.Emit(ev)
	}
}

// WatcherState reports running, stopped or disabled.
func (a *Agent) WatcherState() string {
	w := a.watcher.Load()
	switch {
	case w == nil:
		return WatcherDisabled
	case w.Status().Running:
		return WatcherRunning
	default:
		return WatcherStopped
	}
}

// Recent returns up to HistorySize results, newest first.
func (a *Agent) Recent() []processor.Result {
	return a.history.recent()
}

// Status returns the current agent snapshot.
func (a *Agent) Status() Status {
	uptime := time.Since(a.startedAt)
	s := Status{
		StartedAt:     a.startedAt,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		WatcherState:  a.WatcherState(),
		InFlight:      a.processor.InFlight(),
		Recent:        a.history.recent(),
		Totals:        a.history.snapshotTotals(),
	}
	if w := a.watcher.Load(); w != nil {
		ws := w.Status()
		s.Watcher = &ws
	}
	if s.InFlight == nil {
		s.InFlight = []string{}
	}
	return s
}
