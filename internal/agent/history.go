package agent

import (
	"sync"

	"github.com/ddasapp/ddas-agent/internal/processor"
)

// history keeps the most recent results in a fixed-size ring plus running
// totals per outcome.
type history struct {
	ring   []processor.Result
	totals map[processor.Outcome]int64
	next   int
	full   bool
	mu     sync.RWMutex
}

func newHistory(size int) *history {
	return &history{
		ring:   make([]processor.Result, size),
		totals: make(map[processor.Outcome]int64),
	}
}

func (h *history) add(r processor.Result) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.totals[r.Outcome]++
	if len(h.ring) == 0 {
		return
	}
	h.ring[h.next] = r
	h.next = (h.next + 1) % len(h.ring)
	if h.next == 0 {
		h.full = true
	}
}

// recent returns the stored results, newest first.
func (h *history) recent() []processor.Result {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := h.next
	if h.full {
		n = len(h.ring)
	}
	out := make([]processor.Result, 0, n)
	for i := range n {
		idx := (h.next - 1 - i + len(h.ring)) % len(h.ring)
		out = append(out, h.ring[idx])
	}
	return out
}

func (h *history) snapshotTotals() Totals {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Totals{
		Duplicate: h.totals[processor.OutcomeDuplicate],
		Uploaded:  h.totals[processor.OutcomeUploaded],
		Failed:    h.totals[processor.OutcomeFailed],
	}
}
