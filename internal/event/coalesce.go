package event

import (
	"sync"
	"time"

	"github.com/solatis/factkeeper/internal/types"
)

// Window tracks recent deliveries per coalescence group so repeat triggers
// inside an event's coalescence interval are suppressed. State is held in
// memory; a restart reopens all windows, which errs on the side of
// delivering rather than dropping.
type Window struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

// NewWindow creates an empty coalescence window.
func NewWindow() *Window {
	return &Window{
		last: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Allow reports whether the event may be delivered now, and records the
// delivery when it may. Events without a coalescence interval always pass.
func (w *Window) Allow(ev types.Event) bool {
	if ev.Coalescence <= 0 {
		return true
	}
	group := coalescenceGroup(ev)

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if last, ok := w.last[group]; ok && now.Sub(last) < time.Duration(ev.Coalescence)*time.Second {
		return false
	}
	w.last[group] = now
	return true
}

// coalescenceGroup names the suppression bucket, defaulting to the event
// type when no explicit group is set.
func coalescenceGroup(ev types.Event) string {
	if ev.CoalescenceGroup != "" {
		return ev.CoalescenceGroup
	}
	return ev.Type
}
