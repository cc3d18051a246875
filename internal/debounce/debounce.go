// Package debounce suppresses rapid repeated triggers of the same key
// combination at the relay boundary. The duckyPad emits bursts of
// press/release events even while a key is physically held, and
// reconnects can replay emissions, so a time window guards command
// execution.
package debounce

import (
	"sync"
	"time"

	"duckycap/internal/combo"
)

// DefaultWindow is the minimum interval between two admitted triggers
// of the same combination.
const DefaultWindow = 500 * time.Millisecond

// Ledger tracks the last admitted time per combination. Safe for
// concurrent use: admit, overwrite, and prune happen atomically under
// one lock so near-simultaneous presses cannot both be admitted.
type Ledger struct {
	mu     sync.Mutex
	window time.Duration
	last   map[string]time.Time
}

// NewLedger creates a ledger with the given window. Non-positive values
// fall back to DefaultWindow.
func NewLedger(window time.Duration) *Ledger {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Ledger{
		window: window,
		last:   make(map[string]time.Time),
	}
}

// Window returns the configured debounce window.
func (l *Ledger) Window() time.Duration { return l.window }

// Admit reports whether a press of c at time now should trigger. An
// admitted press records now; a suppressed press leaves the ledger
// unchanged. Entries older than the window are pruned on every call,
// so no separate cleanup timer is needed.
func (l *Ledger) Admit(c combo.Combo, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, t := range l.last {
		if now.Sub(t) >= l.window {
			delete(l.last, id)
		}
	}

	if t, ok := l.last[c.ID()]; ok && now.Sub(t) < l.window {
		return false
	}
	l.last[c.ID()] = now
	return true
}

// size reports the number of live ledger entries. Test hook.
func (l *Ledger) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.last)
}
