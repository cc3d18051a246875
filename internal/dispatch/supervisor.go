// Package dispatch tracks fire-and-forget background work so shutdown
// behavior stays well-defined without bare go statements scattered
// through request handlers.
package dispatch

import (
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Supervisor launches and tracks background tasks. Callers never block
// on a task from the hot path; shutdown can wait for stragglers with a
// bound and then abandon them.
type Supervisor struct {
	wg sync.WaitGroup
}

// NewSupervisor returns an empty supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{}
}

// Go runs fn on a tracked goroutine with panic recovery. A panic is
// logged with its stack and never takes down the process; tasks run
// once with no retry — restart semantics belong to the process
// supervisor, not here.
func (s *Supervisor) Go(name string, fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("[dispatch] background task panicked",
					"task", name,
					"panic", r,
					"stack", string(debug.Stack()),
				)
			}
		}()
		fn()
	}()
}

// Wait blocks until all tracked tasks finish or timeout elapses, and
// reports whether everything completed. Abandoned tasks keep running;
// subprocesses they spawned are never killed here.
func (s *Supervisor) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
