package relay

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"duckycap/internal/combo"
	"duckycap/internal/debounce"
	"duckycap/internal/dispatch"
	"duckycap/internal/varlink"
)

// CommandRunner runs a resolved script under the target user.
type CommandRunner interface {
	Run(ctx context.Context, script string) error
}

// Journal receives press decisions for optional persistence.
// Implementations must not block the caller.
type Journal interface {
	Record(ts time.Time, comboID, script, action string)
}

// Journal action values.
const (
	ActionAdmitted   = "admitted"
	ActionSuppressed = "suppressed"
	ActionUnmapped   = "unmapped"
)

// Service implements the io.ducky.Keystroke interface. The ledger and
// table are owned here; the ledger serializes internally so concurrent
// connection handlers get atomic admit decisions.
type Service struct {
	table   *Table
	ledger  *debounce.Ledger
	runner  CommandRunner
	sup     *dispatch.Supervisor
	journal Journal // nil disables journaling

	count atomic.Uint64

	// now is a test seam for debounce timing.
	now func() time.Time
}

// NewService wires the relay pipeline: debounce, resolve, execute.
// journal may be nil.
func NewService(table *Table, ledger *debounce.Ledger, runner CommandRunner, sup *dispatch.Supervisor, journal Journal) *Service {
	return &Service{
		table:   table,
		ledger:  ledger,
		runner:  runner,
		sup:     sup,
		journal: journal,
		now:     time.Now,
	}
}

// SendKeys handles one io.ducky.Keystroke.SendKeys invocation. A typed
// *varlink.CallError is returned for protocol-level faults; everything
// downstream of a valid request is acknowledged as success, with
// Pressed=false signalling that no action was taken.
func (s *Service) SendKeys(keys []string, pressed bool) (varlink.SendKeysReply, error) {
	c := combo.Normalize(keys)
	if c.Empty() {
		return varlink.SendKeysReply{}, varlink.NewCallError(varlink.ErrInvalidKey, "keys list cannot be empty")
	}

	n := s.count.Add(1)
	slog.Debug("[relay] key combination received", "seq", n, "keys", c.ID(), "pressed", pressed)

	// Releases never touch the ledger and never trigger anything; they
	// only exist so the capture side can clear its held-key state.
	if !pressed {
		return varlink.SendKeysReply{Success: true, Keys: c.Keys(), Pressed: false}, nil
	}

	now := s.now()
	if !s.ledger.Admit(c, now) {
		slog.Debug("[relay] press suppressed inside debounce window", "keys", c.ID())
		s.record(now, c.ID(), "", ActionSuppressed)
		return varlink.SendKeysReply{Success: true, Keys: c.Keys(), Pressed: false}, nil
	}

	script, ok := s.table.Lookup(c)
	if !ok {
		slog.Info("[relay] no command mapped", "keys", c.ID())
		s.record(now, c.ID(), "", ActionUnmapped)
		return varlink.SendKeysReply{Success: true, Keys: c.Keys(), Pressed: true}, nil
	}

	s.record(now, c.ID(), script, ActionAdmitted)
	s.dispatch(c.ID(), script)
	return varlink.SendKeysReply{Success: true, Keys: c.Keys(), Pressed: true}, nil
}

// dispatch launches the script fire-and-forget so a slow or hanging
// command never blocks the next request. Failures are logged and never
// reach the key-press caller.
func (s *Service) dispatch(comboID, script string) {
	slog.Info("[relay] executing command", "keys", comboID, "script", script)
	s.sup.Go("command "+script, func() {
		if err := s.runner.Run(context.Background(), script); err != nil {
			slog.Error("[relay] command failed", "keys", comboID, "script", script, "error", err)
			return
		}
		slog.Info("[relay] command completed", "keys", comboID, "script", script)
	})
}

func (s *Service) record(ts time.Time, comboID, script, action string) {
	if s.journal == nil {
		return
	}
	s.journal.Record(ts, comboID, script, action)
}
