// Package capture owns the duckyPad input device: it grabs the device
// exclusively, tracks which keys are held, and forwards every new key
// combination to the relay service.
package capture

import (
	"fmt"
	"log/slog"

	evdev "github.com/holoplot/go-evdev"

	"duckycap/internal/combo"
	"duckycap/internal/keymap"
	"duckycap/internal/varlink"
)

// Key event values on the wire: press, release, and hardware
// auto-repeat.
const (
	keyRelease = 0
	keyPress   = 1
	keyRepeat  = 2
)

// Device is the slice of an evdev input device the capture loop needs.
// *evdev.InputDevice satisfies it; tests substitute a scripted fake.
type Device interface {
	Grab() error
	Ungrab() error
	ReadOne() (*evdev.InputEvent, error)
	Close() error
}

// Sender delivers a normalized combination to the relay service.
// *varlink.Client satisfies it.
type Sender interface {
	SendKeys(keys []string, pressed bool) (varlink.SendKeysReply, error)
}

// Capturer runs the device event loop. It is single-threaded by design:
// one blocking read loop with inline relay calls — device-to-relay
// traffic is local and fast, and strict press ordering matters more
// than throughput here.
type Capturer struct {
	dev    Device
	sender Sender
	held   map[uint16]struct{}
}

// New wraps a discovered device and a relay sender.
func New(dev Device, sender Sender) *Capturer {
	return &Capturer{
		dev:    dev,
		sender: sender,
		held:   make(map[uint16]struct{}),
	}
}

// Run grabs the device exclusively and processes events until a read
// error. Once grabbed, the device's input no longer reaches the rest of
// the system; everything is mediated here. A read failure means the
// device disconnected and is returned to the caller — restarting is the
// process supervisor's job, not ours.
func (c *Capturer) Run() error {
	if err := c.dev.Grab(); err != nil {
		return fmt.Errorf("exclusive grab: %w", err)
	}
	slog.Info("[capture] device grabbed exclusively; its input is hidden from the system")

	for {
		ev, err := c.dev.ReadOne()
		if err != nil {
			return fmt.Errorf("read device event (disconnected?): %w", err)
		}
		c.handle(ev)
	}
}

// Close releases the grab and the device handle.
func (c *Capturer) Close() error {
	if err := c.dev.Ungrab(); err != nil {
		slog.Debug("[capture] ungrab failed", "error", err)
	}
	return c.dev.Close()
}

func (c *Capturer) handle(ev *evdev.InputEvent) {
	if ev.Type != evdev.EV_KEY {
		return
	}

	code := uint16(ev.Code)
	switch ev.Value {
	case keyPress:
		if _, held := c.held[code]; held {
			return
		}
		c.held[code] = struct{}{}
		// A new key joined the combination: emit the full held set.
		c.emit()
	case keyRelease:
		// Releases only clear local state; the relay never sees them
		// as triggers.
		delete(c.held, code)
	case keyRepeat:
		// Hardware auto-repeat; the held set already covers it.
	}
}

func (c *Capturer) emit() {
	names := make([]string, 0, len(c.held))
	for code := range c.held {
		names = append(names, keymap.Resolve(code))
	}
	cmb := combo.Normalize(names)

	reply, err := c.sender.SendKeys(cmb.Keys(), true)
	if err != nil {
		slog.Error("[capture] relay call failed", "keys", cmb.ID(), "error", err)
		return
	}
	slog.Debug("[capture] combination sent", "keys", cmb.ID(), "triggered", reply.Pressed)
}
