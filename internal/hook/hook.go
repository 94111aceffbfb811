// Package hook provides the system-wide button event source with hardware abstraction.
// The real implementations grab a Linux evdev pointer device or watch a GPIO
// push button, re-emitting forwarded events through a uinput virtual mouse.
// The fake implementation allows testing without hardware.
package hook

import (
	"errors"

	"github.com/sweeney/clickguard/internal/logic"
)

// Handler decides the fate of each button event. It is called synchronously
// on the source's delivery goroutine and must return quickly.
type Handler interface {
	HandleButton(ev logic.RawEvent) logic.Decision
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ev logic.RawEvent) logic.Decision

// HandleButton calls f(ev).
func (f HandlerFunc) HandleButton(ev logic.RawEvent) logic.Decision {
	return f(ev)
}

// Source intercepts button events before the rest of the system sees them.
type Source interface {
	// Start installs the tap and begins delivering events to h.
	// Returns an error wrapping ErrPermissionDenied if the device cannot be opened.
	Start(h Handler) error

	// Stop removes the tap. Calling Stop on a stopped source is a no-op.
	Stop() error

	// Disabled receives at most one error when the platform stops delivering
	// events on its own (device unplugged, read failure). The source does not
	// re-arm itself.
	Disabled() <-chan error

	// Name identifies the backend for logs and status.
	Name() string
}

var (
	// ErrPermissionDenied means the process may not open the input device.
	ErrPermissionDenied = errors.New("permission denied opening input device")

	// ErrUnsupported is returned by real sources on platforms without evdev/uinput.
	ErrUnsupported = errors.New("hook: not supported on this platform (requires Linux)")

	// ErrAlreadyStarted is returned when Start is called twice without Stop.
	ErrAlreadyStarted = errors.New("hook: source already started")
)

// reportDisabled delivers err on ch unless an error is already pending.
func reportDisabled(ch chan error, err error) {
	select {
	case ch <- err:
	default:
	}
}
