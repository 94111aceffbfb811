//go:build linux

package hook

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/sweeney/clickguard/internal/logic"
	"github.com/warthog618/go-gpiocdev"
)

// Default GPIO wiring for a push button used as a middle click.
const (
	DefaultGPIOChip = "gpiochip0"
	DefaultGPIOLine = 17
)

// GPIOSource turns a push button on a GPIO line into middle clicks on a
// uinput virtual mouse. The button pulls the line low when pressed.
type GPIOSource struct {
	chip   string
	offset int

	mu       sync.Mutex
	line     *gpiocdev.Line
	out      *VirtualMouse
	handler  Handler
	disabled chan error
}

// NewGPIOSource prepares a source for the given chip and line offset.
func NewGPIOSource(chip string, offset int) (*GPIOSource, error) {
	if chip == "" {
		chip = DefaultGPIOChip
	}
	if offset < 0 {
		return nil, fmt.Errorf("invalid gpio line %d", offset)
	}
	return &GPIOSource{
		chip:     chip,
		offset:   offset,
		disabled: make(chan error, 1),
	}, nil
}

// Name reports the backend and line.
func (s *GPIOSource) Name() string {
	return fmt.Sprintf("gpio:%s/%d", s.chip, s.offset)
}

// Disabled reports unexpected loss of the virtual device.
func (s *GPIOSource) Disabled() <-chan error {
	return s.disabled
}

// Start requests the line with edge detection and creates the virtual mouse.
func (s *GPIOSource) Start(h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.line != nil {
		return ErrAlreadyStarted
	}

	out, err := NewVirtualMouse(VirtualDeviceName)
	if err != nil {
		return err
	}
	s.out = out
	s.handler = h

	// Active low with pull-up: a press is a logical rising edge.
	line, err := gpiocdev.RequestLine(s.chip, s.offset,
		gpiocdev.AsInput,
		gpiocdev.AsActiveLow,
		gpiocdev.WithPullUp,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(s.handleEdge))
	if err != nil {
		out.Close()
		s.out = nil
		if errors.Is(err, os.ErrPermission) {
			return fmt.Errorf("request %s line %d: %w (%v)", s.chip, s.offset, ErrPermissionDenied, err)
		}
		return fmt.Errorf("request %s line %d: %w", s.chip, s.offset, err)
	}
	s.line = line
	return nil
}

// handleEdge runs on the gpiocdev event goroutine, one edge at a time.
func (s *GPIOSource) handleEdge(evt gpiocdev.LineEvent) {
	kind := logic.Up
	if evt.Type == gpiocdev.LineEventRisingEdge {
		kind = logic.Down
	}

	decision := s.handler.HandleButton(logic.RawEvent{
		Button: logic.MiddleButton,
		Kind:   kind,
		Time:   time.Now(),
	})
	if decision == logic.Suppress {
		return
	}

	if err := s.out.Button(BtnMiddle, kind == logic.Down); err != nil {
		log.Printf("hook: %s: re-emit failed, tap disabled: %v", s.Name(), err)
		reportDisabled(s.disabled, err)
	}
}

// Stop releases the line and destroys the virtual device.
func (s *GPIOSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.line == nil {
		return nil
	}

	var errs []error
	if err := s.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s line %d: %w", s.chip, s.offset, err))
	}
	if err := s.out.Close(); err != nil {
		errs = append(errs, err)
	}
	s.line = nil
	s.out = nil
	return errors.Join(errs...)
}
