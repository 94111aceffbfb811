package hook

import (
	"errors"
	"sync"

	"github.com/sweeney/clickguard/internal/logic"
)

// FakeSource is a test double that delivers scripted events to the handler.
type FakeSource struct {
	mu sync.Mutex

	// StartError, if set, is returned by Start and nothing is delivered.
	StartError error

	// Started tracks whether the tap is installed.
	Started bool

	// StopCalls counts calls to Stop, including no-op ones.
	StopCalls int

	// Decisions records the handler's answer for every delivered event.
	Decisions []logic.Decision

	handler  Handler
	disabled chan error
}

// NewFakeSource creates an unstarted FakeSource.
func NewFakeSource() *FakeSource {
	return &FakeSource{disabled: make(chan error, 1)}
}

// Name identifies the fake backend.
func (f *FakeSource) Name() string {
	return "fake"
}

// Start records the handler.
func (f *FakeSource) Start(h Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.StartError != nil {
		return f.StartError
	}
	if f.Started {
		return ErrAlreadyStarted
	}
	f.handler = h
	f.Started = true
	return nil
}

// Stop uninstalls the handler. Safe to call repeatedly.
func (f *FakeSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.StopCalls++
	f.Started = false
	f.handler = nil
	return nil
}

// Disabled returns the disablement channel.
func (f *FakeSource) Disabled() <-chan error {
	return f.disabled
}

// Emit delivers one event and returns the decision. Events emitted while
// stopped are not seen by anyone and report Forward.
func (f *FakeSource) Emit(ev logic.RawEvent) (logic.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.Started {
		return logic.Forward, errors.New("fake source not started")
	}
	d := f.handler.HandleButton(ev)
	f.Decisions = append(f.Decisions, d)
	return d, nil
}

// Disable simulates the platform turning the tap off.
func (f *FakeSource) Disable(err error) {
	reportDisabled(f.disabled, err)
}
