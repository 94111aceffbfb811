// Package logic contains the pure debounce and measurement policy for middle-button clicks.
// This package has NO external dependencies (no devices, MQTT, OS, or time.Sleep).
// Time is always injectable via the timestamps carried on each event.
package logic

import (
	"errors"
	"time"
)

// MiddleButton is the designated button id (0 = left, 1 = right, 2 = middle).
const MiddleButton = 2

// DefaultThreshold is used when no saved setting exists.
const DefaultThreshold = 100 * time.Millisecond

// ErrInvalidThreshold is returned when a non-positive threshold is supplied.
var ErrInvalidThreshold = errors.New("debounce threshold must be positive")

// Kind is the direction of a button transition.
type Kind string

const (
	Down Kind = "DOWN"
	Up   Kind = "UP"
)

// Decision tells the event source what to do with the native event.
type Decision int

const (
	Forward Decision = iota
	Suppress
)

func (d Decision) String() string {
	if d == Suppress {
		return "DROP"
	}
	return "FORWARD"
}

// RawEvent is a single button transition as seen by the event source.
type RawEvent struct {
	Button int
	Kind   Kind
	Time   time.Time
}

// IntervalSample is the time between two consecutive observed middle clicks.
type IntervalSample struct {
	Milliseconds float64
	Time         time.Time // timestamp of the click that closed the interval
}

// Drop describes a suppressed click.
type Drop struct {
	Time          time.Time
	SinceAccepted time.Duration
	Threshold     time.Duration
}

// Counts tracks middle-button decisions since startup.
type Counts struct {
	Forwarded int // middle Down events forwarded
	Dropped   int // middle Down events suppressed
	Passed    int // Up events and other buttons passed through untouched
}

// Observer receives notices produced on the event path.
// Implementations called directly by the Engine must not block.
type Observer interface {
	ObserveSample(IntervalSample)
	ObserveDrop(Drop)
}
