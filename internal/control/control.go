// Package control applies configuration changes from the web UI, MQTT and
// the command line to the running engine and persists them.
package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sweeney/clickguard/internal/settings"
	"github.com/sweeney/clickguard/internal/status"
)

// ErrInvalidConfiguration is returned for a non-positive or non-numeric threshold.
var ErrInvalidConfiguration = errors.New("invalid debounce threshold")

// MaxDebounceMs bounds free entry. A window this long would swallow
// every deliberate click anyway.
const MaxDebounceMs = settings.MaxDebounceMs

// Presets are the thresholds offered as one-click choices.
var Presets = []float64{50, 100, 200}

// Engine is the part of logic.Engine the controller drives.
type Engine interface {
	SetThreshold(time.Duration) error
	Threshold() time.Duration
	SetMeasurementEnabled(bool)
	MeasurementEnabled() bool
}

// Command is a remote configuration request. Nil fields are left alone.
type Command struct {
	DebounceMs     *float64 `json:"debounce_ms,omitempty"`
	Measure        *bool    `json:"measure,omitempty"`
	ClearIntervals bool     `json:"clear_intervals,omitempty"`
}

// ParseCommand decodes a JSON command payload.
func ParseCommand(payload []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	return cmd, nil
}

// ParseDebounce reads a threshold in milliseconds from user input.
// Bare numbers are milliseconds; values with a unit ("125ms", "0.2s")
// are parsed as durations.
func ParseDebounce(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidConfiguration)
	}

	var ms float64
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		ms = v
	} else {
		d, derr := time.ParseDuration(s)
		if derr != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidConfiguration, s)
		}
		ms = float64(d) / float64(time.Millisecond)
	}

	if err := validate(ms); err != nil {
		return 0, err
	}
	return ms, nil
}

func validate(ms float64) error {
	if math.IsNaN(ms) || math.IsInf(ms, 0) {
		return fmt.Errorf("%w: not a finite number", ErrInvalidConfiguration)
	}
	if ms <= 0 {
		return fmt.Errorf("%w: %g must be positive", ErrInvalidConfiguration, ms)
	}
	if ms > MaxDebounceMs {
		return fmt.Errorf("%w: %g exceeds %d", ErrInvalidConfiguration, ms, MaxDebounceMs)
	}
	if time.Duration(ms*float64(time.Millisecond)) <= 0 {
		return fmt.Errorf("%w: %g is below clock resolution", ErrInvalidConfiguration, ms)
	}
	return nil
}

// Controller is the single writer of configuration.
type Controller struct {
	mu      sync.Mutex
	engine  Engine
	store   settings.Store
	tracker *status.Tracker
}

// New creates a Controller. store and tracker may be nil.
func New(engine Engine, store settings.Store, tracker *status.Tracker) *Controller {
	return &Controller{engine: engine, store: store, tracker: tracker}
}

// Threshold returns the live threshold.
func (c *Controller) Threshold() time.Duration {
	return c.engine.Threshold()
}

// SetDebounceMs validates and applies a new threshold, then persists it.
// On a validation error the previous threshold stays in effect.
// A failed save is logged; the live value is kept.
func (c *Controller) SetDebounceMs(ms float64) error {
	if err := validate(ms); err != nil {
		return err
	}
	d := time.Duration(ms * float64(time.Millisecond))

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.engine.SetThreshold(d); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	if c.tracker != nil {
		c.tracker.SetThreshold(d)
	}
	log.Printf("control: debounce threshold set to %gms", ms)

	if c.store != nil {
		if err := c.store.Save(settings.Settings{DebounceMs: ms}); err != nil {
			log.Printf("control: save settings: %v", err)
		}
	}
	return nil
}

// SetDebounce parses user input and applies it.
func (c *Controller) SetDebounce(s string) error {
	ms, err := ParseDebounce(s)
	if err != nil {
		return err
	}
	return c.SetDebounceMs(ms)
}

// SetMeasurement switches measurement mode on or off.
func (c *Controller) SetMeasurement(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	was := c.engine.MeasurementEnabled()
	c.engine.SetMeasurementEnabled(on)
	if c.tracker != nil {
		c.tracker.SetMeasuring(on)
		if on && !was {
			c.tracker.ClearIntervals()
		}
	}
	if was != on {
		log.Printf("control: measurement %s", onOff(on))
	}
}

// ClearIntervals empties the displayed measurement window.
func (c *Controller) ClearIntervals() {
	if c.tracker != nil {
		c.tracker.ClearIntervals()
	}
}

// Apply executes a command. The threshold is applied first; if it is
// rejected the remaining fields are not touched.
func (c *Controller) Apply(cmd Command) error {
	if cmd.DebounceMs != nil {
		if err := c.SetDebounceMs(*cmd.DebounceMs); err != nil {
			return err
		}
	}
	if cmd.Measure != nil {
		c.SetMeasurement(*cmd.Measure)
	}
	if cmd.ClearIntervals {
		c.ClearIntervals()
	}
	return nil
}

// HandlePayload parses and applies a raw MQTT command, logging failures.
func (c *Controller) HandlePayload(payload []byte) {
	cmd, err := ParseCommand(payload)
	if err != nil {
		log.Printf("control: ignoring command: %v", err)
		return
	}
	if err := c.Apply(cmd); err != nil {
		log.Printf("control: command rejected: %v", err)
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
