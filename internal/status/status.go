// Package status provides a thread-safe status tracker for the clickguard daemon.
// It is read by the HTTP handlers and the MQTT heartbeat.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/clickguard/internal/logic"
)

// MaxIntervals is the size of the recent interval window.
const MaxIntervals = 10

// Config contains daemon configuration for display.
type Config struct {
	Source      string
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
	Settings    string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Threshold     time.Duration
	Measuring     bool
	Counts        logic.Counts
	Intervals     []float64 // most recent last
	LastDrop      *logic.Drop
	Running       bool
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// AverageMs returns the mean of the interval window, or 0 when empty.
func (s Snapshot) AverageMs() float64 {
	if len(s.Intervals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s.Intervals {
		sum += v
	}
	return sum / float64(len(s.Intervals))
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// Update sets the engine-derived fields.
func (t *Tracker) Update(threshold time.Duration, measuring bool, counts logic.Counts) {
	t.mu.Lock()
	t.snap.Threshold = threshold
	t.snap.Measuring = measuring
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetThreshold records a new threshold.
func (t *Tracker) SetThreshold(d time.Duration) {
	t.mu.Lock()
	t.snap.Threshold = d
	t.mu.Unlock()
}

// SetMeasuring records the measurement flag. Turning it on starts a fresh window.
func (t *Tracker) SetMeasuring(on bool) {
	t.mu.Lock()
	if on && !t.snap.Measuring {
		t.snap.Intervals = nil
	}
	t.snap.Measuring = on
	t.mu.Unlock()
}

// SetRunning records whether the event source is active.
func (t *Tracker) SetRunning(running bool) {
	t.mu.Lock()
	t.snap.Running = running
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// ClearIntervals empties the interval window.
func (t *Tracker) ClearIntervals() {
	t.mu.Lock()
	t.snap.Intervals = nil
	t.mu.Unlock()
}

// ObserveSample appends to the interval window, evicting the oldest.
func (t *Tracker) ObserveSample(s logic.IntervalSample) {
	t.mu.Lock()
	t.snap.Intervals = append(t.snap.Intervals, s.Milliseconds)
	if n := len(t.snap.Intervals); n > MaxIntervals {
		t.snap.Intervals = append([]float64(nil), t.snap.Intervals[n-MaxIntervals:]...)
	}
	t.mu.Unlock()
}

// ObserveDrop remembers the latest suppressed click.
func (t *Tracker) ObserveDrop(d logic.Drop) {
	t.mu.Lock()
	t.snap.LastDrop = &d
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Intervals = append([]float64(nil), t.snap.Intervals...)
	if t.snap.LastDrop != nil {
		d := *t.snap.LastDrop
		s.LastDrop = &d
	}
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
