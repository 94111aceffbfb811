package logic

import (
	"sync"
	"time"
)

// Engine decides whether each middle click is forwarded or dropped and,
// when measuring, samples the interval between consecutive clicks.
//
// HandleButton runs on the event source's callback context while the
// setters run on the configuration context; a single mutex covers both.
type Engine struct {
	mu           sync.Mutex
	threshold    time.Duration
	lastAccepted time.Time
	accepted     bool // lastAccepted is set
	measuring    bool
	lastObserved time.Time
	observed     bool // lastObserved is set
	counts       Counts
	observer     Observer
}

// NewEngine creates an engine with the given threshold.
// The observer may be nil; when set it must not block.
func NewEngine(threshold time.Duration, observer Observer) (*Engine, error) {
	if threshold <= 0 {
		return nil, ErrInvalidThreshold
	}
	return &Engine{
		threshold: threshold,
		observer:  observer,
	}, nil
}

// HandleButton classifies one raw event and returns the decision.
func (e *Engine) HandleButton(ev RawEvent) Decision {
	if ev.Button != MiddleButton || ev.Kind != Down {
		e.mu.Lock()
		e.counts.Passed++
		e.mu.Unlock()
		return Forward
	}

	now := ev.Time
	var sample *IntervalSample
	var drop *Drop

	e.mu.Lock()
	// Measurement sees every click, whatever the suppression outcome.
	if e.measuring {
		if e.observed {
			sample = &IntervalSample{
				Milliseconds: durationMs(now.Sub(e.lastObserved)),
				Time:         now,
			}
		}
		e.lastObserved = now
		e.observed = true
	}

	decision := Forward
	if e.accepted {
		since := now.Sub(e.lastAccepted)
		if since < e.threshold {
			decision = Suppress
			drop = &Drop{Time: now, SinceAccepted: since, Threshold: e.threshold}
		}
	}
	if decision == Forward {
		e.lastAccepted = now
		e.accepted = true
		e.counts.Forwarded++
	} else {
		e.counts.Dropped++
	}
	observer := e.observer
	e.mu.Unlock()

	if observer != nil {
		if sample != nil {
			observer.ObserveSample(*sample)
		}
		if drop != nil {
			observer.ObserveDrop(*drop)
		}
	}
	return decision
}

// SetThreshold replaces the debounce threshold. A non-positive value is
// rejected and the previous threshold stays in effect.
func (e *Engine) SetThreshold(d time.Duration) error {
	if d <= 0 {
		return ErrInvalidThreshold
	}
	e.mu.Lock()
	e.threshold = d
	e.mu.Unlock()
	return nil
}

// Threshold returns the current debounce threshold.
func (e *Engine) Threshold() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.threshold
}

// SetMeasurementEnabled toggles measurement mode. Enabling it forgets the
// previously observed click so the next one starts a fresh series.
func (e *Engine) SetMeasurementEnabled(on bool) {
	e.mu.Lock()
	if on && !e.measuring {
		e.observed = false
	}
	e.measuring = on
	e.mu.Unlock()
}

// MeasurementEnabled reports whether measurement mode is on.
func (e *Engine) MeasurementEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.measuring
}

// Counts returns a copy of the decision counters.
func (e *Engine) Counts() Counts {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counts
}

// LastAccepted returns the timestamp of the last forwarded click and
// whether there has been one.
func (e *Engine) LastAccepted() (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastAccepted, e.accepted
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
