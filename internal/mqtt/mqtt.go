// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"log"
	"math"
	"time"

	"github.com/sweeney/clickguard/internal/logic"
)

// TopicIntervals carries measurement samples.
const TopicIntervals = "input/clickguard/intervals"

// TopicDrops carries one message per suppressed click.
const TopicDrops = "input/clickguard/drops"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "input/clickguard/system"

// TopicCommand is subscribed to for remote configuration.
const TopicCommand = "input/clickguard/set"

// Publisher publishes click notices to MQTT.
type Publisher interface {
	// PublishSample sends an interval measurement.
	// Returns error if publishing fails (should not crash the process).
	PublishSample(sample logic.IntervalSample) error

	// PublishDrop sends a suppressed-click notice.
	PublishDrop(drop logic.Drop) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// IntervalPayload is the message on TopicIntervals.
type IntervalPayload struct {
	Interval IntervalInner `json:"interval"`
}

// IntervalInner contains the sample details.
type IntervalInner struct {
	Timestamp string  `json:"timestamp"`
	Ms        float64 `json:"ms"`
}

// DropPayload is the message on TopicDrops.
type DropPayload struct {
	Drop DropInner `json:"drop"`
}

// DropInner contains the drop details.
type DropInner struct {
	Timestamp       string  `json:"timestamp"`
	SinceAcceptedMs float64 `json:"since_accepted_ms"`
	ThresholdMs     float64 `json:"threshold_ms"`
}

func ms(d time.Duration) float64 {
	return roundMs(float64(d) / float64(time.Millisecond))
}

func roundMs(v float64) float64 {
	return math.Round(v*10) / 10
}

// FormatSample creates the JSON payload for an interval sample.
func FormatSample(s logic.IntervalSample) ([]byte, error) {
	return json.Marshal(IntervalPayload{
		Interval: IntervalInner{
			Timestamp: s.Time.UTC().Format(time.RFC3339Nano),
			Ms:        roundMs(s.Milliseconds),
		},
	})
}

// FormatDrop creates the JSON payload for a drop notice.
func FormatDrop(d logic.Drop) ([]byte, error) {
	return json.Marshal(DropPayload{
		Drop: DropInner{
			Timestamp:       d.Time.UTC().Format(time.RFC3339Nano),
			SinceAcceptedMs: ms(d.SinceAccepted),
			ThresholdMs:     ms(d.Threshold),
		},
	})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// Forwarder adapts a Publisher to logic.Observer. Publish failures are
// logged and otherwise ignored.
type Forwarder struct {
	Pub Publisher
}

// ObserveSample publishes the sample.
func (f Forwarder) ObserveSample(s logic.IntervalSample) {
	if err := f.Pub.PublishSample(s); err != nil {
		log.Printf("mqtt: publish sample: %v", err)
	}
}

// ObserveDrop publishes the drop notice.
func (f Forwarder) ObserveDrop(d logic.Drop) {
	if err := f.Pub.PublishDrop(d); err != nil {
		log.Printf("mqtt: publish drop: %v", err)
	}
}

// Discard is a Publisher that drops everything. Used when no broker is configured.
type Discard struct{}

func (Discard) PublishSample(logic.IntervalSample) error { return nil }
func (Discard) PublishDrop(logic.Drop) error { return nil }
func (Discard) PublishSystem(SystemEvent) error { return nil }
func (Discard) Close() error { return nil }
func (Discard) IsConnected() bool { return false }
