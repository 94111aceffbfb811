package status

import (
	"encoding/json"
	"math"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Running       bool          `json:"running"`
	DebounceMs    float64       `json:"debounce_ms"`
	Measuring     bool          `json:"measuring"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Counts        CountsJSON    `json:"click_counts"`
	Intervals     IntervalsJSON `json:"intervals"`
	LastDrop      *DropJSON     `json:"last_drop,omitempty"`
	Config        ConfigJSON    `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of decision counts.
type CountsJSON struct {
	Forwarded int `json:"forwarded"`
	Dropped   int `json:"dropped"`
	Passed    int `json:"passed"`
}

// IntervalsJSON is the recent measurement window.
type IntervalsJSON struct {
	RecentMs  []float64 `json:"recent_ms"`
	AverageMs float64   `json:"average_ms"`
}

// DropJSON describes the last suppressed click.
type DropJSON struct {
	Timestamp       string  `json:"timestamp"`
	SinceAcceptedMs float64 `json:"since_accepted_ms"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Source      string `json:"source"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
	Settings    string `json:"settings"`
}

// Ms converts a duration to fractional milliseconds rounded to 0.1ms.
func Ms(d time.Duration) float64 {
	return round1(float64(d) / float64(time.Millisecond))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func buildInner(snap Snapshot) StatusInner {
	recent := make([]float64, len(snap.Intervals))
	for i, v := range snap.Intervals {
		recent[i] = round1(v)
	}

	inner := StatusInner{
		Running:       snap.Running,
		DebounceMs:    Ms(snap.Threshold),
		Measuring:     snap.Measuring,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Forwarded: snap.Counts.Forwarded,
			Dropped:   snap.Counts.Dropped,
			Passed:    snap.Counts.Passed,
		},
		Intervals: IntervalsJSON{
			RecentMs:  recent,
			AverageMs: round1(snap.AverageMs()),
		},
		Config: ConfigJSON{
			Source:      snap.Config.Source,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
			Settings:    snap.Config.Settings,
		},
	}
	if snap.LastDrop != nil {
		inner.LastDrop = &DropJSON{
			Timestamp:       snap.LastDrop.Time.UTC().Format(time.RFC3339Nano),
			SinceAcceptedMs: Ms(snap.LastDrop.SinceAccepted),
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
