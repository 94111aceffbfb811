package web

import (
	"encoding/json"
	"time"

	"github.com/sweeney/clickguard/internal/logic"
	"github.com/sweeney/clickguard/internal/status"
)

// LiveMessage is one frame on the /ws feed. Exactly one of IntervalMs
// and DroppedSinceMs is set.
type LiveMessage struct {
	Timestamp      string   `json:"timestamp"`
	IntervalMs     *float64 `json:"interval_ms,omitempty"`
	DroppedSinceMs *float64 `json:"dropped_since_ms,omitempty"`
}

func formatSample(s logic.IntervalSample) []byte {
	ms := status.Ms(time.Duration(s.Milliseconds * float64(time.Millisecond)))
	data, _ := json.Marshal(LiveMessage{
		Timestamp:  s.Time.UTC().Format(time.RFC3339Nano),
		IntervalMs: &ms,
	})
	return data
}

func formatDrop(d logic.Drop) []byte {
	ms := status.Ms(d.SinceAccepted)
	data, _ := json.Marshal(LiveMessage{
		Timestamp:      d.Time.UTC().Format(time.RFC3339Nano),
		DroppedSinceMs: &ms,
	})
	return data
}
