package web

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sweeney/clickguard/internal/logic"
)

var _ logic.Observer = (*Hub)(nil)

func dialHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients: got %d, want %d", h.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readLive(t *testing.T, conn *websocket.Conn) LiveMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg LiveMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestHubBroadcastsSamples(t *testing.T) {
	h := NewHub()
	conn := dialHub(t, h)
	waitClients(t, h, 1)

	h.ObserveSample(logic.IntervalSample{
		Milliseconds: 52.34,
		Time:         time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	})

	msg := readLive(t, conn)
	if msg.IntervalMs == nil || *msg.IntervalMs != 52.3 {
		t.Errorf("interval_ms: got %v, want 52.3", msg.IntervalMs)
	}
	if msg.DroppedSinceMs != nil {
		t.Error("dropped_since_ms should be absent on a sample")
	}
	if msg.Timestamp != "2026-01-01T00:00:01Z" {
		t.Errorf("timestamp: got %s", msg.Timestamp)
	}
}

func TestHubBroadcastsDrops(t *testing.T) {
	h := NewHub()
	conn := dialHub(t, h)
	waitClients(t, h, 1)

	h.ObserveDrop(logic.Drop{Time: time.Now(), SinceAccepted: 30 * time.Millisecond})

	msg := readLive(t, conn)
	if msg.DroppedSinceMs == nil || *msg.DroppedSinceMs != 30 {
		t.Errorf("dropped_since_ms: got %v, want 30", msg.DroppedSinceMs)
	}
	if msg.IntervalMs != nil {
		t.Error("interval_ms should be absent on a drop")
	}
}

func TestHubPreservesOrder(t *testing.T) {
	h := NewHub()
	conn := dialHub(t, h)
	waitClients(t, h, 1)

	for i := 1; i <= 5; i++ {
		h.ObserveSample(logic.IntervalSample{Milliseconds: float64(i * 10)})
	}
	for i := 1; i <= 5; i++ {
		msg := readLive(t, conn)
		if msg.IntervalMs == nil || *msg.IntervalMs != float64(i*10) {
			t.Fatalf("message %d: got %v", i, msg.IntervalMs)
		}
	}
}

func TestHubFanOut(t *testing.T) {
	h := NewHub()
	a := dialHub(t, h)
	b := dialHub(t, h)
	waitClients(t, h, 2)

	h.ObserveSample(logic.IntervalSample{Milliseconds: 7})

	for _, conn := range []*websocket.Conn{a, b} {
		if msg := readLive(t, conn); msg.IntervalMs == nil || *msg.IntervalMs != 7 {
			t.Errorf("got %v, want 7", msg.IntervalMs)
		}
	}
}

func TestHubRemovesClosedClients(t *testing.T) {
	h := NewHub()
	conn := dialHub(t, h)
	waitClients(t, h, 1)

	conn.Close()
	waitClients(t, h, 0)

	// Broadcasting with no clients is a no-op.
	h.ObserveSample(logic.IntervalSample{Milliseconds: 1})
}

func TestHubNeverBlocksOnSlowClient(t *testing.T) {
	h := NewHub()
	dialHub(t, h) // never reads
	waitClients(t, h, 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < clientQueue*20; i++ {
			h.ObserveSample(logic.IntervalSample{Milliseconds: float64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow client")
	}
}

func TestHubClose(t *testing.T) {
	h := NewHub()
	conn := dialHub(t, h)
	waitClients(t, h, 1)

	h.Close()
	if h.Clients() != 0 {
		t.Errorf("clients after Close: %d", h.Clients())
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected read error after hub Close")
	}
}

func TestLiveMessageJSON(t *testing.T) {
	data := formatSample(logic.IntervalSample{Milliseconds: 12.5, Time: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)})
	want := `{"timestamp":"2026-01-01T00:00:00Z","interval_ms":12.5}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}

	var msg map[string]any
	if err := json.Unmarshal(formatDrop(logic.Drop{SinceAccepted: time.Millisecond}), &msg); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := msg["interval_ms"]; ok {
		t.Error("drop message should not carry interval_ms")
	}
}
