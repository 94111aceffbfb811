package mqtt

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// doneToken is an already-completed paho token.
type doneToken struct {
	paho.Token
}

func (doneToken) Wait() bool { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Error() error { return nil }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// recordingClient records publishes in call order. duringPublish, if set,
// runs once inside the first Publish call.
type recordingClient struct {
	paho.Client

	mu            sync.Mutex
	sent          []string
	duringPublish func()
}

func (c *recordingClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	c.sent = append(c.sent, string(payload.([]byte)))
	hook := c.duringPublish
	c.duringPublish = nil
	c.mu.Unlock()

	if hook != nil {
		hook()
	}
	return doneToken{}
}

func (c *recordingClient) Subscribe(string, byte, paho.MessageHandler) paho.Token {
	return doneToken{}
}

func (c *recordingClient) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func newOfflinePublisher(c *recordingClient) *RealPublisher {
	return &RealPublisher{
		client: c,
		opts:   Options{Broker: "tcp://test:1883"},
		outbox: newOutbox(outboxCapacity),
	}
}

func TestReplayKeepsOrderWithConcurrentPublish(t *testing.T) {
	c := &recordingClient{}
	p := newOfflinePublisher(c)

	for _, m := range []string{"a", "b", "c"} {
		if err := p.publish(TopicIntervals, 0, false, []byte(m)); err != nil {
			t.Fatalf("publish %s: %v", m, err)
		}
	}

	// A sample arrives while the first buffered message is being replayed.
	c.duringPublish = func() {
		if err := p.publish(TopicIntervals, 0, false, []byte("d")); err != nil {
			t.Errorf("publish during replay: %v", err)
		}
	}

	p.onConnect(c)

	if !p.IsConnected() {
		t.Fatal("should be connected once the outbox is empty")
	}
	if err := p.publish(TopicIntervals, 0, false, []byte("e")); err != nil {
		t.Fatalf("publish after replay: %v", err)
	}

	got := c.messages()
	want := []string{"a", "b", "c", "d", "e"}
	if len(got) != len(want) {
		t.Fatalf("sent %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d: got %q, want %q (all: %v)", i, got[i], want[i], got)
		}
	}
}

func TestConnectionLostDuringReplayStaysDisconnected(t *testing.T) {
	c := &recordingClient{}
	p := newOfflinePublisher(c)
	p.publish(TopicIntervals, 0, false, []byte("a"))

	c.duringPublish = func() {
		p.onConnectionLost(c, errors.New("broker went away"))
	}
	p.onConnect(c)

	if p.IsConnected() {
		t.Error("connection was lost during replay; publisher must not report connected")
	}

	// Later publishes are buffered again.
	p.publish(TopicIntervals, 0, false, []byte("b"))
	if p.outbox.size() != 1 {
		t.Errorf("outbox size: got %d, want 1", p.outbox.size())
	}
}

func TestReconnectPublishesReconnectedFirst(t *testing.T) {
	c := &recordingClient{}
	p := newOfflinePublisher(c)
	p.everUp = true
	p.publish(TopicIntervals, 0, false, []byte("a"))

	p.onConnect(c)

	got := c.messages()
	if len(got) != 2 {
		t.Fatalf("sent %v, want RECONNECTED then a", got)
	}
	var payload SystemPayload
	if err := json.Unmarshal([]byte(got[0]), &payload); err != nil {
		t.Fatalf("first message: %v", err)
	}
	if payload.System.Event != "RECONNECTED" {
		t.Errorf("first message: %s", got[0])
	}
	if got[1] != "a" {
		t.Errorf("second message: got %q, want a", got[1])
	}
}
