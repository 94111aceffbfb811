package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sweeney/clickguard/internal/logic"
)

// Options configures a RealPublisher.
type Options struct {
	Broker   string
	ClientID string

	// OnCommand receives raw payloads from TopicCommand. Nil disables the subscription.
	OnCommand func(payload []byte)

	// OnConnectionChange is told about every connect and connection loss.
	OnConnectionChange func(connected bool)
}

// RealPublisher publishes to an actual MQTT broker.
// Messages published while the broker is unreachable are held in an
// outbox and replayed, oldest first, once the connection returns.
type RealPublisher struct {
	client paho.Client
	opts   Options

	mu        sync.Mutex
	outbox    *outbox
	connected bool
	everUp    bool
	epoch     int // bumped on every connection loss
}

// NewRealPublisher creates a publisher connected to the given broker.
// If the broker does not answer in time the publisher is still returned;
// paho keeps retrying and messages are buffered meanwhile.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	if o.Broker == "" {
		return nil, fmt.Errorf("no broker configured")
	}
	if o.ClientID == "" {
		o.ClientID = "clickguard"
	}

	p := &RealPublisher{
		opts:   o,
		outbox: newOutbox(outboxCapacity),
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(TopicSystem, will, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		log.Printf("mqtt: broker %s not reachable yet, buffering until connected", o.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	reconnect := p.everUp
	p.everUp = true
	epoch := p.epoch
	p.mu.Unlock()

	log.Printf("mqtt: connected to %s", p.opts.Broker)

	if p.opts.OnCommand != nil {
		c.Subscribe(TopicCommand, 1, func(_ paho.Client, m paho.Message) {
			p.opts.OnCommand(m.Payload())
		})
	}

	if reconnect {
		payload, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
		if err == nil {
			c.Publish(TopicSystem, 1, false, payload)
		}
	}

	// New publishes keep landing in the outbox until it is empty, so none
	// overtakes an older buffered message. Handler runs on its own
	// goroutine; tokens are not waited on here.
	replayed := 0
	for {
		p.mu.Lock()
		queued, lost := p.outbox.take()
		if len(queued) == 0 {
			p.connected = p.epoch == epoch
			p.mu.Unlock()
			break
		}
		p.mu.Unlock()

		if lost > 0 {
			log.Printf("mqtt: %d buffered messages were lost while offline", lost)
		}
		for _, m := range queued {
			c.Publish(m.topic, m.qos, m.retained, m.payload)
		}
		replayed += len(queued)
	}
	if replayed > 0 {
		log.Printf("mqtt: replayed %d buffered messages", replayed)
	}

	if p.opts.OnConnectionChange != nil {
		p.opts.OnConnectionChange(p.IsConnected())
	}
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.epoch++
	p.mu.Unlock()

	log.Printf("mqtt: connection lost: %v", err)
	if p.opts.OnConnectionChange != nil {
		p.opts.OnConnectionChange(false)
	}
}

// IsConnected reports whether the broker connection is currently up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	p.mu.Lock()
	if !p.connected {
		p.outbox.add(pending{topic: topic, payload: payload, qos: qos, retained: retained})
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish to %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// PublishSample sends an interval measurement.
func (p *RealPublisher) PublishSample(sample logic.IntervalSample) error {
	payload, err := FormatSample(sample)
	if err != nil {
		return fmt.Errorf("format sample: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	return p.publish(TopicIntervals, 0, false, payload)
}

// PublishDrop sends a suppressed-click notice.
func (p *RealPublisher) PublishDrop(drop logic.Drop) error {
	payload, err := FormatDrop(drop)
	if err != nil {
		return fmt.Errorf("format drop: %w", err)
	}
	return p.publish(TopicDrops, 0, false, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) for lifecycle events
	return p.publish(TopicSystem, 1, event.Retained, payload)
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
