package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/tank-controller/internal/command"
	"github.com/sweeney/tank-controller/internal/logic"
)

const (
	defaultBufferSize     = 100
	defaultConnectTimeout = 10 * time.Second
	publishTimeout        = 5 * time.Second
	reconnectInterval     = 5 * time.Second
	commandQueue          = 8
)

// Options configures a RealPublisher.
type Options struct {
	Broker   string
	DeviceID string

	// BufferSize bounds the messages kept while disconnected. Zero means 100.
	BufferSize int
	// ConnectTimeout bounds the wait for the first connection. Zero means 10s.
	// The client keeps retrying in the background after it expires.
	ConnectTimeout time.Duration
}

// RealPublisher publishes to an actual MQTT broker and forwards commands
// received on the control topic.
type RealPublisher struct {
	client   paho.Client
	topics   Topics
	commands chan command.Command
	log      *logrus.Entry

	mu        sync.Mutex
	buf       *ringBuffer
	connected bool
	everUp    bool
}

// ClientID returns the MQTT client id for deviceID: the id plus 8 random hex characters.
func ClientID(deviceID string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%x", deviceID, id[:4])
}

// NewRealPublisher creates a publisher connected to the given broker.
// If the broker is unreachable within the connect timeout the publisher is
// still returned; messages are buffered until the connection comes up.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	if o.BufferSize <= 0 {
		o.BufferSize = defaultBufferSize
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}

	p := &RealPublisher{
		topics:   NewTopics(o.DeviceID),
		commands: make(chan command.Command, commandQueue),
		buf:      newRingBuffer(o.BufferSize),
		log:      logrus.WithField("component", "mqtt"),
	}

	clientID := ClientID(o.DeviceID)
	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(reconnectInterval).
		SetMaxReconnectInterval(reconnectInterval).
		SetWill(p.topics.Status, string(PayloadOffline), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(o.ConnectTimeout) {
		p.log.WithField("broker", o.Broker).Warn("broker not reachable yet, buffering until connected")
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	p.log.WithFields(logrus.Fields{"broker": o.Broker, "client_id": clientID}).Info("connected")
	return p, nil
}

// onConnect runs on every (re)connection in its own goroutine.
func (p *RealPublisher) onConnect(c paho.Client) {
	if t := c.Publish(p.topics.Status, 1, true, PayloadOnline); t.WaitTimeout(publishTimeout) && t.Error() != nil {
		p.log.WithError(t.Error()).Warn("failed to publish online status")
	}

	if t := c.Subscribe(p.topics.Control, 1, p.onControl); !t.WaitTimeout(publishTimeout) {
		p.log.Warn("subscribe to control topic timed out")
	} else if err := t.Error(); err != nil {
		p.log.WithError(err).Warn("subscribe to control topic failed")
	}

	p.mu.Lock()
	p.connected = true
	reconnect := p.everUp
	p.everUp = true
	pending := p.buf.drainAll()
	p.mu.Unlock()

	if reconnect {
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
		pending = append(pending, bufferedMsg{topic: p.topics.System, payload: payload, qos: 1})
	}
	if len(pending) > 0 {
		p.log.WithField("count", len(pending)).Info("replaying buffered messages")
	}
	for _, m := range pending {
		if err := p.publish(m); err != nil {
			p.log.WithError(err).WithField("topic", m.topic).Warn("replay failed")
		}
	}
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	p.log.WithError(err).Warn("connection lost, buffering")
}

func (p *RealPublisher) onControl(_ paho.Client, msg paho.Message) {
	cmd, err := command.Parse(msg.Payload())
	if err != nil {
		p.log.WithError(err).WithField("payload", string(msg.Payload())).Warn("dropping control message")
		return
	}
	cmd.Source = "mqtt"
	select {
	case p.commands <- cmd:
	default:
		p.log.WithField("kind", cmd.Kind).Warn("command queue full, dropping")
	}
}

// Commands delivers parsed operator commands from the control topic.
func (p *RealPublisher) Commands() <-chan command.Command {
	return p.commands
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// Dropped returns the number of messages evicted from a full buffer.
func (p *RealPublisher) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.dropped
}

// send publishes m, or buffers it while disconnected. Messages parked by an
// earlier failed publish go out first, so order is kept on a live connection.
func (p *RealPublisher) send(m bufferedMsg) error {
	p.mu.Lock()
	if !p.connected {
		p.buf.push(m)
		p.mu.Unlock()
		return nil
	}
	pending := append(p.buf.drainAll(), m)
	p.mu.Unlock()

	for i, msg := range pending {
		if err := p.publish(msg); err != nil {
			p.mu.Lock()
			for _, rest := range pending[i:] {
				p.buf.push(rest)
			}
			p.mu.Unlock()
			p.log.WithError(err).WithField("parked", len(pending)-i).Warn("publish failed, retrying on next send")
			return err
		}
	}
	return nil
}

func (p *RealPublisher) publish(m bufferedMsg) error {
	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// PublishEvent sends a pump transition to the MQTT broker.
func (p *RealPublisher) PublishEvent(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 1: transitions drive downstream automations.
	return p.send(bufferedMsg{topic: p.topics.Events, payload: payload, qos: 1})
}

// PublishTelemetry sends a telemetry snapshot on the status topic.
func (p *RealPublisher) PublishTelemetry(payload []byte) error {
	// QoS 0 (at-most-once), not retained so the presence marker survives
	return p.send(bufferedMsg{topic: p.topics.Status, payload: payload, latestOnly: true})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) for lifecycle events - we want to ensure delivery
	return p.send(bufferedMsg{topic: p.topics.System, payload: payload, qos: 1, retained: event.Retained})
}

// Close marks the device offline and disconnects from the broker.
func (p *RealPublisher) Close() error {
	if p.IsConnected() {
		t := p.client.Publish(p.topics.Status, 1, true, PayloadOffline)
		t.WaitTimeout(publishTimeout)
	}
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
