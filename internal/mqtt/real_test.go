package mqtt

import (
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/tank-controller/internal/command"
	"github.com/sweeney/tank-controller/internal/logic"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func startBroker(t *testing.T) string {
	t.Helper()
	server := mochi.New(nil)
	require.NoError(t, server.AddHook(new(auth.AllowHook), nil))

	addr := fmt.Sprintf("127.0.0.1:%d", freePort(t))
	require.NoError(t, server.AddListener(listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		ID:      "test",
		Address: addr,
	})))
	require.NoError(t, server.Serve())
	t.Cleanup(func() { server.Close() })
	return "tcp://" + addr
}

type received struct {
	topic    string
	payload  string
	retained bool
}

// observe subscribes a second client to everything under home_iot/.
func observe(t *testing.T, broker string) (paho.Client, <-chan received) {
	t.Helper()
	msgs := make(chan received, 32)
	c := paho.NewClient(paho.NewClientOptions().AddBroker(broker).SetClientID("observer"))
	tok := c.Connect()
	require.True(t, tok.WaitTimeout(5*time.Second))
	require.NoError(t, tok.Error())

	tok = c.Subscribe("home_iot/#", 1, func(_ paho.Client, m paho.Message) {
		msgs <- received{topic: m.Topic(), payload: string(m.Payload()), retained: m.Retained()}
	})
	require.True(t, tok.WaitTimeout(5*time.Second))
	require.NoError(t, tok.Error())
	t.Cleanup(func() { c.Disconnect(100) })
	return c, msgs
}

// waitFor returns the first message on topic, skipping others.
func waitFor(t *testing.T, msgs <-chan received, topic string) received {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case m := <-msgs:
			if m.topic == topic {
				return m
			}
		case <-timeout:
			t.Fatalf("no message on %s", topic)
		}
	}
}

func TestRealPublisherAgainstBroker(t *testing.T) {
	broker := startBroker(t)
	_, msgs := observe(t, broker)
	topics := NewTopics("tank-test")

	p, err := NewRealPublisher(Options{Broker: broker, DeviceID: "tank-test", ConnectTimeout: 5 * time.Second})
	require.NoError(t, err)

	online := waitFor(t, msgs, topics.Status)
	assert.JSONEq(t, string(PayloadOnline), online.payload)
	require.Eventually(t, p.IsConnected, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, p.PublishEvent(logic.Event{
		Timestamp: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		Type:      logic.EventPumpOn,
		Reason:    logic.ReasonAutoLow,
		Level:     18,
	}))
	ev := waitFor(t, msgs, topics.Events)
	assert.JSONEq(t, `{"pump":{"timestamp":"2026-01-01T12:00:00Z","event":"PUMP_ON","reason":"AUTO_LOW","level":18}}`, ev.payload)

	require.NoError(t, p.PublishTelemetry([]byte(`{"level_percent":42}`)))
	tel := waitFor(t, msgs, topics.Status)
	assert.JSONEq(t, `{"level_percent":42}`, tel.payload)

	require.NoError(t, p.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "STARTUP"}))
	sys := waitFor(t, msgs, topics.System)
	assert.Contains(t, sys.payload, `"STARTUP"`)

	require.NoError(t, p.Close())
	offline := waitFor(t, msgs, topics.Status)
	assert.JSONEq(t, string(PayloadOffline), offline.payload)
}

func TestRealPublisherReceivesCommands(t *testing.T) {
	broker := startBroker(t)
	observer, _ := observe(t, broker)
	topics := NewTopics("tank-cmd")

	p, err := NewRealPublisher(Options{Broker: broker, DeviceID: "tank-cmd", ConnectTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	require.Eventually(t, p.IsConnected, 5*time.Second, 10*time.Millisecond)

	send := func(payload string) {
		tok := observer.Publish(topics.Control, 1, false, payload)
		require.True(t, tok.WaitTimeout(5*time.Second))
		require.NoError(t, tok.Error())
	}

	// Subscription happens in the connect handler; retry until it lands.
	var cmd command.Command
	require.Eventually(t, func() bool {
		send(`{"auto_mode":false}`)
		select {
		case cmd = <-p.Commands():
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, command.KindAutoMode, cmd.Kind)
	assert.False(t, cmd.AutoMode)
	assert.Equal(t, "mqtt", cmd.Source)

	// Drain duplicates from the retry loop.
	for len(p.Commands()) > 0 {
		<-p.Commands()
	}

	send(`not json`)
	send(`{"calibrate_level":{"near":5,"far":50}}`)
	select {
	case cmd = <-p.Commands():
		assert.Equal(t, command.KindCalibrateLevel, cmd.Kind, "malformed command must be dropped")
	case <-time.After(5 * time.Second):
		t.Fatal("no command received")
	}
}

func TestRealPublisherBuffersWhileDisconnected(t *testing.T) {
	// Nothing listens on this port: the first connect attempt times out.
	broker := fmt.Sprintf("tcp://127.0.0.1:%d", freePort(t))
	p, err := NewRealPublisher(Options{Broker: broker, DeviceID: "tank-off", ConnectTimeout: 100 * time.Millisecond, BufferSize: 3})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	assert.False(t, p.IsConnected())
	for i := 0; i < 4; i++ {
		require.NoError(t, p.PublishEvent(logic.Event{Type: logic.EventPumpOn}))
	}
	require.NoError(t, p.PublishTelemetry([]byte(`{}`)))
	require.NoError(t, p.PublishTelemetry([]byte(`{}`)))

	assert.Equal(t, 3, p.Buffered())
	assert.Equal(t, 2, p.Dropped())
}

// flakyClient fails its first publishes and records the topics of the rest.
type flakyClient struct {
	paho.Client
	failures  int
	published []string
}

func (c *flakyClient) Publish(topic string, _ byte, _ bool, _ interface{}) paho.Token {
	if c.failures > 0 {
		c.failures--
		return doneToken{err: errors.New("not authorized")}
	}
	c.published = append(c.published, topic)
	return doneToken{}
}

type doneToken struct {
	paho.Token
	err error
}

func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }

func connectedPublisher(client paho.Client, deviceID string) *RealPublisher {
	return &RealPublisher{
		client:    client,
		topics:    NewTopics(deviceID),
		buf:       newRingBuffer(8),
		log:       logrus.WithField("component", "mqtt"),
		connected: true,
	}
}

func TestRealPublisherSendsParkedMessageOnNextPublish(t *testing.T) {
	client := &flakyClient{failures: 1}
	p := connectedPublisher(client, "tank-flaky")

	require.Error(t, p.PublishEvent(logic.Event{Type: logic.EventPumpOn}))
	assert.Equal(t, 1, p.Buffered())

	require.NoError(t, p.PublishTelemetry([]byte(`{}`)))
	assert.Equal(t, 0, p.Buffered())
	assert.Equal(t, []string{p.topics.Events, p.topics.Status}, client.published)
}

func TestRealPublisherKeepsOrderWhenReplayFails(t *testing.T) {
	client := &flakyClient{failures: 2}
	p := connectedPublisher(client, "tank-flaky")

	require.Error(t, p.PublishEvent(logic.Event{Type: logic.EventPumpOn}))
	require.Error(t, p.PublishEvent(logic.Event{Type: logic.EventPumpOff}))
	assert.Equal(t, 2, p.Buffered())
	assert.Empty(t, client.published)

	require.NoError(t, p.PublishTelemetry([]byte(`{}`)))
	assert.Equal(t, []string{p.topics.Events, p.topics.Events, p.topics.Status}, client.published)
}
