package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttLineBuffer     = 64
)

// MQTTTransport reaches the device through a serial-over-MQTT bridge: the
// bridge publishes every byte the device emits to <prefix>/<device>/tx and
// writes whatever arrives on <prefix>/<device>/rx to the serial port.
type MQTTTransport struct {
	broker      string
	topicPrefix string
	clientID    string

	mu   sync.Mutex
	last *mqttConn
}

func NewMQTTTransport(broker, topicPrefix, clientID string) *MQTTTransport {
	return &MQTTTransport{broker: broker, topicPrefix: topicPrefix, clientID: clientID}
}

// Open connects to the broker and subscribes to the device's tx topic.
// The address is the bridge's device identifier, not a network address.
func (t *MQTTTransport) Open(ctx context.Context, address string) (Conn, error) {
	t.mu.Lock()
	if t.last != nil {
		_ = t.last.Close()
		t.last = nil
	}
	t.mu.Unlock()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(t.broker)
	opts.SetClientID(t.clientID)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetAutoReconnect(false)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectFailed, token.Error())
	}
	if err := ctx.Err(); err != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	conn := &mqttConn{
		client:  client,
		txTopic: t.topicPrefix + "/" + address + "/tx",
		rxTopic: t.topicPrefix + "/" + address + "/rx",
		lines:   make(chan string, mqttLineBuffer),
		closed:  make(chan struct{}),
	}

	if token := client.Subscribe(conn.txTopic, 0, conn.onPayload); token.Wait() && token.Error() != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("%w: subscribe %s: %v", ErrConnectFailed, conn.txTopic, token.Error())
	}

	t.mu.Lock()
	t.last = conn
	t.mu.Unlock()

	return conn, nil
}

type mqttConn struct {
	client  mqtt.Client
	txTopic string
	rxTopic string

	mu      sync.Mutex
	partial string

	lines     chan string
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *mqttConn) onPayload(_ mqtt.Client, msg mqtt.Message) {
	c.mu.Lock()
	complete, rest := splitLines(c.partial + string(msg.Payload()))
	c.partial = rest
	c.mu.Unlock()

	for _, line := range complete {
		select {
		case c.lines <- line:
		case <-c.closed:
			return
		default:
			// reader stalled; shed the line rather than block the broker
		}
	}
}

func (c *mqttConn) ReadLine() (string, error) {
	select {
	case line := <-c.lines:
		return line, nil
	case <-c.closed:
		return "", ErrStreamClosed
	}
}

func (c *mqttConn) WriteLine(line string) error {
	select {
	case <-c.closed:
		return fmt.Errorf("%w: connection closed", ErrWriteFailed)
	default:
	}
	if token := c.client.Publish(c.rxTopic, 0, false, []byte(line+"\n")); token.Wait() && token.Error() != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, token.Error())
	}
	return nil
}

func (c *mqttConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.client.Unsubscribe(c.txTopic).Wait()
		c.client.Disconnect(250)
	})
	return nil
}

// splitLines extracts complete newline-terminated lines from buf,
// returning the trailing unterminated remainder. The bridge chunks the
// serial stream at arbitrary boundaries.
func splitLines(buf string) (complete []string, rest string) {
	for {
		idx := strings.IndexByte(buf, '\n')
		if idx < 0 {
			return complete, buf
		}
		complete = append(complete, strings.TrimRight(buf[:idx], "\r"))
		buf = buf[idx+1:]
	}
}
