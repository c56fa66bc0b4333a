package consumer

import (
	"context"
	"fmt"
	"sync"

	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/common/config"
	mqttcommon "github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/common/mqtt"

	"go.uber.org/zap"
)

// MQTTTransport receives events from an MQTT broker. A channel maps to the
// topic <prefix>/<channel>, with ':' turned into '/'; the credential is the
// broker password.
type MQTTTransport struct {
	config *config.MQTTConfig
	logger *zap.Logger
}

// NewMQTTTransport creates an MQTT transport.
func NewMQTTTransport(cfg *config.MQTTConfig, logger *zap.Logger) *MQTTTransport {
	return &MQTTTransport{
		config: cfg,
		logger: logger,
	}
}

func (t *MQTTTransport) Name() string { return "mqtt" }

func (t *MQTTTransport) Dial(ctx context.Context, credential string, deliver DeliverFunc) (Conn, error) {
	conn := &mqttConn{
		prefix:  t.config.TopicPrefix,
		qos:     t.config.QoS,
		deliver: deliver,
		done:    make(chan struct{}),
	}

	client, err := mqttcommon.NewClient(t.config, credential, t.logger, func(err error) {
		conn.fail(err)
	})
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		client.Disconnect()
		return nil, ctx.Err()
	}
	conn.client = client
	return conn, nil
}

type mqttConn struct {
	client  *mqttcommon.Client
	prefix  string
	qos     byte
	deliver DeliverFunc

	once sync.Once
	err  error
	done chan struct{}
}

func (c *mqttConn) topic(channel string) string {
	if c.prefix == "" {
		return topicPath(channel)
	}
	return c.prefix + "/" + topicPath(channel)
}

func (c *mqttConn) Subscribe(_ context.Context, sub Subscription) error {
	channel := sub.Channel
	return c.client.Subscribe(c.topic(channel), c.qos, func(_ string, payload []byte) error {
		c.deliver(Message{Channel: channel, Data: payload})
		return nil
	})
}

func (c *mqttConn) Unsubscribe(_ context.Context, channel string) error {
	if err := c.client.Unsubscribe(c.topic(channel)); err != nil {
		return fmt.Errorf("failed to unsubscribe %s: %w", channel, err)
	}
	return nil
}

func (c *mqttConn) Done() <-chan struct{} { return c.done }

func (c *mqttConn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *mqttConn) fail(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

func (c *mqttConn) Close() error {
	c.fail(errConnClosed)
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect()
	}
	return nil
}
