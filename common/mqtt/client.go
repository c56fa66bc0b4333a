package mqtt

import (
	"errors"
	"fmt"

	"github.com/GABRIELS562/RFID-Evidence-Tracking-System-sub001/common/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// ErrTimeout is returned when the broker does not confirm an operation in time.
var ErrTimeout = errors.New("mqtt operation timed out")

// MessageHandler handles one message received on topic.
type MessageHandler func(topic string, payload []byte) error

// Client wraps a paho client.
type Client struct {
	client mqtt.Client
	config *config.MQTTConfig
	logger *zap.Logger
}

// NewClient connects to the broker. Automatic reconnect is disabled:
// onLost is called once when the connection drops and the caller decides
// how to retry.
func NewClient(cfg *config.MQTTConfig, password string, logger *zap.Logger, onLost func(error)) (*Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if password != "" {
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetCleanSession(true)
	if cfg.Timeout > 0 {
		opts.SetConnectTimeout(cfg.Timeout)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if onLost != nil {
			onLost(err)
		}
	})

	client := mqtt.NewClient(opts)

	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &Client{
		client: client,
		config: cfg,
		logger: logger,
	}, nil
}

// Subscribe subscribes to topic. Handler errors are logged and do not
// interrupt delivery.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if token := c.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logger.Warn("Error handling MQTT message",
				zap.String("topic", msg.Topic()),
				zap.Error(err),
			)
		}
	}); !c.wait(token) {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, ErrTimeout)
	} else if token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}

	return nil
}

// Unsubscribe removes subscriptions for topics.
func (c *Client) Unsubscribe(topics ...string) error {
	token := c.client.Unsubscribe(topics...)
	if !c.wait(token) {
		return fmt.Errorf("failed to unsubscribe: %w", ErrTimeout)
	}

	if token.Error() != nil {
		return fmt.Errorf("failed to unsubscribe: %w", token.Error())
	}

	return nil
}

// Disconnect closes the connection, waiting up to 250ms for in-flight work.
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
}

// IsConnected reports the connection state.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

func (c *Client) wait(token mqtt.Token) bool {
	if c.config.Timeout > 0 {
		return token.WaitTimeout(c.config.Timeout)
	}
	return token.Wait()
}
