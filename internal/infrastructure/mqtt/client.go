package mqtt

import (
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/esphive/esphive-core/internal/infrastructure/config"
	"github.com/esphive/esphive-core/internal/infrastructure/logging"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 250 // milliseconds
)

// ErrConnectTimeout is returned when the broker does not answer the
// initial connect within the timeout.
var ErrConnectTimeout = errors.New("mqtt: connect timeout")

// Client is a publish-only MQTT connection. Paho reconnects on its
// own; publishes while disconnected fail fast and the caller decides
// whether to care.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	logger *logging.Logger
	qos    byte
}

// Connect establishes the broker connection.
func Connect(cfg config.MQTTConfig, logger *logging.Logger) (*Client, error) {
	log := logger.With("component", "mqtt")

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(cfg.Broker.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(false)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.OnConnect = func(pahomqtt.Client) {
		log.Info("mqtt connected", "host", cfg.Broker.Host)
	}
	opts.OnConnectionLost = func(_ pahomqtt.Client, err error) {
		log.Warn("mqtt connection lost", "error", err)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		client.Disconnect(disconnectQuiesce)
		return nil, ErrConnectTimeout
	}
	if err := token.Error(); err != nil {
		client.Disconnect(disconnectQuiesce)
		return nil, fmt.Errorf("connecting to broker: %w", err)
	}

	return &Client{
		client: client,
		logger: log,
		qos:    byte(cfg.QoS),
	}, nil
}

// Publish sends one message at the configured QoS.
func (c *Client) Publish(topic string, payload []byte, retain bool) error {
	token := c.client.Publish(topic, c.qos, retain, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt: publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Close disconnects from the broker, allowing in-flight messages a
// short quiesce.
func (c *Client) Close() {
	c.client.Disconnect(disconnectQuiesce)
	c.logger.Info("mqtt disconnected")
}
